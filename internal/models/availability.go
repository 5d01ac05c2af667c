package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// TimeWindow is a half-open [Start,End) window expressed in minutes since
// local midnight.
type TimeWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether the window is well-formed.
func (w TimeWindow) Valid() bool {
	return w.Start >= 0 && w.End <= 24*60 && w.Start < w.End
}

// WeeklyHours maps a weekday (time.Weekday, Sunday=0) to its ordered local
// working windows.
type WeeklyHours map[time.Weekday][]TimeWindow

// Value implements driver.Valuer.
func (h WeeklyHours) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	return jsonValue(h, "weekly hours")
}

// Scan implements sql.Scanner.
func (h *WeeklyHours) Scan(src interface{}) error {
	return scanJSON(src, h, "weekly hours")
}

// RecurringBlock is a weekly repeating unavailability window.
type RecurringBlock struct {
	Weekday time.Weekday `json:"weekday"`
	Window  TimeWindow   `json:"window"`
	Label   string       `json:"label,omitempty"`
}

// RecurringBlockList is the JSON column form of recurring blocks.
type RecurringBlockList []RecurringBlock

// Value implements driver.Valuer.
func (l RecurringBlockList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l, "recurring blocks")
}

// Scan implements sql.Scanner.
func (l *RecurringBlockList) Scan(src interface{}) error {
	return scanJSON(src, l, "recurring blocks")
}

// ProfileOwnerKind distinguishes individual staff profiles from named pools.
type ProfileOwnerKind string

const (
	OwnerStaff ProfileOwnerKind = "staff"
	OwnerPool  ProfileOwnerKind = "pool"
)

// AvailabilityProfile is the layered rule set availability is computed from.
type AvailabilityProfile struct {
	ID                  string             `db:"id" json:"id"`
	TenantID            string             `db:"tenant_id" json:"tenant_id"`
	OwnerID             string             `db:"owner_id" json:"owner_id"`
	OwnerKind           ProfileOwnerKind   `db:"owner_kind" json:"owner_kind"`
	Timezone            string             `db:"timezone" json:"timezone"`
	Weekly              WeeklyHours        `db:"weekly_hours" json:"weekly_hours"`
	ExceptionDates      StringList         `db:"exception_dates" json:"exception_dates,omitempty"`
	RecurringBlocks     RecurringBlockList `db:"recurring_blocks" json:"recurring_blocks,omitempty"`
	HolidayRegion       string             `db:"holiday_region" json:"holiday_region"`
	AutoHolidays        bool               `db:"auto_holidays" json:"auto_holidays"`
	CustomHolidays      StringList         `db:"custom_holidays" json:"custom_holidays,omitempty"`
	MinNoticeMinutes    int                `db:"min_notice_minutes" json:"min_notice_minutes"`
	MaxFutureDays       int                `db:"max_future_days" json:"max_future_days"`
	SlotRoundingMinutes int                `db:"slot_rounding_minutes" json:"slot_rounding_minutes"`
	MinGapMinutes       int                `db:"min_gap_minutes" json:"min_gap_minutes"`
	MaxGapMinutes       int                `db:"max_gap_minutes" json:"max_gap_minutes"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// Location resolves the profile timezone, defaulting to UTC on bad data.
func (p *AvailabilityProfile) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Slot is a candidate bookable [Start,End) interval in UTC.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports half-open interval intersection.
func (s Slot) Overlaps(other Slot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

func (s Slot) String() string {
	return fmt.Sprintf("[%s, %s)", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
}

// CollectiveSlot is a slot every required host can attend, annotated with the
// optional hosts who happen to be free too.
type CollectiveSlot struct {
	Slot
	OptionalHostIDs []string `json:"optional_host_ids,omitempty"`
}

// DateRange is an inclusive local-date span used to drive slot computation.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
