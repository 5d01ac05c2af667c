package models

import (
	"database/sql/driver"
	"time"
)

// EventCategory distinguishes how an appointment type is hosted.
type EventCategory string

const (
	EventSingleHost EventCategory = "single_host"
	EventCollective EventCategory = "collective"
	EventGroup      EventCategory = "group"
	EventPoll       EventCategory = "poll"
)

// Valid reports whether the category is a known value.
func (c EventCategory) Valid() bool {
	switch c {
	case EventSingleHost, EventCollective, EventGroup, EventPoll:
		return true
	}
	return false
}

// LocationMode describes where the meeting happens.
type LocationMode string

const (
	LocationVideo    LocationMode = "video"
	LocationPhone    LocationMode = "phone"
	LocationInPerson LocationMode = "in_person"
	LocationCustom   LocationMode = "custom"
)

// RoutingPolicy selects how an assignee is chosen for a booking.
type RoutingPolicy string

const (
	RouteFixed        RoutingPolicy = "fixed"
	RouteAccountOwner RoutingPolicy = "account_owner"
	RouteRoundRobin   RoutingPolicy = "round_robin"
)

// Valid reports whether the policy is a known value.
func (p RoutingPolicy) Valid() bool {
	switch p {
	case RouteFixed, RouteAccountOwner, RouteRoundRobin:
		return true
	}
	return false
}

// RoundRobinStrategy is the tie-break applied within a round-robin pool.
type RoundRobinStrategy string

const (
	RoundRobinStrict             RoundRobinStrategy = "strict"
	RoundRobinOptimize           RoundRobinStrategy = "optimize_availability"
	RoundRobinWeighted           RoundRobinStrategy = "weighted"
	RoundRobinPrioritizeCapacity RoundRobinStrategy = "prioritize_capacity"
)

// Valid reports whether the strategy is a known value.
func (s RoundRobinStrategy) Valid() bool {
	switch s {
	case RoundRobinStrict, RoundRobinOptimize, RoundRobinWeighted, RoundRobinPrioritizeCapacity:
		return true
	}
	return false
}

// RoundRobinConfig parameterises round-robin routing for a type.
type RoundRobinConfig struct {
	PoolIDs        StringList         `json:"pool_ids"`
	Strategy       RoundRobinStrategy `json:"strategy"`
	Weights        IntMap             `json:"weights,omitempty"`
	CapacityPerDay int                `json:"capacity_per_day,omitempty"`
}

// Value implements driver.Valuer.
func (c *RoundRobinConfig) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return jsonValue(c, "round robin config")
}

// Scan implements sql.Scanner.
func (c *RoundRobinConfig) Scan(src interface{}) error {
	return scanJSON(src, c, "round robin config")
}

// AppointmentType is the bookable meeting template.
type AppointmentType struct {
	ID                  string            `db:"id" json:"id"`
	TenantID            string            `db:"tenant_id" json:"tenant_id"`
	Name                string            `db:"name" json:"name"`
	DurationMinutes     int               `db:"duration_minutes" json:"duration_minutes"`
	BufferBeforeMinutes int               `db:"buffer_before_minutes" json:"buffer_before_minutes"`
	BufferAfterMinutes  int               `db:"buffer_after_minutes" json:"buffer_after_minutes"`
	LocationMode        LocationMode      `db:"location_mode" json:"location_mode"`
	RequiresApproval    bool              `db:"requires_approval" json:"requires_approval"`
	Category            EventCategory     `db:"category" json:"category"`
	Capacity            int               `db:"capacity" json:"capacity"`
	WaitlistEnabled     bool              `db:"waitlist_enabled" json:"waitlist_enabled"`
	RoutingPolicy       RoutingPolicy     `db:"routing_policy" json:"routing_policy"`
	FixedAssigneeID     *string           `db:"fixed_assignee_id" json:"fixed_assignee_id,omitempty"`
	RoundRobin          *RoundRobinConfig `db:"round_robin" json:"round_robin,omitempty"`
	RequiredHostIDs     StringList        `db:"required_host_ids" json:"required_host_ids,omitempty"`
	OptionalHostIDs     StringList        `db:"optional_host_ids" json:"optional_host_ids,omitempty"`
	Active              bool              `db:"active" json:"active"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

// Duration is the published meeting length.
func (t *AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// BufferBefore is dead time reserved ahead of the meeting.
func (t *AppointmentType) BufferBefore() time.Duration {
	return time.Duration(t.BufferBeforeMinutes) * time.Minute
}

// BufferAfter is dead time reserved after the meeting.
func (t *AppointmentType) BufferAfter() time.Duration {
	return time.Duration(t.BufferAfterMinutes) * time.Minute
}
