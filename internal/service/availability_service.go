package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type availabilityProfileRepository interface {
	FindByOwner(ctx context.Context, tenantID, ownerID string, kind models.ProfileOwnerKind) (*models.AvailabilityProfile, error)
	FindByStaffIDs(ctx context.Context, tenantID string, staffIDs []string) (map[string]*models.AvailabilityProfile, error)
}

type busySource interface {
	BusyIntervals(ctx context.Context, tenantID, staffID string, from, to time.Time) ([]models.Slot, int, error)
}

type slotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// AvailabilityService computes bookable slots from layered availability
// rules. All computation is read-only; booking re-validates under its lock.
type AvailabilityService struct {
	profiles availabilityProfileRepository
	busy     busySource
	holidays *HolidayService
	cache    slotCache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewAvailabilityService constructs an AvailabilityService. A nil cache
// disables snapshot caching.
func NewAvailabilityService(profiles availabilityProfileRepository, busy busySource, holidays *HolidayService, cache slotCache, cacheTTL time.Duration, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{
		profiles: profiles,
		busy:     busy,
		holidays: holidays,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ComputeSlots returns ordered UTC slots for one appointment type against a
// staff member's profile. When assigneeID is empty the conflict check is
// skipped and the result reflects configured hours only. The bool reports
// whether the result was served from the snapshot cache.
func (s *AvailabilityService) ComputeSlots(ctx context.Context, tenantID string, at *models.AppointmentType, staffID string, rng models.DateRange, assigneeID string) ([]models.Slot, bool, error) {
	profile, err := s.profiles.FindByOwner(ctx, tenantID, staffID, models.OwnerStaff)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "availability profile not found")
	}

	cacheKey := ""
	if s.cache != nil && assigneeID == "" {
		cacheKey = fmt.Sprintf("availability:%s:%s:%s:%s:%s", tenantID, at.ID, staffID,
			rng.From.Format("2006-01-02"), rng.To.Format("2006-01-02"))
		var cached []models.Slot
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, true, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("availability cache read failed", zap.Error(err))
		}
	}

	var busy []models.Slot
	if assigneeID != "" {
		from, to := rangeBoundsUTC(profile, rng)
		busy, _, err = s.busy.BusyIntervals(ctx, tenantID, assigneeID, from, to)
		if err != nil {
			return nil, false, err
		}
	}

	slots := s.computeForProfile(profile, at, rng, busy, assigneeID != "")

	if cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, slots, s.cacheTTL); err != nil {
			s.logger.Warn("availability cache write failed", zap.Error(err))
		}
	}
	return slots, false, nil
}

// ComputeCollectiveSlots intersects every required host's slot set and
// annotates survivors with opportunistically free optional hosts. Any
// required host without a profile yields an empty result.
func (s *AvailabilityService) ComputeCollectiveSlots(ctx context.Context, tenantID string, at *models.AppointmentType, rng models.DateRange) ([]models.CollectiveSlot, error) {
	if len(at.RequiredHostIDs) == 0 {
		return nil, nil
	}

	profiles, err := s.profiles.FindByStaffIDs(ctx, tenantID, at.RequiredHostIDs)
	if err != nil {
		return nil, err
	}

	var common []models.Slot
	for i, hostID := range at.RequiredHostIDs {
		profile, ok := profiles[hostID]
		if !ok {
			return nil, nil
		}
		from, to := rangeBoundsUTC(profile, rng)
		busy, _, err := s.busy.BusyIntervals(ctx, tenantID, hostID, from, to)
		if err != nil {
			return nil, err
		}
		hostSlots := s.computeForProfile(profile, at, rng, busy, true)
		if i == 0 {
			common = hostSlots
		} else {
			common = intersectSlots(common, hostSlots)
		}
		if len(common) == 0 {
			return nil, nil
		}
	}

	optionalBusy := s.optionalHostBusy(ctx, tenantID, at.OptionalHostIDs, common)

	out := make([]models.CollectiveSlot, 0, len(common))
	for _, slot := range common {
		cs := models.CollectiveSlot{Slot: slot}
		for _, hostID := range at.OptionalHostIDs {
			busy, ok := optionalBusy[hostID]
			if !ok {
				continue
			}
			if !overlapsAny(slot, busy) {
				cs.OptionalHostIDs = append(cs.OptionalHostIDs, hostID)
			}
		}
		out = append(out, cs)
	}
	return out, nil
}

// optionalHostBusy loads busy intervals per optional host. A host whose feed
// fails is omitted entirely and so treated unavailable in every slot.
func (s *AvailabilityService) optionalHostBusy(ctx context.Context, tenantID string, hostIDs []string, slots []models.Slot) map[string][]models.Slot {
	out := make(map[string][]models.Slot, len(hostIDs))
	if len(hostIDs) == 0 || len(slots) == 0 {
		return out
	}
	from := slots[0].Start
	to := slots[len(slots)-1].End
	for _, hostID := range hostIDs {
		busy, _, err := s.busy.BusyIntervals(ctx, tenantID, hostID, from, to)
		if err != nil {
			s.logger.Warn("optional host busy check failed, treating host unavailable",
				zap.String("staff_id", hostID), zap.Error(err))
			continue
		}
		out[hostID] = busy
	}
	return out
}

// computeForProfile walks the date range day by day in the profile's
// timezone and emits candidate slots.
func (s *AvailabilityService) computeForProfile(profile *models.AvailabilityProfile, at *models.AppointmentType, rng models.DateRange, busy []models.Slot, checkConflicts bool) []models.Slot {
	loc := profile.Location()
	now := s.now()
	minStart := now.Add(time.Duration(profile.MinNoticeMinutes) * time.Minute)
	horizon := now.AddDate(0, 0, profile.MaxFutureDays)

	step := profile.SlotRoundingMinutes
	if step <= 0 {
		step = at.DurationMinutes
	}
	durMin := at.DurationMinutes

	var out []models.Slot
	fromDay := rng.From.In(loc)
	toDay := rng.To.In(loc)
	for day := startOfDay(fromDay); !day.After(toDay); day = day.AddDate(0, 0, 1) {
		if day.UTC().After(horizon) {
			break
		}
		dayKey := day.Format("2006-01-02")
		if containsString(profile.ExceptionDates, dayKey) {
			continue
		}
		if s.holidays != nil && s.holidays.IsHoliday(profile, day) {
			continue
		}

		windows := subtractBlocks(profile.Weekly[day.Weekday()], blocksFor(profile.RecurringBlocks, day.Weekday()))
		for _, w := range windows {
			for offset := w.Start; offset+durMin <= w.End; offset += step {
				start := day.Add(time.Duration(offset) * time.Minute).UTC()
				end := start.Add(at.Duration())
				if start.Before(minStart) || start.After(horizon) {
					continue
				}
				slot := models.Slot{Start: start, End: end}
				if checkConflicts && !s.slotClear(profile, at, slot, busy) {
					continue
				}
				out = append(out, slot)
			}
		}
	}
	return out
}

// slotClear applies the buffered overlap check plus the gap-to-neighbor
// rules against the host's merged busy intervals.
func (s *AvailabilityService) slotClear(profile *models.AvailabilityProfile, at *models.AppointmentType, slot models.Slot, busy []models.Slot) bool {
	padded := models.Slot{
		Start: slot.Start.Add(-at.BufferBefore()),
		End:   slot.End.Add(at.BufferAfter()),
	}
	if overlapsAny(padded, busy) {
		return false
	}
	if profile.MinGapMinutes <= 0 && profile.MaxGapMinutes <= 0 {
		return true
	}

	gapBefore, gapAfter, hasNeighbor := neighborGaps(slot, busy, profile.Location())
	if !hasNeighbor {
		return true
	}
	minGap := time.Duration(profile.MinGapMinutes) * time.Minute
	if profile.MinGapMinutes > 0 {
		if gapBefore >= 0 && gapBefore < minGap {
			return false
		}
		if gapAfter >= 0 && gapAfter < minGap {
			return false
		}
	}
	if profile.MaxGapMinutes > 0 {
		maxGap := time.Duration(profile.MaxGapMinutes) * time.Minute
		nearest := gapBefore
		if nearest < 0 || (gapAfter >= 0 && gapAfter < nearest) {
			nearest = gapAfter
		}
		if nearest >= 0 && nearest > maxGap {
			return false
		}
	}
	return true
}

// neighborGaps returns the distance from the slot to its nearest busy
// neighbor on each side of the same day; -1 means no neighbor on that side.
// The day is bounded in the profile's timezone, so a neighbor just across
// local midnight never counts and DST days keep their real length.
func neighborGaps(slot models.Slot, busy []models.Slot, loc *time.Location) (before, after time.Duration, hasNeighbor bool) {
	before, after = -1, -1
	dayStart := startOfDay(slot.Start.In(loc))
	dayEnd := dayStart.AddDate(0, 0, 1)
	for _, b := range busy {
		if !b.End.After(dayStart) || !b.Start.Before(dayEnd) {
			continue
		}
		if !b.End.After(slot.Start) {
			gap := slot.Start.Sub(b.End)
			if before < 0 || gap < before {
				before = gap
			}
			hasNeighbor = true
		}
		if !b.Start.Before(slot.End) {
			gap := b.Start.Sub(slot.End)
			if after < 0 || gap < after {
				after = gap
			}
			hasNeighbor = true
		}
	}
	return before, after, hasNeighbor
}

// subtractBlocks removes blocked windows from working windows by interval
// splitting: full cover drops, partial overlap truncates, interior splits.
func subtractBlocks(windows []models.TimeWindow, blocks []models.TimeWindow) []models.TimeWindow {
	out := make([]models.TimeWindow, 0, len(windows))
	for _, w := range windows {
		if !w.Valid() {
			continue
		}
		out = append(out, w)
	}
	for _, block := range blocks {
		next := out[:0:0]
		for _, w := range out {
			if block.End <= w.Start || block.Start >= w.End {
				next = append(next, w)
				continue
			}
			if block.Start > w.Start {
				next = append(next, models.TimeWindow{Start: w.Start, End: block.Start})
			}
			if block.End < w.End {
				next = append(next, models.TimeWindow{Start: block.End, End: w.End})
			}
		}
		out = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func blocksFor(blocks models.RecurringBlockList, weekday time.Weekday) []models.TimeWindow {
	var out []models.TimeWindow
	for _, b := range blocks {
		if b.Weekday == weekday {
			out = append(out, b.Window)
		}
	}
	return out
}

// intersectSlots keeps slots present in both ordered sets, matched by exact
// start and end.
func intersectSlots(a, b []models.Slot) []models.Slot {
	index := make(map[time.Time]models.Slot, len(b))
	for _, s := range b {
		index[s.Start] = s
	}
	var out []models.Slot
	for _, s := range a {
		if other, ok := index[s.Start]; ok && other.End.Equal(s.End) {
			out = append(out, s)
		}
	}
	return out
}

func overlapsAny(slot models.Slot, busy []models.Slot) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}

func containsString(list models.StringList, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// rangeBoundsUTC converts an inclusive local date range to the UTC span its
// busy intervals must cover.
func rangeBoundsUTC(profile *models.AvailabilityProfile, rng models.DateRange) (time.Time, time.Time) {
	loc := profile.Location()
	from := startOfDay(rng.From.In(loc)).UTC()
	to := startOfDay(rng.To.In(loc)).AddDate(0, 0, 1).UTC()
	return from, to
}
