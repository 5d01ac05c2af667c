package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type stubProfileRepo struct {
	profiles map[string]*models.AvailabilityProfile
}

func (s *stubProfileRepo) FindByOwner(_ context.Context, _, ownerID string, _ models.ProfileOwnerKind) (*models.AvailabilityProfile, error) {
	p, ok := s.profiles[ownerID]
	if !ok {
		return nil, errors.New("profile not found")
	}
	return p, nil
}

func (s *stubProfileRepo) FindByStaffIDs(_ context.Context, _ string, staffIDs []string) (map[string]*models.AvailabilityProfile, error) {
	out := make(map[string]*models.AvailabilityProfile)
	for _, id := range staffIDs {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type stubBusySource struct {
	busy map[string][]models.Slot
	errs map[string]error
}

func (s *stubBusySource) BusyIntervals(_ context.Context, _, staffID string, _, _ time.Time) ([]models.Slot, int, error) {
	if err, ok := s.errs[staffID]; ok {
		return nil, 0, err
	}
	return s.busy[staffID], 0, nil
}

func weekdayProfile(ownerID string) *models.AvailabilityProfile {
	weekly := models.WeeklyHours{}
	for day := time.Monday; day <= time.Friday; day++ {
		weekly[day] = []models.TimeWindow{{Start: 9 * 60, End: 17 * 60}}
	}
	return &models.AvailabilityProfile{
		ID:                  "prof-" + ownerID,
		TenantID:            "t1",
		OwnerID:             ownerID,
		OwnerKind:           models.OwnerStaff,
		Timezone:            "UTC",
		Weekly:              weekly,
		MaxFutureDays:       30,
		SlotRoundingMinutes: 15,
	}
}

func thirtyMinuteType() *models.AppointmentType {
	return &models.AppointmentType{
		ID:              "type-1",
		TenantID:        "t1",
		Name:            "Intro Call",
		DurationMinutes: 30,
		Category:        models.EventSingleHost,
		RoutingPolicy:   models.RouteFixed,
		Active:          true,
	}
}

func newAvailabilityFixture(profiles *stubProfileRepo, busy *stubBusySource) *AvailabilityService {
	svc := NewAvailabilityService(profiles, busy, nil, nil, 0, nil)
	// Monday 2026-03-02 midnight; keeps every test day inside the horizon.
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestComputeSlotsExcludesBusyOverlaps(t *testing.T) {
	staff := "staff-1"
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	profiles := &stubProfileRepo{profiles: map[string]*models.AvailabilityProfile{staff: weekdayProfile(staff)}}
	busy := &stubBusySource{busy: map[string][]models.Slot{
		staff: {{Start: day.Add(10 * time.Hour), End: day.Add(10*time.Hour + 30*time.Minute)}},
	}}
	svc := newAvailabilityFixture(profiles, busy)

	slots, _, err := svc.ComputeSlots(context.Background(), "t1", thirtyMinuteType(), staff,
		models.DateRange{From: day, To: day}, staff)
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	starts := make(map[string]bool, len(slots))
	for _, s := range slots {
		starts[s.Start.Format("15:04")] = true
		assert.Equal(t, 30*time.Minute, s.End.Sub(s.Start))
	}
	assert.True(t, starts["09:30"])
	assert.True(t, starts["10:30"])
	assert.False(t, starts["09:45"], "overlaps the 10:00 meeting's start")
	assert.False(t, starts["10:00"], "coincides with the existing meeting")
}

func TestComputeSlotsRespectsNoticeAndHorizon(t *testing.T) {
	staff := "staff-1"
	profile := weekdayProfile(staff)
	profile.MinNoticeMinutes = 24 * 60
	profile.MaxFutureDays = 3
	profiles := &stubProfileRepo{profiles: map[string]*models.AvailabilityProfile{staff: profile}}
	svc := newAvailabilityFixture(profiles, &stubBusySource{})

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slots, _, err := svc.ComputeSlots(context.Background(), "t1", thirtyMinuteType(), staff,
		models.DateRange{From: from, To: from.AddDate(0, 0, 14)}, "")
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	minStart := svc.now().Add(24 * time.Hour)
	horizon := svc.now().AddDate(0, 0, 3)
	for _, s := range slots {
		assert.False(t, s.Start.Before(minStart), "slot %s violates min notice", s)
		assert.False(t, s.Start.After(horizon), "slot %s beyond future window", s)
	}
}

func TestComputeSlotsSkipsExceptionDates(t *testing.T) {
	staff := "staff-1"
	profile := weekdayProfile(staff)
	profile.ExceptionDates = models.StringList{"2026-03-02"}
	profiles := &stubProfileRepo{profiles: map[string]*models.AvailabilityProfile{staff: profile}}
	svc := newAvailabilityFixture(profiles, &stubBusySource{})

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slots, _, err := svc.ComputeSlots(context.Background(), "t1", thirtyMinuteType(), staff,
		models.DateRange{From: day, To: day}, "")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestComputeSlotsIdempotent(t *testing.T) {
	staff := "staff-1"
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	profiles := &stubProfileRepo{profiles: map[string]*models.AvailabilityProfile{staff: weekdayProfile(staff)}}
	busy := &stubBusySource{busy: map[string][]models.Slot{
		staff: {{Start: day.Add(13 * time.Hour), End: day.Add(14 * time.Hour)}},
	}}
	svc := newAvailabilityFixture(profiles, busy)

	rng := models.DateRange{From: day, To: day.AddDate(0, 0, 4)}
	first, _, err := svc.ComputeSlots(context.Background(), "t1", thirtyMinuteType(), staff, rng, staff)
	require.NoError(t, err)
	second, _, err := svc.ComputeSlots(context.Background(), "t1", thirtyMinuteType(), staff, rng, staff)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSubtractBlocksSplitsInteriorBlock(t *testing.T) {
	windows := []models.TimeWindow{{Start: 9 * 60, End: 17 * 60}}
	blocks := []models.TimeWindow{{Start: 12 * 60, End: 13 * 60}}

	got := subtractBlocks(windows, blocks)
	require.Len(t, got, 2)
	assert.Equal(t, models.TimeWindow{Start: 9 * 60, End: 12 * 60}, got[0])
	assert.Equal(t, models.TimeWindow{Start: 13 * 60, End: 17 * 60}, got[1])

	covered := subtractBlocks(windows, []models.TimeWindow{{Start: 8 * 60, End: 18 * 60}})
	assert.Empty(t, covered)

	truncated := subtractBlocks(windows, []models.TimeWindow{{Start: 8 * 60, End: 10 * 60}})
	require.Len(t, truncated, 1)
	assert.Equal(t, models.TimeWindow{Start: 10 * 60, End: 17 * 60}, truncated[0])
}

func TestComputeSlotsEnforcesMinGap(t *testing.T) {
	staff := "staff-1"
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	profile := weekdayProfile(staff)
	profile.MinGapMinutes = 30
	profiles := &stubProfileRepo{profiles: map[string]*models.AvailabilityProfile{staff: profile}}
	busy := &stubBusySource{busy: map[string][]models.Slot{
		staff: {{Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)}},
	}}
	svc := newAvailabilityFixture(profiles, busy)

	slots, _, err := svc.ComputeSlots(context.Background(), "t1", thirtyMinuteType(), staff,
		models.DateRange{From: day, To: day}, staff)
	require.NoError(t, err)

	starts := make(map[string]bool, len(slots))
	for _, s := range slots {
		starts[s.Start.Format("15:04")] = true
	}
	// 10:15-10:45 ends 15 minutes before the 11:00 meeting.
	assert.False(t, starts["10:15"])
	assert.False(t, starts["10:30"])
	assert.True(t, starts["10:00"], "ends a full 30 minutes clear of the meeting")
	assert.False(t, starts["12:15"], "starts 15 minutes after the meeting ends")
	assert.True(t, starts["12:30"])
}

func TestCollectiveSlotsIntersectRequiredHosts(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	alice := weekdayProfile("alice")
	bob := weekdayProfile("bob")
	// Bob only works afternoons.
	for d := time.Monday; d <= time.Friday; d++ {
		bob.Weekly[d] = []models.TimeWindow{{Start: 13 * 60, End: 17 * 60}}
	}
	profiles := &stubProfileRepo{profiles: map[string]*models.AvailabilityProfile{
		"alice": alice, "bob": bob, "carol": weekdayProfile("carol"),
	}}
	busy := &stubBusySource{busy: map[string][]models.Slot{
		"carol": {{Start: day.Add(13 * time.Hour), End: day.Add(15 * time.Hour)}},
	}}
	svc := newAvailabilityFixture(profiles, busy)

	at := thirtyMinuteType()
	at.Category = models.EventCollective
	at.RequiredHostIDs = models.StringList{"alice", "bob"}
	at.OptionalHostIDs = models.StringList{"carol"}

	slots, err := svc.ComputeCollectiveSlots(context.Background(), "t1", at, models.DateRange{From: day, To: day})
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	for _, cs := range slots {
		assert.False(t, cs.Start.Before(day.Add(13*time.Hour)), "slot %s outside the intersection", cs.Slot)
		if cs.Start.Before(day.Add(15 * time.Hour)) {
			assert.Empty(t, cs.OptionalHostIDs, "carol is busy until 15:00")
		} else {
			assert.Equal(t, []string{"carol"}, cs.OptionalHostIDs)
		}
	}
}

func TestNeighborGapsBoundsDayInProfileTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 21:00 local on Mar 2; the local day spans 05:00Z Mar 2 to 05:00Z Mar 3.
	slot := models.Slot{
		Start: time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 3, 2, 30, 0, 0, time.UTC),
	}

	// 18:00 local the same day, on the other side of UTC midnight.
	evening := models.Slot{
		Start: time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC),
	}
	before, _, has := neighborGaps(slot, []models.Slot{evening}, loc)
	assert.True(t, has, "same local day must count as a neighbor")
	assert.Equal(t, 2*time.Hour+30*time.Minute, before)

	// 23:00 local on Mar 1 is the previous local day and never counts.
	prevDay := models.Slot{
		Start: time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC),
	}
	_, _, has = neighborGaps(slot, []models.Slot{prevDay}, loc)
	assert.False(t, has)
}

// memorySlotCache backs slotCache with a map of marshaled snapshots.
type memorySlotCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memorySlotCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memorySlotCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = raw
	return nil
}

func TestComputeSlotsReportsCacheHit(t *testing.T) {
	staff := "staff-1"
	profiles := &stubProfileRepo{profiles: map[string]*models.AvailabilityProfile{staff: weekdayProfile(staff)}}
	svc := NewAvailabilityService(profiles, &stubBusySource{}, nil, &memorySlotCache{}, time.Minute, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rng := models.DateRange{From: day, To: day}

	first, hit, err := svc.ComputeSlots(context.Background(), "t1", thirtyMinuteType(), staff, rng, "")
	require.NoError(t, err)
	assert.False(t, hit)
	require.NotEmpty(t, first)

	second, hit, err := svc.ComputeSlots(context.Background(), "t1", thirtyMinuteType(), staff, rng, "")
	require.NoError(t, err)
	assert.True(t, hit, "second read must come from the snapshot cache")
	assert.Equal(t, first, second)
}

func TestCollectiveSlotsEmptyWhenRequiredProfileMissing(t *testing.T) {
	profiles := &stubProfileRepo{profiles: map[string]*models.AvailabilityProfile{"alice": weekdayProfile("alice")}}
	svc := newAvailabilityFixture(profiles, &stubBusySource{})

	at := thirtyMinuteType()
	at.Category = models.EventCollective
	at.RequiredHostIDs = models.StringList{"alice", "ghost"}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slots, err := svc.ComputeCollectiveSlots(context.Background(), "t1", at, models.DateRange{From: day, To: day})
	require.NoError(t, err)
	assert.Empty(t, slots)
}
