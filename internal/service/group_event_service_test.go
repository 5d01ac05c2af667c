package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

// fakeGroupStore backs groupEventRepository with maps.
type fakeGroupStore struct {
	mu        sync.Mutex
	attendees map[string]*models.GroupEventAttendee
	waitlist  map[string]*models.GroupEventWaitlist
	seq       int
	clock     time.Time
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{
		attendees: map[string]*models.GroupEventAttendee{},
		waitlist:  map[string]*models.GroupEventWaitlist{},
		clock:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeGroupStore) CountActiveTx(_ context.Context, _ *sqlx.Tx, appointmentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attendees {
		if a.AppointmentID == appointmentID && a.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (f *fakeGroupStore) AddAttendeeTx(_ context.Context, _ *sqlx.Tx, a *models.GroupEventAttendee) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	a.ID = fmt.Sprintf("att-%d", f.seq)
	cp := *a
	f.attendees[a.ID] = &cp
	return nil
}

func (f *fakeGroupStore) FindAttendeeTx(_ context.Context, _ *sqlx.Tx, appointmentID, email string) (*models.GroupEventAttendee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attendees {
		if a.AppointmentID == appointmentID && a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeGroupStore) UpdateAttendeeStatusTx(_ context.Context, _ *sqlx.Tx, id string, status models.AttendeeStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attendees[id]
	if !ok {
		return fmt.Errorf("attendee %s not found", id)
	}
	a.Status = status
	return nil
}

func (f *fakeGroupStore) ListAttendees(_ context.Context, appointmentID string) ([]models.GroupEventAttendee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GroupEventAttendee
	for _, a := range f.attendees {
		if a.AppointmentID == appointmentID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeGroupStore) AddWaitlistTx(_ context.Context, _ *sqlx.Tx, w *models.GroupEventWaitlist) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	w.ID = fmt.Sprintf("wl-%d", f.seq)
	f.clock = f.clock.Add(time.Second)
	w.JoinedAt = f.clock
	w.Status = models.WaitlistWaiting
	cp := *w
	f.waitlist[w.ID] = &cp
	return nil
}

func (f *fakeGroupStore) NextWaitingTx(_ context.Context, _ *sqlx.Tx, appointmentID string) (*models.GroupEventWaitlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.GroupEventWaitlist
	for _, w := range f.waitlist {
		if w.AppointmentID != appointmentID || w.Status != models.WaitlistWaiting {
			continue
		}
		if best == nil || w.Priority > best.Priority ||
			(w.Priority == best.Priority && w.JoinedAt.Before(best.JoinedAt)) {
			best = w
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (f *fakeGroupStore) PromoteTx(_ context.Context, _ *sqlx.Tx, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.waitlist[id]
	if !ok || w.Status != models.WaitlistWaiting {
		return fmt.Errorf("waitlist entry %s not promotable", id)
	}
	w.Status = models.WaitlistPromoted
	now := f.clock
	w.PromotedAt = &now
	return nil
}

func (f *fakeGroupStore) ListWaitlist(_ context.Context, appointmentID string) ([]models.GroupEventWaitlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GroupEventWaitlist
	for _, w := range f.waitlist {
		if w.AppointmentID == appointmentID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func newGroupFixture(t *testing.T, capacity int, waitlist bool) (*GroupEventService, *fakeGroupStore, *fakeBookingStore) {
	t.Helper()
	at := thirtyMinuteType()
	at.ID = "type-group"
	at.Category = models.EventGroup
	at.Capacity = capacity
	at.WaitlistEnabled = waitlist

	apptStore := newFakeBookingStore(stubTxSource(t, 64))
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	apptStore.appointments["group-1"] = &models.Appointment{
		ID: "group-1", TenantID: "t1", TypeID: at.ID, StaffID: "staff-1",
		StartAt: start, EndAt: start.Add(30 * time.Minute), Status: models.StatusConfirmed,
	}

	group := newFakeGroupStore()
	types := &stubTypeRepo{types: map[string]*models.AppointmentType{at.ID: at}}
	svc := NewGroupEventService(apptStore, group, types, apptStore, nil, nil)
	return svc, group, apptStore
}

func TestRegisterFillsSeatsThenWaitlists(t *testing.T) {
	svc, _, _ := newGroupFixture(t, 2, true)
	ctx := context.Background()

	first, err := svc.Register(ctx, "t1", "group-1", "Ann", "ann@example.com")
	require.NoError(t, err)
	require.NotNil(t, first.Attendee)
	assert.Equal(t, models.AttendeeRegistered, first.Attendee.Status)

	second, err := svc.Register(ctx, "t1", "group-1", "Ben", "ben@example.com")
	require.NoError(t, err)
	require.NotNil(t, second.Attendee)

	third, err := svc.Register(ctx, "t1", "group-1", "Cal", "cal@example.com")
	require.NoError(t, err)
	assert.Nil(t, third.Attendee)
	require.NotNil(t, third.Waitlisted)
	assert.Equal(t, models.WaitlistWaiting, third.Waitlisted.Status)

	attendees, waiting, err := svc.Roster(ctx, "group-1")
	require.NoError(t, err)
	assert.Len(t, attendees, 2)
	assert.Len(t, waiting, 1)
}

func TestRegisterFullWithoutWaitlistConflicts(t *testing.T) {
	svc, _, _ := newGroupFixture(t, 1, false)
	ctx := context.Background()

	_, err := svc.Register(ctx, "t1", "group-1", "Ann", "ann@example.com")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "t1", "group-1", "Ben", "ben@example.com")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestRegisterDuplicateEmailRejected(t *testing.T) {
	svc, _, _ := newGroupFixture(t, 5, false)
	ctx := context.Background()

	_, err := svc.Register(ctx, "t1", "group-1", "Ann", "Ann@Example.com")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "t1", "group-1", "Ann", "ann@example.com")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrIntegrity))
}

func TestCancelPromotesWaitlistInSameOperation(t *testing.T) {
	svc, group, store := newGroupFixture(t, 2, true)
	ctx := context.Background()

	for _, reg := range []struct{ name, email string }{
		{"Ann", "ann@example.com"}, {"Ben", "ben@example.com"}, {"Cal", "cal@example.com"},
	} {
		_, err := svc.Register(ctx, "t1", "group-1", reg.name, reg.email)
		require.NoError(t, err)
	}

	promoted, err := svc.CancelAttendee(ctx, "t1", "group-1", "ann@example.com")
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, "cal@example.com", promoted.Email)
	assert.Equal(t, models.AttendeeRegistered, promoted.Status)

	active, err := group.CountActiveTx(ctx, nil, "group-1")
	require.NoError(t, err)
	assert.Equal(t, 2, active, "capacity invariant holds after promotion")

	_, waiting, err := svc.Roster(ctx, "group-1")
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, models.WaitlistPromoted, waiting[0].Status)

	last := store.events[len(store.events)-1]
	assert.Equal(t, models.EventAttendeePromoted, last.EventType)
}

func TestWaitlistPromotionPrefersPriorityThenJoinTime(t *testing.T) {
	svc, group, _ := newGroupFixture(t, 1, true)
	ctx := context.Background()

	_, err := svc.Register(ctx, "t1", "group-1", "Ann", "ann@example.com")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "t1", "group-1", "Ben", "ben@example.com")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "t1", "group-1", "Cal", "cal@example.com")
	require.NoError(t, err)

	// Bump Cal's priority above Ben's despite joining later.
	for _, w := range group.waitlist {
		if w.Email == "cal@example.com" {
			w.Priority = 5
		}
	}

	promoted, err := svc.CancelAttendee(ctx, "t1", "group-1", "ann@example.com")
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, "cal@example.com", promoted.Email)
}

func TestConfirmAttendeeOnlyFromRegistered(t *testing.T) {
	svc, _, _ := newGroupFixture(t, 3, false)
	ctx := context.Background()

	_, err := svc.Register(ctx, "t1", "group-1", "Ann", "ann@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.ConfirmAttendee(ctx, "t1", "group-1", "ann@example.com"))

	err = svc.ConfirmAttendee(ctx, "t1", "group-1", "ann@example.com")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrIllegalTransition))
}
