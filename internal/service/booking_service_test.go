package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

// stubTxSource hands out real sqlx transactions backed by sqlmock so the
// service's begin/commit/rollback flow runs while state lives in maps.
func stubTxSource(t *testing.T, ops int) *sqlx.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < ops; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock")
}

// fakeBookingStore is a map-backed bookingAppointmentRepository plus outbox.
type fakeBookingStore struct {
	mu           sync.Mutex
	db           *sqlx.DB
	appointments map[string]*models.Appointment
	history      []models.AppointmentStatusHistory
	events       []models.OutboxEvent
	seq          int
}

func newFakeBookingStore(db *sqlx.DB) *fakeBookingStore {
	return &fakeBookingStore{db: db, appointments: map[string]*models.Appointment{}}
}

func (f *fakeBookingStore) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return f.db.BeginTxx(ctx, nil)
}

func (f *fakeBookingStore) FindByID(_ context.Context, tenantID, id string) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return nil, fmt.Errorf("appointment %s not found", id)
	}
	cp := *appt
	return &cp, nil
}

func (f *fakeBookingStore) FindByIDTx(ctx context.Context, _ *sqlx.Tx, tenantID, id string) (*models.Appointment, error) {
	return f.FindByID(ctx, tenantID, id)
}

func (f *fakeBookingStore) FindOverlapping(_ context.Context, _ sqlx.ExtContext, tenantID string, hostIDs []string, start, end time.Time) ([]models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	window := models.Slot{Start: start, End: end}
	var out []models.Appointment
	for _, appt := range f.appointments {
		if appt.TenantID != tenantID || !appt.Status.Blocking() {
			continue
		}
		if !appt.Window().Overlaps(window) {
			continue
		}
		for _, host := range appt.Hosts() {
			for _, candidate := range hostIDs {
				if host == candidate {
					out = append(out, *appt)
				}
			}
		}
	}
	return out, nil
}

func (f *fakeBookingStore) CreateTx(_ context.Context, _ *sqlx.Tx, appt *models.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	appt.ID = fmt.Sprintf("appt-%d", f.seq)
	appt.Revision = 1
	cp := *appt
	f.appointments[appt.ID] = &cp
	return nil
}

func (f *fakeBookingStore) UpdateStatusTx(_ context.Context, _ *sqlx.Tx, tenantID, id string, status models.AppointmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return fmt.Errorf("appointment %s not found", id)
	}
	appt.Status = status
	appt.Revision++
	return nil
}

func (f *fakeBookingStore) UpdateHostsTx(_ context.Context, _ *sqlx.Tx, tenantID, id, staffID string, hosts models.StringList) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return fmt.Errorf("appointment %s not found", id)
	}
	appt.StaffID = staffID
	appt.CollectiveHostIDs = hosts
	return nil
}

func (f *fakeBookingStore) AddHistoryTx(_ context.Context, _ *sqlx.Tx, h *models.AppointmentStatusHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, *h)
	return nil
}

func (f *fakeBookingStore) ListHistory(_ context.Context, appointmentID string) ([]models.AppointmentStatusHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AppointmentStatusHistory
	for _, h := range f.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) List(_ context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Appointment
	for _, appt := range f.appointments {
		if appt.TenantID == filter.TenantID {
			out = append(out, *appt)
		}
	}
	return out, len(out), nil
}

func (f *fakeBookingStore) AddTx(_ context.Context, _ *sqlx.Tx, e *models.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.events) + 1)
	f.events = append(f.events, *e)
	return nil
}

type stubTypeRepo struct {
	types map[string]*models.AppointmentType
}

func (s *stubTypeRepo) FindByID(_ context.Context, _, id string) (*models.AppointmentType, error) {
	at, ok := s.types[id]
	if !ok {
		return nil, fmt.Errorf("type %s not found", id)
	}
	return at, nil
}

type stubRouter struct {
	result *RouteResult
	err    error
}

func (s *stubRouter) Route(_ context.Context, _ string, _ *models.AppointmentType, _ string, _ models.Slot) (*RouteResult, error) {
	return s.result, s.err
}

func newBookingFixture(t *testing.T, at *models.AppointmentType, assignee string) (*BookingService, *fakeBookingStore) {
	t.Helper()
	store := newFakeBookingStore(stubTxSource(t, 64))
	types := &stubTypeRepo{types: map[string]*models.AppointmentType{at.ID: at}}
	router := &stubRouter{result: &RouteResult{AssigneeID: assignee, Reason: "fixed assignee"}}
	return NewBookingService(store, types, store, router, nil, nil), store
}

func bookingRequest(start time.Time) BookingRequest {
	return BookingRequest{
		TenantID:     "t1",
		TypeID:       "type-1",
		Start:        start,
		InviteeName:  "Dana Client",
		InviteeEmail: "dana@example.com",
	}
}

func TestBookConfirmsWhenNoApprovalRequired(t *testing.T) {
	svc, store := newBookingFixture(t, thirtyMinuteType(), "staff-1")
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	appt, err := svc.Book(context.Background(), bookingRequest(start))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, appt.Status)
	assert.Equal(t, "staff-1", appt.StaffID)
	assert.Equal(t, start.Add(30*time.Minute), appt.EndAt)

	require.Len(t, store.history, 1)
	assert.Equal(t, models.StatusConfirmed, store.history[0].ToStatus)
	assert.Equal(t, "dana@example.com", store.history[0].Actor)

	require.Len(t, store.events, 1)
	assert.Equal(t, models.EventAppointmentConfirmed, store.events[0].EventType)
}

func TestBookRequestedWhenApprovalRequired(t *testing.T) {
	at := thirtyMinuteType()
	at.RequiresApproval = true
	svc, store := newBookingFixture(t, at, "staff-1")

	appt, err := svc.Book(context.Background(), bookingRequest(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRequested, appt.Status)
	assert.Equal(t, models.EventAppointmentRequested, store.events[0].EventType)
}

func TestBookConflictLeavesNothingBehind(t *testing.T) {
	svc, store := newBookingFixture(t, thirtyMinuteType(), "staff-1")
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	_, err := svc.Book(context.Background(), bookingRequest(start))
	require.NoError(t, err)

	_, err = svc.Book(context.Background(), bookingRequest(start.Add(15*time.Minute)))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	assert.Len(t, store.appointments, 1)
	assert.Len(t, store.history, 1)
	assert.Len(t, store.events, 1)
}

func TestBookConcurrentOverlapOneWinner(t *testing.T) {
	svc, store := newBookingFixture(t, thirtyMinuteType(), "staff-1")
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), bookingRequest(start))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, store.appointments, 1)
}

func TestBookCollectiveUsesRequiredHosts(t *testing.T) {
	at := thirtyMinuteType()
	at.Category = models.EventCollective
	at.RequiredHostIDs = models.StringList{"alice", "bob"}
	svc, _ := newBookingFixture(t, at, "")

	appt, err := svc.Book(context.Background(), bookingRequest(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, "alice", appt.StaffID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, appt.Hosts())
}

func TestBookCollectiveConflictOnAnyHost(t *testing.T) {
	at := thirtyMinuteType()
	at.Category = models.EventCollective
	at.RequiredHostIDs = models.StringList{"alice", "bob"}
	svc, store := newBookingFixture(t, at, "")
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// Bob is already booked solo in this window.
	store.appointments["busy"] = &models.Appointment{
		ID: "busy", TenantID: "t1", TypeID: "other", StaffID: "bob",
		StartAt: start, EndAt: start.Add(time.Hour), Status: models.StatusConfirmed,
	}

	_, err := svc.Book(context.Background(), bookingRequest(start))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Len(t, store.appointments, 1)
}

func TestTransitionTable(t *testing.T) {
	svc, _ := newBookingFixture(t, thirtyMinuteType(), "staff-1")
	at := thirtyMinuteType()
	at.RequiresApproval = true
	svcApproval, _ := newBookingFixture(t, at, "staff-1")

	ctx := context.Background()

	// requested → confirmed → completed.
	appt, err := svcApproval.Book(ctx, bookingRequest(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	confirmed, err := svcApproval.Confirm(ctx, "t1", appt.ID, "host")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	done, err := svcApproval.Complete(ctx, "t1", appt.ID, "host")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	// completed is terminal.
	_, err = svcApproval.Cancel(ctx, "t1", appt.ID, "", "host")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrIllegalTransition))

	// confirmed appointments cannot be rejected.
	booked, err := svc.Book(ctx, bookingRequest(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = svc.Reject(ctx, "t1", booked.ID, "", "host")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrIllegalTransition))

	// confirmed → no_show is legal.
	noShow, err := svc.MarkNoShow(ctx, "t1", booked.ID, "host")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoShow, noShow.Status)
}

func TestTransitionAppendsHistory(t *testing.T) {
	at := thirtyMinuteType()
	at.RequiresApproval = true
	svc, _ := newBookingFixture(t, at, "staff-1")
	ctx := context.Background()

	appt, err := svc.Book(ctx, bookingRequest(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, "t1", appt.ID, "host")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "t1", appt.ID, "client asked", "host")
	require.NoError(t, err)

	hist, err := svc.History(ctx, "t1", appt.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, models.StatusRequested, hist[0].ToStatus)
	assert.Equal(t, models.StatusRequested, hist[1].FromStatus)
	assert.Equal(t, models.StatusConfirmed, hist[1].ToStatus)
	assert.Equal(t, "client asked", hist[2].Reason)
}

func TestSubstituteHostValidatesAndSwaps(t *testing.T) {
	at := thirtyMinuteType()
	at.Category = models.EventCollective
	at.RequiredHostIDs = models.StringList{"alice", "bob"}
	svc, store := newBookingFixture(t, at, "")
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	appt, err := svc.Book(ctx, bookingRequest(start))
	require.NoError(t, err)

	// carol is busy; substitution must refuse her.
	store.appointments["busy"] = &models.Appointment{
		ID: "busy", TenantID: "t1", TypeID: "other", StaffID: "carol",
		StartAt: start, EndAt: start.Add(time.Hour), Status: models.StatusConfirmed,
	}
	_, err = svc.SubstituteHost(ctx, "t1", appt.ID, "bob", "carol", "ops")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	// dave is free; the lead host swap also moves StaffID.
	swapped, err := svc.SubstituteHost(ctx, "t1", appt.ID, "alice", "dave", "ops")
	require.NoError(t, err)
	assert.Equal(t, "dave", swapped.StaffID)
	assert.ElementsMatch(t, []string{"dave", "bob"}, swapped.Hosts())
	assert.Equal(t, models.EventHostSubstituted, store.events[len(store.events)-1].EventType)
}
