package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/provider"
	"github.com/novacal/novacal-api/pkg/config"
)

// fakeAdapter scripts provider responses per cursor.
type fakeAdapter struct {
	mu          sync.Mutex
	pages       map[string]*provider.ListResult
	listErr     error
	createErr   error
	created     map[string]string
	createCalls int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		pages:   map[string]*provider.ListResult{},
		created: map[string]string{},
	}
}

func (f *fakeAdapter) Provider() models.Provider { return models.ProviderGoogle }

func (f *fakeAdapter) GetAuthorizationURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeAdapter) ExchangeCode(_ context.Context, _ string) (*provider.Token, error) {
	return &provider.Token{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (f *fakeAdapter) RefreshToken(_ context.Context, _ string) (*provider.Token, error) {
	return &provider.Token{AccessToken: "access2", RefreshToken: "refresh"}, nil
}

func (f *fakeAdapter) ListEvents(_ context.Context, _ *models.CalendarConnection, _ models.Slot, cursor string) (*provider.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	page, ok := f.pages[cursor]
	if !ok {
		return &provider.ListResult{NextCursor: cursor}, nil
	}
	return page, nil
}

func (f *fakeAdapter) CreateEvent(_ context.Context, _ *models.CalendarConnection, input provider.EventInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.createCalls++
	if id, ok := f.created[input.AppointmentID]; ok {
		return id, nil
	}
	id := "ext-" + input.AppointmentID
	f.created[input.AppointmentID] = id
	return id, nil
}

func (f *fakeAdapter) UpdateEvent(_ context.Context, _ *models.CalendarConnection, _ string, _ provider.EventInput) error {
	return nil
}

func (f *fakeAdapter) DeleteEvent(_ context.Context, _ *models.CalendarConnection, _ string) error {
	return nil
}

// fakeSyncConnRepo backs syncConnectionRepository with a map.
type fakeSyncConnRepo struct {
	mu    sync.Mutex
	conns map[string]*models.CalendarConnection
}

func (f *fakeSyncConnRepo) FindByID(_ context.Context, tenantID, id string) (*models.CalendarConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[id]
	if !ok || c.TenantID != tenantID {
		return nil, fmt.Errorf("connection %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeSyncConnRepo) ListSyncable(_ context.Context, _ int) ([]models.CalendarConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CalendarConnection
	for _, c := range f.conns {
		if c.Status.Syncable() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeSyncConnRepo) UpdateCursor(_ context.Context, id, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[id].SyncCursor = cursor
	return nil
}

func (f *fakeSyncConnRepo) UpdateStatus(_ context.Context, id string, status models.ConnectionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[id].Status = status
	return nil
}

func (f *fakeSyncConnRepo) UpdateTokens(_ context.Context, id, access, refresh string, expiresAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.conns[id]
	c.AccessToken = access
	c.RefreshToken = refresh
	c.TokenExpiresAt = expiresAt
	return nil
}

// fakeSyncStore backs syncAppointmentRepository with a map.
type fakeSyncStore struct {
	mu           sync.Mutex
	db           *sqlx.DB
	appointments map[string]*models.Appointment
	seq          int
}

func newFakeSyncStore(db *sqlx.DB) *fakeSyncStore {
	return &fakeSyncStore{db: db, appointments: map[string]*models.Appointment{}}
}

func (f *fakeSyncStore) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return f.db.BeginTxx(ctx, nil)
}

func (f *fakeSyncStore) FindByID(_ context.Context, tenantID, id string) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return nil, fmt.Errorf("appointment %s not found", id)
	}
	cp := *appt
	return &cp, nil
}

func (f *fakeSyncStore) FindByExternal(_ context.Context, connectionID, externalEventID string) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, appt := range f.appointments {
		if appt.ConnectionID != nil && *appt.ConnectionID == connectionID &&
			appt.ExternalEventID != nil && *appt.ExternalEventID == externalEventID {
			cp := *appt
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSyncStore) CreateTx(_ context.Context, _ *sqlx.Tx, appt *models.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	appt.ID = fmt.Sprintf("appt-%d", f.seq)
	cp := *appt
	f.appointments[appt.ID] = &cp
	return nil
}

func (f *fakeSyncStore) ApplyExternalTx(_ context.Context, _ *sqlx.Tx, tenantID, id string, start, end time.Time, status models.AppointmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return fmt.Errorf("appointment %s not found", id)
	}
	appt.StartAt = start
	appt.EndAt = end
	appt.Status = status
	return nil
}

func (f *fakeSyncStore) LinkExternal(_ context.Context, tenantID, id, connectionID, externalEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return fmt.Errorf("appointment %s not found", id)
	}
	appt.ConnectionID = &connectionID
	appt.ExternalEventID = &externalEventID
	return nil
}

func (f *fakeSyncStore) ListConfirmedUnlinked(_ context.Context, tenantID, staffID string, _ int) ([]models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Appointment
	for _, appt := range f.appointments {
		if appt.TenantID == tenantID && appt.StaffID == staffID &&
			appt.Status == models.StatusConfirmed && appt.ExternalEventID == nil {
			out = append(out, *appt)
		}
	}
	return out, nil
}

// fakeSyncLog is an append-only in-memory syncLogRepository.
type fakeSyncLog struct {
	mu      sync.Mutex
	entries []models.SyncAttemptLog
}

func (f *fakeSyncLog) Append(_ context.Context, entry *models.SyncAttemptLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = fmt.Sprintf("log-%d", len(f.entries)+1)
	if entry.CorrelationID == "" {
		entry.CorrelationID = fmt.Sprintf("auto-%d", len(f.entries)+1)
	}
	f.entries = append(f.entries, *entry)
	return nil
}

// ListDue mirrors the repository query: only the latest attempt per
// correlation chain counts.
func (f *fakeSyncLog) ListDue(_ context.Context, now time.Time, limit int) ([]models.SyncAttemptLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := map[string]models.SyncAttemptLog{}
	for _, e := range f.entries {
		latest[e.CorrelationID] = e
	}
	var out []models.SyncAttemptLog
	for _, e := range f.entries {
		l := latest[e.CorrelationID]
		if l.ID != e.ID {
			continue
		}
		if e.Outcome == models.SyncFailed && e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeSyncLog) FindLatestByCorrelation(_ context.Context, tenantID, correlationID string) (*models.SyncAttemptLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if e.TenantID == tenantID && e.CorrelationID == correlationID {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("no attempts for correlation %s", correlationID)
}

func (f *fakeSyncLog) List(_ context.Context, filter models.SyncAttemptFilter) ([]models.SyncAttemptLog, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SyncAttemptLog
	for _, e := range f.entries {
		if e.TenantID == filter.TenantID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (f *fakeSyncLog) outcomes() []models.SyncOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SyncOutcome, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Outcome
	}
	return out
}

type syncFixture struct {
	svc     *SyncService
	conns   *fakeSyncConnRepo
	store   *fakeSyncStore
	log     *fakeSyncLog
	adapter *fakeAdapter
	conn    *models.CalendarConnection
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	adapter := newFakeAdapter()
	conn := &models.CalendarConnection{
		ID:       "conn-1",
		TenantID: "t1",
		StaffID:  "staff-1",
		Provider: models.ProviderGoogle,
		Status:   models.ConnectionActive,
	}
	conns := &fakeSyncConnRepo{conns: map[string]*models.CalendarConnection{conn.ID: conn}}
	store := newFakeSyncStore(stubTxSource(t, 64))
	log := &fakeSyncLog{}
	cfg := config.SyncConfig{
		MaxRetries:       3,
		BaseRetrySeconds: 5,
		MaxRetryDelay:    300 * time.Second,
		ProviderTimeout:  time.Second,
		RateLimitPerSec:  1000,
		RateLimitBurst:   1000,
	}
	svc := NewSyncService(conns, store, log, provider.NewRegistry(adapter), nil, cfg, nil)
	return &syncFixture{svc: svc, conns: conns, store: store, log: log, adapter: adapter, conn: conn}
}

func syncEventPayload(start time.Time) models.EventPayload {
	return models.EventPayload{
		Title:   "Offsite planning",
		StartAt: start,
		EndAt:   start.Add(time.Hour),
	}
}

func TestUpsertCreatesThenIsIdempotent(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	require.NoError(t, fx.svc.Upsert(ctx, fx.conn, "ev-1", syncEventPayload(start), 0, ""))
	require.NoError(t, fx.svc.Upsert(ctx, fx.conn, "ev-1", syncEventPayload(start), 0, ""))

	assert.Len(t, fx.store.appointments, 1, "identical payloads must not duplicate")
	for _, appt := range fx.store.appointments {
		assert.Equal(t, models.StatusConfirmed, appt.Status)
		assert.Equal(t, "staff-1", appt.StaffID)
		require.NotNil(t, appt.ExternalEventID)
		assert.Equal(t, "ev-1", *appt.ExternalEventID)
	}
	assert.Equal(t, []models.SyncOutcome{models.SyncSucceeded, models.SyncSucceeded}, fx.log.outcomes())
}

func TestUpsertCancellationClosesMirroredAppointment(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	require.NoError(t, fx.svc.Upsert(ctx, fx.conn, "ev-1", syncEventPayload(start), 0, ""))

	cancelled := syncEventPayload(start)
	cancelled.Cancelled = true
	require.NoError(t, fx.svc.Upsert(ctx, fx.conn, "ev-1", cancelled, 0, ""))

	appt, err := fx.store.FindByExternal(ctx, fx.conn.ID, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, appt)
	assert.Equal(t, models.StatusCancelled, appt.Status)
}

func TestUpsertIgnoresCancelledUnknownEvent(t *testing.T) {
	fx := newSyncFixture(t)
	payload := syncEventPayload(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	payload.Cancelled = true

	require.NoError(t, fx.svc.Upsert(context.Background(), fx.conn, "ev-ghost", payload, 0, ""))

	assert.Empty(t, fx.store.appointments)
	assert.Equal(t, []models.SyncOutcome{models.SyncSucceeded}, fx.log.outcomes())
}

func TestPullAdvancesCursorThroughPages(t *testing.T) {
	fx := newSyncFixture(t)
	start := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	fx.adapter.pages[""] = &provider.ListResult{
		Events: []provider.Event{
			{ID: "ev-1", Title: "One", Start: start, End: start.Add(time.Hour)},
			{ID: "ev-2", Title: "Two", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
		},
		NextCursor: "c1",
	}
	fx.adapter.pages["c1"] = &provider.ListResult{NextCursor: "c1"}

	require.NoError(t, fx.svc.SyncConnection(context.Background(), fx.conn))

	assert.Len(t, fx.store.appointments, 2)
	assert.Equal(t, "c1", fx.conn.SyncCursor)
	assert.Equal(t, "c1", fx.conns.conns["conn-1"].SyncCursor)
}

func TestPushLinksAppointmentAndLogsSuccess(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	fx.store.appointments["appt-local"] = &models.Appointment{
		ID: "appt-local", TenantID: "t1", StaffID: "staff-1",
		StartAt: start, EndAt: start.Add(30 * time.Minute),
		Status: models.StatusConfirmed, InviteeName: "Dana Client",
	}

	require.NoError(t, fx.svc.SyncConnection(ctx, fx.conn))

	appt := fx.store.appointments["appt-local"]
	require.NotNil(t, appt.ExternalEventID)
	assert.Equal(t, "ext-appt-local", *appt.ExternalEventID)
	assert.Equal(t, 1, fx.adapter.createCalls)
	assert.Equal(t, []models.SyncOutcome{models.SyncSucceeded}, fx.log.outcomes())
}

func TestPushFailureSchedulesRetry(t *testing.T) {
	fx := newSyncFixture(t)
	fx.adapter.createErr = &provider.StatusError{Status: 503, Message: "backend unavailable"}
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	appt := &models.Appointment{
		ID: "appt-local", TenantID: "t1", StaffID: "staff-1",
		StartAt: start, EndAt: start.Add(30 * time.Minute), Status: models.StatusConfirmed,
	}
	fx.store.appointments[appt.ID] = appt

	err := fx.svc.PushAppointment(context.Background(), fx.conn, appt, 0, "chain-1")
	require.Error(t, err)

	require.Len(t, fx.log.entries, 1)
	entry := fx.log.entries[0]
	assert.Equal(t, models.SyncFailed, entry.Outcome)
	assert.Equal(t, models.SyncErrRetryable, entry.ErrorClass)
	assert.Equal(t, "chain-1", entry.CorrelationID)
	require.NotNil(t, entry.NextRetryAt)
	assert.True(t, entry.NextRetryAt.After(time.Now().UTC()))
	assert.Equal(t, models.ConnectionActive, fx.conns.conns["conn-1"].Status)
}

func TestNonRetryableFailureFlagsConnection(t *testing.T) {
	fx := newSyncFixture(t)
	fx.adapter.createErr = &provider.StatusError{Status: 403, Message: "forbidden"}
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	appt := &models.Appointment{
		ID: "appt-local", TenantID: "t1", StaffID: "staff-1",
		StartAt: start, EndAt: start.Add(30 * time.Minute), Status: models.StatusConfirmed,
	}
	fx.store.appointments[appt.ID] = appt

	err := fx.svc.PushAppointment(context.Background(), fx.conn, appt, 0, "chain-1")
	require.Error(t, err)

	assert.Equal(t, models.ConnectionNeedsAttention, fx.conns.conns["conn-1"].Status)
	require.Len(t, fx.log.entries, 1)
	assert.Equal(t, models.SyncErrNonRetryable, fx.log.entries[0].ErrorClass)
	assert.Nil(t, fx.log.entries[0].NextRetryAt, "non-retryable chains never re-enter the queue")
}

func TestRetryDueRecoversPushChain(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	appt := &models.Appointment{
		ID: "appt-local", TenantID: "t1", StaffID: "staff-1",
		StartAt: start, EndAt: start.Add(30 * time.Minute), Status: models.StatusConfirmed,
	}
	fx.store.appointments[appt.ID] = appt

	// First attempt fails, leaving a due retry row.
	fx.adapter.createErr = &provider.StatusError{Status: 500}
	require.Error(t, fx.svc.PushAppointment(ctx, fx.conn, appt, 0, "chain-1"))
	fx.log.entries[0].NextRetryAt = ptrTime(time.Now().UTC().Add(-time.Minute))

	// Provider recovers before the retry fires.
	fx.adapter.createErr = nil
	require.NoError(t, fx.svc.RetryDue(ctx))

	linked := fx.store.appointments["appt-local"]
	require.NotNil(t, linked.ExternalEventID)
	assert.Equal(t, []models.SyncOutcome{models.SyncFailed, models.SyncSucceeded}, fx.log.outcomes())
	assert.Equal(t, 1, fx.log.entries[1].RetryCount)
	assert.Equal(t, "chain-1", fx.log.entries[1].CorrelationID)
}

func TestRetryClosesChainWhenPushAlreadyLanded(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	extID := "ext-appt-local"
	connID := "conn-1"
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	fx.store.appointments["appt-local"] = &models.Appointment{
		ID: "appt-local", TenantID: "t1", StaffID: "staff-1",
		StartAt: start, EndAt: start.Add(30 * time.Minute), Status: models.StatusConfirmed,
		ConnectionID: &connID, ExternalEventID: &extID,
	}
	apptID := "appt-local"
	require.NoError(t, fx.log.Append(ctx, &models.SyncAttemptLog{
		TenantID: "t1", ConnectionID: "conn-1", AppointmentID: &apptID,
		Direction: models.SyncPush, Operation: models.SyncOpCreate,
		Outcome: models.SyncFailed, ErrorClass: models.SyncErrTransient,
		RetryCount: 0, NextRetryAt: ptrTime(time.Now().UTC().Add(-time.Minute)),
		CorrelationID: "chain-1",
	}))

	require.NoError(t, fx.svc.RetryDue(ctx))

	assert.Equal(t, 0, fx.adapter.createCalls, "a landed push must not be re-sent")
	last := fx.log.entries[len(fx.log.entries)-1]
	assert.Equal(t, models.SyncSucceeded, last.Outcome)
	assert.Equal(t, "chain-1", last.CorrelationID)
}

func TestRetryBudgetExhausts(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	fx.adapter.createErr = &provider.StatusError{Status: 500}
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	appt := &models.Appointment{
		ID: "appt-local", TenantID: "t1", StaffID: "staff-1",
		StartAt: start, EndAt: start.Add(30 * time.Minute), Status: models.StatusConfirmed,
	}
	fx.store.appointments[appt.ID] = appt

	// Simulate a chain one attempt away from its budget of 3.
	apptID := appt.ID
	require.NoError(t, fx.log.Append(ctx, &models.SyncAttemptLog{
		TenantID: "t1", ConnectionID: "conn-1", AppointmentID: &apptID,
		Direction: models.SyncPush, Operation: models.SyncOpCreate,
		Outcome: models.SyncFailed, ErrorClass: models.SyncErrRetryable,
		RetryCount: 2, NextRetryAt: ptrTime(time.Now().UTC().Add(-time.Minute)),
		CorrelationID: "chain-1",
	}))

	require.NoError(t, fx.svc.RetryDue(ctx))

	last := fx.log.entries[len(fx.log.entries)-1]
	assert.Equal(t, models.SyncExhausted, last.Outcome)
	assert.Equal(t, 3, last.RetryCount)
	assert.Nil(t, last.NextRetryAt, "exhausted chains wait for manual replay")

	// Exhausted rows no longer surface as due work.
	due, err := fx.log.ListDue(ctx, time.Now().UTC().Add(time.Hour), 50)
	require.NoError(t, err)
	for _, e := range due {
		assert.Less(t, e.RetryCount, 3)
	}
}

func TestReplayResetsExhaustedChain(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	appt := &models.Appointment{
		ID: "appt-local", TenantID: "t1", StaffID: "staff-1",
		StartAt: start, EndAt: start.Add(30 * time.Minute), Status: models.StatusConfirmed,
	}
	fx.store.appointments[appt.ID] = appt
	apptID := appt.ID
	require.NoError(t, fx.log.Append(ctx, &models.SyncAttemptLog{
		TenantID: "t1", ConnectionID: "conn-1", AppointmentID: &apptID,
		Direction: models.SyncPush, Operation: models.SyncOpCreate,
		Outcome: models.SyncExhausted, ErrorClass: models.SyncErrRetryable,
		RetryCount: 3, CorrelationID: "chain-1",
	}))

	require.NoError(t, fx.svc.Replay(ctx, "t1", "chain-1"))

	last := fx.log.entries[len(fx.log.entries)-1]
	assert.Equal(t, models.SyncSucceeded, last.Outcome)
	assert.Equal(t, 0, last.RetryCount, "replay resets the chain's budget")
	assert.Equal(t, "chain-1", last.CorrelationID)
	require.NotNil(t, fx.store.appointments["appt-local"].ExternalEventID)
}

func TestResyncClearsCursorAndReactivates(t *testing.T) {
	fx := newSyncFixture(t)
	fx.conns.conns["conn-1"].SyncCursor = "stale"
	fx.conns.conns["conn-1"].Status = models.ConnectionNeedsAttention

	require.NoError(t, fx.svc.Resync(context.Background(), "t1", "conn-1"))

	conn := fx.conns.conns["conn-1"]
	assert.Equal(t, models.ConnectionActive, conn.Status)
	assert.Empty(t, conn.SyncCursor)
}

func TestRetryDelayOrdersClassesAndCaps(t *testing.T) {
	fx := newSyncFixture(t)

	// Jitter stays within ±10%, so class ordering holds at every retry count.
	transient := fx.svc.retryDelay(models.SyncErrTransient, 0)
	retryable := fx.svc.retryDelay(models.SyncErrRetryable, 0)
	rateLimited := fx.svc.retryDelay(models.SyncErrRateLimited, 0)

	assert.InDelta(t, 1, transient.Seconds(), 0.11)
	assert.InDelta(t, 5, retryable.Seconds(), 0.51)
	assert.InDelta(t, 60, rateLimited.Seconds(), 6.1)
	assert.Less(t, transient, retryable)
	assert.Less(t, retryable, rateLimited)

	// Backoff doubles until the cap absorbs it. The cap is a hard ceiling:
	// jitter never pushes a delay past it.
	assert.InDelta(t, 10, fx.svc.retryDelay(models.SyncErrRetryable, 1).Seconds(), 1.1)
	for i := 0; i < 50; i++ {
		capped := fx.svc.retryDelay(models.SyncErrRetryable, 12)
		assert.LessOrEqual(t, capped, 300*time.Second)
		assert.GreaterOrEqual(t, capped.Seconds(), 269.0)
		assert.LessOrEqual(t, fx.svc.retryDelay(models.SyncErrRateLimited, 12), 300*time.Second)
	}
}

func TestLimiterBurstDefaultsToRate(t *testing.T) {
	cfg := config.SyncConfig{RateLimitPerSec: 25}
	svc := NewSyncService(nil, nil, nil, provider.NewRegistry(), nil, cfg, nil)

	for _, limiter := range svc.limiters {
		assert.Equal(t, rate.Limit(25), limiter.Limit())
		assert.Equal(t, 25, limiter.Burst())
	}
}

func TestPullFailureWalksOneChainToExhaustion(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	fx.adapter.listErr = &provider.StatusError{Status: 503, Message: "backend unavailable"}

	require.Error(t, fx.svc.SyncConnection(ctx, fx.conn))
	require.Len(t, fx.log.entries, 1)
	chain := fx.log.entries[0].CorrelationID
	require.NotEmpty(t, chain)

	// Force every scheduled retry due and drive the worker past the budget.
	for i := 0; i < 5; i++ {
		for j := range fx.log.entries {
			if fx.log.entries[j].NextRetryAt != nil {
				fx.log.entries[j].NextRetryAt = ptrTime(time.Now().UTC().Add(-time.Minute))
			}
		}
		require.NoError(t, fx.svc.RetryDue(ctx))
	}

	require.Len(t, fx.log.entries, 4, "initial failure plus a budget of 3 retries")
	for i, e := range fx.log.entries {
		assert.Equal(t, i, e.RetryCount, "retry counts must grow along the chain")
		assert.Equal(t, chain, e.CorrelationID)
		assert.Equal(t, models.SyncPull, e.Direction)
	}
	last := fx.log.entries[len(fx.log.entries)-1]
	assert.Equal(t, models.SyncExhausted, last.Outcome)
	assert.Nil(t, last.NextRetryAt, "exhausted pull chains wait for manual replay")
}

func ptrTime(t time.Time) *time.Time { return &t }
