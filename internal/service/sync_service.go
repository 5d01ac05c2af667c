package service

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/provider"
	"github.com/novacal/novacal-api/pkg/config"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type syncConnectionRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.CalendarConnection, error)
	ListSyncable(ctx context.Context, limit int) ([]models.CalendarConnection, error)
	UpdateCursor(ctx context.Context, id, cursor string) error
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
}

type syncAppointmentRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	FindByID(ctx context.Context, tenantID, id string) (*models.Appointment, error)
	FindByExternal(ctx context.Context, connectionID, externalEventID string) (*models.Appointment, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, appt *models.Appointment) error
	ApplyExternalTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string, start, end time.Time, status models.AppointmentStatus) error
	LinkExternal(ctx context.Context, tenantID, id, connectionID, externalEventID string) error
	ListConfirmedUnlinked(ctx context.Context, tenantID, staffID string, limit int) ([]models.Appointment, error)
}

type syncLogRepository interface {
	Append(ctx context.Context, entry *models.SyncAttemptLog) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.SyncAttemptLog, error)
	FindLatestByCorrelation(ctx context.Context, tenantID, correlationID string) (*models.SyncAttemptLog, error)
	List(ctx context.Context, filter models.SyncAttemptFilter) ([]models.SyncAttemptLog, int, error)
}

type syncMetrics interface {
	ObserveSyncAttempt(direction, outcome string)
}

// SyncService keeps platform appointments and provider calendars aligned in
// both directions. Every attempt, success or failure, appends exactly one
// log row; failed rows double as the durable retry queue.
type SyncService struct {
	connections  syncConnectionRepository
	appointments syncAppointmentRepository
	log          syncLogRepository
	registry     *provider.Registry
	metrics      syncMetrics
	cfg          config.SyncConfig
	logger       *zap.Logger
	limiters     map[models.Provider]*rate.Limiter
	now          func() time.Time
}

// NewSyncService constructs a SyncService. metrics may be nil.
func NewSyncService(connections syncConnectionRepository, appointments syncAppointmentRepository, log syncLogRepository, registry *provider.Registry, metrics syncMetrics, cfg config.SyncConfig, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	perSec := cfg.RateLimitPerSec
	if perSec <= 0 {
		perSec = 10
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = int(perSec)
	}
	limiters := make(map[models.Provider]*rate.Limiter)
	for _, p := range []models.Provider{models.ProviderGoogle, models.ProviderMicrosoft, models.ProviderBusyFeed} {
		limiters[p] = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return &SyncService{
		connections:  connections,
		appointments: appointments,
		log:          log,
		registry:     registry,
		metrics:      metrics,
		cfg:          cfg,
		logger:       logger,
		limiters:     limiters,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle visits every syncable connection once: pull first, then push.
// Called periodically by the sync worker.
func (s *SyncService) RunCycle(ctx context.Context) error {
	conns, err := s.connections.ListSyncable(ctx, 100)
	if err != nil {
		return err
	}
	for i := range conns {
		conn := &conns[i]
		if err := s.SyncConnection(ctx, conn); err != nil {
			s.logger.Warn("sync cycle failed for connection",
				zap.String("connection_id", conn.ID), zap.Error(err))
		}
	}
	return nil
}

// SyncConnection pulls provider changes through the stored cursor, then
// pushes unlinked confirmed appointments.
func (s *SyncService) SyncConnection(ctx context.Context, conn *models.CalendarConnection) error {
	if !conn.Status.Syncable() {
		return nil
	}
	if err := s.pull(ctx, conn, 0, ""); err != nil {
		return err
	}
	return s.push(ctx, conn)
}

func (s *SyncService) pull(ctx context.Context, conn *models.CalendarConnection, retryCount int, correlationID string) error {
	adapter, err := s.registry.Get(conn.Provider)
	if err != nil {
		return err
	}

	now := s.now()
	window := models.Slot{Start: now.AddDate(0, 0, -1), End: now.AddDate(0, 0, 60)}
	cursor := conn.SyncCursor

	for {
		if err := s.waitProvider(ctx, conn.Provider); err != nil {
			return err
		}
		callCtx, cancel := s.providerContext(ctx)
		page, err := adapter.ListEvents(callCtx, conn, window, cursor)
		cancel()
		if err != nil {
			s.recordFailure(ctx, conn, nil, nil, models.SyncPull, models.SyncOpUpsert, err, retryCount, correlationID)
			return err
		}

		for i := range page.Events {
			ev := &page.Events[i]
			if ev.ID == "" {
				continue
			}
			if uerr := s.Upsert(ctx, conn, ev.ID, models.EventPayload{
				Title:     ev.Title,
				StartAt:   ev.Start,
				EndAt:     ev.End,
				Cancelled: ev.Cancelled,
				Version:   ev.Version,
			}, 0, ""); uerr != nil {
				s.logger.Warn("pull upsert failed",
					zap.String("connection_id", conn.ID),
					zap.String("external_event_id", ev.ID),
					zap.Error(uerr))
			}
		}

		if page.NextCursor == "" || page.NextCursor == cursor {
			cursor = page.NextCursor
			break
		}
		cursor = page.NextCursor
		if len(page.Events) == 0 {
			break
		}
	}

	if cursor != "" && cursor != conn.SyncCursor {
		if err := s.connections.UpdateCursor(ctx, conn.ID, cursor); err != nil {
			return err
		}
		conn.SyncCursor = cursor
	}
	return nil
}

// Upsert applies one provider event onto the platform: create when the
// (connection, external event) pair is unknown, else last-write-wins on the
// window and cancellation flag. Idempotent for identical payloads.
func (s *SyncService) Upsert(ctx context.Context, conn *models.CalendarConnection, externalEventID string, payload models.EventPayload, retryCount int, correlationID string) error {
	existing, err := s.appointments.FindByExternal(ctx, conn.ID, externalEventID)
	if err != nil {
		s.recordFailure(ctx, conn, nil, &externalEventID, models.SyncPull, models.SyncOpUpsert, err, retryCount, correlationID)
		return err
	}

	tx, err := s.appointments.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var appointmentID string
	if existing == nil {
		if payload.Cancelled {
			// A cancelled event we never mirrored needs no row.
			_ = tx.Rollback()
			s.recordSuccess(ctx, conn, nil, &externalEventID, models.SyncPull, models.SyncOpUpsert, retryCount, correlationID)
			return nil
		}
		connID := conn.ID
		extID := externalEventID
		appt := &models.Appointment{
			TenantID:        conn.TenantID,
			StaffID:         conn.StaffID,
			StartAt:         payload.StartAt,
			EndAt:           payload.EndAt,
			Status:          models.StatusConfirmed,
			InviteeName:     payload.Title,
			ConnectionID:    &connID,
			ExternalEventID: &extID,
		}
		if err = s.appointments.CreateTx(ctx, tx, appt); err != nil {
			s.recordFailure(ctx, conn, nil, &externalEventID, models.SyncPull, models.SyncOpUpsert, err, retryCount, correlationID)
			return err
		}
		appointmentID = appt.ID
	} else {
		status := existing.Status
		if payload.Cancelled && !existing.Status.Terminal() {
			status = models.StatusCancelled
		}
		if err = s.appointments.ApplyExternalTx(ctx, tx, existing.TenantID, existing.ID, payload.StartAt, payload.EndAt, status); err != nil {
			s.recordFailure(ctx, conn, &existing.ID, &externalEventID, models.SyncPull, models.SyncOpUpsert, err, retryCount, correlationID)
			return err
		}
		appointmentID = existing.ID
	}

	if err = tx.Commit(); err != nil {
		s.recordFailure(ctx, conn, &appointmentID, &externalEventID, models.SyncPull, models.SyncOpUpsert, err, retryCount, correlationID)
		return err
	}
	s.recordSuccess(ctx, conn, &appointmentID, &externalEventID, models.SyncPull, models.SyncOpUpsert, retryCount, correlationID)
	return nil
}

func (s *SyncService) push(ctx context.Context, conn *models.CalendarConnection) error {
	pending, err := s.appointments.ListConfirmedUnlinked(ctx, conn.TenantID, conn.StaffID, 50)
	if err != nil {
		return err
	}
	for i := range pending {
		if err := s.PushAppointment(ctx, conn, &pending[i], 0, ""); err != nil {
			s.logger.Warn("push failed",
				zap.String("connection_id", conn.ID),
				zap.String("appointment_id", pending[i].ID),
				zap.Error(err))
		}
	}
	return nil
}

// PushAppointment creates the provider-side event for a confirmed unlinked
// appointment. Adapters key the create by appointment id, so a retried push
// never duplicates the provider event.
func (s *SyncService) PushAppointment(ctx context.Context, conn *models.CalendarConnection, appt *models.Appointment, retryCount int, correlationID string) error {
	adapter, err := s.registry.Get(conn.Provider)
	if err != nil {
		return err
	}
	if err := s.waitProvider(ctx, conn.Provider); err != nil {
		return err
	}

	callCtx, cancel := s.providerContext(ctx)
	externalID, err := adapter.CreateEvent(callCtx, conn, provider.EventInput{
		AppointmentID: appt.ID,
		Title:         appt.InviteeName,
		Start:         appt.StartAt,
		End:           appt.EndAt,
		InviteeEmail:  appt.InviteeEmail,
	})
	cancel()
	if err != nil {
		s.recordFailure(ctx, conn, &appt.ID, nil, models.SyncPush, models.SyncOpCreate, err, retryCount, correlationID)
		return err
	}

	if err := s.appointments.LinkExternal(ctx, appt.TenantID, appt.ID, conn.ID, externalID); err != nil {
		s.recordFailure(ctx, conn, &appt.ID, &externalID, models.SyncPush, models.SyncOpCreate, err, retryCount, correlationID)
		return err
	}
	s.recordSuccess(ctx, conn, &appt.ID, &externalID, models.SyncPush, models.SyncOpCreate, retryCount, correlationID)
	return nil
}

// RetryDue re-invokes the primitive behind every failed chain whose backoff
// has elapsed. Called periodically by the sync worker.
func (s *SyncService) RetryDue(ctx context.Context) error {
	due, err := s.log.ListDue(ctx, s.now(), 50)
	if err != nil {
		return err
	}
	for i := range due {
		entry := &due[i]
		if entry.RetryCount >= s.cfg.MaxRetries {
			continue
		}
		if err := s.reinvoke(ctx, entry, entry.RetryCount+1); err != nil {
			s.logger.Warn("retry attempt failed",
				zap.String("correlation_id", entry.CorrelationID), zap.Error(err))
		}
	}
	return nil
}

// Replay manually re-runs an exhausted or non-retryable chain. The new
// attempt shares the chain's correlation id with its retry count reset.
func (s *SyncService) Replay(ctx context.Context, tenantID, correlationID string) error {
	latest, err := s.log.FindLatestByCorrelation(ctx, tenantID, correlationID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "sync attempt chain not found")
	}
	return s.reinvoke(ctx, latest, 0)
}

// Resync clears a connection's cursor and re-enables it, forcing the next
// cycle to re-read the provider from scratch.
func (s *SyncService) Resync(ctx context.Context, tenantID, connectionID string) error {
	conn, err := s.connections.FindByID(ctx, tenantID, connectionID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "calendar connection not found")
	}
	if err := s.connections.UpdateCursor(ctx, conn.ID, ""); err != nil {
		return err
	}
	if conn.Status == models.ConnectionNeedsAttention {
		if err := s.connections.UpdateStatus(ctx, conn.ID, models.ConnectionActive); err != nil {
			return err
		}
	}
	conn.SyncCursor = ""
	conn.Status = models.ConnectionActive
	return s.SyncConnection(ctx, conn)
}

// Attempts lists sync attempts for operator tooling.
func (s *SyncService) Attempts(ctx context.Context, filter models.SyncAttemptFilter) ([]models.SyncAttemptLog, int, error) {
	return s.log.List(ctx, filter)
}

func (s *SyncService) reinvoke(ctx context.Context, entry *models.SyncAttemptLog, retryCount int) error {
	conn, err := s.connections.FindByID(ctx, entry.TenantID, entry.ConnectionID)
	if err != nil {
		return err
	}

	switch entry.Direction {
	case models.SyncPush:
		if entry.AppointmentID == nil {
			return appErrors.Clone(appErrors.ErrValidation, "push attempt has no appointment")
		}
		appt, err := s.appointments.FindByID(ctx, entry.TenantID, *entry.AppointmentID)
		if err != nil {
			return err
		}
		if appt.ExternalEventID != nil {
			// A prior attempt landed; the chain is complete.
			s.recordSuccess(ctx, conn, &appt.ID, appt.ExternalEventID, models.SyncPush, entry.Operation, retryCount, entry.CorrelationID)
			return nil
		}
		return s.PushAppointment(ctx, conn, appt, retryCount, entry.CorrelationID)
	case models.SyncPull:
		// Re-reading the provider through the stored cursor replays the failed
		// upsert; the primitive is idempotent so already-applied events are
		// harmless. The retry count and correlation id carry over so a pull
		// that keeps failing walks the same backoff ladder as a push.
		return s.pull(ctx, conn, retryCount, entry.CorrelationID)
	}
	return appErrors.Clone(appErrors.ErrValidation, "unknown sync direction: "+string(entry.Direction))
}

func (s *SyncService) recordSuccess(ctx context.Context, conn *models.CalendarConnection, appointmentID, externalEventID *string, direction models.SyncDirection, op models.SyncOperation, retryCount int, correlationID string) {
	entry := &models.SyncAttemptLog{
		TenantID:        conn.TenantID,
		ConnectionID:    conn.ID,
		AppointmentID:   appointmentID,
		ExternalEventID: externalEventID,
		Direction:       direction,
		Operation:       op,
		Outcome:         models.SyncSucceeded,
		ErrorClass:      models.SyncErrNone,
		RetryCount:      retryCount,
		CorrelationID:   correlationID,
	}
	if err := s.log.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append sync log", zap.Error(err))
	}
	s.observe(direction, models.SyncSucceeded)
}

func (s *SyncService) recordFailure(ctx context.Context, conn *models.CalendarConnection, appointmentID, externalEventID *string, direction models.SyncDirection, op models.SyncOperation, cause error, retryCount int, correlationID string) {
	class := provider.Classify(cause)
	outcome := models.SyncFailed
	var nextRetry *time.Time

	switch {
	case !class.Retryable():
		// Non-retryable failures suppress automatic resync on the connection
		// until an operator intervenes.
		if err := s.connections.UpdateStatus(ctx, conn.ID, models.ConnectionNeedsAttention); err != nil {
			s.logger.Error("failed to flag connection", zap.Error(err))
		}
	case retryCount >= s.cfg.MaxRetries:
		outcome = models.SyncExhausted
	default:
		at := s.now().Add(s.retryDelay(class, retryCount))
		nextRetry = &at
	}

	entry := &models.SyncAttemptLog{
		TenantID:        conn.TenantID,
		ConnectionID:    conn.ID,
		AppointmentID:   appointmentID,
		ExternalEventID: externalEventID,
		Direction:       direction,
		Operation:       op,
		Outcome:         outcome,
		ErrorClass:      class,
		ErrorMessage:    cause.Error(),
		RetryCount:      retryCount,
		NextRetryAt:     nextRetry,
		CorrelationID:   correlationID,
	}
	if err := s.log.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append sync log", zap.Error(err))
	}
	s.observe(direction, outcome)
}

// retryDelay implements the per-class backoff schedule: transient failures
// retry fastest, rate limits slowest, all capped with ±10% jitter.
func (s *SyncService) retryDelay(class models.SyncErrorClass, retryCount int) time.Duration {
	base := float64(s.cfg.BaseRetrySeconds)
	if base <= 0 {
		base = 5
	}
	pow := math.Pow(2, float64(retryCount))

	var seconds float64
	switch class {
	case models.SyncErrTransient:
		seconds = pow
	case models.SyncErrRateLimited:
		seconds = 60 * pow
	default:
		seconds = base * pow
	}

	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	seconds *= jitter

	// The cap bounds the jittered delay, not the raw schedule.
	cap := s.cfg.MaxRetryDelay.Seconds()
	if cap <= 0 {
		cap = 300
	}
	if seconds > cap {
		seconds = cap
	}
	return time.Duration(seconds * float64(time.Second))
}

func (s *SyncService) waitProvider(ctx context.Context, p models.Provider) error {
	limiter, ok := s.limiters[p]
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

func (s *SyncService) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *SyncService) observe(direction models.SyncDirection, outcome models.SyncOutcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveSyncAttempt(string(direction), string(outcome))
}
