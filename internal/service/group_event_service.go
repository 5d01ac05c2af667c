package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type groupAppointmentRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (*models.Appointment, error)
}

type groupEventRepository interface {
	CountActiveTx(ctx context.Context, tx *sqlx.Tx, appointmentID string) (int, error)
	AddAttendeeTx(ctx context.Context, tx *sqlx.Tx, a *models.GroupEventAttendee) error
	FindAttendeeTx(ctx context.Context, tx *sqlx.Tx, appointmentID, email string) (*models.GroupEventAttendee, error)
	UpdateAttendeeStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.AttendeeStatus) error
	ListAttendees(ctx context.Context, appointmentID string) ([]models.GroupEventAttendee, error)
	AddWaitlistTx(ctx context.Context, tx *sqlx.Tx, w *models.GroupEventWaitlist) error
	NextWaitingTx(ctx context.Context, tx *sqlx.Tx, appointmentID string) (*models.GroupEventWaitlist, error)
	PromoteTx(ctx context.Context, tx *sqlx.Tx, id string) error
	ListWaitlist(ctx context.Context, appointmentID string) ([]models.GroupEventWaitlist, error)
}

// RegistrationResult reports where a registration landed.
type RegistrationResult struct {
	Attendee   *models.GroupEventAttendee `json:"attendee,omitempty"`
	Waitlisted *models.GroupEventWaitlist `json:"waitlisted,omitempty"`
}

// GroupEventService manages attendees and the waitlist of a group
// appointment. Capacity decisions run under the appointment row lock so two
// concurrent registrations cannot both take the last seat.
type GroupEventService struct {
	appointments groupAppointmentRepository
	group        groupEventRepository
	types        bookingTypeRepository
	outbox       bookingOutboxRepository
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewGroupEventService constructs a GroupEventService.
func NewGroupEventService(appointments groupAppointmentRepository, group groupEventRepository, types bookingTypeRepository, outbox bookingOutboxRepository, validate *validator.Validate, logger *zap.Logger) *GroupEventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &GroupEventService{
		appointments: appointments,
		group:        group,
		types:        types,
		outbox:       outbox,
		validator:    validate,
		logger:       logger,
	}
}

// Register adds an attendee to a group appointment. When the event is full
// and the type has a waitlist, the registration queues instead.
func (s *GroupEventService) Register(ctx context.Context, tenantID, appointmentID, name, email string) (result *RegistrationResult, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attendee name and email are required")
	}

	tx, err := s.appointments.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start registration")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	appt, err := s.appointments.FindByIDTx(ctx, tx, tenantID, appointmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment not found")
	}
	if !appt.Status.Blocking() {
		err = appErrors.Clone(appErrors.ErrValidation, "appointment is not open for registration")
		return nil, err
	}

	at, err := s.types.FindByID(ctx, tenantID, appt.TypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment type")
	}
	if at.Category != models.EventGroup {
		err = appErrors.Clone(appErrors.ErrValidation, "appointment does not accept attendees")
		return nil, err
	}

	existing, err := s.group.FindAttendeeTx(ctx, tx, appointmentID, email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed attendee lookup")
	}
	if existing != nil && existing.Status.Active() {
		err = appErrors.Clone(appErrors.ErrIntegrity, "attendee is already registered")
		return nil, err
	}

	active, err := s.group.CountActiveTx(ctx, tx, appointmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed capacity check")
	}

	if at.Capacity > 0 && active >= at.Capacity {
		if !at.WaitlistEnabled {
			err = appErrors.Clone(appErrors.ErrConflict, "group event is full")
			return nil, err
		}
		entry := &models.GroupEventWaitlist{
			AppointmentID: appointmentID,
			Email:         email,
			Name:          name,
			Status:        models.WaitlistWaiting,
		}
		if err = s.group.AddWaitlistTx(ctx, tx, entry); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, "failed to join waitlist")
		}
		if err = tx.Commit(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit registration")
		}
		return &RegistrationResult{Waitlisted: entry}, nil
	}

	attendee := &models.GroupEventAttendee{
		AppointmentID: appointmentID,
		Email:         email,
		Name:          name,
		Status:        models.AttendeeRegistered,
	}
	if err = s.group.AddAttendeeTx(ctx, tx, attendee); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, "failed to register attendee")
	}
	if err = s.emitAttendee(ctx, tx, appt, attendee, models.EventAttendeeRegistered); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit registration")
	}
	return &RegistrationResult{Attendee: attendee}, nil
}

// ConfirmAttendee moves a registered attendee to confirmed.
func (s *GroupEventService) ConfirmAttendee(ctx context.Context, tenantID, appointmentID, email string) (err error) {
	tx, err := s.appointments.BeginTx(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start confirmation")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.appointments.FindByIDTx(ctx, tx, tenantID, appointmentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment not found")
	}
	attendee, err := s.group.FindAttendeeTx(ctx, tx, appointmentID, strings.ToLower(email))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed attendee lookup")
	}
	if attendee == nil {
		err = appErrors.Clone(appErrors.ErrNotFound, "attendee not found")
		return err
	}
	if attendee.Status != models.AttendeeRegistered {
		err = appErrors.Clone(appErrors.ErrIllegalTransition, "only registered attendees can be confirmed")
		return err
	}
	if err = s.group.UpdateAttendeeStatusTx(ctx, tx, attendee.ID, models.AttendeeConfirmed); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm attendee")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit confirmation")
	}
	return nil
}

// CancelAttendee cancels an active attendee and, in the same unit of work,
// promotes the highest-priority earliest waitlist entry into the freed seat.
func (s *GroupEventService) CancelAttendee(ctx context.Context, tenantID, appointmentID, email string) (promoted *models.GroupEventAttendee, err error) {
	tx, err := s.appointments.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start cancellation")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	appt, err := s.appointments.FindByIDTx(ctx, tx, tenantID, appointmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment not found")
	}
	attendee, err := s.group.FindAttendeeTx(ctx, tx, appointmentID, strings.ToLower(email))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed attendee lookup")
	}
	if attendee == nil || !attendee.Status.Active() {
		err = appErrors.Clone(appErrors.ErrNotFound, "active attendee not found")
		return nil, err
	}

	if err = s.group.UpdateAttendeeStatusTx(ctx, tx, attendee.ID, models.AttendeeCancelled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel attendee")
	}

	next, err := s.group.NextWaitingTx(ctx, tx, appointmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed waitlist lookup")
	}
	if next != nil {
		if err = s.group.PromoteTx(ctx, tx, next.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote waitlist entry")
		}
		promoted = &models.GroupEventAttendee{
			AppointmentID: appointmentID,
			Email:         next.Email,
			Name:          next.Name,
			Status:        models.AttendeeRegistered,
		}
		if err = s.group.AddAttendeeTx(ctx, tx, promoted); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seat promoted attendee")
		}
		if err = s.emitAttendee(ctx, tx, appt, promoted, models.EventAttendeePromoted); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit cancellation")
	}
	return promoted, nil
}

// Roster returns attendees and the waiting queue.
func (s *GroupEventService) Roster(ctx context.Context, appointmentID string) ([]models.GroupEventAttendee, []models.GroupEventWaitlist, error) {
	attendees, err := s.group.ListAttendees(ctx, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	waiting, err := s.group.ListWaitlist(ctx, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	return attendees, waiting, nil
}

func (s *GroupEventService) emitAttendee(ctx context.Context, tx *sqlx.Tx, appt *models.Appointment, attendee *models.GroupEventAttendee, eventType models.DomainEventType) error {
	payload, err := json.Marshal(map[string]interface{}{
		"appointment_id": appt.ID,
		"email":          attendee.Email,
		"name":           attendee.Name,
		"start_at":       appt.StartAt.Format(time.RFC3339),
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode event")
	}
	if err := s.outbox.AddTx(ctx, tx, &models.OutboxEvent{
		TenantID:    appt.TenantID,
		EventType:   eventType,
		AggregateID: appt.ID,
		Payload:     payload,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stage event")
	}
	return nil
}
