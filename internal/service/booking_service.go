package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type bookingAppointmentRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	FindByID(ctx context.Context, tenantID, id string) (*models.Appointment, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (*models.Appointment, error)
	FindOverlapping(ctx context.Context, exec sqlx.ExtContext, tenantID string, hostIDs []string, start, end time.Time) ([]models.Appointment, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, appt *models.Appointment) error
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string, status models.AppointmentStatus) error
	UpdateHostsTx(ctx context.Context, tx *sqlx.Tx, tenantID, id, staffID string, hosts models.StringList) error
	AddHistoryTx(ctx context.Context, tx *sqlx.Tx, h *models.AppointmentStatusHistory) error
	ListHistory(ctx context.Context, appointmentID string) ([]models.AppointmentStatusHistory, error)
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error)
}

type bookingTypeRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.AppointmentType, error)
}

type bookingOutboxRepository interface {
	AddTx(ctx context.Context, tx *sqlx.Tx, e *models.OutboxEvent) error
}

type bookingRouter interface {
	Route(ctx context.Context, tenantID string, at *models.AppointmentType, accountOwnerID string, window models.Slot) (*RouteResult, error)
}

// BookingRequest is the input to Book.
type BookingRequest struct {
	TenantID       string               `validate:"required"`
	TypeID         string               `validate:"required"`
	Start          time.Time            `validate:"required"`
	InviteeName    string               `validate:"required"`
	InviteeEmail   string               `validate:"required,email"`
	IntakeAnswers  models.IntakeAnswers `validate:"-"`
	AccountOwnerID string               `validate:"-"`
}

// BookingService owns the appointment state machine. Booking and host
// substitution run under a per-host lock so the conflict re-check and write
// are one atomic unit.
type BookingService struct {
	appointments bookingAppointmentRepository
	types        bookingTypeRepository
	outbox       bookingOutboxRepository
	router       bookingRouter
	locks        *hostLockSet
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewBookingService constructs a BookingService.
func NewBookingService(appointments bookingAppointmentRepository, types bookingTypeRepository, outbox bookingOutboxRepository, router bookingRouter, validate *validator.Validate, logger *zap.Logger) *BookingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &BookingService{
		appointments: appointments,
		types:        types,
		outbox:       outbox,
		router:       router,
		locks:        newHostLockSet(),
		validator:    validate,
		logger:       logger,
	}
}

// Book creates an appointment. For collective types every required host must
// individually clear the conflict check; on any conflict nothing is written.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*models.Appointment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	at, err := s.types.FindByID(ctx, req.TenantID, req.TypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment type not found")
	}
	if !at.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "appointment type is inactive")
	}

	window := models.Slot{Start: req.Start.UTC(), End: req.Start.UTC().Add(at.Duration())}

	var staffID string
	var collectiveHosts models.StringList
	switch at.Category {
	case models.EventCollective:
		if len(at.RequiredHostIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "collective type has no required hosts")
		}
		staffID = at.RequiredHostIDs[0]
		collectiveHosts = at.RequiredHostIDs
	case models.EventSingleHost, models.EventGroup:
		result, err := s.router.Route(ctx, req.TenantID, at, req.AccountOwnerID, window)
		if err != nil {
			return nil, err
		}
		staffID = result.AssigneeID
		if result.Rebalance {
			s.logger.Info("round robin pool drifted past rebalance threshold",
				zap.String("tenant_id", req.TenantID), zap.String("type_id", at.ID))
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "type category is not directly bookable: "+string(at.Category))
	}

	appt := &models.Appointment{
		TenantID:          req.TenantID,
		TypeID:            at.ID,
		StaffID:           staffID,
		CollectiveHostIDs: collectiveHosts,
		StartAt:           window.Start,
		EndAt:             window.End,
		Status:            models.StatusConfirmed,
		InviteeName:       req.InviteeName,
		InviteeEmail:      req.InviteeEmail,
		IntakeAnswers:     req.IntakeAnswers,
	}
	if at.RequiresApproval {
		appt.Status = models.StatusRequested
	}

	hosts := appt.Hosts()
	release := s.locks.Acquire(hosts)
	defer release()

	tx, err := s.appointments.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start booking")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	padded := paddedWindow(window, at)
	conflicts, err := s.appointments.FindOverlapping(ctx, tx, req.TenantID, hosts, padded.Start, padded.End)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "conflict check failed")
	}
	if len(conflicts) > 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "requested slot is no longer available")
		return nil, err
	}

	if err = s.appointments.CreateTx(ctx, tx, appt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create appointment")
	}
	if err = s.appointments.AddHistoryTx(ctx, tx, &models.AppointmentStatusHistory{
		AppointmentID: appt.ID,
		FromStatus:    "",
		ToStatus:      appt.Status,
		Reason:        "booked",
		Actor:         req.InviteeEmail,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record history")
	}
	if err = s.emit(ctx, tx, appt, statusEvent(appt.Status)); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking")
	}
	return appt, nil
}

// Confirm moves a requested appointment to confirmed.
func (s *BookingService) Confirm(ctx context.Context, tenantID, id, actor string) (*models.Appointment, error) {
	return s.transition(ctx, tenantID, id, models.StatusConfirmed, "confirmed by staff", actor, nil)
}

// Cancel cancels a non-terminal appointment.
func (s *BookingService) Cancel(ctx context.Context, tenantID, id, reason, actor string) (*models.Appointment, error) {
	if reason == "" {
		reason = "cancelled"
	}
	return s.transition(ctx, tenantID, id, models.StatusCancelled, reason, actor, nil)
}

// Reject specializes Cancel for staff denying a requested appointment.
func (s *BookingService) Reject(ctx context.Context, tenantID, id, reason, actor string) (*models.Appointment, error) {
	if reason == "" {
		reason = "rejected by staff"
	}
	guard := func(current models.AppointmentStatus) error {
		if current != models.StatusRequested {
			return appErrors.Clone(appErrors.ErrIllegalTransition, "only requested appointments can be rejected")
		}
		return nil
	}
	return s.transition(ctx, tenantID, id, models.StatusCancelled, reason, actor, guard)
}

// Complete marks a confirmed appointment completed.
func (s *BookingService) Complete(ctx context.Context, tenantID, id, actor string) (*models.Appointment, error) {
	return s.transition(ctx, tenantID, id, models.StatusCompleted, "completed", actor, nil)
}

// MarkNoShow marks a confirmed appointment as a no-show.
func (s *BookingService) MarkNoShow(ctx context.Context, tenantID, id, actor string) (*models.Appointment, error) {
	return s.transition(ctx, tenantID, id, models.StatusNoShow, "invitee did not attend", actor, nil)
}

// SubstituteHost swaps one collective host for another, validating the
// replacement against the same conflict rule as booking. The appointment's
// status does not change; the swap is recorded as a same-status history row.
func (s *BookingService) SubstituteHost(ctx context.Context, tenantID, id, oldHostID, newHostID, actor string) (*models.Appointment, error) {
	if oldHostID == "" || newHostID == "" || oldHostID == newHostID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "substitution requires two distinct hosts")
	}

	current, err := s.appointments.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment not found")
	}
	if len(current.CollectiveHostIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "host substitution applies to collective appointments only")
	}

	// Lock the union of old and new host sets before re-reading under tx.
	lockSet := append(append([]string{}, current.Hosts()...), newHostID)
	release := s.locks.Acquire(lockSet)
	defer release()

	tx, err := s.appointments.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start substitution")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	appt, err := s.appointments.FindByIDTx(ctx, tx, tenantID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment not found")
	}
	if appt.Status.Terminal() {
		err = appErrors.Clone(appErrors.ErrIllegalTransition, "cannot substitute hosts on a closed appointment")
		return nil, err
	}
	if !containsString(appt.CollectiveHostIDs, oldHostID) {
		err = appErrors.Clone(appErrors.ErrValidation, "host is not part of this appointment")
		return nil, err
	}
	if containsString(appt.CollectiveHostIDs, newHostID) {
		err = appErrors.Clone(appErrors.ErrValidation, "replacement host already attends this appointment")
		return nil, err
	}

	at, err := s.types.FindByID(ctx, tenantID, appt.TypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment type")
	}
	padded := paddedWindow(appt.Window(), at)
	conflicts, err := s.appointments.FindOverlapping(ctx, tx, tenantID, []string{newHostID}, padded.Start, padded.End)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "conflict check failed")
	}
	for _, c := range conflicts {
		if c.ID != appt.ID {
			err = appErrors.Clone(appErrors.ErrConflict, "replacement host is not free in this window")
			return nil, err
		}
	}

	newHosts := make(models.StringList, 0, len(appt.CollectiveHostIDs))
	for _, h := range appt.CollectiveHostIDs {
		if h == oldHostID {
			newHosts = append(newHosts, newHostID)
		} else {
			newHosts = append(newHosts, h)
		}
	}
	staffID := appt.StaffID
	if staffID == oldHostID {
		staffID = newHostID
	}

	if err = s.appointments.UpdateHostsTx(ctx, tx, tenantID, id, staffID, newHosts); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to swap hosts")
	}
	if err = s.appointments.AddHistoryTx(ctx, tx, &models.AppointmentStatusHistory{
		AppointmentID: appt.ID,
		FromStatus:    appt.Status,
		ToStatus:      appt.Status,
		Reason:        "host " + oldHostID + " replaced by " + newHostID,
		Actor:         actor,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record history")
	}
	appt.StaffID = staffID
	appt.CollectiveHostIDs = newHosts
	if err = s.emit(ctx, tx, appt, models.EventHostSubstituted); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit substitution")
	}
	return appt, nil
}

// Get loads one appointment.
func (s *BookingService) Get(ctx context.Context, tenantID, id string) (*models.Appointment, error) {
	appt, err := s.appointments.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment not found")
	}
	return appt, nil
}

// List returns appointments matching the filter.
func (s *BookingService) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	return s.appointments.List(ctx, filter)
}

// History returns the transition trail for an appointment.
func (s *BookingService) History(ctx context.Context, tenantID, id string) ([]models.AppointmentStatusHistory, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.appointments.ListHistory(ctx, id)
}

// transition applies one state machine edge under the appointment row lock,
// appending history and the matching outbox event in the same transaction.
func (s *BookingService) transition(ctx context.Context, tenantID, id string, to models.AppointmentStatus, reason, actor string, guard func(models.AppointmentStatus) error) (*models.Appointment, error) {
	tx, err := s.appointments.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start transition")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	appt, err := s.appointments.FindByIDTx(ctx, tx, tenantID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment not found")
	}
	if guard != nil {
		if err = guard(appt.Status); err != nil {
			return nil, err
		}
	}
	if !appt.Status.CanTransition(to) {
		err = appErrors.Clone(appErrors.ErrIllegalTransition,
			"cannot move appointment from "+string(appt.Status)+" to "+string(to))
		return nil, err
	}

	from := appt.Status
	if err = s.appointments.UpdateStatusTx(ctx, tx, tenantID, id, to); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}
	if err = s.appointments.AddHistoryTx(ctx, tx, &models.AppointmentStatusHistory{
		AppointmentID: appt.ID,
		FromStatus:    from,
		ToStatus:      to,
		Reason:        reason,
		Actor:         actor,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record history")
	}
	appt.Status = to
	appt.Revision++
	if err = s.emit(ctx, tx, appt, statusEvent(to)); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
	}
	return appt, nil
}

func (s *BookingService) emit(ctx context.Context, tx *sqlx.Tx, appt *models.Appointment, eventType models.DomainEventType) error {
	payload, err := json.Marshal(map[string]interface{}{
		"appointment_id": appt.ID,
		"type_id":        appt.TypeID,
		"staff_id":       appt.StaffID,
		"start_at":       appt.StartAt,
		"end_at":         appt.EndAt,
		"status":         appt.Status,
		"invitee_email":  appt.InviteeEmail,
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

func statusEvent(status models.AppointmentStatus) models.DomainEventType {
	switch status {
	case models.StatusRequested:
		return models.EventAppointmentRequested
	case models.StatusConfirmed:
		return models.EventAppointmentConfirmed
	case models.StatusCancelled:
		return models.EventAppointmentCancelled
	case models.StatusCompleted:
		return models.EventAppointmentCompleted
	case models.StatusNoShow:
		return models.EventAppointmentNoShow
	}
	return models.EventAppointmentConfirmed
}

// paddedWindow widens a window by the type's buffers for conflict checks.
func paddedWindow(w models.Slot, at *models.AppointmentType) models.Slot {
	return models.Slot{
		Start: w.Start.Add(-at.BufferBefore()),
		End:   w.End.Add(at.BufferAfter()),
	}
}
