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

type pollRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	Create(ctx context.Context, p *models.MeetingPoll) error
	FindByID(ctx context.Context, tenantID, id string) (*models.MeetingPoll, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (*models.MeetingPoll, error)
	UpsertVoteTx(ctx context.Context, tx *sqlx.Tx, v *models.MeetingPollVote) error
	ListVotesTx(ctx context.Context, tx *sqlx.Tx, pollID string) ([]models.MeetingPollVote, error)
	ResolveTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string, slotIndex int) error
	AttachAppointmentTx(ctx context.Context, tx *sqlx.Tx, tenantID, id, appointmentID string) error
	Cancel(ctx context.Context, tenantID, id string) error
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.MeetingPoll, error)
}

type pollBooker interface {
	Book(ctx context.Context, req BookingRequest) (*models.Appointment, error)
}

// CreatePollRequest is the input to CreatePoll.
type CreatePollRequest struct {
	TenantID           string            `validate:"required"`
	TypeID             string            `validate:"required"`
	Title              string            `validate:"required"`
	ProposedSlots      []models.Slot     `validate:"required,min=2"`
	InviteeEmails      []string          `validate:"required,min=1,dive,email"`
	RequireAllInvitees bool              `validate:"-"`
	Deadline           *time.Time        `validate:"-"`
}

// PollService runs meeting polls: proposal, voting, and resolution into a
// booked appointment.
type PollService struct {
	polls     pollRepository
	booker    pollBooker
	outbox    bookingOutboxRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPollService constructs a PollService.
func NewPollService(polls pollRepository, booker pollBooker, outbox bookingOutboxRepository, validate *validator.Validate, logger *zap.Logger) *PollService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &PollService{
		polls:     polls,
		booker:    booker,
		outbox:    outbox,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePoll opens a poll over the proposed slots.
func (s *PollService) CreatePoll(ctx context.Context, req CreatePollRequest) (*models.MeetingPoll, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid poll payload")
	}
	for _, slot := range req.ProposedSlots {
		if !slot.Start.Before(slot.End) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "proposed slot has a non-positive duration")
		}
	}

	invitees := make(models.StringList, 0, len(req.InviteeEmails))
	for _, email := range req.InviteeEmails {
		invitees = append(invitees, strings.ToLower(strings.TrimSpace(email)))
	}

	poll := &models.MeetingPoll{
		TenantID:           req.TenantID,
		TypeID:             req.TypeID,
		Title:              req.Title,
		ProposedSlots:      models.SlotList(req.ProposedSlots),
		InviteeEmails:      invitees,
		RequireAllInvitees: req.RequireAllInvitees,
		Deadline:           req.Deadline,
		Status:             models.PollOpen,
	}
	if err := s.polls.Create(ctx, poll); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create poll")
	}
	return poll, nil
}

// Get loads one poll.
func (s *PollService) Get(ctx context.Context, tenantID, id string) (*models.MeetingPoll, error) {
	poll, err := s.polls.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "poll not found")
	}
	return poll, nil
}

// Vote records a ballot, replacing the voter's previous one. Once every
// invitee has voted on a require-all poll, the poll resolves immediately.
func (s *PollService) Vote(ctx context.Context, tenantID, pollID, voterEmail, voterName string, answers []models.PollAnswer) (err error) {
	voterEmail = strings.ToLower(strings.TrimSpace(voterEmail))

	tx, err := s.polls.BeginTx(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start vote")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	poll, err := s.polls.FindByIDTx(ctx, tx, tenantID, pollID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "poll not found")
	}
	if poll.Status != models.PollOpen {
		err = appErrors.Clone(appErrors.ErrValidation, "poll is not open")
		return err
	}
	if poll.Deadline != nil && s.now().After(*poll.Deadline) {
		err = appErrors.Clone(appErrors.ErrValidation, "poll deadline has passed")
		return err
	}
	if !containsString(poll.InviteeEmails, voterEmail) {
		err = appErrors.Clone(appErrors.ErrValidation, "voter is not invited to this poll")
		return err
	}
	if len(answers) != len(poll.ProposedSlots) {
		err = appErrors.Clone(appErrors.ErrValidation, "ballot must answer every proposed slot")
		return err
	}
	for _, a := range answers {
		if !a.Valid() {
			err = appErrors.Clone(appErrors.ErrValidation, "invalid poll answer: "+string(a))
			return err
		}
	}

	if err = s.polls.UpsertVoteTx(ctx, tx, &models.MeetingPollVote{
		PollID:     pollID,
		VoterEmail: voterEmail,
		VoterName:  voterName,
		Answers:    models.AnswerList(answers),
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record vote")
	}

	shouldResolve := false
	if poll.RequireAllInvitees {
		votes, verr := s.polls.ListVotesTx(ctx, tx, pollID)
		if verr != nil {
			err = appErrors.Wrap(verr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed vote count")
			return err
		}
		shouldResolve = allInviteesVoted(poll.InviteeEmails, votes)
	}

	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit vote")
	}

	if shouldResolve {
		if rerr := s.Resolve(ctx, tenantID, pollID); rerr != nil {
			s.logger.Error("poll resolution after final vote failed",
				zap.String("poll_id", pollID), zap.Error(rerr))
		}
	}
	return nil
}

// Resolve closes an open poll: the slot with strictly the most "yes" votes
// wins; ties fall to the earliest-starting slot. The poll leaves the open
// state first, then the winning slot is booked through the regular booking
// path and attached. A crash between the two phases leaves a resolved poll
// without an appointment; it never leaves a booked appointment behind an
// open poll, which would make every re-resolution conflict.
func (s *PollService) Resolve(ctx context.Context, tenantID, pollID string) error {
	poll, winner, closed, err := s.closePoll(ctx, tenantID, pollID)
	if err != nil || !closed {
		return err
	}

	slot := poll.ProposedSlots[winner]
	appt, err := s.booker.Book(ctx, BookingRequest{
		TenantID:     tenantID,
		TypeID:       poll.TypeID,
		Start:        slot.Start,
		InviteeName:  poll.Title,
		InviteeEmail: poll.InviteeEmails[0],
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "failed to book winning slot")
	}

	return s.attachAppointment(ctx, tenantID, pollID, winner, appt.ID)
}

// closePoll runs the first resolution phase: tally the votes and stamp the
// winner inside one transaction. closed is false when the poll was not open.
func (s *PollService) closePoll(ctx context.Context, tenantID, pollID string) (poll *models.MeetingPoll, winner int, closed bool, err error) {
	tx, err := s.polls.BeginTx(ctx)
	if err != nil {
		return nil, 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start resolution")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	poll, err = s.polls.FindByIDTx(ctx, tx, tenantID, pollID)
	if err != nil {
		return nil, 0, false, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "poll not found")
	}
	if poll.Status != models.PollOpen {
		_ = tx.Rollback()
		return nil, 0, false, nil
	}

	votes, err := s.polls.ListVotesTx(ctx, tx, pollID)
	if err != nil {
		return nil, 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed vote listing")
	}
	winner = winningSlot(poll.ProposedSlots, votes)

	if err = s.polls.ResolveTx(ctx, tx, tenantID, pollID, winner); err != nil {
		return nil, 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stamp resolution")
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit resolution")
	}
	return poll, winner, true, nil
}

// attachAppointment runs the second phase: link the booked appointment to
// the resolved poll and stage the domain event, atomically.
func (s *PollService) attachAppointment(ctx context.Context, tenantID, pollID string, winner int, appointmentID string) (err error) {
	tx, err := s.polls.BeginTx(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start attachment")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.polls.AttachAppointmentTx(ctx, tx, tenantID, pollID, appointmentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach appointment")
	}

	payload, merr := json.Marshal(map[string]interface{}{
		"poll_id":        pollID,
		"slot_index":     winner,
		"appointment_id": appointmentID,
	})
	if merr != nil {
		err = appErrors.Wrap(merr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode event")
		return err
	}
	if err = s.outbox.AddTx(ctx, tx, &models.OutboxEvent{
		TenantID:    tenantID,
		EventType:   models.EventPollResolved,
		AggregateID: pollID,
		Payload:     payload,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stage event")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit attachment")
	}
	return nil
}

// CancelPoll closes a poll without booking anything.
func (s *PollService) CancelPoll(ctx context.Context, tenantID, id string) error {
	if err := s.polls.Cancel(ctx, tenantID, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "open poll not found")
	}
	return nil
}

// ResolveExpired resolves every open poll whose deadline has passed. Run
// periodically by the job queue.
func (s *PollService) ResolveExpired(ctx context.Context) error {
	expired, err := s.polls.ListExpired(ctx, s.now(), 50)
	if err != nil {
		return err
	}
	for _, poll := range expired {
		if err := s.Resolve(ctx, poll.TenantID, poll.ID); err != nil {
			s.logger.Error("deadline resolution failed",
				zap.String("poll_id", poll.ID), zap.Error(err))
		}
	}
	return nil
}

func allInviteesVoted(invitees models.StringList, votes []models.MeetingPollVote) bool {
	voted := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		voted[v.VoterEmail] = struct{}{}
	}
	for _, invitee := range invitees {
		if _, ok := voted[invitee]; !ok {
			return false
		}
	}
	return true
}

// winningSlot tallies "yes" votes per slot. Ties, including the zero-vote
// case, fall to the earliest-starting slot.
func winningSlot(slots models.SlotList, votes []models.MeetingPollVote) int {
	yes := make([]int, len(slots))
	for _, v := range votes {
		for i, a := range v.Answers {
			if i < len(yes) && a == models.AnswerYes {
				yes[i]++
			}
		}
	}

	best := 0
	for i := 1; i < len(slots); i++ {
		switch {
		case yes[i] > yes[best]:
			best = i
		case yes[i] == yes[best] && slots[i].Start.Before(slots[best].Start):
			best = i
		}
	}
	return best
}
