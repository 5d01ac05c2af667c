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

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

// fakePollStore backs pollRepository with maps.
type fakePollStore struct {
	mu    sync.Mutex
	db    *sqlx.DB
	polls map[string]*models.MeetingPoll
	votes map[string]map[string]*models.MeetingPollVote
	seq   int
}

func newFakePollStore(db *sqlx.DB) *fakePollStore {
	return &fakePollStore{
		db:    db,
		polls: map[string]*models.MeetingPoll{},
		votes: map[string]map[string]*models.MeetingPollVote{},
	}
}

func (f *fakePollStore) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return f.db.BeginTxx(ctx, nil)
}

func (f *fakePollStore) Create(_ context.Context, p *models.MeetingPoll) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	p.ID = fmt.Sprintf("poll-%d", f.seq)
	cp := *p
	f.polls[p.ID] = &cp
	return nil
}

func (f *fakePollStore) FindByID(_ context.Context, tenantID, id string) (*models.MeetingPoll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.polls[id]
	if !ok || p.TenantID != tenantID {
		return nil, fmt.Errorf("poll %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePollStore) FindByIDTx(ctx context.Context, _ *sqlx.Tx, tenantID, id string) (*models.MeetingPoll, error) {
	return f.FindByID(ctx, tenantID, id)
}

func (f *fakePollStore) UpsertVoteTx(_ context.Context, _ *sqlx.Tx, v *models.MeetingPollVote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ballots, ok := f.votes[v.PollID]
	if !ok {
		ballots = map[string]*models.MeetingPollVote{}
		f.votes[v.PollID] = ballots
	}
	cp := *v
	ballots[v.VoterEmail] = &cp
	return nil
}

func (f *fakePollStore) ListVotesTx(_ context.Context, _ *sqlx.Tx, pollID string) ([]models.MeetingPollVote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MeetingPollVote
	for _, v := range f.votes[pollID] {
		out = append(out, *v)
	}
	return out, nil
}

func (f *fakePollStore) ResolveTx(_ context.Context, _ *sqlx.Tx, tenantID, id string, slotIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.polls[id]
	if !ok || p.TenantID != tenantID || p.Status != models.PollOpen {
		return fmt.Errorf("open poll %s not found", id)
	}
	p.Status = models.PollResolved
	p.ResolvedSlotIndex = &slotIndex
	return nil
}

func (f *fakePollStore) AttachAppointmentTx(_ context.Context, _ *sqlx.Tx, tenantID, id, appointmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.polls[id]
	if !ok || p.TenantID != tenantID || p.Status != models.PollResolved {
		return fmt.Errorf("resolved poll %s not found", id)
	}
	p.ResolvedAppointmentID = &appointmentID
	return nil
}

func (f *fakePollStore) Cancel(_ context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.polls[id]
	if !ok || p.TenantID != tenantID || p.Status != models.PollOpen {
		return fmt.Errorf("open poll %s not found", id)
	}
	p.Status = models.PollCancelled
	return nil
}

func (f *fakePollStore) ListExpired(_ context.Context, cutoff time.Time, _ int) ([]models.MeetingPoll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MeetingPoll
	for _, p := range f.polls {
		if p.Status == models.PollOpen && p.Deadline != nil && p.Deadline.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

// recordingBooker captures booking requests instead of scheduling anything.
type recordingBooker struct {
	mu       sync.Mutex
	requests []BookingRequest
	err      error
}

func (r *recordingBooker) Book(_ context.Context, req BookingRequest) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.requests = append(r.requests, req)
	return &models.Appointment{
		ID:       fmt.Sprintf("appt-%d", len(r.requests)),
		TenantID: req.TenantID,
		TypeID:   req.TypeID,
		StartAt:  req.Start,
		EndAt:    req.Start.Add(30 * time.Minute),
		Status:   models.StatusConfirmed,
	}, nil
}

func pollSlots() []models.Slot {
	morning := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	afternoon := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	return []models.Slot{
		{Start: morning, End: morning.Add(30 * time.Minute)},
		{Start: afternoon, End: afternoon.Add(30 * time.Minute)},
	}
}

func newPollFixture(t *testing.T) (*PollService, *fakePollStore, *recordingBooker, *fakeBookingStore) {
	t.Helper()
	db := stubTxSource(t, 64)
	polls := newFakePollStore(db)
	booker := &recordingBooker{}
	outbox := newFakeBookingStore(db)
	return NewPollService(polls, booker, outbox, nil, nil), polls, booker, outbox
}

func openPoll(t *testing.T, svc *PollService, requireAll bool) *models.MeetingPoll {
	t.Helper()
	poll, err := svc.CreatePoll(context.Background(), CreatePollRequest{
		TenantID:           "t1",
		TypeID:             "type-1",
		Title:              "Quarterly review",
		ProposedSlots:      pollSlots(),
		InviteeEmails:      []string{"ann@example.com", "ben@example.com", "cal@example.com"},
		RequireAllInvitees: requireAll,
	})
	require.NoError(t, err)
	return poll
}

func ballot(answers ...models.PollAnswer) []models.PollAnswer { return answers }

func TestPollResolvesWhenLastInviteeVotes(t *testing.T) {
	svc, _, booker, outbox := newPollFixture(t)
	ctx := context.Background()
	poll := openPoll(t, svc, true)

	require.NoError(t, svc.Vote(ctx, "t1", poll.ID, "ann@example.com", "Ann", ballot(models.AnswerYes, models.AnswerNo)))
	require.NoError(t, svc.Vote(ctx, "t1", poll.ID, "ben@example.com", "Ben", ballot(models.AnswerYes, models.AnswerYes)))

	got, err := svc.Get(ctx, "t1", poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollOpen, got.Status, "poll stays open until the last ballot")

	require.NoError(t, svc.Vote(ctx, "t1", poll.ID, "cal@example.com", "Cal", ballot(models.AnswerNo, models.AnswerYes)))

	got, err = svc.Get(ctx, "t1", poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollResolved, got.Status)
	require.NotNil(t, got.ResolvedSlotIndex)
	// Morning and afternoon both have two yes votes; the earlier slot wins.
	assert.Equal(t, 0, *got.ResolvedSlotIndex)
	require.NotNil(t, got.ResolvedAppointmentID)

	require.Len(t, booker.requests, 1)
	assert.Equal(t, pollSlots()[0].Start, booker.requests[0].Start)
	assert.Equal(t, "type-1", booker.requests[0].TypeID)

	require.NotEmpty(t, outbox.events)
	assert.Equal(t, models.EventPollResolved, outbox.events[len(outbox.events)-1].EventType)
}

func TestPollMostYesSlotWins(t *testing.T) {
	svc, _, booker, _ := newPollFixture(t)
	ctx := context.Background()
	poll := openPoll(t, svc, false)

	require.NoError(t, svc.Vote(ctx, "t1", poll.ID, "ann@example.com", "Ann", ballot(models.AnswerNo, models.AnswerYes)))
	require.NoError(t, svc.Vote(ctx, "t1", poll.ID, "ben@example.com", "Ben", ballot(models.AnswerIfNeeds, models.AnswerYes)))

	require.NoError(t, svc.Resolve(ctx, "t1", poll.ID))

	require.Len(t, booker.requests, 1)
	assert.Equal(t, pollSlots()[1].Start, booker.requests[0].Start)
}

func TestPollRevoteReplacesBallot(t *testing.T) {
	svc, polls, booker, _ := newPollFixture(t)
	ctx := context.Background()
	poll := openPoll(t, svc, false)

	require.NoError(t, svc.Vote(ctx, "t1", poll.ID, "ann@example.com", "Ann", ballot(models.AnswerNo, models.AnswerYes)))
	require.NoError(t, svc.Vote(ctx, "t1", poll.ID, "ann@example.com", "Ann", ballot(models.AnswerYes, models.AnswerNo)))

	votes, err := polls.ListVotesTx(ctx, nil, poll.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, models.AnswerYes, votes[0].Answers[0])

	require.NoError(t, svc.Resolve(ctx, "t1", poll.ID))
	assert.Equal(t, pollSlots()[0].Start, booker.requests[0].Start)
}

func TestPollResolveIdempotent(t *testing.T) {
	svc, _, booker, _ := newPollFixture(t)
	ctx := context.Background()
	poll := openPoll(t, svc, false)

	require.NoError(t, svc.Resolve(ctx, "t1", poll.ID))
	require.NoError(t, svc.Resolve(ctx, "t1", poll.ID))

	assert.Len(t, booker.requests, 1, "second resolution must not book again")
}

func TestResolveClosesPollBeforeBooking(t *testing.T) {
	svc, _, booker, _ := newPollFixture(t)
	ctx := context.Background()
	poll := openPoll(t, svc, false)

	// The booking path fails after the poll is already closed.
	booker.err = appErrors.Clone(appErrors.ErrConflict, "slot taken")
	err := svc.Resolve(ctx, "t1", poll.ID)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	got, err := svc.Get(ctx, "t1", poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollResolved, got.Status, "the poll must never stay open once resolution started")
	assert.Nil(t, got.ResolvedAppointmentID)
	assert.Empty(t, booker.requests)

	// Re-resolution is a no-op, not a perpetual booking conflict.
	booker.err = nil
	require.NoError(t, svc.Resolve(ctx, "t1", poll.ID))
	assert.Empty(t, booker.requests)

	// A fresh poll still resolves end to end and attaches its appointment.
	second := openPoll(t, svc, false)
	require.NoError(t, svc.Resolve(ctx, "t1", second.ID))
	got, err = svc.Get(ctx, "t1", second.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAppointmentID)
	require.Len(t, booker.requests, 1)
}

func TestPollVoteValidation(t *testing.T) {
	svc, _, _, _ := newPollFixture(t)
	ctx := context.Background()
	poll := openPoll(t, svc, false)

	// Strangers cannot vote.
	err := svc.Vote(ctx, "t1", poll.ID, "zoe@example.com", "Zoe", ballot(models.AnswerYes, models.AnswerYes))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	// Ballots must answer every slot.
	err = svc.Vote(ctx, "t1", poll.ID, "ann@example.com", "Ann", ballot(models.AnswerYes))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	// Unknown answer values are rejected.
	err = svc.Vote(ctx, "t1", poll.ID, "ann@example.com", "Ann", ballot(models.AnswerYes, models.PollAnswer("maybe")))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestPollClosedToVotesAfterCancel(t *testing.T) {
	svc, _, _, _ := newPollFixture(t)
	ctx := context.Background()
	poll := openPoll(t, svc, false)

	require.NoError(t, svc.CancelPoll(ctx, "t1", poll.ID))

	err := svc.Vote(ctx, "t1", poll.ID, "ann@example.com", "Ann", ballot(models.AnswerYes, models.AnswerYes))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestResolveExpiredSweepsPastDeadlines(t *testing.T) {
	svc, _, booker, _ := newPollFixture(t)
	ctx := context.Background()

	deadline := time.Now().UTC().Add(-time.Hour)
	expired, err := svc.CreatePoll(ctx, CreatePollRequest{
		TenantID:      "t1",
		TypeID:        "type-1",
		Title:         "Expired poll",
		ProposedSlots: pollSlots(),
		InviteeEmails: []string{"ann@example.com"},
		Deadline:      &deadline,
	})
	require.NoError(t, err)
	openPoll(t, svc, false)

	require.NoError(t, svc.ResolveExpired(ctx))

	got, err := svc.Get(ctx, "t1", expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollResolved, got.Status)
	require.Len(t, booker.requests, 1)
}
