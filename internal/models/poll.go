package models

import (
	"database/sql/driver"
	"time"
)

// PollStatus is the meeting poll lifecycle.
type PollStatus string

const (
	PollOpen      PollStatus = "open"
	PollResolved  PollStatus = "resolved"
	PollCancelled PollStatus = "cancelled"
)

// PollAnswer is a voter's response to one proposed slot.
type PollAnswer string

const (
	AnswerYes     PollAnswer = "yes"
	AnswerNo      PollAnswer = "no"
	AnswerIfNeeds PollAnswer = "if_need_be"
)

// Valid reports whether the answer is a known value.
func (a PollAnswer) Valid() bool {
	switch a {
	case AnswerYes, AnswerNo, AnswerIfNeeds:
		return true
	}
	return false
}

// SlotList is the JSON column form of proposed poll slots.
type SlotList []Slot

// Value implements driver.Valuer.
func (l SlotList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l, "slot list")
}

// Scan implements sql.Scanner.
func (l *SlotList) Scan(src interface{}) error {
	return scanJSON(src, l, "slot list")
}

// MeetingPoll proposes N slots to a set of invitees and resolves to a booked
// appointment once the deadline passes or every invitee has voted.
type MeetingPoll struct {
	ID                    string     `db:"id" json:"id"`
	TenantID              string     `db:"tenant_id" json:"tenant_id"`
	TypeID                string     `db:"type_id" json:"type_id"`
	Title                 string     `db:"title" json:"title"`
	ProposedSlots         SlotList   `db:"proposed_slots" json:"proposed_slots"`
	InviteeEmails         StringList `db:"invitee_emails" json:"invitee_emails"`
	RequireAllInvitees    bool       `db:"require_all_invitees" json:"require_all_invitees"`
	Deadline              *time.Time `db:"deadline" json:"deadline,omitempty"`
	Status                PollStatus `db:"status" json:"status"`
	ResolvedSlotIndex     *int       `db:"resolved_slot_index" json:"resolved_slot_index,omitempty"`
	ResolvedAppointmentID *string    `db:"resolved_appointment_id" json:"resolved_appointment_id,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// AnswerList holds one answer per proposed slot, index-aligned.
type AnswerList []PollAnswer

// Value implements driver.Valuer.
func (l AnswerList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l, "answer list")
}

// Scan implements sql.Scanner.
func (l *AnswerList) Scan(src interface{}) error {
	return scanJSON(src, l, "answer list")
}

// MeetingPollVote is one voter's ballot. Unique per (poll, voter email) and
// upserted on re-vote.
type MeetingPollVote struct {
	ID         string     `db:"id" json:"id"`
	PollID     string     `db:"poll_id" json:"poll_id"`
	VoterEmail string     `db:"voter_email" json:"voter_email"`
	VoterName  string     `db:"voter_name" json:"voter_name"`
	Answers    AnswerList `db:"answers" json:"answers"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
