package models

import "time"

// AttendeeStatus is the group-event attendee micro state machine.
type AttendeeStatus string

const (
	AttendeeRegistered AttendeeStatus = "registered"
	AttendeeConfirmed  AttendeeStatus = "confirmed"
	AttendeeCancelled  AttendeeStatus = "cancelled"
)

// Active reports whether the attendee occupies a seat.
func (s AttendeeStatus) Active() bool {
	return s == AttendeeRegistered || s == AttendeeConfirmed
}

// WaitlistStatus is the waitlist entry micro state machine.
type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistPromoted WaitlistStatus = "promoted"
)

// GroupEventAttendee is a capacity-bounded child of a group appointment.
type GroupEventAttendee struct {
	ID            string         `db:"id" json:"id"`
	AppointmentID string         `db:"appointment_id" json:"appointment_id"`
	Email         string         `db:"email" json:"email"`
	Name          string         `db:"name" json:"name"`
	Status        AttendeeStatus `db:"status" json:"status"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// GroupEventWaitlist queues attendees beyond capacity, FIFO by priority then
// join time.
type GroupEventWaitlist struct {
	ID            string         `db:"id" json:"id"`
	AppointmentID string         `db:"appointment_id" json:"appointment_id"`
	Email         string         `db:"email" json:"email"`
	Name          string         `db:"name" json:"name"`
	Priority      int            `db:"priority" json:"priority"`
	Status        WaitlistStatus `db:"status" json:"status"`
	JoinedAt      time.Time      `db:"joined_at" json:"joined_at"`
	PromotedAt    *time.Time     `db:"promoted_at" json:"promoted_at,omitempty"`
}
