package models

import (
	"database/sql/driver"
	"time"
)

// AppointmentStatus is the appointment lifecycle state.
type AppointmentStatus string

const (
	StatusRequested AppointmentStatus = "requested"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

// appointmentTransitions is the closed transition table. Terminal states have
// no outgoing edges.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusRequested: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

// Valid reports whether the status is a known value.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s AppointmentStatus) Terminal() bool {
	return len(appointmentTransitions[s]) == 0 && s.Valid()
}

// CanTransition reports whether s → to is a legal edge.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	for _, next := range appointmentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Blocking reports whether the appointment occupies its staff's calendar for
// conflict purposes.
func (s AppointmentStatus) Blocking() bool {
	return s == StatusRequested || s == StatusConfirmed
}

// Appointment is the authoritative booked-meeting record. Times are UTC.
type Appointment struct {
	ID                string            `db:"id" json:"id"`
	TenantID          string            `db:"tenant_id" json:"tenant_id"`
	TypeID            string            `db:"type_id" json:"type_id"`
	StaffID           string            `db:"staff_id" json:"staff_id"`
	CollectiveHostIDs StringList        `db:"collective_host_ids" json:"collective_host_ids,omitempty"`
	StartAt           time.Time         `db:"start_at" json:"start_at"`
	EndAt             time.Time         `db:"end_at" json:"end_at"`
	Status            AppointmentStatus `db:"status" json:"status"`
	InviteeName       string            `db:"invitee_name" json:"invitee_name"`
	InviteeEmail      string            `db:"invitee_email" json:"invitee_email"`
	IntakeAnswers     IntakeAnswers     `db:"intake_answers" json:"intake_answers,omitempty"`
	ConnectionID      *string           `db:"connection_id" json:"connection_id,omitempty"`
	ExternalEventID   *string           `db:"external_event_id" json:"external_event_id,omitempty"`
	Revision          int               `db:"revision" json:"revision"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// Hosts returns every staff member occupied by this appointment: the assignee
// plus collective hosts, de-duplicated.
func (a *Appointment) Hosts() []string {
	seen := map[string]struct{}{}
	var hosts []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		hosts = append(hosts, id)
	}
	add(a.StaffID)
	for _, id := range a.CollectiveHostIDs {
		add(id)
	}
	return hosts
}

// Window returns the occupied interval as a Slot.
func (a *Appointment) Window() Slot {
	return Slot{Start: a.StartAt, End: a.EndAt}
}

// IntakeAnswers stores free-form booking form answers.
type IntakeAnswers map[string]string

// Value implements driver.Valuer.
func (a IntakeAnswers) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return jsonValue(a, "intake answers")
}

// Scan implements sql.Scanner.
func (a *IntakeAnswers) Scan(src interface{}) error {
	return scanJSON(src, a, "intake answers")
}

// AppointmentStatusHistory is one immutable audit row per transition.
type AppointmentStatusHistory struct {
	ID            string            `db:"id" json:"id"`
	AppointmentID string            `db:"appointment_id" json:"appointment_id"`
	FromStatus    AppointmentStatus `db:"from_status" json:"from_status"`
	ToStatus      AppointmentStatus `db:"to_status" json:"to_status"`
	Reason        string            `db:"reason" json:"reason"`
	Actor         string            `db:"actor" json:"actor"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

// AppointmentFilter narrows appointment listings.
type AppointmentFilter struct {
	TenantID string
	TypeID   string
	StaffID  string
	Statuses []AppointmentStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
