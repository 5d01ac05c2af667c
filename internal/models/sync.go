package models

import "time"

// SyncDirection distinguishes provider→platform (pull) from platform→provider
// (push) attempts.
type SyncDirection string

const (
	SyncPull SyncDirection = "pull"
	SyncPush SyncDirection = "push"
)

// SyncOperation is the primitive attempted against the provider or store.
type SyncOperation string

const (
	SyncOpUpsert SyncOperation = "upsert"
	SyncOpCreate SyncOperation = "create"
	SyncOpUpdate SyncOperation = "update"
	SyncOpDelete SyncOperation = "delete"
)

// SyncOutcome records how a single attempt ended.
type SyncOutcome string

const (
	SyncSucceeded SyncOutcome = "success"
	SyncFailed    SyncOutcome = "failed"
	// SyncExhausted marks an attempt whose retry budget ran out; it stays
	// queryable for manual replay.
	SyncExhausted SyncOutcome = "exhausted"
	SyncSkipped   SyncOutcome = "skipped"
)

// SyncErrorClass drives the retry policy.
type SyncErrorClass string

const (
	SyncErrNone         SyncErrorClass = "none"
	SyncErrTransient    SyncErrorClass = "transient"
	SyncErrRetryable    SyncErrorClass = "retryable"
	SyncErrRateLimited  SyncErrorClass = "rate_limited"
	SyncErrNonRetryable SyncErrorClass = "non_retryable"
)

// Retryable reports whether the class participates in automatic retry.
func (c SyncErrorClass) Retryable() bool {
	switch c {
	case SyncErrTransient, SyncErrRetryable, SyncErrRateLimited:
		return true
	}
	return false
}

// SyncAttemptLog is one append-only row per sync attempt.
type SyncAttemptLog struct {
	ID              string         `db:"id" json:"id"`
	TenantID        string         `db:"tenant_id" json:"tenant_id"`
	ConnectionID    string         `db:"connection_id" json:"connection_id"`
	AppointmentID   *string        `db:"appointment_id" json:"appointment_id,omitempty"`
	ExternalEventID *string        `db:"external_event_id" json:"external_event_id,omitempty"`
	Direction       SyncDirection  `db:"direction" json:"direction"`
	Operation       SyncOperation  `db:"operation" json:"operation"`
	Outcome         SyncOutcome    `db:"outcome" json:"outcome"`
	ErrorClass      SyncErrorClass `db:"error_class" json:"error_class"`
	ErrorMessage    string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount      int            `db:"retry_count" json:"retry_count"`
	NextRetryAt     *time.Time     `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CorrelationID   string         `db:"correlation_id" json:"correlation_id"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// SyncAttemptFilter narrows operator attempt listings.
type SyncAttemptFilter struct {
	TenantID     string
	ConnectionID string
	Outcomes     []SyncOutcome
	ErrorClasses []SyncErrorClass
	Page         int
	PageSize     int
}

// EventPayload is the normalized provider event applied by pull upserts.
type EventPayload struct {
	Title     string    `json:"title"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Cancelled bool      `json:"cancelled"`
	Version   string    `json:"version,omitempty"`
}
