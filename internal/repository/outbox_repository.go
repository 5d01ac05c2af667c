package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

const outboxColumns = `id, tenant_id, event_type, aggregate_id, payload, created_at, dispatched_at`

// OutboxRepository provides persistence for domain events written in the
// same transaction as the state change they describe.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new outbox repository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// AddTx appends an event inside the caller's transaction.
func (r *OutboxRepository) AddTx(ctx context.Context, tx *sqlx.Tx, e *models.OutboxEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO outbox_events (tenant_id, event_type, aggregate_id, payload, created_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := tx.GetContext(ctx, &e.ID, query, e.TenantID, e.EventType, e.AggregateID, e.Payload, e.CreatedAt); err != nil {
		return fmt.Errorf("add outbox event: %w", err)
	}
	return nil
}

// ListPending returns undispatched events in insertion order. The lock
// clause lets concurrent dispatchers drain without double delivery.
func (r *OutboxRepository) ListPending(ctx context.Context, tx *sqlx.Tx, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM outbox_events WHERE dispatched_at IS NULL ORDER BY id ASC LIMIT %d FOR UPDATE SKIP LOCKED`, outboxColumns, limit)
	var out []models.OutboxEvent
	if err := tx.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list pending outbox events: %w", err)
	}
	return out, nil
}

// MarkDispatched stamps events as delivered.
func (r *OutboxRepository) MarkDispatched(ctx context.Context, tx *sqlx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE outbox_events SET dispatched_at = ? WHERE id IN (?)`, time.Now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("build outbox update: %w", err)
	}
	query = tx.Rebind(query)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark outbox events dispatched: %w", err)
	}
	return nil
}

// BeginTx opens a transaction for a dispatch drain cycle.
func (r *OutboxRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin outbox tx: %w", err)
	}
	return tx, nil
}

// PruneDispatched deletes events delivered before the cutoff.
func (r *OutboxRepository) PruneDispatched(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM outbox_events WHERE dispatched_at IS NOT NULL AND dispatched_at < $1`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("prune outbox events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune outbox rows affected: %w", err)
	}
	return n, nil
}
