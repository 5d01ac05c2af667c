package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
)

type dispatchOutboxRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	ListPending(ctx context.Context, tx *sqlx.Tx, limit int) ([]models.OutboxEvent, error)
	MarkDispatched(ctx context.Context, tx *sqlx.Tx, ids []int64) error
	PruneDispatched(ctx context.Context, before time.Time) (int64, error)
}

// EventSink receives dispatched domain events. Sinks must tolerate redelivery:
// a crash between delivery and the dispatched stamp replays the batch.
type EventSink interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
}

// DispatchService drains the transactional outbox into the configured sinks.
type DispatchService struct {
	outbox    dispatchOutboxRepository
	sinks     []EventSink
	batchSize int
	logger    *zap.Logger
}

func NewDispatchService(outbox dispatchOutboxRepository, sinks []EventSink, logger *zap.Logger) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		outbox:    outbox,
		sinks:     sinks,
		batchSize: 100,
		logger:    logger,
	}
}

// Drain delivers one batch of pending events and stamps them dispatched in
// the same transaction that locked them. Returns the number delivered.
func (s *DispatchService) Drain(ctx context.Context) (int, error) {
	tx, err := s.outbox.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	events, err := s.outbox.ListPending(ctx, tx, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, tx.Commit()
	}

	delivered := make([]int64, 0, len(events))
	for i := range events {
		if err = s.deliver(ctx, &events[i]); err != nil {
			// Stop at the first failure so ordering per aggregate survives;
			// events already delivered in this batch still get stamped.
			s.logger.Warn("event delivery failed",
				zap.Int64("event_id", events[i].ID),
				zap.String("event_type", string(events[i].EventType)),
				zap.Error(err))
			err = nil
			break
		}
		delivered = append(delivered, events[i].ID)
	}

	if err = s.outbox.MarkDispatched(ctx, tx, delivered); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return len(delivered), nil
}

// Prune deletes events dispatched before the retention cutoff.
func (s *DispatchService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.outbox.PruneDispatched(ctx, time.Now().UTC().Add(-retention))
}

func (s *DispatchService) deliver(ctx context.Context, event *models.OutboxEvent) error {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
