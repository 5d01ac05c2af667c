package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novacal/novacal-api/internal/models"
)

func newSyncLogRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSyncLogRepositoryAppendDefaults(t *testing.T) {
	db, mock, cleanup := newSyncLogRepoMock(t)
	defer cleanup()
	repo := NewSyncLogRepository(db)

	mock.ExpectExec("INSERT INTO sync_attempt_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.SyncAttemptLog{
		TenantID:     "ten1",
		ConnectionID: "c1",
		Direction:    models.SyncPush,
		Operation:    models.SyncOpCreate,
		Outcome:      models.SyncFailed,
		ErrorClass:   models.SyncErrTransient,
	}
	require.NoError(t, repo.Append(context.Background(), entry))

	assert.NotEmpty(t, entry.ID)
	assert.NotEmpty(t, entry.CorrelationID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLogRepositoryListDue(t *testing.T) {
	db, mock, cleanup := newSyncLogRepoMock(t)
	defer cleanup()
	repo := NewSyncLogRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "connection_id", "appointment_id", "external_event_id",
		"direction", "operation", "outcome", "error_class", "error_message",
		"retry_count", "next_retry_at", "correlation_id", "created_at",
	}).AddRow(
		"l1", "ten1", "c1", "a1", nil,
		"push", "create", "failed", "transient", "timeout",
		2, now.Add(-time.Minute), "corr-1", now.Add(-5*time.Minute),
	)

	mock.ExpectQuery("SELECT \\* FROM .+ latest").
		WithArgs(now).
		WillReturnRows(rows)

	due, err := repo.ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "corr-1", due[0].CorrelationID)
	assert.Equal(t, 2, due[0].RetryCount)
	assert.Equal(t, models.SyncFailed, due[0].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLogRepositoryCountByOutcome(t *testing.T) {
	db, mock, cleanup := newSyncLogRepoMock(t)
	defer cleanup()
	repo := NewSyncLogRepository(db)

	rows := sqlmock.NewRows([]string{"outcome", "n"}).
		AddRow("success", 7).
		AddRow("failed", 2)
	mock.ExpectQuery("SELECT outcome, COUNT").
		WillReturnRows(rows)

	counts, err := repo.CountByOutcome(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 7, counts[models.SyncSucceeded])
	assert.Equal(t, 2, counts[models.SyncFailed])
	assert.NoError(t, mock.ExpectationsWereMet())
}
