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

func newApptRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func appointmentRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "type_id", "staff_id", "collective_host_ids",
		"start_at", "end_at", "status", "invitee_name", "invitee_email",
		"intake_answers", "connection_id", "external_event_id", "revision",
		"created_at", "updated_at",
	}).AddRow(
		"a1", "ten1", "ty1", "st1", []byte(`[]`),
		now, now.Add(30*time.Minute), "confirmed", "Jane", "jane@example.com",
		[]byte(`{}`), nil, nil, 1, now, now,
	)
}

func TestAppointmentRepositoryFindOverlapping(t *testing.T) {
	db, mock, cleanup := newApptRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	mock.ExpectQuery("SELECT .+ FROM appointments").
		WithArgs("ten1", end, start, sqlmock.AnyArg()).
		WillReturnRows(appointmentRows())

	out, err := repo.FindOverlapping(context.Background(), nil, "ten1", []string{"st1"}, start, end)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, models.StatusConfirmed, out[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryFindOverlappingNoHosts(t *testing.T) {
	db, mock, cleanup := newApptRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	out, err := repo.FindOverlapping(context.Background(), nil, "ten1", nil, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryCreateTxDefaultsIDAndRevision(t *testing.T) {
	db, mock, cleanup := newApptRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	appt := &models.Appointment{
		TenantID:     "ten1",
		TypeID:       "ty1",
		StaffID:      "st1",
		StartAt:      time.Now().UTC(),
		EndAt:        time.Now().UTC().Add(30 * time.Minute),
		Status:       models.StatusRequested,
		InviteeName:  "Jane",
		InviteeEmail: "jane@example.com",
	}
	require.NoError(t, repo.CreateTx(context.Background(), tx, appt))
	require.NoError(t, tx.Commit())

	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, 1, appt.Revision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryUpdateStatusTxMissingRow(t *testing.T) {
	db, mock, cleanup := newApptRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs("cancelled", sqlmock.AnyArg(), "ten1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	err = repo.UpdateStatusTx(context.Background(), tx, "ten1", "missing", models.StatusCancelled)
	assert.Error(t, err)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newApptRepoMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	mock.ExpectQuery("SELECT .+ FROM appointments WHERE tenant_id").
		WillReturnRows(appointmentRows())
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM appointments`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.AppointmentFilter{
		TenantID: "ten1",
		StaffID:  "st1",
		Statuses: []models.AppointmentStatus{models.StatusConfirmed},
	})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
