package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukita/center-ops-api/internal/models"
)

func TestSessionCreateFillsDefaults(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	resource := "room-a"
	session := &models.Session{
		ClassID:    "class-1",
		Date:       time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		TimeslotID: "slot-1",
		ResourceID: &resource,
		Modality:   models.ModalityInPerson,
	}
	err := repo.Create(context.Background(), session)
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.SessionPlanned, session.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCancelGuardsStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Cancel(context.Background(), "session-1"))

	// already cancelled or done
	mock.ExpectExec("UPDATE sessions SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Cancel(context.Background(), "session-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionReassignResourceGuardsStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET resource_id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ReassignResource(context.Background(), "session-1", "meet-1", models.ModalityVirtual)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionMarkPastDone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET status").
		WillReturnResult(sqlmock.NewResult(0, 4))

	count, err := repo.MarkPastDone(context.Background(), time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
