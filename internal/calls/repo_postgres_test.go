package calls

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepo(db), mock
}

func TestPostgresRepo_LoadMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .+ FROM calls WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CreateDuplicateIsCallExists(t *testing.T) {
	repo, mock := newMockRepo(t)
	c := newTestCall(t, "+201001234567")
	mock.ExpectExec(`INSERT INTO calls`).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), c)
	assert.ErrorIs(t, err, ErrCallExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveRefusesToReopenEndedCall(t *testing.T) {
	repo, mock := newMockRepo(t)
	c := newTestCall(t, "+201001234567")
	require.NoError(t, c.Start("s", t0))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM calls WHERE id = \$1 FOR UPDATE`).
		WithArgs(c.ID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(StatusCompleted)))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), c)
	assert.ErrorIs(t, err, ErrStaleSnapshot)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)
	c := newTestCall(t, "+201001234567")
	require.NoError(t, c.Start("s", t0))
	require.NoError(t, c.End(Completed(), t0.Add(time.Minute)))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM calls WHERE id = \$1 FOR UPDATE`).
		WithArgs(c.ID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(StatusInProgress)))
	mock.ExpectExec(`INSERT INTO calls .+ ON CONFLICT \(id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}
