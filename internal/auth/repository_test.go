package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestGetLoginAttempt(t *testing.T) {
	repo, mock := newMockRepository(t)
	until := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT failed_attempts, locked_until FROM auth_login_attempts").
		WithArgs("jane").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(2, until))

	attempt, err := repo.GetLoginAttempt(context.Background(), "jane")

	require.NoError(t, err)
	assert.Equal(t, 2, attempt.FailedAttempts)
	require.NotNil(t, attempt.LockedUntil)
	assert.True(t, until.Equal(*attempt.LockedUntil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLoginAttemptMissing(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT failed_attempts, locked_until FROM auth_login_attempts").
		WithArgs("jane").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}))

	attempt, err := repo.GetLoginAttempt(context.Background(), "jane")

	require.NoError(t, err)
	assert.Equal(t, LoginAttempt{Key: "jane"}, attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterFailedAttemptIncrements(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT failed_attempts, locked_until FROM auth_login_attempts (.+) FOR UPDATE").
		WithArgs("jane").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(1, nil))
	mock.ExpectExec("INSERT INTO auth_login_attempts").
		WithArgs("jane", 2, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	lockedUntil, err := repo.RegisterFailedAttempt(context.Background(), "jane", 5, time.Minute, now)

	require.NoError(t, err)
	assert.Nil(t, lockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterFailedAttemptLocks(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT failed_attempts, locked_until FROM auth_login_attempts").
		WithArgs("jane").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(4, nil))
	mock.ExpectExec("INSERT INTO auth_login_attempts").
		WithArgs("jane", 0, until, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	lockedUntil, err := repo.RegisterFailedAttempt(context.Background(), "jane", 5, 15*time.Minute, now)

	require.NoError(t, err)
	require.NotNil(t, lockedUntil)
	assert.True(t, until.Equal(*lockedUntil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterFailedAttemptKeepsActiveLock(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	until := now.Add(5 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT failed_attempts, locked_until FROM auth_login_attempts").
		WithArgs("jane").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(0, until))
	mock.ExpectCommit()

	lockedUntil, err := repo.RegisterFailedAttempt(context.Background(), "jane", 5, time.Minute, now)

	require.NoError(t, err)
	require.NotNil(t, lockedUntil)
	assert.True(t, until.Equal(*lockedUntil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetLoginAttempt(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM auth_login_attempts WHERE login_key = $1")).
		WithArgs("jane").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ResetLoginAttempt(context.Background(), "jane"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupStaleLoginAttempts(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("DELETE FROM auth_login_attempts t USING stale").
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := repo.CleanupStaleLoginAttempts(context.Background(), 24*time.Hour, 100)

	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
