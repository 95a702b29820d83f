package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore("file::memory:?cache=shared&_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_TouchThenDue(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, s.Touch(ctx, "sess-1", "teacher-1", old))

	due, err := s.Due(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sess-1", due[0].SessionID)
	assert.Equal(t, "teacher-1", due[0].TeacherID)
}

func TestSQLiteStore_RecentTouchIsNotDue(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.Touch(ctx, "sess-2", "teacher-1", time.Now()))

	due, err := s.Due(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSQLiteStore_MarkNotifiedIsIdempotentAgainstSameTurn(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	turnAt := time.Now().Add(-10 * time.Minute)
	require.NoError(t, s.Touch(ctx, "sess-3", "teacher-1", turnAt))
	require.NoError(t, s.MarkNotified(ctx, "sess-3", turnAt))

	due, err := s.Due(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due, "a turn already notified on must not be reported due again")
}

func TestSQLiteStore_NewTurnResetsNotifiedState(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	firstTurn := time.Now().Add(-20 * time.Minute)
	require.NoError(t, s.Touch(ctx, "sess-4", "teacher-1", firstTurn))
	require.NoError(t, s.MarkNotified(ctx, "sess-4", firstTurn))

	secondTurn := time.Now().Add(-10 * time.Minute)
	require.NoError(t, s.Touch(ctx, "sess-4", "teacher-1", secondTurn))

	due, err := s.Due(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1, "a fresh turn must open a new notification window")
	assert.Equal(t, secondTurn.Unix(), due[0].LastTurnAt.Unix())
}

func TestSQLiteStore_Forget(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.Touch(ctx, "sess-5", "teacher-1", time.Now().Add(-10*time.Minute)))
	require.NoError(t, s.Forget(ctx, "sess-5"))

	due, err := s.Due(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
}
