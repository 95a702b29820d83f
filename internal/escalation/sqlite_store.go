package escalation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/learnobot/mediation/core"
)

// SQLiteStore is the durable Store backed by modernc.org/sqlite, matching
// state.SQLiteStore's cgo-free choice for the same single-binary reason.
type SQLiteStore struct {
	db *sql.DB
}

const createWatchesTable = `
CREATE TABLE IF NOT EXISTS escalation_watches (
	session_id        TEXT PRIMARY KEY,
	teacher_id        TEXT NOT NULL,
	last_turn_at       INTEGER NOT NULL,
	notified_turn_at  INTEGER
);`

// OpenSQLiteStore opens (creating if absent) the escalation_watches table
// at dsn and returns a ready-to-use Store.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("escalation: open sqlite: %w", err)
	}
	if _, err := db.Exec(createWatchesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("escalation: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Touch upserts sessionID's watch row. A new turn always supersedes
// whatever notified_turn_at was recorded for a prior turn: the inactivity
// window restarts and the next sweep can notify again if this new turn,
// too, goes unanswered.
func (s *SQLiteStore) Touch(ctx context.Context, sessionID, teacherID string, turnAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_watches (session_id, teacher_id, last_turn_at, notified_turn_at)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT(session_id) DO UPDATE SET
			teacher_id = excluded.teacher_id,
			last_turn_at = excluded.last_turn_at,
			notified_turn_at = NULL
	`, sessionID, teacherID, turnAt.Unix())
	if err != nil {
		return fmt.Errorf("%w: touch %s: %v", core.ErrStateStore, sessionID, err)
	}
	return nil
}

// Due returns every watch whose last turn is older than cutoff and has
// not already been notified for that exact turn.
func (s *SQLiteStore) Due(ctx context.Context, cutoff time.Time) ([]Watch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, teacher_id, last_turn_at FROM escalation_watches
		WHERE last_turn_at <= ?
		  AND (notified_turn_at IS NULL OR notified_turn_at != last_turn_at)
	`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: due: %v", core.ErrStateStore, err)
	}
	defer rows.Close()

	var out []Watch
	for rows.Next() {
		var w Watch
		var lastTurnAt int64
		if err := rows.Scan(&w.SessionID, &w.TeacherID, &lastTurnAt); err != nil {
			return nil, fmt.Errorf("%w: due scan: %v", core.ErrStateStore, err)
		}
		w.LastTurnAt = time.Unix(lastTurnAt, 0)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: due rows: %v", core.ErrStateStore, err)
	}
	return out, nil
}

// MarkNotified records that turnAt has been notified on, guarding against
// a concurrent Touch having already moved last_turn_at forward: the update
// only applies if last_turn_at still equals turnAt.
func (s *SQLiteStore) MarkNotified(ctx context.Context, sessionID string, turnAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE escalation_watches SET notified_turn_at = ?
		WHERE session_id = ? AND last_turn_at = ?
	`, turnAt.Unix(), sessionID, turnAt.Unix())
	if err != nil {
		return fmt.Errorf("%w: mark notified %s: %v", core.ErrStateStore, sessionID, err)
	}
	return nil
}

// Forget removes sessionID's watch row entirely.
func (s *SQLiteStore) Forget(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM escalation_watches WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: forget %s: %v", core.ErrStateStore, sessionID, err)
	}
	return nil
}
