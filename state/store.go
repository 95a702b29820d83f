package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/learnobot/mediation/classifier"
	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/router"
)

// Store is the durable per-session conversation record (C4). All
// operations are scoped to a single session_id; callers that need
// cross-turn serialization for the same session must hold the session
// lock (spec §5) around a Store call — Store itself only guarantees each
// individual operation is atomic, not a sequence of them.
type Store interface {
	// GetOrCreate atomically returns the existing conversation for
	// sessionID, or creates and persists a fresh one (I4: at most one
	// ConversationState per session_id).
	GetOrCreate(ctx context.Context, sessionID string) (*Conversation, error)
	// BeginTurn applies invariant I3 (reset on instruction change), sets
	// CurrentInstruction, and persists the result.
	BeginTurn(ctx context.Context, sessionID, instruction string) (*Conversation, error)
	// Record appends the turn's outcome per spec §4.4 and persists it.
	Record(ctx context.Context, sessionID string, strategy router.Strategy, comprehension classifier.Label) (*Conversation, error)
	// ResetSession discards history but keeps the row, replacing it with
	// a fresh conversation (distinct from Drop).
	ResetSession(ctx context.Context, sessionID string) error
	// Drop removes the session's row entirely on session end.
	Drop(ctx context.Context, sessionID string) error
}

// SQLiteStore is the durable Store backed by modernc.org/sqlite, chosen
// for its cgo-free build (spec §6 "Durable store" calls for a single
// deployable binary, and this repo never cross-compiles with cgo
// enabled).
type SQLiteStore struct {
	db     *sql.DB
	logger core.Logger
}

// OpenSQLiteStore opens (creating if absent) the conversations table at
// dsn and returns a ready-to-use Store.
func OpenSQLiteStore(dsn string, logger core.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}
	if _, err := db.Exec(createConversationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: migrate: %w", err)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

const createConversationsTable = `
CREATE TABLE IF NOT EXISTS conversations (
	session_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// row is the JSON-serializable form persisted in the payload column.
type row struct {
	FailedStrategies     []router.Strategy  `json:"failed_strategies"`
	ComprehensionHistory []classifier.Label `json:"comprehension_history"`
	LastComprehension    classifier.Label   `json:"last_comprehension"`
	CurrentStrategy      *router.Strategy   `json:"current_strategy"`
	CurrentInstruction   string             `json:"current_instruction"`
	AttemptCount         int                `json:"attempt_count"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

func toRow(c *Conversation) row {
	return row{
		FailedStrategies:     c.FailedStrategies,
		ComprehensionHistory: c.ComprehensionHistory,
		LastComprehension:    c.LastComprehension,
		CurrentStrategy:      c.CurrentStrategy,
		CurrentInstruction:   c.CurrentInstruction,
		AttemptCount:         c.AttemptCount,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func fromRow(sessionID string, r row) *Conversation {
	return &Conversation{
		SessionID:            sessionID,
		FailedStrategies:     r.FailedStrategies,
		ComprehensionHistory: r.ComprehensionHistory,
		LastComprehension:    r.LastComprehension,
		CurrentStrategy:      r.CurrentStrategy,
		CurrentInstruction:   r.CurrentInstruction,
		AttemptCount:         r.AttemptCount,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func (s *SQLiteStore) load(ctx context.Context, tx *sql.Tx, sessionID string) (*Conversation, bool, error) {
	var payload string
	err := tx.QueryRowContext(ctx, `SELECT payload FROM conversations WHERE session_id = ?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: load %s: %w", sessionID, err)
	}
	var r row
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, false, fmt.Errorf("state: decode %s: %w", sessionID, err)
	}
	return fromRow(sessionID, r), true, nil
}

func (s *SQLiteStore) save(ctx context.Context, tx *sql.Tx, c *Conversation) error {
	payload, err := json.Marshal(toRow(c))
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", c.SessionID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (session_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, c.SessionID, string(payload), c.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("state: save %s: %w", c.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStateStore, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStateStore, err)
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, sessionID string) (*Conversation, error) {
	var out *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := s.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if found {
			out = existing
			return nil
		}
		out = newConversation(sessionID, time.Now())
		return s.save(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) BeginTurn(ctx context.Context, sessionID, instruction string) (*Conversation, error) {
	var out *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := s.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			existing = newConversation(sessionID, time.Now())
		}
		existing.beginTurn(instruction, time.Now())
		out = existing
		return s.save(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Record(ctx context.Context, sessionID string, strategy router.Strategy, comprehension classifier.Label) (*Conversation, error) {
	var out *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := s.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: session %s", core.ErrSessionNotFound, sessionID)
		}
		existing.record(strategy, comprehension, time.Now())
		out = existing
		return s.save(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) ResetSession(ctx context.Context, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		fresh := newConversation(sessionID, time.Now())
		return s.save(ctx, tx, fresh)
	})
}

func (s *SQLiteStore) Drop(ctx context.Context, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrStateStore, err)
		}
		return nil
	})
}
