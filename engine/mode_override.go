package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/router"
)

// ModeOverride is a per-mode generation tuning record (spec §6
// set_mode_prompt_override): a system prompt prefix plus optional
// temperature/max_tokens overrides applied on top of a strategy
// template's rendered text.
type ModeOverride struct {
	Mode         router.Mode
	SystemPrompt string
	Temperature  *float32
	MaxTokens    *int
	UpdatedAt    time.Time
}

// ModeOverrideStore is the admin-facing durable row store for mode
// overrides (spec §6 "A row store for mode prompt overrides"). Set is
// append-only rather than an upsert: spec §6 describes the engine as
// loading "the most recent by updated_at", which only makes sense if
// successive overrides for the same mode coexist as a history rather
// than overwrite each other in place.
type ModeOverrideStore interface {
	Set(ctx context.Context, mode router.Mode, systemPrompt string, temperature *float32, maxTokens *int) error
	Latest(ctx context.Context, mode router.Mode) (*ModeOverride, bool, error)
}

// SQLiteModeOverrideStore is the ModeOverrideStore backed by
// modernc.org/sqlite, consistent with state.SQLiteStore and
// provider.SQLiteRecordStore's choice of driver (spec §6's durable
// store requirement, cgo-free for a single deployable binary).
type SQLiteModeOverrideStore struct {
	db     *sql.DB
	logger core.Logger
}

const createModeOverridesTable = `
CREATE TABLE IF NOT EXISTS mode_overrides (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	mode          TEXT NOT NULL,
	system_prompt TEXT NOT NULL,
	temperature   REAL,
	max_tokens    INTEGER,
	updated_at    INTEGER NOT NULL
);`

// OpenSQLiteModeOverrideStore opens (creating if absent) the
// mode_overrides table at dsn.
func OpenSQLiteModeOverrideStore(dsn string, logger core.Logger) (*SQLiteModeOverrideStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("engine: open mode override store: %w", err)
	}
	if _, err := db.Exec(createModeOverridesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: migrate mode override store: %w", err)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SQLiteModeOverrideStore{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteModeOverrideStore) Close() error { return s.db.Close() }

func (s *SQLiteModeOverrideStore) Set(ctx context.Context, mode router.Mode, systemPrompt string, temperature *float32, maxTokens *int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mode_overrides (mode, system_prompt, temperature, max_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(mode), systemPrompt, nullableFloat(temperature), nullableInt(maxTokens), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: set mode override: %v", core.ErrStateStore, err)
	}
	return nil
}

func (s *SQLiteModeOverrideStore) Latest(ctx context.Context, mode router.Mode) (*ModeOverride, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT system_prompt, temperature, max_tokens, updated_at
		FROM mode_overrides
		WHERE mode = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, string(mode))

	var (
		systemPrompt       string
		temperature        sql.NullFloat64
		maxTokens          sql.NullInt64
		updatedAtUnix      int64
	)
	if err := row.Scan(&systemPrompt, &temperature, &maxTokens, &updatedAtUnix); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: load mode override: %v", core.ErrStateStore, err)
	}

	out := &ModeOverride{
		Mode:         mode,
		SystemPrompt: systemPrompt,
		UpdatedAt:    time.Unix(updatedAtUnix, 0),
	}
	if temperature.Valid {
		v := float32(temperature.Float64)
		out.Temperature = &v
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		out.MaxTokens = &v
	}
	return out, true, nil
}

func nullableFloat(v *float32) interface{} {
	if v == nil {
		return nil
	}
	return float64(*v)
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}
