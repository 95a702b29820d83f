package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/learnobot/mediation/core"
)

// Record is the durable row for a provider key (spec §3 ProviderRecord).
type Record struct {
	Name                 string
	Kind                 Kind
	EncryptedCredential   []byte // nil for local providers
	Active               bool
	Deactivated          bool
	Config               map[string]string
}

// RecordStore is the key-addressable row store for ProviderRecord spec §6
// calls for: upsert, get, list, delete-by-flag (delete-by-flag is
// expressed here as Upsert with Deactivated=true, Active=false per P4 —
// rows are never physically deleted, only tombstoned).
type RecordStore interface {
	Get(ctx context.Context, name string) (*Record, bool, error)
	List(ctx context.Context) ([]*Record, error)
	Upsert(ctx context.Context, r *Record) error
}

// SQLiteRecordStore is the durable RecordStore, one row per provider key.
type SQLiteRecordStore struct {
	db *sql.DB
}

func OpenSQLiteRecordStore(dsn string) (*SQLiteRecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("provider: open sqlite: %w", err)
	}
	if _, err := db.Exec(createProvidersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("provider: migrate: %w", err)
	}
	return &SQLiteRecordStore{db: db}, nil
}

const createProvidersTable = `
CREATE TABLE IF NOT EXISTS providers (
	name       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	credential BLOB,
	active     INTEGER NOT NULL DEFAULT 0,
	deactivated INTEGER NOT NULL DEFAULT 0,
	config     TEXT NOT NULL DEFAULT '{}'
);`

func (s *SQLiteRecordStore) Close() error { return s.db.Close() }

func (s *SQLiteRecordStore) Get(ctx context.Context, name string) (*Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, kind, credential, active, deactivated, config FROM providers WHERE name = ?`, name)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", core.ErrStateStore, name, err)
	}
	return r, true, nil
}

func (s *SQLiteRecordStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, kind, credential, active, deactivated, config FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", core.ErrStateStore, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", core.ErrStateStore, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteRecordStore) Upsert(ctx context.Context, r *Record) error {
	configJSON, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("provider: encode config for %s: %w", r.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (name, kind, credential, active, deactivated, config) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind, credential = excluded.credential,
			active = excluded.active, deactivated = excluded.deactivated, config = excluded.config
	`, r.Name, string(r.Kind), r.EncryptedCredential, boolToInt(r.Active), boolToInt(r.Deactivated), string(configJSON))
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", core.ErrStateStore, r.Name, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		name, kind, configJSON string
		credential             []byte
		active, deactivated    int
	)
	if err := row.Scan(&name, &kind, &credential, &active, &deactivated, &configJSON); err != nil {
		return nil, err
	}
	var config map[string]string
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		config = map[string]string{}
	}
	return &Record{
		Name:                name,
		Kind:                Kind(kind),
		EncryptedCredential: credential,
		Active:              active != 0,
		Deactivated:         deactivated != 0,
		Config:              config,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
