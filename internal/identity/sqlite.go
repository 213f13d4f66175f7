package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the pool store to use when several agent processes share
// one pool. Upserts run in a transaction so concurrent admits of the same
// account merge instead of clobbering each other.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS identities (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT ''
	);`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, name, api_key, ip_address, user_agent, created_at FROM identities ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.AccountID, &id.Name, &id.APIKey, &id.Address, &id.UserAgent, &id.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, id Identity) (Identity, error) {
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Identity{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var prev Identity
	err = tx.QueryRowContext(ctx,
		`SELECT account_id, name, api_key, ip_address, user_agent, created_at FROM identities WHERE account_id = ?`,
		id.AccountID,
	).Scan(&prev.AccountID, &prev.Name, &prev.APIKey, &prev.Address, &prev.UserAgent, &prev.CreatedAt)

	var stored Identity
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored = stamp(id, s.now())
		_, err = tx.ExecContext(ctx,
			`INSERT INTO identities (account_id, name, api_key, ip_address, user_agent, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			stored.AccountID, stored.Name, stored.APIKey, stored.Address, stored.UserAgent, stored.CreatedAt)
	case err != nil:
		return Identity{}, err
	default:
		stored = merge(prev, id)
		_, err = tx.ExecContext(ctx,
			`UPDATE identities SET name = ?, api_key = ?, ip_address = ?, user_agent = ?, created_at = ? WHERE account_id = ?`,
			stored.Name, stored.APIKey, stored.Address, stored.UserAgent, stored.CreatedAt, stored.AccountID)
	}
	if err != nil {
		return Identity{}, err
	}
	if err := tx.Commit(); err != nil {
		return Identity{}, err
	}
	return stored, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
