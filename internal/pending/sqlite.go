package pending

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/majordomo/internal/capability"
)

// SQLiteBackend persists pending actions so a staged action survives a
// restart between staging and confirmation.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and if needed creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_actions (
		session    TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		capability TEXT NOT NULL,
		args       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Put implements Backend with an upsert keyed on session.
func (b *SQLiteBackend) Put(a Action) error {
	args, err := json.Marshal(a.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	expires := ""
	if !a.ExpiresAt.IsZero() {
		expires = a.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = b.db.Exec(
		`INSERT INTO pending_actions (session, token, capability, args, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session) DO UPDATE
		 SET token = excluded.token, capability = excluded.capability,
		     args = excluded.args, created_at = excluded.created_at,
		     expires_at = excluded.expires_at`,
		a.Session, a.Token, string(a.Kind), string(args),
		a.CreatedAt.UTC().Format(time.RFC3339Nano), expires,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", a.Session, err)
	}
	return nil
}

// Get implements Backend.
func (b *SQLiteBackend) Get(session string) (Action, bool, error) {
	row := b.db.QueryRow(
		`SELECT session, token, capability, args, created_at, expires_at
		 FROM pending_actions WHERE session = ?`, session)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return Action{}, false, nil
	}
	if err != nil {
		return Action{}, false, fmt.Errorf("get %s: %w", session, err)
	}
	return a, true, nil
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(session string) error {
	if _, err := b.db.Exec(`DELETE FROM pending_actions WHERE session = ?`, session); err != nil {
		return fmt.Errorf("delete %s: %w", session, err)
	}
	return nil
}

// List implements Backend.
func (b *SQLiteBackend) List() ([]Action, error) {
	rows, err := b.db.Query(
		`SELECT session, token, capability, args, created_at, expires_at
		 FROM pending_actions ORDER BY session`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAction(s scanner) (Action, error) {
	var a Action
	var kind, args, created, expires string
	if err := s.Scan(&a.Session, &a.Token, &kind, &args, &created, &expires); err != nil {
		return Action{}, err
	}
	a.Kind = capability.Kind(kind)
	if err := json.Unmarshal([]byte(args), &a.Args); err != nil {
		return Action{}, fmt.Errorf("decode args: %w", err)
	}
	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Action{}, fmt.Errorf("parse created_at: %w", err)
	}
	if expires != "" {
		if a.ExpiresAt, err = time.Parse(time.RFC3339Nano, expires); err != nil {
			return Action{}, fmt.Errorf("parse expires_at: %w", err)
		}
	}
	return a, nil
}
