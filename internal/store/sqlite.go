package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on a single SQLite database file. The pure-Go
// driver keeps the binary dependency-free; busy_timeout plus transactions
// give the single-writer-per-key discipline the governor and scheduler
// rely on.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS docs (
		family     TEXT NOT NULL,
		key        TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (family, key)
	);
	CREATE TABLE IF NOT EXISTS logs (
		family      TEXT NOT NULL,
		key         TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		value       BLOB NOT NULL,
		appended_at TEXT NOT NULL,
		PRIMARY KEY (family, key, seq)
	);`
	_, err := s.db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// GetDoc returns the document for (family, key) or ErrNotFound.
func (s *SQLite) GetDoc(ctx context.Context, family, key string) (Doc, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, value, updated_at FROM docs WHERE family = ? AND key = ?`, family, key)

	var d Doc
	var updated string
	if err := row.Scan(&d.Seq, &d.Value, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Doc{}, ErrNotFound
		}
		return Doc{}, fmt.Errorf("store: get %s/%s: %w", family, key, err)
	}
	d.Family, d.Key = family, key
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return d, nil
}

// PutDoc writes a document with compare-and-swap semantics.
func (s *SQLite) PutDoc(ctx context.Context, family, key string, value []byte, expect uint64) (uint64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if expect == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO docs (family, key, seq, value, updated_at) VALUES (?, ?, 1, ?, ?)`,
			family, key, value, now)
		if err != nil {
			// UNIQUE violation: document already exists
			return 0, ErrConflict
		}
		return 1, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE docs SET seq = seq + 1, value = ?, updated_at = ? WHERE family = ? AND key = ? AND seq = ?`,
		value, now, family, key, expect)
	if err != nil {
		return 0, fmt.Errorf("store: put %s/%s: %w", family, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: put %s/%s: %w", family, key, err)
	}
	if n == 0 {
		return 0, ErrConflict
	}
	return expect + 1, nil
}

// ListDocs returns every document in a family.
func (s *SQLite) ListDocs(ctx context.Context, family string) ([]Doc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, seq, value, updated_at FROM docs WHERE family = ? ORDER BY key`, family)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", family, err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		d := Doc{Family: family}
		var updated string
		if err := rows.Scan(&d.Key, &d.Seq, &d.Value, &updated); err != nil {
			return nil, fmt.Errorf("store: list %s: %w", family, err)
		}
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Append adds a log entry with the next per-key sequence number.
func (s *SQLite) Append(ctx context.Context, family, key string, value []byte) (Entry, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("store: append %s/%s: %w", family, key, err)
	}
	defer tx.Rollback()

	var seq uint64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM logs WHERE family = ? AND key = ?`, family, key)
	if err := row.Scan(&seq); err != nil {
		return Entry{}, fmt.Errorf("store: append %s/%s: %w", family, key, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO logs (family, key, seq, value, appended_at) VALUES (?, ?, ?, ?, ?)`,
		family, key, seq, value, now.Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, fmt.Errorf("store: append %s/%s: %w", family, key, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("store: append %s/%s: %w", family, key, err)
	}

	return Entry{Family: family, Key: key, Seq: seq, Value: value, AppendedAt: now}, nil
}

// Last returns up to n entries for a key, newest first.
func (s *SQLite) Last(ctx context.Context, family, key string, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, value, appended_at FROM logs WHERE family = ? AND key = ? ORDER BY seq DESC LIMIT ?`,
		family, key, n)
	if err != nil {
		return nil, fmt.Errorf("store: last %s/%s: %w", family, key, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{Family: family, Key: key}
		var appended string
		if err := rows.Scan(&e.Seq, &e.Value, &appended); err != nil {
			return nil, fmt.Errorf("store: last %s/%s: %w", family, key, err)
		}
		e.AppendedAt, _ = time.Parse(time.RFC3339Nano, appended)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Keys returns the distinct log keys in a family.
func (s *SQLite) Keys(ctx context.Context, family string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT key FROM logs WHERE family = ? ORDER BY key`, family)
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", family, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: keys %s: %w", family, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
