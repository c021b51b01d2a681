package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "documents: versioned JSON records per collection",
		SQL: `
CREATE TABLE documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    version    INTEGER NOT NULL,
    body       BLOB NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (collection, id)
);

CREATE INDEX idx_documents_collection ON documents(collection, updated_at);
`,
	},
}

// SQLiteBackend persists documents in a local SQLite file.
type SQLiteBackend struct {
	db   *sql.DB
	Path string
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	b := &SQLiteBackend{db: db, Path: path}
	if err := b.configurePragmas(); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := b.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := b.db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := b.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (b *SQLiteBackend) SchemaVersion() (int, error) {
	var version int
	err := b.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

func (b *SQLiteBackend) LoadAll(ctx context.Context, collection string) ([]Document, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT id, version, body, updated_at FROM documents WHERE collection = ? ORDER BY id",
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s documents: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d       Document
			updated int64
		)
		if err := rows.Scan(&d.ID, &d.Version, &d.Body, &updated); err != nil {
			return nil, fmt.Errorf("scan %s document: %w", collection, err)
		}
		d.UpdatedAt = time.UnixMilli(updated).UTC()
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s documents: %w", collection, err)
	}
	return docs, nil
}

func (b *SQLiteBackend) SaveAll(ctx context.Context, collection string, docs []Document) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", collection, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO documents (collection, id, version, body, updated_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, collection, d.ID, d.Version, d.Body, now); err != nil {
			return fmt.Errorf("insert %s/%s: %w", collection, d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", collection, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
