package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists documents in PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rapport_documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			body JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rapport_documents_collection ON rapport_documents (collection, updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (b *PostgresBackend) LoadAll(ctx context.Context, collection string) ([]Document, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, version, body, updated_at FROM rapport_documents
		 WHERE collection=$1 ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s documents: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Version, &d.Body, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s document: %w", collection, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s documents: %w", collection, err)
	}
	return docs, nil
}

func (b *PostgresBackend) SaveAll(ctx context.Context, collection string, docs []Document) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", collection, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM rapport_documents WHERE collection=$1`, collection); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(
			`INSERT INTO rapport_documents (collection, id, version, body, updated_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			collection, d.ID, d.Version, d.Body, now,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert %s documents: %w", collection, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save %s: %w", collection, err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
