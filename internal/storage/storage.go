// Package storage persists whole collections of versioned JSON documents.
// Stores keep their working set in memory and use a Backend only to load
// everything at startup and to save snapshots.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	CollectionProfiles = "profiles"
	CollectionMemories = "memories"
)

var ErrClosed = errors.New("storage: backend closed")

// Document is one persisted record. Version is the record schema version the
// owning package uses to pick a decoder.
type Document struct {
	ID        string
	Version   int
	Body      []byte
	UpdatedAt time.Time
}

// Backend loads and replaces whole collections.
type Backend interface {
	LoadAll(ctx context.Context, collection string) ([]Document, error)
	// SaveAll atomically replaces the collection with docs.
	SaveAll(ctx context.Context, collection string, docs []Document) error
	Close() error
}

// NewBackend picks a backend from the database URL: empty keeps documents in
// process, postgres:// or postgresql:// uses pgx, sqlite:// or a bare file
// path uses SQLite.
func NewBackend(ctx context.Context, databaseURL string) (Backend, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewMemoryBackend(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresBackend(ctx, url)
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(url, "sqlite://"))
	default:
		return OpenSQLite(url)
	}
}

func cloneDocs(in []Document) []Document {
	out := make([]Document, len(in))
	for i, d := range in {
		d.Body = append([]byte(nil), d.Body...)
		out[i] = d
	}
	return out
}
