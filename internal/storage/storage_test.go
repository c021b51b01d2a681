package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Version: 2, Body: []byte(`{"x":1}`)},
		{ID: "b", Version: 1, Body: []byte(`{"y":2}`)},
	}
	if err := b.SaveAll(ctx, CollectionProfiles, docs); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if err := b.SaveAll(ctx, CollectionMemories, []Document{{ID: "m", Version: 2, Body: []byte(`{}`)}}); err != nil {
		t.Fatalf("SaveAll(memories) error = %v", err)
	}

	got, err := b.LoadAll(ctx, CollectionProfiles)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[0].Version != 2 || string(got[1].Body) != `{"y":2}` {
		t.Fatalf("unexpected documents: %+v", got)
	}

	// SaveAll replaces the collection.
	if err := b.SaveAll(ctx, CollectionProfiles, docs[1:]); err != nil {
		t.Fatalf("SaveAll(replace) error = %v", err)
	}
	got, _ = b.LoadAll(ctx, CollectionProfiles)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("after replace = %+v, want only b", got)
	}
	mem, _ := b.LoadAll(ctx, CollectionMemories)
	if len(mem) != 1 {
		t.Fatalf("memories collection touched by profiles save: %+v", mem)
	}
}

func TestMemoryBackend(t *testing.T) {
	b := NewMemoryBackend()
	exerciseBackend(t, b)

	// Loaded documents are copies.
	got, _ := b.LoadAll(context.Background(), CollectionProfiles)
	got[0].Body[0] = 'X'
	again, _ := b.LoadAll(context.Background(), CollectionProfiles)
	if again[0].Body[0] == 'X' {
		t.Fatalf("LoadAll returned shared body slice")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := b.LoadAll(context.Background(), CollectionProfiles); !errors.Is(err, ErrClosed) {
		t.Fatalf("LoadAll after close error = %v, want ErrClosed", err)
	}
}

func TestSQLiteBackendInMemory(t *testing.T) {
	b, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer b.Close()

	v, err := b.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("SchemaVersion = %d, want %d", v, len(migrations))
	}
	exerciseBackend(t, b)
}

func TestSQLiteBackendReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rapport.db")
	b, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := b.SaveAll(context.Background(), CollectionMemories, []Document{{ID: "m1", Version: 2, Body: []byte(`{}`)}}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	b.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	docs, err := reopened.LoadAll(context.Background(), CollectionMemories)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "m1" {
		t.Fatalf("docs = %+v, want m1", docs)
	}
}

func TestNewBackendSelectsByURL(t *testing.T) {
	ctx := context.Background()
	b, err := NewBackend(ctx, "")
	if err != nil {
		t.Fatalf("NewBackend(\"\") error = %v", err)
	}
	if _, ok := b.(*MemoryBackend); !ok {
		t.Fatalf("NewBackend(\"\") = %T, want *MemoryBackend", b)
	}

	path := filepath.Join(t.TempDir(), "x.db")
	b, err = NewBackend(ctx, "sqlite://"+path)
	if err != nil {
		t.Fatalf("NewBackend(sqlite) error = %v", err)
	}
	defer b.Close()
	sb, ok := b.(*SQLiteBackend)
	if !ok || sb.Path != path {
		t.Fatalf("NewBackend(sqlite) = %T %+v", b, b)
	}
}
