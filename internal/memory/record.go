package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/rapport/internal/storage"
)

// RecordVersion is the schema written by EncodeRecord. Version 1 is the flat
// JSON shape of the legacy assistant's memories.json.
const RecordVersion = 2

var ErrUnknownRecordVersion = errors.New("memory: unknown record version")

func EncodeRecord(e Entry) (storage.Document, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return storage.Document{}, fmt.Errorf("encode memory %s: %w", e.ID, err)
	}
	return storage.Document{ID: e.ID, Version: RecordVersion, Body: body}, nil
}

// DecodeRecord decodes and validates a persisted entry of any known version.
func DecodeRecord(doc storage.Document) (Entry, error) {
	var (
		e   Entry
		err error
	)
	switch doc.Version {
	case RecordVersion:
		err = json.Unmarshal(doc.Body, &e)
	case 0, 1:
		e, err = decodeV1(doc.Body)
	default:
		return Entry{}, fmt.Errorf("%w: %d", ErrUnknownRecordVersion, doc.Version)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("decode memory %s: %w", doc.ID, err)
	}
	if e.ID == "" {
		e.ID = doc.ID
	}
	if err := e.Validate(); err != nil {
		return Entry{}, fmt.Errorf("memory %s: %w", e.ID, err)
	}
	return e, nil
}

type v1Record struct {
	ID                 string         `json:"id"`
	Content            string         `json:"content"`
	MemoryType         string         `json:"memory_type"`
	Importance         string         `json:"importance"`
	Tags               []string       `json:"tags"`
	Emotions           []string       `json:"emotions"`
	Context            map[string]any `json:"context"`
	Timestamp          string         `json:"timestamp"`
	AccessCount        int            `json:"access_count"`
	LastAccessed       string         `json:"last_accessed"`
	Associations       []string       `json:"associations"`
	DecayFactor        *float64       `json:"decay_factor"`
	EmotionalDecayRate *float64       `json:"emotional_decay_rate"`
	UserID             string         `json:"user_id"`
}

func decodeV1(body []byte) (Entry, error) {
	var r v1Record
	if err := json.Unmarshal(body, &r); err != nil {
		return Entry{}, err
	}
	created, err := parseLegacyTime(r.Timestamp)
	if err != nil {
		return Entry{}, fmt.Errorf("timestamp: %w", err)
	}
	accessed, err := parseLegacyTime(r.LastAccessed)
	if err != nil {
		accessed = created
	}

	e := Entry{
		ID:             r.ID,
		UserID:         r.UserID,
		Content:        r.Content,
		Type:           TypeNormal,
		Kind:           KindConversation,
		Importance:     parseImportance(r.Importance),
		Tags:           normalizeSet(r.Tags),
		Emotions:       normalizeSet(r.Emotions),
		Context:        contextFromMap(r.Context),
		CreatedAt:      created,
		DecayFactor:    1.0,
		DecayAnchor:    created,
		AccessCount:    r.AccessCount,
		LastAccessedAt: accessed,
		Associations:   r.Associations,
	}
	switch strings.ToLower(r.MemoryType) {
	case "semantic":
		e.Kind = KindFact
	case "emotional":
		e.Kind = KindEvent
		e.Type = TypeEmotional
	}
	if len(e.Emotions) > 0 {
		e.Type = TypeEmotional
	}
	if e.Type == TypeNormal {
		e.Emotions = nil
	}
	if r.DecayFactor != nil {
		e.DecayFactor = clamp01(*r.DecayFactor)
	}
	e.DecayRatePerDay = NormalDecayRate
	if e.Type == TypeEmotional {
		e.DecayRatePerDay = EmotionalDecayRate
	}
	if r.EmotionalDecayRate != nil && *r.EmotionalDecayRate > 0 && *r.EmotionalDecayRate < 1 {
		e.DecayRatePerDay = *r.EmotionalDecayRate
	}
	return e, nil
}

func contextFromMap(m map[string]any) Context {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := m[k]; ok && v != nil {
				if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
					return s
				}
			}
		}
		return ""
	}
	return Context{
		Event:           get("event"),
		Person:          get("person"),
		TemporalContext: get("temporal_context", "time_context"),
	}
}

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseLegacyTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range legacyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SaveTo writes a snapshot of every entry to the backend.
func (s *Store) SaveTo(ctx context.Context, b storage.Backend) error {
	entries := s.Snapshot()
	docs := make([]storage.Document, 0, len(entries))
	for _, e := range entries {
		doc, err := EncodeRecord(e)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if err := b.SaveAll(ctx, storage.CollectionMemories, docs); err != nil {
		return fmt.Errorf("save memories: %w", err)
	}
	return nil
}

// LoadFrom replaces the store content with the backend's memories. Records
// that fail to decode or validate are logged and skipped.
func (s *Store) LoadFrom(ctx context.Context, b storage.Backend) (int, error) {
	docs, err := b.LoadAll(ctx, storage.CollectionMemories)
	if err != nil {
		return 0, fmt.Errorf("load memories: %w", err)
	}
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		e, err := DecodeRecord(doc)
		if err != nil {
			log.Printf("memory: skipping stored record %s: %v", doc.ID, err)
			continue
		}
		entries = append(entries, e)
	}
	loaded, _ := s.Restore(entries)
	return loaded, nil
}
