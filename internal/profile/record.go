package profile

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

// RecordVersion is the schema written by EncodeRecord. Version 1 is one user
// object from the legacy users.json file, keyed by its user id.
const RecordVersion = 2

var ErrUnknownRecordVersion = errors.New("profile: unknown record version")

func EncodeRecord(p *Profile) (storage.Document, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return storage.Document{}, fmt.Errorf("encode profile %s: %w", p.ID, err)
	}
	return storage.Document{ID: p.ID, Version: RecordVersion, Body: body}, nil
}

func DecodeRecord(doc storage.Document) (*Profile, error) {
	var (
		p   *Profile
		err error
	)
	switch doc.Version {
	case RecordVersion:
		p = &Profile{}
		err = json.Unmarshal(doc.Body, p)
	case 0, 1:
		p, err = decodeV1(doc.ID, doc.Body)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRecordVersion, doc.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", doc.ID, err)
	}
	if p.ID == "" {
		p.ID = doc.ID
	}
	if p.ID == "" || strings.TrimSpace(p.DisplayName) == "" {
		return nil, fmt.Errorf("profile %q: missing id or name", doc.ID)
	}
	p.ensureMaps()
	return p, nil
}

type v1User struct {
	Name               string             `json:"name"`
	CreatedAt          string             `json:"created_at"`
	LastSeen           string             `json:"last_seen"`
	ConversationCount  int                `json:"conversation_count"`
	CommonWords        []string           `json:"common_words"`
	TypicalPhrases     []string           `json:"typical_phrases"`
	PunctuationStyle   map[string]float64 `json:"punctuation_style"`
	KnownRelationships []string           `json:"known_relationships"`
	Interests          []string           `json:"interests"`
	Profession         string             `json:"profession"`
	Location           string             `json:"location"`
}

func decodeV1(id string, body []byte) (*Profile, error) {
	var u v1User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	created := parseLegacyTime(u.CreatedAt)
	p := newProfile(id, strings.TrimSpace(u.Name), false, created)
	if seen := parseLegacyTime(u.LastSeen); !seen.IsZero() {
		p.LastActiveAt = seen
	}
	p.ConversationCount = u.ConversationCount
	for _, w := range u.CommonWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && len(p.TextStyle.Vocabulary) < MaxVocabulary {
			p.TextStyle.Vocabulary[w]++
		}
	}
	if len(u.PunctuationStyle) > 0 {
		ps := u.PunctuationStyle
		p.TextStyle.Punctuation = PunctuationStyle{
			Periods:        ps["periods"],
			Commas:         ps["commas"],
			Exclamations:   ps["exclamations"],
			Questions:      ps["questions"],
			Ellipsis:       ps["ellipsis"],
			UppercaseRatio: ps["uppercase_ratio"],
			AvgWordLength:  ps["avg_word_length"],
		}
		p.TextStyle.Samples = 1
	}
	p.Personal = Personal{
		Relationships:  u.KnownRelationships,
		Profession:     u.Profession,
		Location:       u.Location,
		Interests:      u.Interests,
		TypicalPhrases: u.TypicalPhrases,
	}
	return p, nil
}

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseLegacyTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range legacyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// SaveTo writes every profile to the backend.
func (s *Store) SaveTo(ctx context.Context, b storage.Backend) error {
	profiles := s.Snapshot()
	docs := make([]storage.Document, 0, len(profiles))
	for _, p := range profiles {
		doc, err := EncodeRecord(p)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if err := b.SaveAll(ctx, storage.CollectionProfiles, docs); err != nil {
		return fmt.Errorf("save profiles: %w", err)
	}
	return nil
}

// LoadFrom replaces the registry with the backend's profiles. Corrupt
// records are logged and skipped.
func (s *Store) LoadFrom(ctx context.Context, b storage.Backend) (int, error) {
	docs, err := b.LoadAll(ctx, storage.CollectionProfiles)
	if err != nil {
		return 0, fmt.Errorf("load profiles: %w", err)
	}
	profiles := make([]*Profile, 0, len(docs))
	for _, doc := range docs {
		p, err := DecodeRecord(doc)
		if err != nil {
			log.Printf("profile: skipping stored record %s: %v", doc.ID, err)
			continue
		}
		profiles = append(profiles, p)
	}
	return s.Restore(profiles), nil
}
