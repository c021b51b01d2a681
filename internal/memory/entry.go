// Package memory is the contextual memory engine: validated entries with
// type-dependent decay, relevance scoring, reinforcement on retrieval and
// emotional-memory hygiene.
package memory

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMissingEmotionalContext rejects emotional entries that carry no event,
	// person or temporal context.
	ErrMissingEmotionalContext = errors.New("memory: emotional entry requires event, person or temporal context")
	ErrMissingEmotions         = errors.New("memory: emotional entry requires at least one emotion")
	ErrEmptyContent            = errors.New("memory: content is empty")
	ErrNotFound                = errors.New("memory: entry not found")
)

type Type string

const (
	TypeNormal    Type = "normal"
	TypeEmotional Type = "emotional"
)

// Kind records where an entry came from.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindFact         Kind = "fact"
	KindEvent        Kind = "event"
)

type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
	ImportanceTrivial  Importance = "trivial"
)

// BaseScore is the importance term of the relevance formula.
func (i Importance) BaseScore() float64 {
	switch i {
	case ImportanceCritical:
		return 1.0
	case ImportanceHigh:
		return 0.8
	case ImportanceLow:
		return 0.4
	case ImportanceTrivial:
		return 0.2
	default:
		return 0.6
	}
}

func (i Importance) rank() int {
	switch i {
	case ImportanceCritical:
		return 5
	case ImportanceHigh:
		return 4
	case ImportanceLow:
		return 2
	case ImportanceTrivial:
		return 1
	default:
		return 3
	}
}

// ParseImportance parses a user supplied level. Empty selects medium.
func ParseImportance(s string) (Importance, error) {
	switch imp := Importance(strings.ToLower(strings.TrimSpace(s))); imp {
	case "":
		return ImportanceMedium, nil
	case ImportanceCritical, ImportanceHigh, ImportanceMedium, ImportanceLow, ImportanceTrivial:
		return imp, nil
	default:
		return "", fmt.Errorf("unknown importance %q", s)
	}
}

func parseImportance(s string) Importance {
	switch Importance(strings.ToLower(strings.TrimSpace(s))) {
	case ImportanceCritical:
		return ImportanceCritical
	case ImportanceHigh:
		return ImportanceHigh
	case ImportanceLow:
		return ImportanceLow
	case ImportanceTrivial:
		return ImportanceTrivial
	default:
		return ImportanceMedium
	}
}

const (
	EmotionalDecayRate = 0.15
	NormalDecayRate    = 0.05

	EmotionalReinforcement = 0.05
	NormalReinforcement    = 0.10

	emotionalRecencyHours = 120.0
	normalRecencyHours    = 168.0
)

// Context binds a memory to what happened, who was involved and when.
type Context struct {
	Event           string `json:"event,omitempty"`
	Person          string `json:"person,omitempty"`
	TemporalContext string `json:"temporal_context,omitempty"`
}

// Present reports whether at least one field is set.
func (c Context) Present() bool {
	return strings.TrimSpace(c.Event) != "" ||
		strings.TrimSpace(c.Person) != "" ||
		strings.TrimSpace(c.TemporalContext) != ""
}

// Entry is an immutable-by-convention memory record. Stores hand out copies.
type Entry struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id,omitempty"`
	Content         string     `json:"content"`
	Type            Type       `json:"type"`
	Kind            Kind       `json:"kind"`
	Importance      Importance `json:"importance"`
	Tags            []string   `json:"tags,omitempty"`
	Emotions        []string   `json:"emotions,omitempty"`
	Context         Context    `json:"context"`
	CreatedAt       time.Time  `json:"created_at"`
	DecayFactor     float64    `json:"decay_factor"`
	DecayAnchor     time.Time  `json:"decay_anchor"`
	DecayRatePerDay float64    `json:"decay_rate_per_day"`
	AccessCount     int        `json:"access_count"`
	LastAccessedAt  time.Time  `json:"last_accessed_at"`
	Associations    []string   `json:"associations,omitempty"`
}

// Options configures NewEntry. Zero values pick the type's defaults.
type Options struct {
	Type       Type
	Kind       Kind
	Importance Importance
	Tags       []string
	Emotions   []string
	Context    Context
	Now        time.Time
}

// NewEntry validates and builds an entry. An entry is only ever returned
// fully formed; emotional entries without context fail with
// ErrMissingEmotionalContext.
func NewEntry(userID, content string, opts Options) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, ErrEmptyContent
	}
	typ := opts.Type
	if typ == "" {
		typ = TypeNormal
		if len(opts.Emotions) > 0 {
			typ = TypeEmotional
		}
	}
	emotions := normalizeSet(opts.Emotions)
	if typ == TypeEmotional {
		if !opts.Context.Present() {
			return Entry{}, ErrMissingEmotionalContext
		}
		if len(emotions) == 0 {
			return Entry{}, ErrMissingEmotions
		}
	} else {
		emotions = nil
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	kind := opts.Kind
	if kind == "" {
		kind = KindConversation
	}
	imp := opts.Importance
	if imp == "" {
		imp = ImportanceMedium
	}

	rate := NormalDecayRate
	if typ == TypeEmotional {
		rate = EmotionalDecayRate
	}
	return Entry{
		ID:              uuid.NewString(),
		UserID:          userID,
		Content:         content,
		Type:            typ,
		Kind:            kind,
		Importance:      imp,
		Tags:            normalizeSet(opts.Tags),
		Emotions:        emotions,
		Context:         opts.Context,
		CreatedAt:       now,
		DecayFactor:     1.0,
		DecayAnchor:     now,
		DecayRatePerDay: rate,
		LastAccessedAt:  now,
	}, nil
}

// Validate re-checks the construction invariants. It is used on records
// loaded from storage.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Content) == "" {
		return ErrEmptyContent
	}
	if e.Type == TypeEmotional {
		if !e.Context.Present() {
			return ErrMissingEmotionalContext
		}
		if len(e.Emotions) == 0 {
			return ErrMissingEmotions
		}
	}
	return nil
}

// CurrentDecay is the decay factor at now. It is derived from the stored
// factor and anchor only, so it is stable across restarts and idle periods.
func (e Entry) CurrentDecay(now time.Time) float64 {
	anchor := e.DecayAnchor
	if anchor.IsZero() {
		anchor = e.CreatedAt
	}
	days := now.Sub(anchor).Hours() / 24
	if days < 0 {
		days = 0
	}
	return e.DecayFactor * math.Pow(1-e.DecayRatePerDay, days)
}

// Age is the time since creation.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

func (e Entry) reinforcementRate() float64 {
	if e.Type == TypeEmotional {
		return EmotionalReinforcement
	}
	return NormalReinforcement
}

// reinforce applies a retrieval: the decayed factor grows by the type's
// rate, capped at 1, and becomes the new anchor.
func (e *Entry) reinforce(now time.Time) {
	f := e.CurrentDecay(now) * (1 + e.reinforcementRate())
	if f > 1 {
		f = 1
	}
	e.DecayFactor = f
	e.DecayAnchor = now
	e.AccessCount++
	e.LastAccessedAt = now
}

// Relevance scores the entry against query terms:
// 0.3 importance + 0.4 content + 0.1 tag + 0.1 temporal + 0.1 access.
func (e Entry) Relevance(terms []string, now time.Time) float64 {
	base := e.Importance.BaseScore()

	content := 0.0
	if len(terms) > 0 {
		lower := strings.ToLower(e.Content)
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		content = float64(hits) / float64(len(terms))
	}

	tag := 0.0
	if len(e.Tags) > 0 && len(terms) > 0 {
		hits := 0
		for _, tg := range e.Tags {
			for _, t := range terms {
				if strings.Contains(tg, t) {
					hits++
					break
				}
			}
		}
		tag = float64(hits) / float64(len(e.Tags))
	}

	hours := now.Sub(e.CreatedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	window := normalRecencyHours
	if e.Type == TypeEmotional {
		window = emotionalRecencyHours
	}
	temporal := math.Exp(-hours/window) * e.CurrentDecay(now)

	access := math.Min(1, float64(e.AccessCount)/10)

	score := 0.3*base + 0.4*content + 0.1*tag + 0.1*temporal + 0.1*access
	return math.Min(1, score)
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	e.Tags = append([]string(nil), e.Tags...)
	e.Emotions = append([]string(nil), e.Emotions...)
	e.Associations = append([]string(nil), e.Associations...)
	return e
}

func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
