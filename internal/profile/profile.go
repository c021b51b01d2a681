// Package profile holds user profiles: learned text style, behavioural
// preferences, personal facts, an optional voice model and the continuity
// window used to attribute consecutive turns.
package profile

import (
	"sort"
	"time"

	"github.com/ent0n29/rapport/internal/voiceprint"
)

const (
	// MaxVocabulary bounds the learned vocabulary. Once full, new words are
	// ignored; known words keep counting.
	MaxVocabulary = 500
	// MaxTypicalPhrases bounds Personal.TypicalPhrases.
	MaxTypicalPhrases = 20
	// DefaultContinuityWindow is how many recent turns each profile remembers.
	DefaultContinuityWindow = 10
)

// TextStyle is the running model of how a user writes.
type TextStyle struct {
	Vocabulary        map[string]int   `json:"vocabulary"`
	AvgSentenceLength float64          `json:"avg_sentence_length"`
	Punctuation       PunctuationStyle `json:"punctuation"`
	Samples           int              `json:"samples"`
}

// Preferences are frequency counters learned from turns.
type Preferences struct {
	Topics         map[string]int `json:"topics"`
	Emotions       map[string]int `json:"emotions"`
	Formality      map[string]int `json:"formality"`
	ActiveHours    [24]int        `json:"active_hours"`
	ActiveWeekdays [7]int         `json:"active_weekdays"`
}

// FormalityBaseline is the most frequent formality level, or "" when none
// has been observed. Ties resolve alphabetically.
func (p Preferences) FormalityBaseline() string {
	best, bestN := "", 0
	keys := make([]string, 0, len(p.Formality))
	for k := range p.Formality {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if n := p.Formality[k]; n > bestN {
			best, bestN = k, n
		}
	}
	return best
}

// TopTopics returns up to n topics ordered by frequency.
func (p Preferences) TopTopics(n int) []string {
	return topKeys(p.Topics, n)
}

// Personal holds facts the user has volunteered about themselves.
type Personal struct {
	Relationships  []string `json:"relationships,omitempty"`
	Profession     string   `json:"profession,omitempty"`
	Location       string   `json:"location,omitempty"`
	Interests      []string `json:"interests,omitempty"`
	TypicalPhrases []string `json:"typical_phrases,omitempty"`
}

// TurnRef marks one turn attributed to a profile.
type TurnRef struct {
	TurnID string    `json:"turn_id"`
	At     time.Time `json:"at"`
}

type Profile struct {
	ID                string            `json:"id"`
	DisplayName       string            `json:"display_name"`
	Guest             bool              `json:"guest,omitempty"`
	TextStyle         TextStyle         `json:"text_style"`
	Voice             *voiceprint.Model `json:"voice,omitempty"`
	Preferences       Preferences       `json:"preferences"`
	Personal          Personal          `json:"personal"`
	CreatedAt         time.Time         `json:"created_at"`
	LastActiveAt      time.Time         `json:"last_active_at"`
	ConversationCount int               `json:"conversation_count"`
	Continuity        []TurnRef         `json:"continuity,omitempty"`
}

// HasVoice reports whether a trained voice model is attached.
func (p *Profile) HasVoice() bool {
	return p != nil && p.Voice.Trained()
}

// LastTurnAt is the time of the most recent turn in the continuity window.
func (p *Profile) LastTurnAt() time.Time {
	var last time.Time
	for _, r := range p.Continuity {
		if r.At.After(last) {
			last = r.At
		}
	}
	return last
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.TextStyle.Vocabulary = cloneCounts(p.TextStyle.Vocabulary)
	c.Preferences.Topics = cloneCounts(p.Preferences.Topics)
	c.Preferences.Emotions = cloneCounts(p.Preferences.Emotions)
	c.Preferences.Formality = cloneCounts(p.Preferences.Formality)
	c.Voice = p.Voice.Clone()
	c.Personal.Relationships = append([]string(nil), p.Personal.Relationships...)
	c.Personal.Interests = append([]string(nil), p.Personal.Interests...)
	c.Personal.TypicalPhrases = append([]string(nil), p.Personal.TypicalPhrases...)
	c.Continuity = append([]TurnRef(nil), p.Continuity...)
	return &c
}

func newProfile(id, name string, guest bool, now time.Time) *Profile {
	return &Profile{
		ID:          id,
		DisplayName: name,
		Guest:       guest,
		TextStyle:   TextStyle{Vocabulary: map[string]int{}},
		Preferences: Preferences{
			Topics:    map[string]int{},
			Emotions:  map[string]int{},
			Formality: map[string]int{},
		},
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// ensureMaps fills nil maps on decoded or hand-built profiles.
func (p *Profile) ensureMaps() {
	if p.TextStyle.Vocabulary == nil {
		p.TextStyle.Vocabulary = map[string]int{}
	}
	if p.Preferences.Topics == nil {
		p.Preferences.Topics = map[string]int{}
	}
	if p.Preferences.Emotions == nil {
		p.Preferences.Emotions = map[string]int{}
	}
	if p.Preferences.Formality == nil {
		p.Preferences.Formality = map[string]int{}
	}
}

func cloneCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func topKeys(m map[string]int, n int) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
