// Package signals turns one conversational turn into weak, per-candidate
// identity evidence. Every extractor is a pure function of the turn and a
// snapshot of the known profiles; fusing the evidence is left to the
// identity package.
package signals

import (
	"sort"
	"time"

	"github.com/ent0n29/rapport/internal/profile"
)

type Source string

const (
	SourceVoice      Source = "voice"
	SourceTextStyle  Source = "text_style"
	SourceContext    Source = "context"
	SourceSelfID     Source = "self_id"
	SourceContinuity Source = "continuity"
)

// Sources lists every source in fusion order.
var Sources = []Source{SourceVoice, SourceTextStyle, SourceContext, SourceSelfID, SourceContinuity}

// Turn is one user utterance as seen by the extractors.
type Turn struct {
	ID         string
	SessionID  string
	Text       string
	Audio      []byte
	SampleRate int
	At         time.Time
}

// Score is one piece of evidence that CandidateID produced the turn. An empty
// CandidateID names a user that does not exist yet.
type Score struct {
	Source        Source  `json:"source"`
	CandidateID   string  `json:"candidate_id,omitempty"`
	CandidateName string  `json:"candidate_name,omitempty"`
	Raw           float64 `json:"raw"`
	Weight        float64 `json:"weight"`
}

type Extractor interface {
	Source() Source
	Extract(turn Turn, profiles []*profile.Profile) []Score
}

// Options tunes the stock extractor set.
type Options struct {
	MinVoiceScore     float64
	SelfIDScore       float64
	ContinuityWindow  int
	ContinuityTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MinVoiceScore:     0.3,
		SelfIDScore:       0.95,
		ContinuityWindow:  profile.DefaultContinuityWindow,
		ContinuityTimeout: 10 * time.Minute,
	}
}

// NewSet returns one extractor per source, in Sources order.
func NewSet(opts Options) []Extractor {
	return []Extractor{
		Voice{MinScore: opts.MinVoiceScore},
		TextStyle{},
		ContextualClue{},
		SelfIdentification{Score: opts.SelfIDScore},
		Continuity{Window: opts.ContinuityWindow, Timeout: opts.ContinuityTimeout},
	}
}

func sortScores(scores []Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].CandidateID != scores[j].CandidateID {
			return scores[i].CandidateID < scores[j].CandidateID
		}
		return scores[i].CandidateName < scores[j].CandidateName
	})
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
