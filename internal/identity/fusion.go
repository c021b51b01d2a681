// Package identity fuses per-source signal scores into one user assignment.
// Fuse is pure: it never creates or updates profiles, so a resolution can be
// discarded without side effects.
package identity

import (
	"math"
	"sort"

	"github.com/ent0n29/rapport/internal/config"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/signals"
)

type Outcome string

const (
	// OutcomeSelfID means an unambiguous self-identification decided the turn.
	OutcomeSelfID Outcome = "self_id"
	// OutcomeWeighted means the best weighted score cleared the threshold.
	OutcomeWeighted Outcome = "weighted"
	// OutcomeTieBreak means two candidates were within epsilon.
	OutcomeTieBreak Outcome = "tie_break"
	// OutcomeFallback means nothing cleared the threshold and the previous
	// speaker was kept at reduced confidence.
	OutcomeFallback Outcome = "fallback"
	// OutcomeBootstrap means no profiles existed yet.
	OutcomeBootstrap Outcome = "bootstrap"
	// OutcomeUnknown means no usable evidence; a guest is created.
	OutcomeUnknown Outcome = "unknown"
)

// Resolution is the verdict for one turn. When IsNewUser is set UserID is
// empty and the commit step creates a profile named DisplayName (a guest
// when DisplayName is empty).
type Resolution struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Confidence  float64         `json:"confidence"`
	Signals     []signals.Score `json:"signals"`
	IsNewUser   bool            `json:"is_new_user"`
	Outcome     Outcome         `json:"outcome"`
}

// Weight returns the configured weight of a source.
func Weight(w config.FusionWeights, s signals.Source) float64 {
	switch s {
	case signals.SourceVoice:
		return w.Voice
	case signals.SourceTextStyle:
		return w.TextStyle
	case signals.SourceContext:
		return w.Context
	case signals.SourceSelfID:
		return w.SelfID
	case signals.SourceContinuity:
		return w.Continuity
	}
	return 0
}

type candidate struct {
	id    string
	name  string
	total float64
}

// Fuse resolves scores gathered from every extractor. continuityID is the
// user who spoke last (empty if none). profiles is the snapshot the scores
// were computed against.
func Fuse(scores []signals.Score, profiles []*profile.Profile, continuityID string, cfg config.FusionConfig) Resolution {
	stamped := stamp(scores, cfg.Weights)
	th := cfg.Thresholds

	if len(profiles) == 0 {
		res := Resolution{Signals: stamped, IsNewUser: true, Outcome: OutcomeBootstrap, Confidence: th.BootstrapConfidence}
		if s, ok := selfIDCandidate(stamped); ok && s.CandidateID == "" {
			res.DisplayName = s.CandidateName
			res.Confidence = s.Raw
		}
		return res
	}

	names := make(map[string]string, len(profiles))
	for _, p := range profiles {
		names[p.ID] = p.DisplayName
	}

	if s, ok := selfIDCandidate(stamped); ok {
		if s.CandidateID == "" {
			return Resolution{DisplayName: s.CandidateName, Confidence: s.Raw, Signals: stamped, IsNewUser: true, Outcome: OutcomeSelfID}
		}
		if _, known := names[s.CandidateID]; known {
			return Resolution{UserID: s.CandidateID, DisplayName: names[s.CandidateID], Confidence: s.Raw, Signals: stamped, Outcome: OutcomeSelfID}
		}
	}

	ranked := rank(stamped, names)
	hasSelfID := false
	for _, s := range stamped {
		if s.Source == signals.SourceSelfID {
			hasSelfID = true
		}
	}

	if len(ranked) == 0 || (ranked[0].total < th.NewUser && !hasSelfID) {
		// Keep the previous speaker at reduced confidence.
		if name, ok := names[continuityID]; ok {
			base := th.NewUser
			for _, c := range ranked {
				if c.id == continuityID {
					base = c.total
				}
			}
			return Resolution{UserID: continuityID, DisplayName: name, Confidence: clamp01(base * th.FallbackFactor), Signals: stamped, Outcome: OutcomeFallback}
		}
		return Resolution{Confidence: th.BootstrapConfidence, Signals: stamped, IsNewUser: true, Outcome: OutcomeUnknown}
	}

	best := ranked[0]
	outcome := OutcomeWeighted
	if len(ranked) > 1 && best.total-ranked[1].total <= th.TieEpsilon {
		outcome = OutcomeTieBreak
		for _, c := range ranked {
			if best.total-c.total > th.TieEpsilon {
				break
			}
			if c.id == continuityID {
				best = c
				break
			}
		}
	}
	return Resolution{UserID: best.id, DisplayName: best.name, Confidence: clamp01(best.total), Signals: stamped, Outcome: outcome}
}

// stamp copies scores with the configured weight of their source, dropping
// sources whose weight is zero.
func stamp(scores []signals.Score, w config.FusionWeights) []signals.Score {
	out := make([]signals.Score, 0, len(scores))
	for _, s := range scores {
		s.Weight = Weight(w, s.Source)
		if s.Weight <= 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// selfIDCandidate returns the self-identification score when exactly one
// candidate was named.
func selfIDCandidate(scores []signals.Score) (signals.Score, bool) {
	var found []signals.Score
	for _, s := range scores {
		if s.Source == signals.SourceSelfID {
			found = append(found, s)
		}
	}
	if len(found) != 1 {
		return signals.Score{}, false
	}
	return found[0], true
}

// rank computes Σ raw×w / Σ w over the sources that fired this turn for each
// known candidate, best first with ties broken by lowest ID.
func rank(scores []signals.Score, names map[string]string) []candidate {
	sums := map[string]float64{}
	denom := 0.0
	// Fixed source order keeps the floating point sums reproducible.
	for _, src := range signals.Sources {
		fired := false
		for _, s := range scores {
			if s.Source != src {
				continue
			}
			if !fired {
				denom += s.Weight
				fired = true
			}
			if _, ok := names[s.CandidateID]; ok {
				sums[s.CandidateID] += s.Raw * s.Weight
			}
		}
	}
	if denom == 0 {
		return nil
	}
	out := make([]candidate, 0, len(sums))
	for id, sum := range sums {
		out = append(out, candidate{id: id, name: names[id], total: sum / denom})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].total != out[j].total {
			return out[i].total > out[j].total
		}
		return out[i].id < out[j].id
	})
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
