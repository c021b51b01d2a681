package signals

import (
	"sort"
	"time"

	"github.com/ent0n29/rapport/internal/profile"
)

// Continuity favours whoever spoke last. The most recent speaker scores the
// share of the last Window turns (within Timeout) that were theirs.
type Continuity struct {
	Window  int
	Timeout time.Duration
}

func (Continuity) Source() Source { return SourceContinuity }

type ownedTurn struct {
	owner *profile.Profile
	at    time.Time
}

func (c Continuity) Extract(turn Turn, profiles []*profile.Profile) []Score {
	at := turn.At
	if at.IsZero() {
		at = time.Now()
	}
	var recent []ownedTurn
	for _, p := range profiles {
		for _, r := range p.Continuity {
			if r.At.After(at) {
				continue
			}
			if c.Timeout > 0 && at.Sub(r.At) > c.Timeout {
				continue
			}
			recent = append(recent, ownedTurn{owner: p, at: r.At})
		}
	}
	if len(recent) == 0 {
		return nil
	}
	sort.SliceStable(recent, func(i, j int) bool {
		if !recent[i].at.Equal(recent[j].at) {
			return recent[i].at.After(recent[j].at)
		}
		return recent[i].owner.ID < recent[j].owner.ID
	})
	if c.Window > 0 && len(recent) > c.Window {
		recent = recent[:c.Window]
	}
	last := recent[0].owner
	mine := 0
	for _, r := range recent {
		if r.owner.ID == last.ID {
			mine++
		}
	}
	return []Score{{
		Source:        SourceContinuity,
		CandidateID:   last.ID,
		CandidateName: last.DisplayName,
		Raw:           float64(mine) / float64(len(recent)),
	}}
}

// LastSpeaker returns the profile that owns the most recent turn within
// timeout of at, if any.
func LastSpeaker(profiles []*profile.Profile, at time.Time, timeout time.Duration) *profile.Profile {
	scores := Continuity{Window: 1, Timeout: timeout}.Extract(Turn{At: at}, profiles)
	if len(scores) == 0 {
		return nil
	}
	for _, p := range profiles {
		if p.ID == scores[0].CandidateID {
			return p
		}
	}
	return nil
}
