package signals

import (
	"strings"

	"github.com/ent0n29/rapport/internal/contextual"
	"github.com/ent0n29/rapport/internal/profile"
)

const (
	relationshipCue = 0.3
	professionCue   = 0.3
	locationCue     = 0.3
	interestCue     = 0.2
	topicAffinity   = 0.2
	hourAffinity    = 0.1
)

// ContextualClue matches what the turn talks about against what each profile
// has told us: relationships, profession, location and interests, plus
// topic and time-of-day habits. Habits alone never produce evidence.
type ContextualClue struct{}

func (ContextualClue) Source() Source { return SourceContext }

func (ContextualClue) Extract(turn Turn, profiles []*profile.Profile) []Score {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return nil
	}
	sig := contextual.Analyze(text, turn.At)
	lower := strings.ToLower(text)
	mentioned := mentionedRelations(sig.PersonalReferences)

	var out []Score
	for _, p := range profiles {
		facts := 0.0
		for _, r := range p.Personal.Relationships {
			if _, ok := mentioned[strings.ToLower(r)]; ok {
				facts += relationshipCue
			}
		}
		if containsWord(lower, p.Personal.Profession) {
			facts += professionCue
		}
		if loc := p.Personal.Location; loc != "" && (containsFold(sig.Locations, loc) || containsWord(lower, loc)) {
			facts += locationCue
		}
		for _, in := range p.Personal.Interests {
			if containsWord(lower, in) {
				facts += interestCue
			}
		}
		topics := topicShare(p.Preferences.Topics, sig.TopicList())
		if facts == 0 && topics == 0 {
			continue
		}
		raw := facts + topicAffinity*topics + hourAffinity*hourShare(p.Preferences.ActiveHours, sig.Temporal.Hour)
		out = append(out, Score{Source: SourceContext, CandidateID: p.ID, CandidateName: p.DisplayName, Raw: clamp01(raw)})
	}
	sortScores(out)
	return out
}

// mentionedRelations strips the possessive from "my wife" style references.
func mentionedRelations(refs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		if rest, ok := strings.CutPrefix(r, "my "); ok {
			out[rest] = struct{}{}
		}
	}
	return out
}

// topicShare is the fraction of the profile's topic history that the turn's
// topics account for.
func topicShare(history map[string]int, topics []string) float64 {
	total := 0
	for _, n := range history {
		total += n
	}
	if total == 0 || len(topics) == 0 {
		return 0
	}
	hit := 0
	for _, t := range topics {
		hit += history[t]
	}
	return float64(hit) / float64(total)
}

// hourShare is how active the user usually is at hour relative to their
// busiest hour.
func hourShare(hours [24]int, hour int) float64 {
	peak := 0
	for _, n := range hours {
		peak = max(peak, n)
	}
	if peak == 0 || hour < 0 || hour > 23 {
		return 0
	}
	return float64(hours[hour]) / float64(peak)
}

func containsWord(lower, phrase string) bool {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(lower[i:], phrase)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(phrase)
		if boundary(lower, start-1) && boundary(lower, end) {
			return true
		}
		i = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 0x80)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
