package signals

import (
	"math"

	"github.com/ent0n29/rapport/internal/profile"
)

// minStyleWords is the shortest turn whose style is worth comparing.
const minStyleWords = 3

// TextStyle compares how the turn is written with each profile's learned
// style: vocabulary containment, sentence length and punctuation habits.
type TextStyle struct{}

func (TextStyle) Source() Source { return SourceTextStyle }

func (TextStyle) Extract(turn Turn, profiles []*profile.Profile) []Score {
	words := profile.Words(turn.Text)
	if len(words) < minStyleWords {
		return nil
	}
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[w] = struct{}{}
	}
	sentLen := profile.AvgSentenceLength(turn.Text)
	punct := profile.AnalyzePunctuation(turn.Text)

	var out []Score
	for _, p := range profiles {
		st := p.TextStyle
		if st.Samples == 0 {
			continue
		}
		known := 0
		for w := range distinct {
			if st.Vocabulary[w] > 0 {
				known++
			}
		}
		vocab := float64(known) / float64(len(distinct))
		raw := 0.5*vocab + 0.25*lengthSimilarity(sentLen, st.AvgSentenceLength) + 0.25*punct.Similarity(st.Punctuation)
		if raw <= 0 {
			continue
		}
		out = append(out, Score{Source: SourceTextStyle, CandidateID: p.ID, CandidateName: p.DisplayName, Raw: clamp01(raw)})
	}
	sortScores(out)
	return out
}

func lengthSimilarity(a, b float64) float64 {
	hi := math.Max(a, b)
	if hi == 0 {
		return 1
	}
	return 1 - math.Abs(a-b)/hi
}
