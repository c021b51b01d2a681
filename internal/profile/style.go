package profile

import (
	"math"
	"strings"
	"unicode"
)

// PunctuationStyle holds per-character punctuation rates plus casing and
// word-length habits.
type PunctuationStyle struct {
	Periods        float64 `json:"periods"`
	Commas         float64 `json:"commas"`
	Exclamations   float64 `json:"exclamations"`
	Questions      float64 `json:"questions"`
	Ellipsis       float64 `json:"ellipsis"`
	UppercaseRatio float64 `json:"uppercase_ratio"`
	AvgWordLength  float64 `json:"avg_word_length"`
}

// AnalyzePunctuation measures text. Empty text yields the zero style.
func AnalyzePunctuation(text string) PunctuationStyle {
	runes := []rune(text)
	total := float64(len(runes))
	if total == 0 {
		return PunctuationStyle{}
	}
	upper := 0
	for _, r := range runes {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	words := strings.Fields(text)
	avgWord := 0.0
	if len(words) > 0 {
		n := 0
		for _, w := range words {
			n += len([]rune(w))
		}
		avgWord = float64(n) / float64(len(words))
	}
	return PunctuationStyle{
		Periods:        float64(strings.Count(text, ".")) / total,
		Commas:         float64(strings.Count(text, ",")) / total,
		Exclamations:   float64(strings.Count(text, "!")) / total,
		Questions:      float64(strings.Count(text, "?")) / total,
		Ellipsis:       float64(strings.Count(text, "...")) / total,
		UppercaseRatio: float64(upper) / total,
		AvgWordLength:  avgWord,
	}
}

func (s PunctuationStyle) vector() []float64 {
	// Word length is scaled so that it does not swamp the rates.
	return []float64{s.Periods, s.Commas, s.Exclamations, s.Questions, s.Ellipsis, s.UppercaseRatio, s.AvgWordLength / 10}
}

// Similarity is 1 minus the euclidean distance of the two styles, floored at 0.
func (s PunctuationStyle) Similarity(o PunctuationStyle) float64 {
	a, b := s.vector(), o.vector()
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Max(0, 1-math.Sqrt(sum))
}

// Blend returns the running mean after folding in one more sample, where n
// is the number of samples already in s.
func (s PunctuationStyle) Blend(o PunctuationStyle, n int) PunctuationStyle {
	if n <= 0 {
		return o
	}
	a, b := s.vector(), o.vector()
	w := float64(n)
	for i := range a {
		a[i] = (a[i]*w + b[i]) / (w + 1)
	}
	return PunctuationStyle{
		Periods:        a[0],
		Commas:         a[1],
		Exclamations:   a[2],
		Questions:      a[3],
		Ellipsis:       a[4],
		UppercaseRatio: a[5],
		AvgWordLength:  a[6] * 10,
	}
}

// Words splits text into lowercase word tokens.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// AvgSentenceLength is the mean number of words per sentence.
func AvgSentenceLength(text string) float64 {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	count, words := 0, 0
	for _, s := range sentences {
		n := len(Words(s))
		if n == 0 {
			continue
		}
		count++
		words += n
	}
	if count == 0 {
		return 0
	}
	return float64(words) / float64(count)
}
