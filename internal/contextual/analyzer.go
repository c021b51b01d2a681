// Package contextual derives a ContextualSignature from an utterance: topics,
// emotions, formality, time bucket, behavioural flags and personal
// references. Analysis is stateless and safe for concurrent use.
package contextual

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

type Formality string

const (
	Formal       Formality = "formal"
	Informal     Formality = "informal"
	VeryInformal Formality = "very_informal"
)

type Temporal struct {
	Hour      int          `json:"hour"`
	Weekday   time.Weekday `json:"weekday"`
	PartOfDay string       `json:"part_of_day"`
	Weekend   bool         `json:"weekend"`
	Month     time.Month   `json:"month"`
	Season    string       `json:"season"`
}

type Flags struct {
	AsksQuestion      bool `json:"asks_question"`
	Greeting          bool `json:"greeting"`
	Farewell          bool `json:"farewell"`
	Politeness        bool `json:"politeness"`
	Slang             bool `json:"slang"`
	Humor             bool `json:"humor"`
	Urgency           bool `json:"urgency"`
	Repetition        bool `json:"repetition"`
	PersonalReference bool `json:"personal_reference"`
}

type LanguageFeatures struct {
	WordCount        int     `json:"word_count"`
	SentenceCount    int     `json:"sentence_count"`
	QuestionCount    int     `json:"question_count"`
	ExclamationCount int     `json:"exclamation_count"`
	CommaCount       int     `json:"comma_count"`
	DigitCount       int     `json:"digit_count"`
	EmojiCount       int     `json:"emoji_count"`
	AvgWordLength    float64 `json:"avg_word_length"`
	UppercaseRatio   float64 `json:"uppercase_ratio"`
}

// Signature is the contextual reading of one utterance.
type Signature struct {
	Timestamp          time.Time          `json:"timestamp"`
	Topics             map[string]float64 `json:"topics"`
	Emotions           map[string]float64 `json:"emotions"`
	Formality          Formality          `json:"formality"`
	Temporal           Temporal           `json:"temporal"`
	Flags              Flags              `json:"flags"`
	PersonalReferences []string           `json:"personal_references,omitempty"`
	Locations          []string           `json:"locations,omitempty"`
	Language           LanguageFeatures   `json:"language"`
}

// TopicList returns detected topics, strongest first.
func (s Signature) TopicList() []string { return rankKeys(s.Topics) }

// EmotionList returns detected emotions, strongest first.
func (s Signature) EmotionList() []string { return rankKeys(s.Emotions) }

// Describe renders a one-line summary for prompts and logs.
func (s Signature) Describe() string {
	parts := []string{fmt.Sprintf("tone %s", s.Formality)}
	if t := s.TopicList(); len(t) > 0 {
		parts = append(parts, "topics "+strings.Join(t, ", "))
	}
	if e := s.EmotionList(); len(e) > 0 {
		parts = append(parts, "mood "+strings.Join(e, ", "))
	}
	parts = append(parts, fmt.Sprintf("%s %s", strings.ToLower(s.Temporal.Weekday.String()), s.Temporal.PartOfDay))
	if len(s.PersonalReferences) > 0 {
		parts = append(parts, "mentions "+strings.Join(s.PersonalReferences, ", "))
	}
	return strings.Join(parts, "; ")
}

// Analyze reads text at timestamp ts.
func Analyze(text string, ts time.Time) Signature {
	if ts.IsZero() {
		ts = time.Now()
	}
	lower := strings.ToLower(text)
	lang := languageFeatures(text)

	sig := Signature{
		Timestamp: ts,
		Topics:    map[string]float64{},
		Emotions:  map[string]float64{},
		Temporal:  temporalOf(ts),
		Language:  lang,
	}

	norm := math.Max(1, float64(lang.WordCount)*0.1)
	for _, c := range topics {
		if n := c.count(lower); n > 0 {
			sig.Topics[c.name] = math.Min(1, float64(n)*0.5/norm)
		}
	}
	for _, c := range emotions {
		if n := c.count(lower); n > 0 {
			sig.Emotions[c.name] = math.Min(1, float64(n)*0.3)
		}
	}
	// Repeated exclamation is a weak happiness cue unless something negative fired.
	if strings.Contains(text, "!!") && len(sig.Emotions) == 0 {
		sig.Emotions[EmotionHappy] = 0.3
	}

	sig.Formality = detectFormality(text, lower, lang)
	sig.PersonalReferences = personalReferences(lower)
	sig.Locations = locations(text)
	sig.Flags = Flags{
		AsksQuestion:      strings.Contains(text, "?"),
		Greeting:          greetingRE.MatchString(lower),
		Farewell:          farewellRE.MatchString(lower),
		Politeness:        politenessRE.MatchString(lower),
		Slang:             slangRE.MatchString(lower),
		Humor:             humorRE.MatchString(lower),
		Urgency:           urgencyRE.MatchString(lower),
		Repetition:        hasRepetition(lower),
		PersonalReference: len(sig.PersonalReferences) > 0,
	}
	return sig
}

// detectFormality checks very informal, then informal, then formal cues;
// the first level with a cue wins. Without cues punctuation density and
// capitalisation decide.
func detectFormality(text, lower string, lang LanguageFeatures) Formality {
	for _, c := range veryInformalCues {
		if c.count(lower) > 0 {
			return VeryInformal
		}
	}
	if lang.EmojiCount > 0 {
		return VeryInformal
	}
	for _, c := range informalCues {
		if c.count(lower) > 0 {
			return Informal
		}
	}
	for _, c := range formalCues {
		if c.count(lower) > 0 {
			return Formal
		}
	}
	if lang.WordCount == 0 {
		return Informal
	}
	punct := 0
	for _, r := range text {
		if r == '.' || r == ',' || r == ';' || r == ':' || r == '?' {
			punct++
		}
	}
	first, _ := firstLetter(text)
	density := float64(punct) / float64(lang.WordCount)
	if unicode.IsUpper(first) && density >= 0.1 {
		return Formal
	}
	return Informal
}

func firstLetter(text string) (rune, bool) {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return r, true
		}
	}
	return 0, false
}

func temporalOf(ts time.Time) Temporal {
	h := ts.Hour()
	t := Temporal{
		Hour:    h,
		Weekday: ts.Weekday(),
		Weekend: ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday,
		Month:   ts.Month(),
	}
	switch {
	case h >= 6 && h < 12:
		t.PartOfDay = "morning"
	case h >= 12 && h < 18:
		t.PartOfDay = "afternoon"
	case h >= 18 && h < 22:
		t.PartOfDay = "evening"
	default:
		t.PartOfDay = "night"
	}
	switch ts.Month() {
	case time.December, time.January, time.February:
		t.Season = "winter"
	case time.March, time.April, time.May:
		t.Season = "spring"
	case time.June, time.July, time.August:
		t.Season = "summer"
	default:
		t.Season = "autumn"
	}
	return t
}

func languageFeatures(text string) LanguageFeatures {
	words := strings.Fields(text)
	f := LanguageFeatures{
		WordCount:        len(words),
		QuestionCount:    strings.Count(text, "?"),
		ExclamationCount: strings.Count(text, "!"),
		CommaCount:       strings.Count(text, ","),
	}
	letters := 0
	for _, w := range words {
		letters += len([]rune(w))
	}
	if len(words) > 0 {
		f.AvgWordLength = float64(letters) / float64(len(words))
	}
	upper, total := 0, 0
	inTerminal := false
	for _, r := range text {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
		if unicode.IsDigit(r) {
			f.DigitCount++
		}
		if isEmoji(r) {
			f.EmojiCount++
		}
		terminal := r == '.' || r == '!' || r == '?'
		if terminal && !inTerminal {
			f.SentenceCount++
		}
		inTerminal = terminal
	}
	if total > 0 {
		f.UppercaseRatio = float64(upper) / float64(total)
	}
	return f
}

func isEmoji(r rune) bool {
	return (r >= 0x1F600 && r <= 0x1F64F) ||
		(r >= 0x1F300 && r <= 0x1F5FF) ||
		(r >= 0x1F680 && r <= 0x1F6FF) ||
		(r >= 0x1F900 && r <= 0x1F9FF) ||
		(r >= 0x1F1E0 && r <= 0x1F1FF) ||
		(r >= 0x2600 && r <= 0x27BF)
}

func hasRepetition(lower string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] {
			return true
		}
	}
	return false
}

func personalReferences(lower string) []string {
	seen := map[string]struct{}{}
	for _, m := range personalRefRE.FindAllString(lower, -1) {
		seen[m] = struct{}{}
	}
	for _, m := range placeRefRE.FindAllString(lower, -1) {
		seen[m] = struct{}{}
	}
	return sortedSet(seen)
}

func locations(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range locationRE.FindAllStringSubmatch(text, -1) {
		name := m[1]
		first := strings.Fields(name)[0]
		if _, skip := notLocations[first]; skip {
			continue
		}
		seen[name] = struct{}{}
	}
	return sortedSet(seen)
}

func sortedSet(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
