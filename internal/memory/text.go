package memory

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"all": {}, "any": {}, "can": {}, "was": {}, "were": {}, "our": {}, "out": {},
	"has": {}, "had": {}, "have": {}, "his": {}, "her": {}, "its": {}, "she": {},
	"him": {}, "they": {}, "them": {}, "this": {}, "that": {}, "with": {},
	"from": {}, "what": {}, "when": {}, "who": {}, "how": {}, "why": {},
	"did": {}, "does": {}, "doing": {}, "just": {}, "about": {}, "into": {},
	"your": {}, "yours": {}, "there": {}, "their": {}, "then": {}, "than": {},
	"been": {}, "being": {}, "also": {}, "very": {}, "some": {}, "would": {},
	"could": {}, "should": {}, "will": {}, "shall": {}, "i'm": {}, "it's": {},
}

// Terms lowercases text, strips punctuation and drops short and stop words.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if len([]rune(f)) <= 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

var (
	strongEmotions   = []string{"frustrated", "angry", "sad", "happy", "stressed"}
	criticalKeywords = []string{"urgent", "important", "critical", "emergency", "asap"}
	highKeywords     = []string{"problem", "help", "need", "want", "would like", "remember"}
)

// DetermineImportance grades a user utterance by emotion, keywords and length.
func DetermineImportance(text string, emotions []string) Importance {
	for _, e := range emotions {
		for _, strong := range strongEmotions {
			if strings.EqualFold(e, strong) {
				return ImportanceHigh
			}
		}
	}
	lower := strings.ToLower(text)
	for _, k := range criticalKeywords {
		if strings.Contains(lower, k) {
			return ImportanceCritical
		}
	}
	for _, k := range highKeywords {
		if strings.Contains(lower, k) {
			return ImportanceHigh
		}
	}
	switch n := len([]rune(text)); {
	case n > 100:
		return ImportanceMedium
	case n < 20:
		return ImportanceLow
	}
	return ImportanceMedium
}
