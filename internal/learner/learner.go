// Package learner folds each attributed turn into the speaker's profile:
// text style, behavioural counters and the personal facts they volunteer.
// Updates only ever add information.
package learner

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ent0n29/rapport/internal/contextual"
	"github.com/ent0n29/rapport/internal/profile"
)

// DefaultConversationGap separates two conversations with the same user.
const DefaultConversationGap = 30 * time.Minute

const maxInterests = 20

// Observation is one turn attributed to a profile.
type Observation struct {
	Text      string
	Signature contextual.Signature
	At        time.Time
}

// Facts are personal details found in a single turn.
type Facts struct {
	Relationships []string `json:"relationships,omitempty"`
	Profession    string   `json:"profession,omitempty"`
	Location      string   `json:"location,omitempty"`
	Interests     []string `json:"interests,omitempty"`
}

func (f Facts) Empty() bool {
	return len(f.Relationships) == 0 && f.Profession == "" && f.Location == "" && len(f.Interests) == 0
}

type Learner struct {
	ConversationGap time.Duration
}

func New() *Learner {
	return &Learner{ConversationGap: DefaultConversationGap}
}

// Apply updates p in place and returns the facts from the turn that the
// profile did not already hold. It must run before the turn is appended to
// the continuity window so that LastActiveAt still holds the previous turn.
func (l *Learner) Apply(p *profile.Profile, obs Observation) Facts {
	at := obs.At
	if at.IsZero() {
		at = time.Now()
	}
	if p.ConversationCount == 0 || at.Sub(p.LastActiveAt) > l.ConversationGap {
		p.ConversationCount++
	}

	learnStyle(&p.TextStyle, obs.Text)

	sig := obs.Signature
	for _, t := range sig.TopicList() {
		p.Preferences.Topics[t]++
	}
	for _, e := range sig.EmotionList() {
		p.Preferences.Emotions[e]++
	}
	if sig.Formality != "" {
		p.Preferences.Formality[string(sig.Formality)]++
	}
	p.Preferences.ActiveHours[at.Hour()]++
	p.Preferences.ActiveWeekdays[at.Weekday()]++

	facts := unknownFacts(p.Personal, ExtractFacts(obs.Text, sig))
	mergeFacts(&p.Personal, facts)
	if sig.Flags.Greeting || sig.Flags.Farewell {
		addPhrase(&p.Personal, obs.Text)
	}
	return facts
}

func learnStyle(st *profile.TextStyle, text string) {
	words := profile.Words(text)
	if len(words) == 0 {
		return
	}
	for _, w := range words {
		if _, known := st.Vocabulary[w]; known || len(st.Vocabulary) < profile.MaxVocabulary {
			st.Vocabulary[w]++
		}
	}
	n := float64(st.Samples)
	st.AvgSentenceLength = (st.AvgSentenceLength*n + profile.AvgSentenceLength(text)) / (n + 1)
	st.Punctuation = st.Punctuation.Blend(profile.AnalyzePunctuation(text), st.Samples)
	st.Samples++
}

var (
	professionRE = regexp.MustCompile(`(?i)\b(?:i work as|i'm working as|i am working as|my job is|i'm employed as)\s+(?:an?\s+)?([a-z]+(?:\s[a-z]+)?)`)
	livingRE     = regexp.MustCompile(`\b[Ii](?:\s+am|'m)?\s+(?:live|lives|living|based|moved)\s+(?:in|to)\s+(\p{Lu}\p{L}+(?:\s\p{Lu}\p{L}+)?)`)
	interestRE   = regexp.MustCompile(`(?i)\bi\s+(?:really\s+)?(?:love|enjoy|like|adore)\s+([a-z]+ing)\b`)

	relationWords = map[string]struct{}{
		"wife": {}, "husband": {}, "mother": {}, "mom": {}, "mum": {}, "father": {}, "dad": {},
		"sister": {}, "brother": {}, "son": {}, "daughter": {}, "kids": {}, "children": {},
		"boyfriend": {}, "girlfriend": {}, "partner": {}, "boss": {}, "colleague": {},
		"coworker": {}, "friend": {}, "dog": {}, "cat": {}, "family": {},
	}
	// words that end a captured profession
	professionStop = map[string]struct{}{"at": {}, "in": {}, "for": {}, "and": {}, "but": {}, "since": {}, "now": {}}
)

// ExtractFacts finds relationships, profession, location and interests the
// speaker states about themselves.
func ExtractFacts(text string, sig contextual.Signature) Facts {
	var f Facts
	for _, ref := range sig.PersonalReferences {
		rel, ok := strings.CutPrefix(ref, "my ")
		if !ok {
			continue
		}
		if _, person := relationWords[rel]; person {
			f.Relationships = append(f.Relationships, rel)
		}
	}
	if m := professionRE.FindStringSubmatch(text); m != nil {
		words := strings.Fields(strings.ToLower(m[1]))
		if _, stop := professionStop[words[len(words)-1]]; stop {
			words = words[:len(words)-1]
		}
		if len(words) > 0 {
			if _, stop := professionStop[words[0]]; !stop {
				f.Profession = strings.Join(words, " ")
			}
		}
	}
	if m := livingRE.FindStringSubmatch(text); m != nil {
		f.Location = m[1]
	}
	for _, m := range interestRE.FindAllStringSubmatch(text, -1) {
		in := strings.ToLower(m[1])
		if !slices.Contains(f.Interests, in) {
			f.Interests = append(f.Interests, in)
		}
	}
	return f
}

func unknownFacts(known profile.Personal, f Facts) Facts {
	var out Facts
	for _, r := range f.Relationships {
		if !slices.Contains(known.Relationships, r) {
			out.Relationships = append(out.Relationships, r)
		}
	}
	if f.Profession != known.Profession {
		out.Profession = f.Profession
	}
	if f.Location != known.Location {
		out.Location = f.Location
	}
	for _, in := range f.Interests {
		if !slices.Contains(known.Interests, in) {
			out.Interests = append(out.Interests, in)
		}
	}
	return out
}

func mergeFacts(p *profile.Personal, f Facts) {
	for _, r := range f.Relationships {
		if !slices.Contains(p.Relationships, r) {
			p.Relationships = append(p.Relationships, r)
		}
	}
	if f.Profession != "" {
		p.Profession = f.Profession
	}
	if f.Location != "" {
		p.Location = f.Location
	}
	for _, in := range f.Interests {
		if len(p.Interests) >= maxInterests {
			break
		}
		if !slices.Contains(p.Interests, in) {
			p.Interests = append(p.Interests, in)
		}
	}
}

// addPhrase keeps short greetings and sign-offs the user habitually says.
func addPhrase(p *profile.Personal, text string) {
	phrase := strings.Join(profile.Words(firstSentence(text)), " ")
	if phrase == "" || len(strings.Fields(phrase)) > 4 || len(p.TypicalPhrases) >= profile.MaxTypicalPhrases {
		return
	}
	if !slices.Contains(p.TypicalPhrases, phrase) {
		p.TypicalPhrases = append(p.TypicalPhrases, phrase)
	}
}

func firstSentence(text string) string {
	if i := strings.IndexAny(text, ".!?,\n"); i >= 0 {
		return text[:i]
	}
	return text
}
