package signals

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ent0n29/rapport/internal/profile"
)

// selfIDRE only matches at the start of a clause, optionally after a short
// interjection, so reported speech ("she said I am ...") never binds.
var selfIDRE = regexp.MustCompile(`(?i)(?:^|[.!?;]\s*)\s*` +
	`(?:(?:hi|hello|hey|oh|well|ok|okay|yes|yeah|so|um|uh|sorry)(?:\s+there)?[,!.]?\s+)?` +
	`(my name is|my name's|i am|i'm|im|call me|this is|it's|it is)\s+` +
	`(\p{L}+(?:[-']\p{L}+)*)(\s+here\b)?`)

var nextWordRE = regexp.MustCompile(`^\s+(\p{L}+)`)

// notNames are words that commonly follow "I'm" or "this is" without being
// a name.
var notNames = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "not": {}, "so": {}, "just": {}, "very": {}, "really": {},
	"here": {}, "there": {}, "back": {}, "home": {}, "fine": {}, "good": {}, "great": {},
	"ok": {}, "okay": {}, "sure": {}, "sorry": {}, "tired": {}, "happy": {}, "sad": {},
	"busy": {}, "going": {}, "trying": {}, "ready": {}, "done": {}, "glad": {}, "afraid": {},
	"new": {}, "still": {}, "also": {}, "always": {}, "never": {}, "feeling": {}, "looking": {},
	"working": {}, "talking": {}, "calling": {}, "your": {}, "my": {}, "his": {}, "her": {},
	"their": {}, "our": {}, "it": {}, "that": {}, "this": {}, "what": {}, "who": {}, "me": {},
	"you": {}, "i": {}, "hungry": {}, "angry": {}, "stressed": {}, "excited": {}, "well": {},
	"bored": {}, "alone": {}, "sick": {}, "late": {}, "early": {}, "lost": {}, "confused": {},
	"curious": {}, "in": {}, "at": {}, "from": {}, "with": {}, "on": {}, "about": {}, "like": {},
	"awesome": {}, "amazing": {}, "terrible": {}, "crazy": {}, "true": {}, "right": {}, "wrong": {},
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {}, "friday": {}, "saturday": {}, "sunday": {},
	"and": {}, "but": {}, "or": {}, "is": {}, "was": {}, "gonna": {}, "hi": {}, "hello": {},
	"hey": {}, "yes": {}, "no": {}, "yeah": {}, "nope": {}, "one": {}, "all": {}, "now": {}, "only": {},
	"almost": {}, "kind": {}, "sort": {}, "quite": {}, "pretty": {}, "too": {}, "bad": {}, "nice": {},
	"cool": {}, "weird": {}, "upset": {}, "mad": {}, "sleepy": {}, "cold": {}, "hot": {}, "ill": {},
	"worse": {}, "better": {}, "best": {}, "free": {}, "off": {}, "out": {}, "up": {}, "down": {},
	"over": {}, "into": {}, "by": {}, "for": {}, "to": {}, "of": {}, "as": {}, "if": {}, "because": {},
	"how": {}, "why": {}, "where": {}, "when": {}, "everyone": {}, "someone": {}, "nobody": {},
	"male": {}, "female": {}, "married": {}, "single": {}, "divorced": {}, "pregnant": {}, "retired": {},
	"old": {}, "young": {}, "scared": {}, "worried": {}, "nervous": {}, "anxious": {}, "lonely": {},
	"allergic": {}, "interested": {}, "hoping": {}, "thinking": {}, "wondering": {},
	"sorted": {}, "stuck": {}, "awake": {}, "asleep": {}, "fed": {}, "doing": {},
	"leaving": {}, "coming": {}, "heading": {}, "broke": {}, "drunk": {}, "human": {},
	"hurt": {}, "safe": {}, "certain": {}, "positive": {}, "serious": {}, "aware": {}, "able": {},
	"unable": {}, "shy": {}, "calm": {}, "warm": {}, "full": {}, "twenty": {}, "thirty": {}, "forty": {},
}

// notNameGroups are nationalities, languages and religions: "I'm Italian"
// describes the speaker without naming them.
var notNameGroups = map[string]struct{}{
	"american": {}, "british": {}, "english": {}, "scottish": {}, "irish": {}, "welsh": {},
	"canadian": {}, "mexican": {}, "brazilian": {}, "argentinian": {}, "chilean": {}, "peruvian": {},
	"italian": {}, "french": {}, "german": {}, "spanish": {}, "portuguese": {}, "dutch": {},
	"belgian": {}, "swiss": {}, "austrian": {}, "swedish": {}, "norwegian": {}, "danish": {},
	"finnish": {}, "polish": {}, "czech": {}, "greek": {}, "turkish": {}, "russian": {},
	"ukrainian": {}, "romanian": {}, "hungarian": {}, "croatian": {}, "serbian": {},
	"chinese": {}, "japanese": {}, "korean": {}, "vietnamese": {}, "thai": {}, "indian": {},
	"pakistani": {}, "filipino": {}, "indonesian": {}, "australian": {}, "african": {},
	"nigerian": {}, "egyptian": {}, "moroccan": {}, "israeli": {}, "iranian": {}, "arab": {},
	"european": {}, "asian": {}, "latino": {}, "latina": {}, "catholic": {}, "jewish": {},
	"muslim": {}, "buddhist": {}, "hindu": {}, "atheist": {}, "vegan": {}, "vegetarian": {},
}

// relationNouns following a name make it someone else's: "I'm Ana mom".
var relationNouns = map[string]struct{}{
	"friend": {}, "sister": {}, "brother": {}, "mother": {}, "mom": {}, "mum": {}, "father": {},
	"dad": {}, "wife": {}, "husband": {}, "son": {}, "daughter": {}, "boss": {}, "colleague": {},
	"coworker": {}, "partner": {}, "boyfriend": {}, "girlfriend": {}, "cousin": {}, "aunt": {},
	"uncle": {}, "niece": {}, "nephew": {}, "grandma": {}, "grandpa": {}, "assistant": {},
	"neighbor": {}, "neighbour": {}, "roommate": {}, "teacher": {}, "student": {}, "doctor": {},
}

// strongPhrases leave no doubt that a name follows, so lowercase
// transcripts are trusted without the adjective heuristics.
var strongPhrases = map[string]struct{}{
	"my name is": {}, "my name's": {}, "call me": {},
}

// FindSelfIdentification returns the name the speaker gives for themselves.
// Speech transcripts arrive lowercase, so names are returned title-cased.
func FindSelfIdentification(text string) (string, bool) {
	text = strings.ReplaceAll(text, "’", "'")
	for _, m := range selfIDRE.FindAllStringSubmatchIndex(text, -1) {
		phrase := strings.ToLower(text[m[2]:m[3]])
		name := text[m[4]:m[5]]
		hasHere := m[6] >= 0
		if (phrase == "it's" || phrase == "it is") && !hasHere {
			continue
		}
		if possessive(name) || followedByRelation(text[m[5]:]) {
			continue
		}
		_, strong := strongPhrases[phrase]
		strong = strong || hasHere || followedBy(text[m[5]:], "speaking")
		if phrase == "this is" && !strong && isLower(name) {
			continue
		}
		if acceptableName(name, strong) {
			return titleName(name), true
		}
	}
	return "", false
}

func possessive(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), "'s")
}

func nextWord(rest string) string {
	m := nextWordRE.FindStringSubmatch(rest)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

func followedBy(rest, word string) bool { return nextWord(rest) == word }

func followedByRelation(rest string) bool {
	_, ok := relationNouns[nextWord(rest)]
	return ok
}

func isLower(name string) bool {
	first, _ := utf8.DecodeRuneInString(name)
	return !unicode.IsUpper(first)
}

func acceptableName(name string, strong bool) bool {
	if utf8.RuneCountInString(name) < 2 {
		return false
	}
	lower := strings.ToLower(name)
	if _, stop := notNames[lower]; stop {
		return false
	}
	if _, group := notNameGroups[lower]; group {
		return false
	}
	if !isLower(name) || strong {
		return true
	}
	return !looksDescriptive(lower)
}

// looksDescriptive rejects lowercase words shaped like adjectives or verbs
// ("i'm exhausted", "i am thrilled").
func looksDescriptive(word string) bool {
	for _, suffix := range []string{"ing", "ly", "ful", "ous", "less", "able", "ible", "ive", "ish"} {
		if strings.HasSuffix(word, suffix) {
			return true
		}
	}
	return utf8.RuneCountInString(word) >= 6 && strings.HasSuffix(word, "ed") && !strings.HasSuffix(word, "fred")
}

// titleName upper-cases the first letter of each part of an all-lowercase
// or all-uppercase name and keeps mixed case ("McKay") as given.
func titleName(name string) string {
	if name != strings.ToLower(name) && name != strings.ToUpper(name) {
		return name
	}
	runes := []rune(strings.ToLower(name))
	start := true
	for i, r := range runes {
		if start {
			runes[i] = unicode.ToUpper(r)
		}
		start = r == '-' || r == '\''
	}
	return string(runes)
}

// SelfIdentification binds an explicit "I'm X" to the profiles named X. An
// unknown name yields one score with no CandidateID; several profiles with
// the same name yield one score each and leave the choice to fusion.
type SelfIdentification struct {
	Score float64
}

func (SelfIdentification) Source() Source { return SourceSelfID }

func (s SelfIdentification) Extract(turn Turn, profiles []*profile.Profile) []Score {
	name, ok := FindSelfIdentification(turn.Text)
	if !ok {
		return nil
	}
	name = strings.Trim(name, "'-")
	raw := clamp01(s.Score)
	var out []Score
	for _, p := range profiles {
		if strings.EqualFold(p.DisplayName, name) {
			out = append(out, Score{Source: SourceSelfID, CandidateID: p.ID, CandidateName: p.DisplayName, Raw: raw})
		}
	}
	if len(out) == 0 {
		return []Score{{Source: SourceSelfID, CandidateName: name, Raw: raw}}
	}
	sortScores(out)
	return out
}
