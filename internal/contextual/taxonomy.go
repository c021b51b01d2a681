package contextual

import (
	"regexp"
	"sort"
	"strings"
)

// category is one entry of a fixed keyword taxonomy.
type category struct {
	name string
	re   *regexp.Regexp
	// literal markers such as emoji that word boundaries cannot match
	markers []string
}

func wordsRE(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func (c category) count(lower string) int {
	n := len(c.re.FindAllStringIndex(lower, -1))
	for _, m := range c.markers {
		n += strings.Count(lower, m)
	}
	return n
}

const (
	TopicWork          = "work"
	TopicFamily        = "family"
	TopicEntertainment = "entertainment"
	TopicSports        = "sports"
	TopicHealth        = "health"
	TopicTechnology    = "technology"
	TopicFood          = "food"
	TopicTravel        = "travel"

	EmotionHappy      = "happy"
	EmotionSad        = "sad"
	EmotionAngry      = "angry"
	EmotionStressed   = "stressed"
	EmotionSurprised  = "surprised"
	EmotionFrustrated = "frustrated"
)

var topics = []category{
	{name: TopicWork, re: wordsRE("work", "job", "office", "meeting", "project", "client", "boss", "colleague", "coworker", "company", "deadline", "manager", "salary", "shift", "career")},
	{name: TopicFamily, re: wordsRE("family", "kids", "children", "parents", "mother", "mom", "mum", "father", "dad", "wife", "husband", "brother", "sister", "son", "daughter", "grandma", "grandpa", "baby", "wedding", "birthday")},
	{name: TopicEntertainment, re: wordsRE("movie", "film", "series", "show", "music", "song", "game", "book", "cinema", "tv", "netflix", "youtube", "concert", "party", "podcast")},
	{name: TopicSports, re: wordsRE("football", "soccer", "tennis", "running", "gym", "workout", "training", "match", "team", "league", "basketball", "marathon", "cycling")},
	{name: TopicHealth, re: wordsRE("doctor", "hospital", "clinic", "medicine", "treatment", "appointment", "sick", "pain", "fever", "flu", "vaccine", "health", "headache", "therapy", "sleep")},
	{name: TopicTechnology, re: wordsRE("computer", "software", "app", "internet", "phone", "smartphone", "laptop", "code", "coding", "bug", "update", "download", "cloud", "ai", "server", "program")},
	{name: TopicFood, re: wordsRE("food", "eat", "eating", "dinner", "lunch", "breakfast", "cook", "cooking", "recipe", "restaurant", "coffee", "pizza", "hungry")},
	{name: TopicTravel, re: wordsRE("travel", "trip", "flight", "airport", "hotel", "vacation", "holiday", "beach", "visit", "visiting", "abroad", "passport", "train")},
}

var emotions = []category{
	{name: EmotionHappy, re: wordsRE("happy", "glad", "great", "excellent", "fantastic", "wonderful", "awesome", "excited", "love", "delighted", "thrilled"), markers: []string{"😊", "😄", "😃", "🎉", "❤️"}},
	{name: EmotionSad, re: wordsRE("sad", "depressed", "down", "miserable", "terrible", "awful", "heartbroken", "lonely", "upset"), markers: []string{"😢", "😭", "💔", "😞"}},
	{name: EmotionAngry, re: wordsRE("angry", "mad", "furious", "outraged", "livid", "pissed"), markers: []string{"😠", "😡", "🤬"}},
	{name: EmotionStressed, re: wordsRE("stressed", "anxious", "nervous", "worried", "tired", "exhausted", "overwhelmed", "burned out"), markers: []string{"😰", "😨", "😩"}},
	{name: EmotionSurprised, re: wordsRE("surprised", "shocked", "amazed", "impressed", "wow", "whoa", "unbelievable"), markers: []string{"😱", "😲", "🤯"}},
	{name: EmotionFrustrated, re: wordsRE("frustrated", "frustrating", "annoyed", "annoying", "irritated", "fed up", "sick of", "again and again")},
}

var (
	veryInformalCues = []category{
		{name: "slang", re: wordsRE("lol", "lmao", "omg", "wtf", "yo", "sup", "bruh", "rofl", "idk", "tbh")},
		{name: "punct", re: regexp.MustCompile(`!{3,}|\?{3,}|\.{4,}`)},
	}
	informalCues = []category{
		{name: "casual", re: wordsRE("hey", "hi", "hiya", "guys", "cool", "gonna", "wanna", "gotta", "yeah", "yep", "nope", "kinda", "awesome", "dude")},
	}
	formalCues = []category{
		{name: "address", re: wordsRE("sir", "madam", "doctor", "professor", "mr", "mrs", "ms")},
		{name: "courtesy", re: wordsRE("please", "kindly", "regards", "sincerely", "grateful", "would you", "could you", "thank you")},
	}
)

var (
	greetingRE   = wordsRE("hello", "hi", "hey", "good morning", "good afternoon", "good evening", "hiya")
	farewellRE   = wordsRE("bye", "goodbye", "see you", "good night", "later", "take care", "farewell")
	politenessRE = wordsRE("please", "thank you", "thanks", "sorry", "excuse me", "pardon")
	slangRE      = wordsRE("lol", "omg", "cool", "dude", "bruh", "gonna", "wanna", "sup", "lit")
	humorRE      = wordsRE("haha", "hehe", "lol", "lmao", "joke", "funny", "hilarious", "rofl")
	urgencyRE    = wordsRE("urgent", "asap", "quickly", "hurry", "now", "immediately", "emergency", "right away")

	personalRefRE = regexp.MustCompile(`\bmy (wife|husband|mother|mom|mum|father|dad|sister|brother|son|daughter|kids|children|boyfriend|girlfriend|partner|boss|colleague|coworker|team|job|office|company|dog|cat|family|friend|doctor)\b`)
	placeRefRE    = regexp.MustCompile(`\bat (work|home|school|university|the office|the gym|the hospital)\b`)
	locationRE    = regexp.MustCompile(`\b(?:in|from|to|visiting|live in|living in|moved to|based in)\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
)

var notLocations = map[string]struct{}{
	"I": {}, "The": {}, "My": {}, "Monday": {}, "Tuesday": {}, "Wednesday": {}, "Thursday": {},
	"Friday": {}, "Saturday": {}, "Sunday": {}, "January": {}, "February": {}, "March": {},
	"April": {}, "May": {}, "June": {}, "July": {}, "August": {}, "September": {},
	"October": {}, "November": {}, "December": {},
}

// TopicNames lists the topic taxonomy in a fixed order.
func TopicNames() []string {
	out := make([]string, len(topics))
	for i, c := range topics {
		out[i] = c.name
	}
	return out
}

// EmotionNames lists the emotion taxonomy in a fixed order.
func EmotionNames() []string {
	out := make([]string, len(emotions))
	for i, c := range emotions {
		out[i] = c.name
	}
	return out
}

// rankKeys orders a score map by descending score then name.
func rankKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
