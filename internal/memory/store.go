package memory

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxEntries   = 10000
	DefaultSearchLimit  = 10
	DefaultMinRelevance = 0.1
	ContextMinRelevance = 0.2
	maxEventLen         = 100
	emotionalTag        = "emotional"
)

// Store holds every memory entry in process. All writes take the store lock;
// readers receive copies so they never observe a partially built entry.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	retrievals  int
	lastCleanup time.Time
	maxEntries  int
	now         func() time.Time
}

type Option func(*Store)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxEntries bounds the store; 0 disables the bound.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*Entry),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// Add publishes an already constructed entry.
func (s *Store) Add(e Entry) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(e)
	return e.Clone(), nil
}

// Remember builds and stores a single entry using the store clock.
func (s *Store) Remember(userID, content string, opts Options) (Entry, error) {
	if opts.Now.IsZero() {
		opts.Now = s.Now()
	}
	e, err := NewEntry(userID, content, opts)
	if err != nil {
		return Entry{}, err
	}
	return s.Add(e)
}

// TurnInput is one conversational turn to remember.
type TurnInput struct {
	UserID   string
	Text     string
	Reply    string
	Emotions []string
	Tags     []string
	Context  Context
}

// TurnResult lists the entries written for a turn.
type TurnResult struct {
	Turn      Entry
	Emotional *Entry
	Reply     *Entry
}

// StoreTurn records the user's utterance as a normal entry and, when emotions
// were detected, an emotional entry bound to an enriched context. All entries
// are validated before any of them is published.
func (s *Store) StoreTurn(in TurnInput) (TurnResult, error) {
	now := s.Now()
	turn, err := NewEntry(in.UserID, in.Text, Options{
		Type:       TypeNormal,
		Kind:       KindConversation,
		Importance: DetermineImportance(in.Text, in.Emotions),
		Tags:       in.Tags,
		Context:    in.Context,
		Now:        now,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("turn entry: %w", err)
	}

	var res TurnResult
	batch := []Entry{}
	if emotions := normalizeSet(in.Emotions); len(emotions) > 0 {
		ctx := enrichEmotionalContext(in.Text, emotions, in.Context, now)
		emo, err := NewEntry(in.UserID, in.Text, Options{
			Type:       TypeEmotional,
			Kind:       KindEvent,
			Importance: DetermineImportance(in.Text, emotions),
			Tags:       append(append([]string(nil), in.Tags...), emotionalTag),
			Emotions:   emotions,
			Context:    ctx,
			Now:        now,
		})
		if err != nil {
			return TurnResult{}, fmt.Errorf("emotional entry: %w", err)
		}
		turn.Associations = append(turn.Associations, emo.ID)
		batch = append(batch, emo)
		res.Emotional = &emo
	}
	if strings.TrimSpace(in.Reply) != "" {
		reply, err := NewEntry(in.UserID, in.Reply, Options{
			Type:       TypeNormal,
			Kind:       KindConversation,
			Importance: ImportanceMedium,
			Tags:       []string{"reply"},
			Context:    in.Context,
			Now:        now,
		})
		if err != nil {
			return TurnResult{}, fmt.Errorf("reply entry: %w", err)
		}
		turn.Associations = append(turn.Associations, reply.ID)
		batch = append(batch, reply)
		res.Reply = &reply
	}
	res.Turn = turn

	s.mu.Lock()
	s.insertLocked(turn)
	for _, e := range batch {
		s.insertLocked(e)
	}
	s.mu.Unlock()
	return res, nil
}

// StoreEmotional records an explicit emotional event. The event is
// mandatory; the person is optional.
func (s *Store) StoreEmotional(userID, content string, emotions []string, event, person string, importance Importance) (Entry, error) {
	if strings.TrimSpace(event) == "" {
		return Entry{}, fmt.Errorf("%w: event is required", ErrMissingEmotionalContext)
	}
	if importance == "" {
		importance = ImportanceHigh
	}
	now := s.Now()
	tags := append(Terms(event), emotionalTag)
	return s.Remember(userID, content, Options{
		Type:       TypeEmotional,
		Kind:       KindEvent,
		Importance: importance,
		Tags:       tags,
		Emotions:   emotions,
		Context: Context{
			Event:           event,
			Person:          person,
			TemporalContext: now.Format(time.RFC3339),
		},
		Now: now,
	})
}

// LearnFact stores a semantic fact tagged with its category.
func (s *Store) LearnFact(userID, fact, category string, importance Importance) (Entry, error) {
	if strings.TrimSpace(category) == "" {
		category = "general"
	}
	return s.Remember(userID, fact, Options{
		Type:       TypeNormal,
		Kind:       KindFact,
		Importance: importance,
		Tags:       []string{category, "fact", "knowledge"},
	})
}

// Query selects entries for Search.
type Query struct {
	// UserID restricts results to that user's entries plus shared ones
	// (entries without a user). Empty searches everything.
	UserID       string
	Text         string
	Types        []Type
	Limit        int
	MinRelevance float64
}

type Result struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// Search ranks entries by relevance and reinforces the ones it returns.
func (s *Store) Search(q Query) []Result {
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.MinRelevance <= 0 {
		q.MinRelevance = DefaultMinRelevance
	}
	terms := Terms(q.Text)
	now := s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var scored []Result
	for _, e := range s.entries {
		if q.UserID != "" && e.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, e.Type) {
			continue
		}
		score := e.Relevance(terms, now)
		if score < q.MinRelevance {
			continue
		}
		scored = append(scored, Result{Entry: *e, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Entry.CreatedAt.Equal(scored[j].Entry.CreatedAt) {
			return scored[i].Entry.CreatedAt.After(scored[j].Entry.CreatedAt)
		}
		return scored[i].Entry.ID < scored[j].Entry.ID
	})
	if len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}
	for i := range scored {
		e := s.entries[scored[i].Entry.ID]
		e.reinforce(now)
		scored[i].Entry = e.Clone()
	}
	s.retrievals++
	return scored
}

// RelevantContext formats the top memories for an LLM prompt. It returns an
// empty string when nothing is relevant enough.
func (s *Store) RelevantContext(userID, input string, limit int) string {
	if limit <= 0 {
		limit = 5
	}
	results := s.Search(Query{UserID: userID, Text: input, Limit: limit, MinRelevance: ContextMinRelevance})
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories:")
	for _, r := range results {
		b.WriteString("\n- ")
		b.WriteString(r.Entry.Content)
		if r.Entry.Type == TypeEmotional {
			fmt.Fprintf(&b, " (felt %s", strings.Join(r.Entry.Emotions, ", "))
			if r.Entry.Context.Event != "" && r.Entry.Context.Event != r.Entry.Content {
				fmt.Fprintf(&b, " about %s", r.Entry.Context.Event)
			}
			if r.Entry.Context.Person != "" {
				fmt.Fprintf(&b, " with %s", r.Entry.Context.Person)
			}
			b.WriteString(")")
		}
	}
	return b.String()
}

// Get returns a copy of the entry.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.Clone(), nil
}

// List returns the user's entries (all entries for an empty user), oldest first.
func (s *Store) List(userID string) []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()
	sortByCreated(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// CleanupOldEmotional evicts emotional entries older than days. Normal
// entries are never touched. It returns the number removed.
func (s *Store) CleanupOldEmotional(days int) int {
	if days < 0 {
		days = 0
	}
	now := s.Now()
	limit := time.Duration(days) * 24 * time.Hour

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.Type != TypeEmotional {
			continue
		}
		if e.Age(now) > limit {
			delete(s.entries, id)
			removed++
		}
	}
	s.lastCleanup = now
	if removed > 0 {
		log.Printf("memory: emotional cleanup removed %d entries (threshold %d days)", removed, days)
	}
	return removed
}

// Prune keeps at most max entries, dropping the lowest retention scores.
func (s *Store) Prune(max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(max)
}

// DeleteUser removes every entry owned by userID.
func (s *Store) DeleteUser(userID string) int {
	if userID == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.UserID == userID {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns copies of every entry, oldest first.
func (s *Store) Snapshot() []Entry {
	return s.List("")
}

// Restore replaces the store content. Invalid entries are skipped and counted.
func (s *Store) Restore(entries []Entry) (loaded, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.Validate() != nil {
			skipped++
			continue
		}
		c := e.Clone()
		s.entries[c.ID] = &c
		loaded++
	}
	return loaded, skipped
}

func (s *Store) insertLocked(e Entry) {
	c := e.Clone()
	s.entries[c.ID] = &c
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.pruneLocked(s.maxEntries)
	}
}

func (s *Store) pruneLocked(max int) int {
	if max < 0 || len(s.entries) <= max {
		return 0
	}
	now := s.Now()
	type scoredID struct {
		id    string
		score float64
		at    time.Time
	}
	all := make([]scoredID, 0, len(s.entries))
	for id, e := range s.entries {
		all = append(all, scoredID{id: id, score: retentionScore(*e, now), at: e.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score < all[j].score
		}
		return all[i].at.Before(all[j].at)
	})
	drop := len(all) - max
	for _, sc := range all[:drop] {
		delete(s.entries, sc.id)
	}
	s.lastCleanup = now
	log.Printf("memory: retention pruned %d entries (capacity %d)", drop, max)
	return drop
}

// retentionScore ranks entries for capacity eviction by importance, access
// and age (fading over 30 days), scaled by current decay.
func retentionScore(e Entry, now time.Time) float64 {
	imp := float64(e.Importance.rank())
	access := math.Min(5, float64(e.AccessCount))
	days := now.Sub(e.CreatedAt).Hours() / 24
	age := math.Max(1, 5-days/30)
	return (imp*0.5 + access*0.3 + age*0.2) * e.CurrentDecay(now)
}

// enrichEmotionalContext guarantees a temporal anchor and an event for
// emotions detected in free conversation.
func enrichEmotionalContext(text string, emotions []string, base Context, now time.Time) Context {
	out := base
	if strings.TrimSpace(out.TemporalContext) == "" {
		out.TemporalContext = now.Format(time.RFC3339)
	}
	if strings.TrimSpace(out.Event) == "" {
		trimmed := strings.TrimSpace(text)
		if len([]rune(trimmed)) > 10 {
			r := []rune(trimmed)
			if len(r) > maxEventLen {
				r = r[:maxEventLen]
			}
			out.Event = string(r)
		} else {
			out.Event = "conversation with emotion " + emotions[0]
		}
	}
	return out
}

func containsType(types []Type, t Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func sortByCreated(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].ID < es[j].ID
	})
}
