package profile

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/rapport/internal/voiceprint"
)

var (
	ErrNotFound     = errors.New("profile not found")
	ErrAmbiguous    = errors.New("profile name matches more than one user")
	ErrEmptyName    = errors.New("profile name is empty")
	ErrImmutableID  = errors.New("profile id cannot change")
	ErrVoiceSamples = errors.New("profile: no usable voice samples")
)

// Store is the profile registry. Writes are serialised; every read returns a
// deep copy.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	guests   int
	window   int
	now      func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithContinuityWindow sets how many recent turns each profile keeps.
func WithContinuityWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.window = n
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		profiles: make(map[string]*Profile),
		window:   DefaultContinuityWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// Create registers a profile. An empty name with guest=true gets a
// generated "Guest N" name.
func (s *Store) Create(name string, guest bool) (*Profile, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		if !guest {
			return nil, ErrEmptyName
		}
		s.guests++
		name = fmt.Sprintf("Guest %d", s.guests)
	}
	p := newProfile(uuid.NewString(), name, guest, s.Now())
	s.profiles[p.ID] = p
	log.Printf("profile: created %q (%s)", p.DisplayName, p.ID)
	return p.Clone(), nil
}

func (s *Store) Get(id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// List returns every profile, oldest first.
func (s *Store) List() []*Profile {
	s.mu.RLock()
	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()
	sortProfiles(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// FindByName returns every profile whose display name matches
// case-insensitively, oldest first.
func (s *Store) FindByName(name string) []*Profile {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s.mu.RLock()
	var out []*Profile
	for _, p := range s.profiles {
		if strings.EqualFold(p.DisplayName, name) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()
	sortProfiles(out)
	return out
}

// Resolve finds a profile by ID or by unique display name.
func (s *Store) Resolve(identifier string) (*Profile, error) {
	if p, err := s.Get(identifier); err == nil {
		return p, nil
	}
	matches := s.FindByName(identifier)
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, ErrAmbiguous
	}
}

// Update applies fn to a copy of the profile and publishes the copy only if
// fn succeeds.
func (s *Store) Update(id string, fn func(*Profile) error) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.ID != id {
		return nil, ErrImmutableID
	}
	next.ensureMaps()
	s.profiles[id] = next
	return next.Clone(), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.profiles, id)
	log.Printf("profile: deleted %q (%s)", p.DisplayName, id)
	return nil
}

// RecordTurn marks the profile active and appends the turn to its
// continuity window.
func (s *Store) RecordTurn(id, turnID string, at time.Time) (*Profile, error) {
	if at.IsZero() {
		at = s.Now()
	}
	return s.Update(id, func(p *Profile) error {
		p.LastActiveAt = at
		p.Continuity = append(p.Continuity, TurnRef{TurnID: turnID, At: at})
		if len(p.Continuity) > s.window {
			p.Continuity = append([]TurnRef(nil), p.Continuity[len(p.Continuity)-s.window:]...)
		}
		return nil
	})
}

// EnrollVoice trains or adapts the profile's voice model from feature frames.
func (s *Store) EnrollVoice(id string, frames [][]float64) (*Profile, error) {
	if len(frames) == 0 {
		return nil, ErrVoiceSamples
	}
	return s.Update(id, func(p *Profile) error {
		m, err := voiceprint.Adapt(p.Voice, frames)
		if err != nil {
			return fmt.Errorf("enroll voice for %s: %w", id, err)
		}
		p.Voice = m
		return nil
	})
}

// Snapshot returns copies of every profile.
func (s *Store) Snapshot() []*Profile {
	return s.List()
}

// Restore replaces the registry content.
func (s *Store) Restore(profiles []*Profile) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make(map[string]*Profile, len(profiles))
	s.guests = 0
	for _, p := range profiles {
		if p == nil || p.ID == "" {
			continue
		}
		c := p.Clone()
		c.ensureMaps()
		s.profiles[c.ID] = c
		if n, ok := guestNumber(c.DisplayName); ok && n > s.guests {
			s.guests = n
		}
	}
	return len(s.profiles)
}

// guestNumber parses a generated "Guest N" name.
func guestNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "Guest ")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func sortProfiles(ps []*Profile) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
