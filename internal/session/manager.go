// Package session tracks open conversations: who is currently speaking in
// each one and when it was last active. Idle sessions are ended by a
// janitor goroutine.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session has ended")
)

type Session struct {
	ID              string    `json:"session_id"`
	Label           string    `json:"label,omitempty"`
	Status          Status    `json:"status"`
	CurrentUserID   string    `json:"current_user_id,omitempty"`
	CurrentUserName string    `json:"current_user_name,omitempty"`
	LastConfidence  float64   `json:"last_confidence"`
	LastTurnID      string    `json:"last_turn_id,omitempty"`
	TurnCount       int       `json:"turn_count"`
	SpeakerSwitches int       `json:"speaker_switches"`
	Speakers        []string  `json:"speakers,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(label, userID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Label:          label,
		Status:         StatusActive,
		CurrentUserID:  userID,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if userID != "" {
		s.Speakers = []string{userID}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// RecordTurn stores the speaker resolved for a turn.
func (m *Manager) RecordTurn(sessionID, turnID, userID, name string, confidence float64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrEnded
	}
	s.setSpeaker(userID, name)
	s.LastConfidence = confidence
	s.LastTurnID = turnID
	s.TurnCount++
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// SwitchSpeaker records a manual change of speaker.
func (m *Manager) SwitchSpeaker(sessionID, userID, name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrEnded
	}
	s.setSpeaker(userID, name)
	s.LastConfidence = 1
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (s *Session) setSpeaker(userID, name string) {
	if s.CurrentUserID != "" && s.CurrentUserID != userID {
		s.SpeakerSwitches++
	}
	s.CurrentUserID = userID
	s.CurrentUserName = name
	if userID != "" && !slices.Contains(s.Speakers, userID) {
		s.Speakers = append(s.Speakers, userID)
	}
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// ForgetUser clears a deleted user from every session.
func (m *Manager) ForgetUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.CurrentUserID == userID {
			s.CurrentUserID = ""
			s.CurrentUserName = ""
		}
		s.Speakers = slices.DeleteFunc(s.Speakers, func(id string) bool { return id == userID })
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// ended sessions stay readable for this many inactivity timeouts
const endedRetention = 10

// expireInactive ends idle sessions and drops long-ended ones.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActivityAt)
		if s.Status != StatusActive {
			if idle >= endedRetention*m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if idle < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	c.Speakers = slices.Clone(s.Speakers)
	return &c
}
