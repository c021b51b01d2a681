package session

import "time"

// CreateRequest defines payload for opening a conversation session.
type CreateRequest struct {
	Label string `json:"label"`
	// UserID optionally pins the expected first speaker.
	UserID string `json:"user_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	Label           string    `json:"label,omitempty"`
	Status          Status    `json:"status"`
	CurrentUserID   string    `json:"current_user_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
