package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/rapport/internal/audio"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/session"
	"github.com/ent0n29/rapport/internal/signals"
	"github.com/ent0n29/rapport/internal/voiceprint"
)

// profileSummary is the listing view of a profile; the full record is
// returned by GET /v1/profiles/{id}.
type profileSummary struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"display_name"`
	Guest             bool      `json:"guest,omitempty"`
	HasVoice          bool      `json:"has_voice"`
	ConversationCount int       `json:"conversation_count"`
	CreatedAt         time.Time `json:"created_at"`
	LastActiveAt      time.Time `json:"last_active_at"`
}

func summarize(p *profile.Profile) profileSummary {
	return profileSummary{
		ID:                p.ID,
		DisplayName:       p.DisplayName,
		Guest:             p.Guest,
		HasVoice:          p.HasVoice(),
		ConversationCount: p.ConversationCount,
		CreatedAt:         p.CreatedAt,
		LastActiveAt:      p.LastActiveAt,
	}
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles := s.profiles.List()
	out := make([]profileSummary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, summarize(p))
	}
	respondJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		respondProfileError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.pipeline.DeleteUser(id)
	if err != nil {
		respondProfileError(w, err)
		return
	}
	s.sessions.ForgetUser(id)
	s.metrics.SetProfiles(s.profiles.Len())
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted":          id,
		"memories_removed": removed,
	})
}

type switchRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSwitchProfile(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	switched, err := s.switchSpeaker(strings.TrimSpace(req.SessionID), chi.URLParam(r, "id"))
	if err != nil {
		respondProfileError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, switched)
}

type enrollRequest struct {
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate,omitempty"`
}

func (s *Server) handleEnrollVoice(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}
	p, err := s.pipeline.EnrollVoice(chi.URLParam(r, "id"), data, req.SampleRate)
	if err != nil {
		respondProfileError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(p))
}

func respondProfileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		respondError(w, http.StatusNotFound, "profile_not_found", err.Error())
	case errors.Is(err, profile.ErrAmbiguous):
		respondError(w, http.StatusConflict, "profile_ambiguous", err.Error())
	case errors.Is(err, signals.ErrNoAudio), errors.Is(err, signals.ErrNoVoicedFrames), errors.Is(err, audio.ErrEmptyAudio), errors.Is(err, audio.ErrUnsupportedAudio):
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
	case errors.Is(err, profile.ErrVoiceSamples), errors.Is(err, voiceprint.ErrTooFewFrames):
		respondError(w, http.StatusUnprocessableEntity, "voice_enrollment_failed", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
