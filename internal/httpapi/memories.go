package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/rapport/internal/memory"
	"github.com/ent0n29/rapport/internal/monitor"
	"github.com/ent0n29/rapport/internal/policy"
)

type createMemoryRequest struct {
	UserID     string         `json:"user_id"`
	Content    string         `json:"content"`
	Type       memory.Type    `json:"type,omitempty"`
	Kind       memory.Kind    `json:"kind,omitempty"`
	Importance string         `json:"importance,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Emotions   []string       `json:"emotions,omitempty"`
	Context    memory.Context `json:"context"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.UserID != "" {
		if _, err := s.profiles.Get(req.UserID); err != nil {
			respondProfileError(w, err)
			return
		}
	}
	content := req.Content
	if s.cfg.RedactPII {
		content, _ = policy.RedactPII(content)
	}
	switch req.Type {
	case "", memory.TypeNormal, memory.TypeEmotional:
	default:
		respondError(w, http.StatusBadRequest, "invalid_type", "unknown memory type "+strconv.Quote(string(req.Type)))
		return
	}
	imp, err := memory.ParseImportance(req.Importance)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_importance", err.Error())
		return
	}
	entry, err := s.memories.Remember(req.UserID, content, memory.Options{
		Type:       req.Type,
		Kind:       req.Kind,
		Importance: imp,
		Tags:       req.Tags,
		Emotions:   req.Emotions,
		Context:    req.Context,
	})
	switch {
	case errors.Is(err, memory.ErrMissingEmotionalContext):
		respondError(w, http.StatusUnprocessableEntity, "missing_emotional_context", err.Error())
		return
	case errors.Is(err, memory.ErrMissingEmotions):
		respondError(w, http.StatusUnprocessableEntity, "missing_emotions", err.Error())
		return
	case errors.Is(err, memory.ErrEmptyContent):
		respondError(w, http.StatusBadRequest, "empty_content", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.metrics.MemoryStored(string(entry.Type))
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := memory.Query{
		UserID: strings.TrimSpace(q.Get("user_id")),
		Text:   q.Get("q"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		query.Limit = n
	}
	if raw := q.Get("min_relevance"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			respondError(w, http.StatusBadRequest, "invalid_min_relevance", "min_relevance must be within [0,1]")
			return
		}
		query.MinRelevance = v
	}
	for _, t := range q["type"] {
		switch memory.Type(t) {
		case memory.TypeNormal, memory.TypeEmotional:
			query.Types = append(query.Types, memory.Type(t))
		default:
			respondError(w, http.StatusBadRequest, "invalid_type", "unknown memory type "+strconv.Quote(t))
			return
		}
	}
	results := s.memories.Search(query)
	if results == nil {
		results = []memory.Result{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleMemoryHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"health":  s.memories.Health(),
		"summary": s.memories.Summary(),
	})
}

type cleanupRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleMemoryCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Days < 0 {
		respondError(w, http.StatusBadRequest, "invalid_days", "days must not be negative")
		return
	}
	if s.monitor == nil {
		days := req.Days
		if days == 0 {
			days = s.cfg.EmotionalRetentionDays
		}
		removed := s.memories.CleanupOldEmotional(days)
		respondJSON(w, http.StatusOK, monitor.Report{
			Trigger:          "manual",
			ThresholdDays:    days,
			EmotionalRemoved: removed,
			Health:           s.memories.Health(),
		})
		return
	}
	report, err := s.monitor.RunCleanup(r.Context(), req.Days)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "monitor_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}
