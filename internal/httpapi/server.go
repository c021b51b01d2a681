package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/rapport/internal/config"
	"github.com/ent0n29/rapport/internal/memory"
	"github.com/ent0n29/rapport/internal/monitor"
	"github.com/ent0n29/rapport/internal/observability"
	"github.com/ent0n29/rapport/internal/pipeline"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/protocol"
	"github.com/ent0n29/rapport/internal/session"
)

// Deps are the services the API fronts. Monitor may be nil, in which case
// cleanup requests run inline against the memory store.
type Deps struct {
	Sessions *session.Manager
	Pipeline *pipeline.Pipeline
	Profiles *profile.Store
	Memories *memory.Store
	Monitor  *monitor.Monitor
	Metrics  *observability.Metrics
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	pipeline *pipeline.Pipeline
	profiles *profile.Store
	memories *memory.Store
	monitor  *monitor.Monitor
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		pipeline: deps.Pipeline,
		profiles: deps.Profiles,
		memories: deps.Memories,
		monitor:  deps.Monitor,
		metrics:  deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)

	r.Post("/v1/turns", s.handleTurn)
	r.Get("/v1/turns/ws", s.handleTurnWS)

	r.Get("/v1/profiles", s.handleListProfiles)
	r.Get("/v1/profiles/{id}", s.handleGetProfile)
	r.Delete("/v1/profiles/{id}", s.handleDeleteProfile)
	r.Post("/v1/profiles/{id}/switch", s.handleSwitchProfile)
	r.Post("/v1/profiles/{id}/voice", s.handleEnrollVoice)

	r.Post("/v1/memories", s.handleCreateMemory)
	r.Get("/v1/memories/search", s.handleSearchMemories)
	r.Get("/v1/memory/health", s.handleMemoryHealth)
	r.Post("/v1/memory/cleanup", s.handleMemoryCleanup)

	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"storage_mode":  s.storageMode(),
		"redaction":     s.cfg.RedactPII,
		"profile_count": s.profiles.Len(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	payload := map[string]any{
		"status":       "ready",
		"storage_mode": s.storageMode(),
	}
	if s.pipeline == nil {
		status = http.StatusServiceUnavailable
		payload["status"] = "not_ready"
	}
	respondJSON(w, status, payload)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID != "" {
		if _, err := s.profiles.Get(userID); err != nil {
			respondError(w, http.StatusNotFound, "profile_not_found", err.Error())
			return
		}
	}

	sess := s.sessions.Create(strings.TrimSpace(req.Label), userID)
	s.metrics.SessionEvent("created", s.sessions.ActiveCount())

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		Label:           sess.Label,
		Status:          sess.Status,
		CurrentUserID:   sess.CurrentUserID,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.SessionEvent("ended", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) storageMode() string {
	switch {
	case s.cfg.DatabaseURL == "":
		return "in-memory"
	case strings.HasPrefix(s.cfg.DatabaseURL, "postgres"):
		return "postgres"
	default:
		return "sqlite"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientTurn:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.TurnResolved:
		return m.Type, true
	case protocol.SpeakerSwitched:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
