package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/rapport/internal/pipeline"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/protocol"
	"github.com/ent0n29/rapport/internal/session"
)

// turnError carries the HTTP status and code a failed turn maps to.
type turnError struct {
	status int
	code   string
	err    error
}

func (e *turnError) Error() string { return e.err.Error() }

func (e *turnError) Unwrap() error { return e.err }

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req protocol.ClientTurn
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Type = protocol.TypeClientTurn
	resolved, err := s.runTurn(r.Context(), req)
	if err != nil {
		var te *turnError
		if errors.As(err, &te) {
			respondError(w, te.status, te.code, te.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resolved)
}

// runTurn attributes one turn and, when it belongs to a session, records the
// resolved speaker on the session.
func (s *Server) runTurn(ctx context.Context, msg protocol.ClientTurn) (protocol.TurnResolved, error) {
	sessionID := strings.TrimSpace(msg.SessionID)
	if sessionID != "" {
		sess, err := s.sessions.Get(sessionID)
		if err != nil {
			return protocol.TurnResolved{}, &turnError{http.StatusNotFound, "session_not_found", err}
		}
		if sess.Status != session.StatusActive {
			return protocol.TurnResolved{}, &turnError{http.StatusConflict, "session_ended", session.ErrEnded}
		}
	}

	req := pipeline.Request{
		SessionID:  sessionID,
		TurnID:     strings.TrimSpace(msg.TurnID),
		Text:       msg.Text,
		SampleRate: msg.SampleRate,
	}
	if msg.TSMs > 0 {
		req.At = time.UnixMilli(msg.TSMs).UTC()
	}
	if msg.AudioBase64 != "" {
		audioData, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
		if err != nil {
			return protocol.TurnResolved{}, &turnError{http.StatusBadRequest, "invalid_audio", err}
		}
		req.Audio = audioData
	}

	res, err := s.pipeline.ProcessTurn(ctx, req)
	switch {
	case errors.Is(err, pipeline.ErrEmptyTurn):
		return protocol.TurnResolved{}, &turnError{http.StatusBadRequest, "empty_turn", err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return protocol.TurnResolved{}, &turnError{http.StatusServiceUnavailable, "turn_abandoned", err}
	case err != nil:
		return protocol.TurnResolved{}, err
	}

	if sessionID != "" {
		r := res.Resolution
		if _, err := s.sessions.RecordTurn(sessionID, res.TurnID, r.UserID, r.DisplayName, r.Confidence); err != nil {
			// The turn is already committed; the session just missed it.
			log.Printf("httpapi: session %s did not record turn %s: %v", sessionID, res.TurnID, err)
		}
	}
	return turnResolved(sessionID, res), nil
}

func turnResolved(sessionID string, res pipeline.Result) protocol.TurnResolved {
	r := res.Resolution
	out := protocol.TurnResolved{
		Type:        protocol.TypeTurnResolved,
		SessionID:   sessionID,
		TurnID:      res.TurnID,
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		Confidence:  r.Confidence,
		IsNewUser:   r.IsNewUser,
		Outcome:     string(r.Outcome),
		Context:     res.Context,
		MemoryIDs:   res.MemoryIDs,
	}
	for _, sc := range r.Signals {
		out.Signals = append(out.Signals, protocol.Signal{
			Source:      string(sc.Source),
			CandidateID: sc.CandidateID,
			Candidate:   sc.CandidateName,
			Raw:         sc.Raw,
			Weight:      sc.Weight,
		})
	}
	return out
}

func (s *Server) switchSpeaker(sessionID, identifier string) (protocol.SpeakerSwitched, error) {
	p, err := s.pipeline.Switch(identifier)
	if err != nil {
		return protocol.SpeakerSwitched{}, err
	}
	if sessionID != "" {
		if _, err := s.sessions.SwitchSpeaker(sessionID, p.ID, p.DisplayName); err != nil {
			return protocol.SpeakerSwitched{}, err
		}
		s.metrics.SessionEvent("speaker_switched", s.sessions.ActiveCount())
	}
	return protocol.SpeakerSwitched{
		Type:        protocol.TypeSpeakerSwitch,
		SessionID:   sessionID,
		UserID:      p.ID,
		DisplayName: p.DisplayName,
	}, nil
}

func (s *Server) handleTurnWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", session.ErrEnded.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected", s.sessions.ActiveCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSWriteError("write_json")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessage("outbound", string(t))
				}
			}
		}
	}()

	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}
	sendError := func(code string, retryable bool, err error) bool {
		return send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Source:    "gateway",
			Retryable: retryable,
			Detail:    err.Error(),
		})
	}

	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ready"})

	conn.SetReadLimit(8 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if !sendError("invalid_client_message", false, err) {
				break
			}
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}

		switch m := parsed.(type) {
		case protocol.ClientTurn:
			if m.SessionID != sessionID {
				sendError("session_mismatch", false, errors.New("message session_id does not match the connection"))
				continue
			}
			resolved, err := s.runTurn(ctx, m)
			if err != nil {
				var te *turnError
				code := "turn_failed"
				if errors.As(err, &te) {
					code = te.code
				}
				if !sendError(code, code == "turn_abandoned", err) {
					break readLoop
				}
				continue
			}
			if !send(resolved) {
				break readLoop
			}
		case protocol.ClientControl:
			if m.SessionID != sessionID {
				sendError("session_mismatch", false, errors.New("message session_id does not match the connection"))
				continue
			}
			switch m.Action {
			case protocol.ActionSwitchUser:
				switched, err := s.switchSpeaker(sessionID, m.User)
				if err != nil {
					code := "switch_failed"
					if errors.Is(err, profile.ErrNotFound) || errors.Is(err, profile.ErrAmbiguous) {
						code = "profile_not_resolved"
					}
					sendError(code, false, err)
					continue
				}
				send(switched)
			case protocol.ActionPing:
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "pong"})
			case protocol.ActionEnd:
				if _, err := s.sessions.End(sessionID); err == nil {
					s.metrics.SessionEvent("ended", s.sessions.ActiveCount())
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ended"})
				break readLoop
			}
		}
	}

	// Let the writer flush what is queued before the connection closes.
	close(outbound)
	<-writerDone
	cancel()
	s.metrics.SessionEvent("ws_disconnected", s.sessions.ActiveCount())
}
