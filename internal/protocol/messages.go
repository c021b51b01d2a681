package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTurn    MessageType = "client_turn"
	TypeClientControl MessageType = "client_control"
	TypeTurnResolved  MessageType = "turn_resolved"
	TypeSpeakerSwitch MessageType = "speaker_switched"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Client control actions.
const (
	ActionSwitchUser = "switch_user"
	ActionEnd        = "end"
	ActionPing       = "ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTurn carries one utterance: its transcript and, optionally, the
// audio it was transcribed from.
type ClientTurn struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id,omitempty"`
	Text        string      `json:"text"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	User      string      `json:"user,omitempty"`
}

type Signal struct {
	Source      string  `json:"source"`
	CandidateID string  `json:"candidate_id,omitempty"`
	Candidate   string  `json:"candidate,omitempty"`
	Raw         float64 `json:"raw"`
	Weight      float64 `json:"weight"`
}

type TurnResolved struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name"`
	Confidence  float64     `json:"confidence"`
	IsNewUser   bool        `json:"is_new_user"`
	Outcome     string      `json:"outcome"`
	Signals     []Signal    `json:"signals,omitempty"`
	Context     string      `json:"context"`
	MemoryIDs   []string    `json:"memory_ids,omitempty"`
}

type SpeakerSwitched struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTurn:
		var msg ClientTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || (strings.TrimSpace(msg.Text) == "" && msg.AudioBase64 == "") {
			return nil, errors.New("invalid client_turn")
		}
		if msg.AudioBase64 != "" && msg.SampleRate < 0 {
			return nil, errors.New("invalid client_turn sample_rate")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionSwitchUser:
			if strings.TrimSpace(msg.User) == "" {
				return nil, errors.New("client_control switch_user needs user")
			}
		case ActionEnd, ActionPing:
		default:
			return nil, fmt.Errorf("unknown client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
