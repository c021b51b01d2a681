package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageTurn(t *testing.T) {
	raw := []byte(`{"type":"client_turn","session_id":"s1","text":"hi, I'm Maria","audio_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	turn, ok := msg.(ClientTurn)
	if !ok {
		t.Fatalf("message type = %T, want ClientTurn", msg)
	}
	if turn.SessionID != "s1" || turn.SampleRate != 16000 || turn.Text != "hi, I'm Maria" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
}

func TestParseClientMessageRejectsEmptyTurn(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_turn","session_id":"s1","text":"  "}`)); err == nil {
		t.Fatalf("expected error for empty turn")
	}
	if _, err := ParseClientMessage([]byte(`{"type":"client_turn","text":"hello"}`)); err == nil {
		t.Fatalf("expected error for missing session")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"switch_user","user":"Maria"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionSwitchUser || control.User != "Maria" {
		t.Fatalf("unexpected control: %+v", control)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"switch_user"}`)); err == nil {
		t.Fatalf("expected error for switch without user")
	}
	if _, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"dance"}`)); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestTurnResolvedShape(t *testing.T) {
	raw, err := json.Marshal(TurnResolved{Type: TypeTurnResolved, SessionID: "s1", TurnID: "t1", UserID: "u1", Confidence: 0.9})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["type"] != "turn_resolved" || got["confidence"] != 0.9 {
		t.Fatalf("unexpected payload: %s", raw)
	}
	if _, ok := got["signals"]; ok {
		t.Fatalf("empty signals should be omitted: %s", raw)
	}
}
