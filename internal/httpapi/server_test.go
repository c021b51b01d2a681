package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/rapport/internal/config"
	"github.com/ent0n29/rapport/internal/memory"
	"github.com/ent0n29/rapport/internal/observability"
	"github.com/ent0n29/rapport/internal/pipeline"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/protocol"
	"github.com/ent0n29/rapport/internal/session"
	"github.com/ent0n29/rapport/internal/signals"
)

func newTestServer(t *testing.T, name string) *httptest.Server {
	t.Helper()
	metrics := observability.NewMetrics("test_httpapi_" + name + "_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	return newServerWithMetrics(t, metrics)
}

func newServerWithMetrics(t *testing.T, metrics *observability.Metrics) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		EmotionalRetentionDays:   7,
		RedactPII:                true,
	}
	profiles := profile.NewStore()
	memories := memory.NewStore()
	pipe := pipeline.New(profiles, memories, metrics, pipeline.Options{
		Fusion:    config.DefaultFusion(),
		Signals:   signals.DefaultOptions(),
		RedactPII: cfg.RedactPII,
	})
	srv := New(cfg, Deps{
		Sessions: session.NewManager(cfg.SessionInactivityTimeout),
		Pipeline: pipe,
		Profiles: profiles,
		Memories: memories,
		Metrics:  metrics,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(v)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res := postJSON(t, ts.URL+"/v1/sessions", map[string]string{"label": "kitchen"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	decodeBody(t, res, &created)
	if created.SessionID == "" || created.InactivityTTLMS != (2*time.Minute).Milliseconds() {
		t.Fatalf("unexpected create response: %+v", created)
	}
	return created.SessionID
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t, "session")
	id := createSession(t, ts)

	endRes, err := http.Post(ts.URL+"/v1/sessions/"+id+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	var ended session.Session
	decodeBody(t, endRes, &ended)
	if endRes.StatusCode != http.StatusOK || ended.Status != session.StatusEnded {
		t.Fatalf("end = %d %+v", endRes.StatusCode, ended)
	}

	res := postJSON(t, ts.URL+"/v1/turns", protocol.ClientTurn{SessionID: id, Text: "hello"})
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("turn on ended session status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestTurnsResolveAndTrackSpeaker(t *testing.T) {
	ts := newTestServer(t, "turns")
	id := createSession(t, ts)

	res := postJSON(t, ts.URL+"/v1/turns", protocol.ClientTurn{SessionID: id, Text: "Hi, I'm Maria"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d", res.StatusCode)
	}
	var first protocol.TurnResolved
	decodeBody(t, res, &first)
	if first.DisplayName != "Maria" || !first.IsNewUser || first.UserID == "" {
		t.Fatalf("unexpected resolution: %+v", first)
	}

	res = postJSON(t, ts.URL+"/v1/turns", protocol.ClientTurn{SessionID: id, Text: "My name is Joao"})
	var second protocol.TurnResolved
	decodeBody(t, res, &second)
	if second.DisplayName != "Joao" || second.Outcome != "self_id" {
		t.Fatalf("unexpected resolution: %+v", second)
	}

	sessRes, err := http.Get(ts.URL + "/v1/sessions/" + id)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	var sess session.Session
	decodeBody(t, sessRes, &sess)
	if sess.TurnCount != 2 || sess.SpeakerSwitches != 1 || sess.CurrentUserID != second.UserID {
		t.Fatalf("session = %+v", sess)
	}

	sw := postJSON(t, ts.URL+"/v1/profiles/Maria/switch", map[string]string{"session_id": id})
	var switched protocol.SpeakerSwitched
	decodeBody(t, sw, &switched)
	if sw.StatusCode != http.StatusOK || switched.UserID != first.UserID {
		t.Fatalf("switch = %d %+v", sw.StatusCode, switched)
	}

	empty := postJSON(t, ts.URL+"/v1/turns", protocol.ClientTurn{SessionID: id, Text: "  "})
	empty.Body.Close()
	if empty.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty turn status = %d, want %d", empty.StatusCode, http.StatusBadRequest)
	}
}

func TestProfilesListAndDelete(t *testing.T) {
	ts := newTestServer(t, "profiles")
	res := postJSON(t, ts.URL+"/v1/turns", protocol.ClientTurn{Text: "I'm Maria and I love cooking"})
	var turn protocol.TurnResolved
	decodeBody(t, res, &turn)

	listRes, err := http.Get(ts.URL + "/v1/profiles")
	if err != nil {
		t.Fatalf("GET profiles error = %v", err)
	}
	var list struct {
		Profiles []profileSummary `json:"profiles"`
	}
	decodeBody(t, listRes, &list)
	if len(list.Profiles) != 1 || list.Profiles[0].DisplayName != "Maria" {
		t.Fatalf("profiles = %+v", list.Profiles)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/profiles/"+turn.UserID, nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE profile error = %v", err)
	}
	var deleted map[string]any
	decodeBody(t, delRes, &deleted)
	if delRes.StatusCode != http.StatusOK || deleted["memories_removed"].(float64) < 1 {
		t.Fatalf("delete = %d %+v", delRes.StatusCode, deleted)
	}

	getRes, _ := http.Get(ts.URL + "/v1/profiles/" + turn.UserID)
	getRes.Body.Close()
	if getRes.StatusCode != http.StatusNotFound {
		t.Fatalf("GET deleted profile status = %d, want %d", getRes.StatusCode, http.StatusNotFound)
	}
}

func TestMemoriesCreateSearchAndValidate(t *testing.T) {
	ts := newTestServer(t, "memories")

	for _, body := range []map[string]any{
		{"content": "felt awful", "type": "emotional", "emotions": []string{"sad"}},
		{"content": "felt awful", "type": "emotional"},
	} {
		bad := postJSON(t, ts.URL+"/v1/memories", body)
		var apiErr map[string]any
		decodeBody(t, bad, &apiErr)
		if bad.StatusCode != http.StatusUnprocessableEntity || apiErr["code"] != "missing_emotional_context" {
			t.Fatalf("emotional without context = %d %v", bad.StatusCode, apiErr)
		}
	}

	res := postJSON(t, ts.URL+"/v1/memories", map[string]any{
		"content":    "Garden party on Sunday, contact ana@example.com",
		"importance": "high",
		"tags":       []string{"garden"},
	})
	var entry memory.Entry
	decodeBody(t, res, &entry)
	if res.StatusCode != http.StatusCreated || strings.Contains(entry.Content, "@") {
		t.Fatalf("create = %d %+v", res.StatusCode, entry)
	}

	searchRes, err := http.Get(ts.URL + "/v1/memories/search?q=garden+party&limit=3")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	var found struct {
		Results []memory.Result `json:"results"`
	}
	decodeBody(t, searchRes, &found)
	if len(found.Results) != 1 || found.Results[0].Entry.ID != entry.ID {
		t.Fatalf("search results = %+v", found.Results)
	}

	badLimit, _ := http.Get(ts.URL + "/v1/memories/search?q=x&limit=-1")
	badLimit.Body.Close()
	if badLimit.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", badLimit.StatusCode)
	}

	cleanup := postJSON(t, ts.URL+"/v1/memory/cleanup", map[string]int{"days": 3})
	var report map[string]any
	decodeBody(t, cleanup, &report)
	if cleanup.StatusCode != http.StatusOK || report["threshold_days"].(float64) != 3 {
		t.Fatalf("cleanup = %d %+v", cleanup.StatusCode, report)
	}

	healthRes, _ := http.Get(ts.URL + "/v1/memory/health")
	var health map[string]any
	decodeBody(t, healthRes, &health)
	if _, ok := health["health"]; !ok {
		t.Fatalf("missing health in %+v", health)
	}
}

func TestTurnWebsocket(t *testing.T) {
	ts := newTestServer(t, "ws")
	id := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/turns/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready protocol.SystemEvent
	if err := conn.ReadJSON(&ready); err != nil || ready.Code != "session_ready" {
		t.Fatalf("ready = %+v, %v", ready, err)
	}

	if err := conn.WriteJSON(protocol.ClientTurn{Type: protocol.TypeClientTurn, SessionID: id, Text: "I'm Maria"}); err != nil {
		t.Fatalf("write turn: %v", err)
	}
	var resolved protocol.TurnResolved
	if err := conn.ReadJSON(&resolved); err != nil {
		t.Fatalf("read turn_resolved: %v", err)
	}
	if resolved.Type != protocol.TypeTurnResolved || resolved.DisplayName != "Maria" {
		t.Fatalf("resolved = %+v", resolved)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil || errEvent.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v, %v", errEvent, err)
	}

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: id, Action: protocol.ActionEnd}); err != nil {
		t.Fatalf("write end: %v", err)
	}
	var ended protocol.SystemEvent
	if err := conn.ReadJSON(&ended); err != nil || ended.Code != "session_ended" {
		t.Fatalf("ended = %+v, %v", ended, err)
	}
}

func TestPerfLatencyReportsStages(t *testing.T) {
	ts := newTestServer(t, "perf")
	res := postJSON(t, ts.URL+"/v1/turns", protocol.ClientTurn{Text: "Good evening, I am Ana."})
	res.Body.Close()

	perf, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET perf error = %v", err)
	}
	var snap observability.LatencySnapshot
	decodeBody(t, perf, &snap)
	if len(snap.Stages) == 0 {
		t.Fatalf("expected stage stats, got %+v", snap)
	}
}

func TestServerRunsWithoutMetrics(t *testing.T) {
	ts := newServerWithMetrics(t, nil)
	id := createSession(t, ts)

	res := postJSON(t, ts.URL+"/v1/turns", protocol.ClientTurn{SessionID: id, Text: "I'm Maria"})
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d", res.StatusCode)
	}
	mem := postJSON(t, ts.URL+"/v1/memories", map[string]any{"content": "Likes tea"})
	mem.Body.Close()
	if mem.StatusCode != http.StatusCreated {
		t.Fatalf("memory status = %d", mem.StatusCode)
	}
	end := postJSON(t, ts.URL+"/v1/sessions/"+id+"/end", nil)
	end.Body.Close()
	if end.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d", end.StatusCode)
	}

	perf, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET perf error = %v", err)
	}
	var snap observability.LatencySnapshot
	decodeBody(t, perf, &snap)
	if len(snap.Stages) != 0 {
		t.Fatalf("stages without metrics = %+v", snap.Stages)
	}
}
