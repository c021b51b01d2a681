package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/rapport/internal/config"
	"github.com/ent0n29/rapport/internal/identity"
	"github.com/ent0n29/rapport/internal/memory"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/signals"
)

var base = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T, redact bool) (*Pipeline, *profile.Store, *memory.Store) {
	t.Helper()
	clock := func() time.Time { return base.Add(5 * time.Minute) }
	profiles := profile.NewStore(profile.WithClock(clock))
	memories := memory.NewStore(memory.WithClock(clock))
	p := New(profiles, memories, nil, Options{
		Fusion:    config.DefaultFusion(),
		Signals:   signals.DefaultOptions(),
		RedactPII: redact,
	})
	return p, profiles, memories
}

func turn(text string, offset time.Duration) Request {
	return Request{SessionID: "s1", Text: text, At: base.Add(offset)}
}

func TestFirstSelfIdentificationCreatesNamedProfile(t *testing.T) {
	p, profiles, _ := newTestPipeline(t, false)
	res, err := p.ProcessTurn(context.Background(), turn("Hi, I am Maria", 0))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	r := res.Resolution
	if !r.IsNewUser || r.Outcome != identity.OutcomeBootstrap || r.DisplayName != "Maria" || r.UserID == "" {
		t.Fatalf("unexpected resolution: %+v", r)
	}
	if r.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", r.Confidence)
	}
	got, err := profiles.Get(r.UserID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ConversationCount != 1 || len(got.Continuity) != 1 || got.TextStyle.Samples != 1 {
		t.Fatalf("profile not updated by the turn: %+v", got)
	}
	if !strings.Contains(res.Context, "Speaker: Maria") {
		t.Fatalf("context = %q", res.Context)
	}
}

func TestLowercaseTranscriptSelfIdentifies(t *testing.T) {
	p, _, _ := newTestPipeline(t, false)
	res, err := p.ProcessTurn(context.Background(), turn("hi i am maria", 0))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if res.Resolution.DisplayName != "Maria" {
		t.Fatalf("display name = %q, want Maria", res.Resolution.DisplayName)
	}
}

func TestThirdPartyNameDoesNotCreateProfile(t *testing.T) {
	p, profiles, _ := newTestPipeline(t, false)
	maria, err := p.ProcessTurn(context.Background(), turn("I'm Maria", 0))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	next, err := p.ProcessTurn(context.Background(), turn("I'm John's friend, by the way.", time.Minute))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if next.Resolution.UserID != maria.Resolution.UserID || profiles.Len() != 1 {
		t.Fatalf("third-party mention resolved to %+v (profiles = %d)", next.Resolution, profiles.Len())
	}
}

func TestContinuityKeepsSpeakerAcrossTurns(t *testing.T) {
	p, profiles, _ := newTestPipeline(t, false)
	first, err := p.ProcessTurn(context.Background(), turn("I'm Maria", 0))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	second, err := p.ProcessTurn(context.Background(), turn("What a lovely evening it is.", time.Minute))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if second.Resolution.IsNewUser || second.Resolution.UserID != first.Resolution.UserID {
		t.Fatalf("second turn resolved to %+v, want %s", second.Resolution, first.Resolution.UserID)
	}
	if profiles.Len() != 1 {
		t.Fatalf("profiles = %d, want 1", profiles.Len())
	}
}

func TestNewSpeakerSelfIdentifying(t *testing.T) {
	p, profiles, _ := newTestPipeline(t, false)
	maria, _ := p.ProcessTurn(context.Background(), turn("I'm Maria", 0))
	joao, err := p.ProcessTurn(context.Background(), turn("Hello, my name is Joao", time.Minute))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	r := joao.Resolution
	if !r.IsNewUser || r.Outcome != identity.OutcomeSelfID || r.DisplayName != "Joao" {
		t.Fatalf("unexpected resolution: %+v", r)
	}
	if r.UserID == maria.Resolution.UserID || profiles.Len() != 2 {
		t.Fatalf("expected a second profile, got %d", profiles.Len())
	}

	again, _ := p.ProcessTurn(context.Background(), turn("It's Maria here", 2*time.Minute))
	if again.Resolution.UserID != maria.Resolution.UserID || again.Resolution.Outcome != identity.OutcomeSelfID {
		t.Fatalf("known name resolved to %+v", again.Resolution)
	}
}

func TestCancelledTurnWritesNothing(t *testing.T) {
	p, profiles, memories := newTestPipeline(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ProcessTurn(ctx, turn("I'm Maria and I feel great", 0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessTurn() error = %v, want context.Canceled", err)
	}
	if profiles.Len() != 0 || memories.Len() != 0 {
		t.Fatalf("cancelled turn left %d profiles and %d memories", profiles.Len(), memories.Len())
	}
}

func TestEmptyTurnRejected(t *testing.T) {
	p, _, _ := newTestPipeline(t, false)
	if _, err := p.ProcessTurn(context.Background(), turn("   ", 0)); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("ProcessTurn() error = %v, want ErrEmptyTurn", err)
	}
}

func TestEmotionalTurnStoresMemoriesAndFacts(t *testing.T) {
	p, profiles, memories := newTestPipeline(t, false)
	res, err := p.ProcessTurn(context.Background(), turn("Today was wonderful, my sister got married", 0))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if res.Resolution.Outcome != identity.OutcomeBootstrap {
		t.Fatalf("outcome = %s, want bootstrap", res.Resolution.Outcome)
	}
	if len(res.MemoryIDs) != 3 || memories.Len() != 3 {
		t.Fatalf("memory ids = %v, store = %d, want turn + emotional + fact", res.MemoryIDs, memories.Len())
	}
	emo, err := memories.Get(res.MemoryIDs[1])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if emo.Type != memory.TypeEmotional || emo.Context.Person != "sister" || emo.Context.Event == "" {
		t.Fatalf("emotional entry = %+v", emo)
	}
	prof, _ := profiles.Get(res.Resolution.UserID)
	if len(prof.Personal.Relationships) != 1 || prof.Personal.Relationships[0] != "sister" {
		t.Fatalf("relationships = %v", prof.Personal.Relationships)
	}
	if len(res.Facts.Relationships) != 1 {
		t.Fatalf("facts = %+v", res.Facts)
	}

	// A repeated fact is not stored twice.
	again, _ := p.ProcessTurn(context.Background(), turn("My sister is visiting next week", time.Minute))
	for _, id := range again.MemoryIDs {
		e, _ := memories.Get(id)
		if e.Kind == memory.KindFact {
			t.Fatalf("known fact stored again: %+v", e)
		}
	}
}

func TestRedactsPIIBeforeStoring(t *testing.T) {
	p, _, memories := newTestPipeline(t, true)
	res, err := p.ProcessTurn(context.Background(), turn("Please write to maria.silva@example.com tomorrow", 0))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if len(res.Redacted) != 1 {
		t.Fatalf("redacted = %v", res.Redacted)
	}
	for _, e := range memories.Snapshot() {
		if strings.Contains(e.Content, "@") {
			t.Fatalf("stored unredacted content: %q", e.Content)
		}
	}
}

func TestSwitchMakesUserCurrentSpeaker(t *testing.T) {
	p, _, _ := newTestPipeline(t, false)
	maria, _ := p.ProcessTurn(context.Background(), turn("I'm Maria", 0))
	joao, _ := p.ProcessTurn(context.Background(), turn("I'm Joao", time.Minute))
	if joao.Resolution.UserID == maria.Resolution.UserID {
		t.Fatalf("expected two users")
	}

	switched, err := p.Switch("maria")
	if err != nil {
		t.Fatalf("Switch() error = %v", err)
	}
	if switched.ID != maria.Resolution.UserID {
		t.Fatalf("Switch() = %s, want %s", switched.ID, maria.Resolution.UserID)
	}
	next, err := p.ProcessTurn(context.Background(), turn("ok", 6*time.Minute))
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if next.Resolution.UserID != maria.Resolution.UserID {
		t.Fatalf("turn after switch resolved to %+v", next.Resolution)
	}
	if _, err := p.Switch("nobody"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("Switch(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteUserForgetsMemories(t *testing.T) {
	p, profiles, memories := newTestPipeline(t, false)
	res, _ := p.ProcessTurn(context.Background(), turn("I'm Maria and I love cooking", 0))
	if memories.Len() == 0 {
		t.Fatalf("expected stored memories")
	}
	n, err := p.DeleteUser(res.Resolution.UserID)
	if err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if n == 0 || memories.Len() != 0 || profiles.Len() != 0 {
		t.Fatalf("DeleteUser() removed %d, left %d memories and %d profiles", n, memories.Len(), profiles.Len())
	}
	if _, err := p.DeleteUser(res.Resolution.UserID); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("second DeleteUser() error = %v, want ErrNotFound", err)
	}
}

func TestEnrollVoiceRejectsBadAudio(t *testing.T) {
	p, profiles, _ := newTestPipeline(t, false)
	prof, _ := profiles.Create("Vic", false)
	if _, err := p.EnrollVoice(prof.ID, nil, 16000); !errors.Is(err, signals.ErrNoAudio) {
		t.Fatalf("EnrollVoice() error = %v, want ErrNoAudio", err)
	}
}
