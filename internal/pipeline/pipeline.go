// Package pipeline runs one conversational turn end to end: signal
// extraction and contextual analysis in parallel, identity fusion, then a
// single commit that updates the profile, learns from the turn and stores
// its memories. Nothing is written if the turn is cancelled before the
// commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/rapport/internal/config"
	"github.com/ent0n29/rapport/internal/contextual"
	"github.com/ent0n29/rapport/internal/identity"
	"github.com/ent0n29/rapport/internal/learner"
	"github.com/ent0n29/rapport/internal/memory"
	"github.com/ent0n29/rapport/internal/observability"
	"github.com/ent0n29/rapport/internal/policy"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/signals"
)

var ErrEmptyTurn = errors.New("turn has neither text nor audio")

type Options struct {
	Fusion            config.FusionConfig
	Signals           signals.Options
	RedactPII         bool
	PromptMemoryLimit int
}

// OptionsFromConfig maps runtime configuration onto pipeline options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Fusion: cfg.Fusion,
		Signals: signals.Options{
			MinVoiceScore:     cfg.Fusion.Thresholds.MinVoiceScore,
			SelfIDScore:       cfg.Fusion.Thresholds.SelfIDScore,
			ContinuityWindow:  cfg.ContinuityWindow,
			ContinuityTimeout: cfg.ContinuityTimeout,
		},
		RedactPII:         cfg.RedactPII,
		PromptMemoryLimit: cfg.PromptMemoryLimit,
	}
}

// Request is one incoming turn.
type Request struct {
	SessionID  string
	TurnID     string
	Text       string
	Audio      []byte
	SampleRate int
	At         time.Time
}

// Result is everything the pipeline decided and wrote for a turn.
type Result struct {
	TurnID     string               `json:"turn_id"`
	Resolution identity.Resolution  `json:"resolution"`
	Profile    *profile.Profile     `json:"-"`
	Signature  contextual.Signature `json:"signature"`
	MemoryIDs  []string             `json:"memory_ids,omitempty"`
	Facts      learner.Facts        `json:"facts"`
	Redacted   []policy.Kind        `json:"redacted,omitempty"`
	Context    string               `json:"context"`
}

type Pipeline struct {
	profiles   *profile.Store
	memories   *memory.Store
	learner    *learner.Learner
	extractors []signals.Extractor
	metrics    *observability.Metrics
	opts       Options

	// Turns are attributed one at a time so each fusion sees the previous
	// turn's commit.
	mu sync.Mutex
}

// New wires a pipeline. metrics may be nil.
func New(profiles *profile.Store, memories *memory.Store, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.PromptMemoryLimit <= 0 {
		opts.PromptMemoryLimit = 5
	}
	return &Pipeline{
		profiles:   profiles,
		memories:   memories,
		learner:    learner.New(),
		extractors: signals.NewSet(opts.Signals),
		metrics:    metrics,
		opts:       opts,
	}
}

// ProcessTurn attributes the turn to a user and commits what was learned.
func (p *Pipeline) ProcessTurn(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Audio) == 0 {
		return Result{}, ErrEmptyTurn
	}
	started := time.Now()
	turn := signals.Turn{
		ID:         req.TurnID,
		SessionID:  req.SessionID,
		Text:       strings.TrimSpace(req.Text),
		Audio:      req.Audio,
		SampleRate: req.SampleRate,
		At:         req.At,
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.At.IsZero() {
		turn.At = p.profiles.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.profiles.Snapshot()
	perSource := make([][]signals.Score, len(p.extractors))
	var sig contextual.Signature

	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range p.extractors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perSource[i] = ex.Extract(turn, snapshot)
			return nil
		})
	}
	g.Go(func() error {
		sig = contextual.Analyze(turn.Text, turn.At)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("turn %s abandoned: %w", turn.ID, err)
	}
	p.metrics.ObserveStage(observability.StageExtract, time.Since(started))

	var scores []signals.Score
	for _, s := range perSource {
		scores = append(scores, s...)
	}
	continuityID := ""
	if last := signals.LastSpeaker(snapshot, turn.At, p.opts.Signals.ContinuityTimeout); last != nil {
		continuityID = last.ID
	}
	fuseStart := time.Now()
	res := identity.Fuse(scores, snapshot, continuityID, p.opts.Fusion)
	p.metrics.ObserveStage(observability.StageFuse, time.Since(fuseStart))

	// Last point at which the turn can be dropped without side effects.
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("turn %s abandoned: %w", turn.ID, err)
	}

	commitStart := time.Now()
	out, err := p.commit(turn, res, sig)
	if err != nil {
		return Result{}, err
	}
	p.metrics.ObserveStage(observability.StageCommit, time.Since(commitStart))
	p.observe(out, time.Since(started))
	log.Printf("pipeline: turn %s -> %s (%s, confidence %.2f, %d signals)", turn.ID, out.Resolution.UserID, out.Resolution.Outcome, out.Resolution.Confidence, len(scores))
	return out, nil
}

func (p *Pipeline) commit(turn signals.Turn, res identity.Resolution, sig contextual.Signature) (Result, error) {
	userID := res.UserID
	if res.IsNewUser {
		created, err := p.profiles.Create(res.DisplayName, res.DisplayName == "")
		if err != nil {
			return Result{}, fmt.Errorf("create profile: %w", err)
		}
		userID = created.ID
		res.UserID = created.ID
		res.DisplayName = created.DisplayName
	}

	text := turn.Text
	var redacted []policy.Kind
	if p.opts.RedactPII && text != "" {
		text, redacted = policy.RedactPII(text)
	}

	var facts learner.Facts
	if _, err := p.profiles.Update(userID, func(pr *profile.Profile) error {
		facts = p.learner.Apply(pr, learner.Observation{Text: text, Signature: sig, At: turn.At})
		return nil
	}); err != nil {
		return Result{}, fmt.Errorf("learn from turn: %w", err)
	}
	prof, err := p.profiles.RecordTurn(userID, turn.ID, turn.At)
	if err != nil {
		return Result{}, fmt.Errorf("record turn: %w", err)
	}

	out := Result{TurnID: turn.ID, Resolution: res, Profile: prof, Signature: sig, Facts: facts, Redacted: redacted}
	if text == "" {
		out.Context = BuildContext(prof, res, sig, "")
		return out, nil
	}

	recalled := p.memories.RelevantContext(userID, text, p.opts.PromptMemoryLimit)

	stored, err := p.memories.StoreTurn(memory.TurnInput{
		UserID:   userID,
		Text:     text,
		Emotions: sig.EmotionList(),
		Tags:     sig.TopicList(),
		Context:  memory.Context{Person: personOf(text, sig)},
	})
	if err != nil {
		return Result{}, fmt.Errorf("store turn memory: %w", err)
	}
	out.MemoryIDs = append(out.MemoryIDs, stored.Turn.ID)
	if stored.Emotional != nil {
		out.MemoryIDs = append(out.MemoryIDs, stored.Emotional.ID)
	}
	for _, f := range factMemories(prof.DisplayName, facts) {
		e, err := p.memories.LearnFact(userID, f.text, f.category, f.importance)
		if err != nil {
			log.Printf("pipeline: fact not stored for %s: %v", userID, err)
			continue
		}
		out.MemoryIDs = append(out.MemoryIDs, e.ID)
	}
	out.Context = BuildContext(prof, res, sig, recalled)
	return out, nil
}

func (p *Pipeline) observe(out Result, total time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.Turns.WithLabelValues(string(out.Resolution.Outcome)).Inc()
	p.metrics.Confidence.Observe(out.Resolution.Confidence)
	for _, s := range out.Resolution.Signals {
		p.metrics.SignalsFired.WithLabelValues(string(s.Source)).Inc()
	}
	p.metrics.ObserveOutcome(string(out.Resolution.Outcome))
	p.metrics.ObserveTurnLatency(total)
	p.metrics.ObserveStage(observability.StageTotal, total)
	p.metrics.Profiles.Set(float64(p.profiles.Len()))
}

// personOf names the first relation the speaker referred to, if any.
func personOf(text string, sig contextual.Signature) string {
	if rel := learner.ExtractFacts(text, sig).Relationships; len(rel) > 0 {
		return rel[0]
	}
	return ""
}

type factMemory struct {
	text       string
	category   string
	importance memory.Importance
}

func factMemories(name string, f learner.Facts) []factMemory {
	var out []factMemory
	if f.Profession != "" {
		out = append(out, factMemory{fmt.Sprintf("%s works as %s", name, f.Profession), "profession", memory.ImportanceHigh})
	}
	if f.Location != "" {
		out = append(out, factMemory{fmt.Sprintf("%s lives in %s", name, f.Location), "location", memory.ImportanceHigh})
	}
	for _, r := range f.Relationships {
		out = append(out, factMemory{fmt.Sprintf("%s has mentioned their %s", name, r), "relationship", memory.ImportanceMedium})
	}
	for _, in := range f.Interests {
		out = append(out, factMemory{fmt.Sprintf("%s enjoys %s", name, in), "interest", memory.ImportanceMedium})
	}
	return out
}

// Switch makes identifier (a profile ID or unique name) the current speaker
// by recording a synthetic turn in its continuity window.
func (p *Pipeline) Switch(identifier string) (*profile.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, err := p.profiles.Resolve(strings.TrimSpace(identifier))
	if err != nil {
		return nil, err
	}
	prof, err := p.profiles.RecordTurn(target.ID, "switch:"+uuid.NewString(), p.profiles.Now())
	if err != nil {
		return nil, err
	}
	log.Printf("pipeline: switched speaker to %q (%s)", prof.DisplayName, prof.ID)
	return prof, nil
}

// EnrollVoice trains or adapts the user's voice model from an audio sample.
func (p *Pipeline) EnrollVoice(userID string, audioData []byte, sampleRate int) (*profile.Profile, error) {
	frames, err := signals.VoiceFrames(audioData, sampleRate)
	if err != nil {
		return nil, err
	}
	return p.profiles.EnrollVoice(userID, frames)
}

// DeleteUser forgets the profile and every memory it owns.
func (p *Pipeline) DeleteUser(userID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.profiles.Delete(userID); err != nil {
		return 0, err
	}
	return p.memories.DeleteUser(userID), nil
}
