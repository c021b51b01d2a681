package identity

import (
	"math"
	"testing"

	"github.com/ent0n29/rapport/internal/config"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/signals"
)

var (
	cfg    = config.DefaultFusion()
	people = []*profile.Profile{
		{ID: "a", DisplayName: "Ana"},
		{ID: "b", DisplayName: "Ben"},
	}
)

func score(src signals.Source, id string, raw float64) signals.Score {
	return signals.Score{Source: src, CandidateID: id, Raw: raw}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBootstrapWithoutProfiles(t *testing.T) {
	res := Fuse(nil, nil, "", cfg)
	if !res.IsNewUser || res.Outcome != OutcomeBootstrap || res.Confidence != 0.10 || res.DisplayName != "" {
		t.Fatalf("Fuse(empty) = %+v", res)
	}

	named := Fuse([]signals.Score{{Source: signals.SourceSelfID, CandidateName: "Maria", Raw: 0.95}}, nil, "", cfg)
	if !named.IsNewUser || named.DisplayName != "Maria" || named.Confidence != 0.95 {
		t.Fatalf("Fuse(I am Maria) = %+v", named)
	}
	if named.Signals[0].Weight != cfg.Weights.SelfID {
		t.Fatalf("weight not stamped: %+v", named.Signals)
	}
}

func TestSelfIDShortCircuits(t *testing.T) {
	scores := []signals.Score{
		score(signals.SourceVoice, "a", 0.9),
		{Source: signals.SourceSelfID, CandidateID: "b", CandidateName: "Ben", Raw: 0.95},
	}
	res := Fuse(scores, people, "a", cfg)
	if res.UserID != "b" || res.Outcome != OutcomeSelfID || res.Confidence != 0.95 {
		t.Fatalf("Fuse() = %+v", res)
	}

	unknown := Fuse([]signals.Score{{Source: signals.SourceSelfID, CandidateName: "Cleo", Raw: 0.95}}, people, "a", cfg)
	if !unknown.IsNewUser || unknown.DisplayName != "Cleo" || unknown.UserID != "" {
		t.Fatalf("Fuse(unknown name) = %+v", unknown)
	}
}

func TestAmbiguousSelfIDFallsThroughToWeights(t *testing.T) {
	twins := []*profile.Profile{{ID: "m1", DisplayName: "Maria"}, {ID: "m2", DisplayName: "Maria"}}
	scores := []signals.Score{
		score(signals.SourceSelfID, "m1", 0.95),
		score(signals.SourceSelfID, "m2", 0.95),
		score(signals.SourceVoice, "m2", 0.9),
	}
	res := Fuse(scores, twins, "", cfg)
	if res.UserID != "m2" || res.Outcome != OutcomeWeighted {
		t.Fatalf("Fuse(ambiguous) = %+v", res)
	}
}

func TestWeightedAverageOverFiredSources(t *testing.T) {
	res := Fuse([]signals.Score{
		score(signals.SourceVoice, "a", 0.9),
		score(signals.SourceTextStyle, "a", 0.9),
	}, people, "", cfg)
	if res.UserID != "a" || !near(res.Confidence, 0.9) || res.Outcome != OutcomeWeighted {
		t.Fatalf("Fuse(agreeing) = %+v", res)
	}

	split := Fuse([]signals.Score{
		score(signals.SourceVoice, "a", 0.9),
		score(signals.SourceTextStyle, "b", 0.6),
	}, people, "", cfg)
	if split.UserID != "a" || !near(split.Confidence, 0.6) {
		t.Fatalf("Fuse(split) = %+v, want a at 0.6", split)
	}
}

func TestLowScoresFallBackToContinuity(t *testing.T) {
	res := Fuse([]signals.Score{
		score(signals.SourceContinuity, "a", 1),
		score(signals.SourceTextStyle, "b", 0.3),
	}, people, "a", cfg)
	want := (0.2 / 0.6) * cfg.Thresholds.FallbackFactor
	if res.UserID != "a" || res.Outcome != OutcomeFallback || !near(res.Confidence, want) {
		t.Fatalf("Fuse(weak) = %+v, want a at %v", res, want)
	}

	guest := Fuse(nil, people, "", cfg)
	if !guest.IsNewUser || guest.Outcome != OutcomeUnknown || guest.Confidence != cfg.Thresholds.BootstrapConfidence {
		t.Fatalf("Fuse(nothing) = %+v", guest)
	}
}

func TestTiePrefersContinuityThenLowestID(t *testing.T) {
	scores := []signals.Score{
		score(signals.SourceVoice, "b", 0.8),
		score(signals.SourceVoice, "a", 0.79),
	}
	if res := Fuse(scores, people, "a", cfg); res.UserID != "a" || res.Outcome != OutcomeTieBreak {
		t.Fatalf("Fuse(tie, continuity a) = %+v", res)
	}
	even := []signals.Score{score(signals.SourceVoice, "b", 0.8), score(signals.SourceVoice, "a", 0.8)}
	if res := Fuse(even, people, "", cfg); res.UserID != "a" {
		t.Fatalf("Fuse(tie, no continuity) = %+v, want lowest id", res)
	}
}

func TestFuseIsDeterministic(t *testing.T) {
	scores := []signals.Score{
		score(signals.SourceVoice, "a", 0.7),
		score(signals.SourceContext, "b", 0.8),
		score(signals.SourceTextStyle, "a", 0.5),
		score(signals.SourceContinuity, "b", 0.5),
	}
	first := Fuse(scores, people, "b", cfg)
	reversed := make([]signals.Score, len(scores))
	for i, s := range scores {
		reversed[len(scores)-1-i] = s
	}
	for i := 0; i < 20; i++ {
		got := Fuse(reversed, people, "b", cfg)
		if got.UserID != first.UserID || got.Confidence != first.Confidence || got.Outcome != first.Outcome {
			t.Fatalf("run %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestZeroWeightSourceIgnored(t *testing.T) {
	c := config.DefaultFusion()
	c.Weights.Voice = 0
	res := Fuse([]signals.Score{score(signals.SourceVoice, "a", 1), score(signals.SourceTextStyle, "b", 0.8)}, people, "", c)
	if res.UserID != "b" || len(res.Signals) != 1 {
		t.Fatalf("Fuse() = %+v", res)
	}
}
