package voiceprint

import (
	"errors"
	"math/rand"
	"testing"
)

func speakerFrames(rng *rand.Rand, center float64, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		f := make([]float64, 6)
		for d := range f {
			f[d] = center + float64(d)*0.3 + rng.NormFloat64()*0.4
		}
		out[i] = f
	}
	return out
}

func TestTrainRejectsShortEnrollment(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := Train(speakerFrames(rng, 0, 10), 4); !errors.Is(err, ErrTooFewFrames) {
		t.Fatalf("Train() error = %v, want ErrTooFewFrames", err)
	}
}

func TestSimilarityPrefersEnrolledSpeaker(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	model, err := Train(speakerFrames(rng, 0, 400), DefaultComponents)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	same, err := model.Similarity(speakerFrames(rng, 0, 60))
	if err != nil {
		t.Fatalf("Similarity(same) error = %v", err)
	}
	other, err := model.Similarity(speakerFrames(rng, 4, 60))
	if err != nil {
		t.Fatalf("Similarity(other) error = %v", err)
	}
	if same < 0.5 {
		t.Fatalf("same-speaker similarity = %v, want >= 0.5", same)
	}
	if other >= 0.3 {
		t.Fatalf("other-speaker similarity = %v, want < 0.3", other)
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	frames := speakerFrames(rand.New(rand.NewSource(3)), 1, 200)
	a, err := Train(frames, 3)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	b, _ := Train(frames, 3)
	for j := range a.Means {
		for d := range a.Means[j] {
			if a.Means[j][d] != b.Means[j][d] {
				t.Fatalf("means differ at [%d][%d]", j, d)
			}
		}
	}
}

func TestAdaptMovesTowardNewAudio(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	base, err := Train(speakerFrames(rng, 0, 200), 2)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	sample := speakerFrames(rng, 1, 60)
	before, _ := base.AvgLogLikelihood(sample)

	adapted, err := Adapt(base, speakerFrames(rng, 1, 300))
	if err != nil {
		t.Fatalf("Adapt() error = %v", err)
	}
	after, _ := adapted.AvgLogLikelihood(sample)
	if after <= before {
		t.Fatalf("log-likelihood after adapt = %v, want > %v", after, before)
	}
	if adapted.Frames != 500 {
		t.Fatalf("Frames = %d, want 500", adapted.Frames)
	}
	// Original must be untouched.
	again, _ := base.AvgLogLikelihood(sample)
	if again != before {
		t.Fatalf("Adapt mutated the input model")
	}
}

func TestUntrainedModelErrors(t *testing.T) {
	var m Model
	if _, err := m.Similarity([][]float64{{1}}); !errors.Is(err, ErrModelUntrained) {
		t.Fatalf("Similarity() error = %v, want ErrModelUntrained", err)
	}
}
