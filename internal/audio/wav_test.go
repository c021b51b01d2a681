package audio

import (
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	samples := sine(440, 16000, 1600, 0.5)
	wav, err := EncodeWAVPCM16LE(EncodePCM16LE(samples), 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header")
	}

	clip, err := Decode(wav, 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", clip.SampleRate)
	}
	if len(clip.Samples) != len(samples) {
		t.Fatalf("len(Samples) = %d, want %d", len(clip.Samples), len(samples))
	}
	for i := range samples {
		if math.Abs(clip.Samples[i]-samples[i]) > 1e-3 {
			t.Fatalf("sample %d = %v, want ~%v", i, clip.Samples[i], samples[i])
		}
	}
}

func TestDecodeRawPCMUsesSuppliedRate(t *testing.T) {
	clip, err := Decode(EncodePCM16LE([]float64{0.25, -0.25}), 8000)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if clip.SampleRate != 8000 || len(clip.Samples) != 2 {
		t.Fatalf("unexpected clip: rate=%d len=%d", clip.SampleRate, len(clip.Samples))
	}
}

func TestDecodeRejectsEmptyAndNonPCM(t *testing.T) {
	if _, err := Decode(nil, 0); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("Decode(nil) error = %v, want ErrEmptyAudio", err)
	}
	wav, _ := EncodeWAVPCM16LE([]byte{0, 0}, 16000)
	wav[20] = 3 // IEEE float
	if _, err := Decode(wav, 0); !errors.Is(err, ErrUnsupportedAudio) {
		t.Fatalf("Decode(float wav) error = %v, want ErrUnsupportedAudio", err)
	}
}

func TestFeaturesSkipSilenceAndSeparateTones(t *testing.T) {
	silent := Features(Clip{Samples: make([]float64, 8000), SampleRate: 16000})
	if len(silent) != 0 {
		t.Fatalf("silent frames = %d, want 0", len(silent))
	}

	low := Features(Clip{Samples: sine(200, 16000, 4000, 0.5), SampleRate: 16000})
	high := Features(Clip{Samples: sine(3000, 16000, 4000, 0.5), SampleRate: 16000})
	if len(low) == 0 || len(high) == 0 {
		t.Fatalf("expected voiced frames, got low=%d high=%d", len(low), len(high))
	}
	if len(low[0]) != FeatureDim {
		t.Fatalf("feature dim = %d, want %d", len(low[0]), FeatureDim)
	}
	centroid := NumBands + 2
	if low[0][centroid] >= high[0][centroid] {
		t.Fatalf("centroid low=%v high=%v, want low < high", low[0][centroid], high[0][centroid])
	}
}

func sine(freq float64, rate, n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}
