package signals

import (
	"errors"
	"log"

	"github.com/ent0n29/rapport/internal/audio"
	"github.com/ent0n29/rapport/internal/profile"
)

var (
	ErrNoAudio        = errors.New("signals: no audio provided")
	ErrNoVoicedFrames = errors.New("signals: audio has no voiced frames")
)

// VoiceFrames decodes turn audio into feature frames.
func VoiceFrames(data []byte, sampleRate int) ([][]float64, error) {
	if len(data) == 0 {
		return nil, ErrNoAudio
	}
	clip, err := audio.Decode(data, sampleRate)
	if err != nil {
		return nil, err
	}
	frames := audio.Features(clip)
	if len(frames) == 0 {
		return nil, ErrNoVoicedFrames
	}
	return frames, nil
}

// Voice scores enrolled voice models against the turn audio. Turns without
// audio and profiles without a model produce no evidence.
type Voice struct {
	MinScore float64
}

func (Voice) Source() Source { return SourceVoice }

func (v Voice) Extract(turn Turn, profiles []*profile.Profile) []Score {
	if len(turn.Audio) == 0 {
		return nil
	}
	enrolled := make([]*profile.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.HasVoice() {
			enrolled = append(enrolled, p)
		}
	}
	if len(enrolled) == 0 {
		return nil
	}
	frames, err := VoiceFrames(turn.Audio, turn.SampleRate)
	if err != nil {
		log.Printf("signals: voice skipped for turn %s: %v", turn.ID, err)
		return nil
	}
	var out []Score
	for _, p := range enrolled {
		sim, err := p.Voice.Similarity(frames)
		if err != nil {
			log.Printf("signals: voice model for %s unusable: %v", p.ID, err)
			continue
		}
		if sim < v.MinScore {
			continue
		}
		out = append(out, Score{Source: SourceVoice, CandidateID: p.ID, CandidateName: p.DisplayName, Raw: clamp01(sim)})
	}
	sortScores(out)
	return out
}
