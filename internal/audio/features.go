package audio

import "math"

const (
	frameMS = 25
	hopMS   = 10
	// NumBands is the number of log band energies per frame.
	NumBands = 8
	// FeatureDim is the length of every frame feature vector.
	FeatureDim = NumBands + 3

	silenceFloor = 1e-4
)

// Features splits the clip into overlapping frames and returns one feature
// vector per voiced frame: NumBands log band energies, log frame energy,
// zero-crossing rate and normalised spectral centroid. Frames whose mean
// energy is below the silence floor are dropped.
func Features(c Clip) [][]float64 {
	if c.SampleRate <= 0 || len(c.Samples) == 0 {
		return nil
	}
	frameLen := c.SampleRate * frameMS / 1000
	hop := c.SampleRate * hopMS / 1000
	if frameLen < 16 || hop <= 0 || len(c.Samples) < frameLen {
		return nil
	}

	window := hann(frameLen)
	bins := frameLen / 2
	// Precompute twiddles once per clip.
	cosT := make([]float64, frameLen)
	sinT := make([]float64, frameLen)
	for i := 0; i < frameLen; i++ {
		a := 2 * math.Pi * float64(i) / float64(frameLen)
		cosT[i] = math.Cos(a)
		sinT[i] = math.Sin(a)
	}

	frame := make([]float64, frameLen)
	power := make([]float64, bins)
	var out [][]float64
	for start := 0; start+frameLen <= len(c.Samples); start += hop {
		energy := 0.0
		zc := 0
		for i := 0; i < frameLen; i++ {
			s := c.Samples[start+i]
			energy += s * s
			if i > 0 && (s >= 0) != (c.Samples[start+i-1] >= 0) {
				zc++
			}
			frame[i] = s * window[i]
		}
		energy /= float64(frameLen)
		if energy < silenceFloor {
			continue
		}

		for k := 0; k < bins; k++ {
			re, im := 0.0, 0.0
			for n := 0; n < frameLen; n++ {
				idx := (k * n) % frameLen
				re += frame[n] * cosT[idx]
				im -= frame[n] * sinT[idx]
			}
			power[k] = re*re + im*im
		}

		vec := make([]float64, FeatureDim)
		total := 0.0
		weighted := 0.0
		for k := 0; k < bins; k++ {
			total += power[k]
			weighted += float64(k) * power[k]
		}
		for b := 0; b < NumBands; b++ {
			lo, hi := bandEdges(b, bins)
			sum := 0.0
			for k := lo; k < hi; k++ {
				sum += power[k]
			}
			vec[b] = math.Log(sum + 1e-10)
		}
		vec[NumBands] = math.Log(energy + 1e-10)
		vec[NumBands+1] = float64(zc) / float64(frameLen)
		if total > 0 {
			vec[NumBands+2] = weighted / total / float64(bins)
		}
		out = append(out, vec)
	}
	return out
}

// bandEdges spaces bands logarithmically so low frequencies, where most
// speaker information lives, get finer resolution.
func bandEdges(b, bins int) (int, int) {
	edge := func(i int) int {
		frac := (math.Pow(2, float64(i)) - 1) / (math.Pow(2, NumBands) - 1)
		return int(frac * float64(bins))
	}
	lo, hi := edge(b), edge(b+1)
	if hi <= lo {
		hi = lo + 1
	}
	if hi > bins {
		hi = bins
	}
	return lo, hi
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
