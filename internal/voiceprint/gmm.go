// Package voiceprint holds per-user speaker models: a small diagonal-covariance
// Gaussian mixture over audio frame features, scored against the likelihood
// the model assigned to its own enrollment audio.
package voiceprint

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultComponents = 4
	// MinFrames is the least enrollment audio that yields a usable model
	// (about half a second of voiced speech).
	MinFrames = 50

	emIterations   = 25
	varianceFloor  = 1e-3
	relevance      = 16.0
	chunkFrames    = 20
	minBaselineStd = 0.5
)

var (
	ErrTooFewFrames   = errors.New("voiceprint: not enough voiced frames")
	ErrDimMismatch    = errors.New("voiceprint: feature dimension mismatch")
	ErrModelUntrained = errors.New("voiceprint: model is not trained")
)

// Model is a trained speaker model. The zero value is untrained.
type Model struct {
	Dim     int         `json:"dim"`
	Weights []float64   `json:"weights"`
	Means   [][]float64 `json:"means"`
	Vars    [][]float64 `json:"vars"`

	// Baseline statistics of per-chunk average log-likelihood on enrollment audio.
	BaselineMean float64 `json:"baseline_mean"`
	BaselineStd  float64 `json:"baseline_std"`
	Frames       int     `json:"frames"`
}

// Train fits a k-component mixture to frames. Initialisation is deterministic
// so the same audio always yields the same model.
func Train(frames [][]float64, k int) (*Model, error) {
	if len(frames) < MinFrames {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewFrames, len(frames), MinFrames)
	}
	dim := len(frames[0])
	for _, f := range frames {
		if len(f) != dim {
			return nil, ErrDimMismatch
		}
	}
	if k <= 0 {
		k = DefaultComponents
	}
	if k > len(frames)/10 {
		k = max(1, len(frames)/10)
	}

	m := &Model{Dim: dim}
	m.initKMeans(frames, k)
	for i := 0; i < emIterations; i++ {
		m.emStep(frames)
	}
	m.Frames = len(frames)
	m.BaselineMean, m.BaselineStd = m.baseline(frames)
	return m, nil
}

// Adapt folds new enrollment frames into an existing model with a MAP update
// of the means, then refreshes the baseline. A nil model is trained from scratch.
func Adapt(m *Model, frames [][]float64) (*Model, error) {
	if m == nil || !m.Trained() {
		return Train(frames, DefaultComponents)
	}
	if len(frames) == 0 {
		return m.Clone(), nil
	}
	for _, f := range frames {
		if len(f) != m.Dim {
			return nil, ErrDimMismatch
		}
	}
	out := m.Clone()
	k := len(out.Weights)
	n := make([]float64, k)
	sum := make([][]float64, k)
	for j := range sum {
		sum[j] = make([]float64, out.Dim)
	}
	resp := make([]float64, k)
	for _, x := range frames {
		out.responsibilities(x, resp)
		for j := 0; j < k; j++ {
			n[j] += resp[j]
			for d := 0; d < out.Dim; d++ {
				sum[j][d] += resp[j] * x[d]
			}
		}
	}
	for j := 0; j < k; j++ {
		if n[j] == 0 {
			continue
		}
		alpha := n[j] / (n[j] + relevance)
		for d := 0; d < out.Dim; d++ {
			out.Means[j][d] = alpha*(sum[j][d]/n[j]) + (1-alpha)*out.Means[j][d]
		}
	}

	newMean, newStd := out.baseline(frames)
	total := float64(out.Frames + len(frames))
	wOld := float64(out.Frames) / total
	out.BaselineMean = wOld*out.BaselineMean + (1-wOld)*newMean
	out.BaselineStd = wOld*out.BaselineStd + (1-wOld)*newStd
	out.Frames += len(frames)
	return out, nil
}

// Trained reports whether the model can score audio.
func (m *Model) Trained() bool {
	return m != nil && m.Dim > 0 && len(m.Weights) > 0 && len(m.Means) == len(m.Weights) && len(m.Vars) == len(m.Weights)
}

// AvgLogLikelihood is the mean per-frame log-likelihood of frames.
func (m *Model) AvgLogLikelihood(frames [][]float64) (float64, error) {
	if !m.Trained() {
		return 0, ErrModelUntrained
	}
	if len(frames) == 0 {
		return 0, ErrTooFewFrames
	}
	total := 0.0
	for _, x := range frames {
		if len(x) != m.Dim {
			return 0, ErrDimMismatch
		}
		total += m.logLikelihood(x)
	}
	return total / float64(len(frames)), nil
}

// Similarity maps frames onto [0,1]: 1 when they fit the model at least as
// well as the enrollment audio did, falling off with the deficit measured in
// enrollment standard deviations.
func (m *Model) Similarity(frames [][]float64) (float64, error) {
	ll, err := m.AvgLogLikelihood(frames)
	if err != nil {
		return 0, err
	}
	std := math.Max(m.BaselineStd, minBaselineStd)
	z := (ll - m.BaselineMean) / std
	s := 2 / (1 + math.Exp(-z))
	if s > 1 {
		s = 1
	}
	if s < 0 || math.IsNaN(s) {
		s = 0
	}
	return s, nil
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	c := *m
	c.Weights = append([]float64(nil), m.Weights...)
	c.Means = cloneMatrix(m.Means)
	c.Vars = cloneMatrix(m.Vars)
	return &c
}

func (m *Model) initKMeans(frames [][]float64, k int) {
	means := make([][]float64, k)
	for j := 0; j < k; j++ {
		means[j] = append([]float64(nil), frames[(j*len(frames))/k+len(frames)/(2*k)]...)
	}
	assign := make([]int, len(frames))
	for iter := 0; iter < 10; iter++ {
		for i, x := range frames {
			best, bestD := 0, math.Inf(1)
			for j := range means {
				if d := sqDist(x, means[j]); d < bestD {
					best, bestD = j, d
				}
			}
			assign[i] = best
		}
		counts := make([]int, k)
		next := make([][]float64, k)
		for j := range next {
			next[j] = make([]float64, m.Dim)
		}
		for i, x := range frames {
			counts[assign[i]]++
			for d := range x {
				next[assign[i]][d] += x[d]
			}
		}
		for j := range next {
			if counts[j] == 0 {
				next[j] = means[j]
				continue
			}
			for d := range next[j] {
				next[j][d] /= float64(counts[j])
			}
		}
		means = next
	}

	// Global variance seeds every component.
	global := make([]float64, m.Dim)
	mu := make([]float64, m.Dim)
	for _, x := range frames {
		for d := range x {
			mu[d] += x[d]
		}
	}
	for d := range mu {
		mu[d] /= float64(len(frames))
	}
	for _, x := range frames {
		for d := range x {
			diff := x[d] - mu[d]
			global[d] += diff * diff
		}
	}
	for d := range global {
		global[d] = math.Max(global[d]/float64(len(frames)), varianceFloor)
	}

	m.Means = means
	m.Weights = make([]float64, k)
	m.Vars = make([][]float64, k)
	for j := 0; j < k; j++ {
		m.Weights[j] = 1 / float64(k)
		m.Vars[j] = append([]float64(nil), global...)
	}
}

func (m *Model) emStep(frames [][]float64) {
	k := len(m.Weights)
	n := make([]float64, k)
	s1 := make([][]float64, k)
	s2 := make([][]float64, k)
	for j := 0; j < k; j++ {
		s1[j] = make([]float64, m.Dim)
		s2[j] = make([]float64, m.Dim)
	}
	resp := make([]float64, k)
	for _, x := range frames {
		m.responsibilities(x, resp)
		for j := 0; j < k; j++ {
			r := resp[j]
			n[j] += r
			for d := 0; d < m.Dim; d++ {
				s1[j][d] += r * x[d]
				s2[j][d] += r * x[d] * x[d]
			}
		}
	}
	total := float64(len(frames))
	for j := 0; j < k; j++ {
		if n[j] < 1e-6 {
			continue
		}
		m.Weights[j] = n[j] / total
		for d := 0; d < m.Dim; d++ {
			mean := s1[j][d] / n[j]
			m.Means[j][d] = mean
			m.Vars[j][d] = math.Max(s2[j][d]/n[j]-mean*mean, varianceFloor)
		}
	}
	norm := 0.0
	for _, w := range m.Weights {
		norm += w
	}
	for j := range m.Weights {
		m.Weights[j] /= norm
	}
}

func (m *Model) componentLogs(x []float64, out []float64) {
	for j := range m.Weights {
		lp := math.Log(math.Max(m.Weights[j], 1e-12))
		for d := 0; d < m.Dim; d++ {
			v := m.Vars[j][d]
			diff := x[d] - m.Means[j][d]
			lp += -0.5 * (math.Log(2*math.Pi*v) + diff*diff/v)
		}
		out[j] = lp
	}
}

func (m *Model) responsibilities(x []float64, resp []float64) {
	m.componentLogs(x, resp)
	lse := logSumExp(resp)
	for j := range resp {
		resp[j] = math.Exp(resp[j] - lse)
	}
}

func (m *Model) logLikelihood(x []float64) float64 {
	logs := make([]float64, len(m.Weights))
	m.componentLogs(x, logs)
	return logSumExp(logs)
}

func (m *Model) baseline(frames [][]float64) (float64, float64) {
	var scores []float64
	for start := 0; start < len(frames); start += chunkFrames {
		end := min(start+chunkFrames, len(frames))
		ll, _ := m.AvgLogLikelihood(frames[start:end])
		scores = append(scores, ll)
	}
	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	v := 0.0
	for _, s := range scores {
		v += (s - mean) * (s - mean)
	}
	return mean, math.Sqrt(v / float64(len(scores)))
}

func logSumExp(xs []float64) float64 {
	hi := math.Inf(-1)
	for _, x := range xs {
		if x > hi {
			hi = x
		}
	}
	if math.IsInf(hi, -1) {
		return hi
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - hi)
	}
	return hi + math.Log(sum)
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func cloneMatrix(in [][]float64) [][]float64 {
	if in == nil {
		return nil
	}
	out := make([][]float64, len(in))
	for i := range in {
		out[i] = append([]float64(nil), in[i]...)
	}
	return out
}
