package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage is one timed step of turn processing.
type Stage string

const (
	StageExtract Stage = "extract"
	StageFuse    Stage = "fuse"
	StageCommit  Stage = "commit"
	StageTotal   Stage = "turn_total"
)

// stageBudgets lists the recorded stages in pipeline order with their p95
// budget in milliseconds. Stages outside this list are not recorded.
var stageBudgets = []struct {
	stage Stage
	p95MS float64
}{
	{StageExtract, 40},
	{StageFuse, 1},
	{StageCommit, 10},
	{StageTotal, 60},
}

type StageStats struct {
	Stage      Stage   `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	MeanMS     float64 `json:"mean_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_p95_ms"`
	OverBudget int     `json:"over_budget"`
	WithinSLO  bool    `json:"within_slo"`
}

// LatencySnapshot is the body of /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageStats   `json:"stages"`
	Outcomes    map[string]int `json:"outcomes,omitempty"`
}

// latencyWindow keeps the last size durations of every stage and a running
// count of identity outcomes since the last reset.
type latencyWindow struct {
	mu       sync.Mutex
	size     int
	rings    map[Stage]*ring
	outcomes map[string]int
}

type ring struct {
	values []float64
	next   int
	count  int
	last   float64
}

func (r *ring) push(v float64) {
	r.values[r.next] = v
	r.next = (r.next + 1) % len(r.values)
	if r.count < len(r.values) {
		r.count++
	}
	r.last = v
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:     size,
		rings:    make(map[Stage]*ring),
		outcomes: make(map[string]int),
	}
}

func (w *latencyWindow) observe(stage Stage, ms float64) {
	if ms < 0 || budgetOf(stage) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.push(ms)
}

func (w *latencyWindow) outcome(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(stageBudgets)),
	}
	for _, b := range stageBudgets {
		r := w.rings[b.stage]
		if r == nil || r.count == 0 {
			continue
		}
		sorted := slices.Clone(r.values[:r.count])
		slices.Sort(sorted)
		var sum float64
		over := 0
		for _, v := range sorted {
			sum += v
			if v > b.p95MS {
				over++
			}
		}
		p95 := nearestRank(sorted, 0.95)
		snap.Stages = append(snap.Stages, StageStats{
			Stage:      b.stage,
			Samples:    r.count,
			LastMS:     round2(r.last),
			MeanMS:     round2(sum / float64(r.count)),
			P50MS:      round2(nearestRank(sorted, 0.50)),
			P95MS:      round2(p95),
			MaxMS:      round2(sorted[len(sorted)-1]),
			BudgetMS:   b.p95MS,
			OverBudget: over,
			WithinSLO:  p95 <= b.p95MS,
		})
	}
	if len(w.outcomes) > 0 {
		snap.Outcomes = make(map[string]int, len(w.outcomes))
		for k, v := range w.outcomes {
			snap.Outcomes[k] = v
		}
	}
	return snap
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rings = make(map[Stage]*ring)
	w.outcomes = make(map[string]int)
}

func budgetOf(stage Stage) float64 {
	for _, b := range stageBudgets {
		if b.stage == stage {
			return b.p95MS
		}
	}
	return 0
}

// nearestRank expects sorted input.
func nearestRank(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	return sorted[max(idx, 0)]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
