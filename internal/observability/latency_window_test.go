package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.observe(StageExtract, 20)
	w.observe(StageExtract, 30)
	w.observe(StageExtract, 50)
	w.observe(StageTotal, 12)
	w.outcome("bootstrap")
	w.outcome("continuity")
	w.outcome("continuity")

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 2 || snap.Stages[0].Stage != StageExtract || snap.Stages[1].Stage != StageTotal {
		t.Fatalf("Stages = %+v, want extract then turn_total", snap.Stages)
	}
	s := snap.Stages[0]
	if s.Samples != 3 || s.LastMS != 50 || s.P50MS != 30 || s.P95MS != 50 || s.MaxMS != 50 {
		t.Fatalf("extract stats = %+v", s)
	}
	if s.BudgetMS != 40 || s.OverBudget != 1 || s.WithinSLO {
		t.Fatalf("extract budget = %+v", s)
	}
	if !snap.Stages[1].WithinSLO {
		t.Fatalf("turn_total should be within budget: %+v", snap.Stages[1])
	}
	if snap.Outcomes["continuity"] != 2 || snap.Outcomes["bootstrap"] != 1 {
		t.Fatalf("Outcomes = %v", snap.Outcomes)
	}
}

func TestLatencyWindowWrapsAndResets(t *testing.T) {
	w := newLatencyWindow(2)
	for _, ms := range []float64{100, 1, 3} {
		w.observe(StageCommit, ms)
	}
	w.observe("unknown", 5)
	w.observe(StageFuse, -1)

	snap := w.snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 2 || snap.Stages[0].MeanMS != 2 {
		t.Fatalf("Stages = %+v", snap.Stages)
	}
	w.reset()
	if got := w.snapshot(); len(got.Stages) != 0 || got.Outcomes != nil {
		t.Fatalf("after reset = %+v", got)
	}
}

func TestMetricsHelpers(t *testing.T) {
	m := NewMetrics("rapport_observability_test")
	m.ObserveStage(StageTotal, 1500*time.Microsecond)
	m.ObserveTurnLatency(2 * time.Millisecond)
	m.SessionEvent("created", 1)
	m.MemoryStored("normal")
	snap := m.LatencySnapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 1.5 {
		t.Fatalf("snapshot = %+v", snap)
	}
	m.ResetLatency()
	if got := m.LatencySnapshot(); len(got.Stages) != 0 {
		t.Fatalf("after reset = %+v", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveStage(StageTotal, time.Millisecond)
	m.ObserveTurnLatency(time.Millisecond)
	m.ObserveOutcome("bootstrap")
	m.SessionEvent("created", 1)
	m.WSMessage("inbound", "client_turn")
	m.WSWriteError("write_json")
	m.MemoryStored("normal")
	m.SetProfiles(2)
	m.ResetLatency()
	if snap := m.LatencySnapshot(); len(snap.Stages) != 0 || snap.WindowSize != 256 {
		t.Fatalf("nil snapshot = %+v", snap)
	}
}
