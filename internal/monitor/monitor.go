// Package monitor keeps the memory store healthy: on a ticker, and on
// request, it evicts stale emotional memories, enforces the retention
// capacity, publishes health gauges and snapshots state to storage.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ent0n29/rapport/internal/memory"
	"github.com/ent0n29/rapport/internal/observability"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/reliability"
	"github.com/ent0n29/rapport/internal/storage"
)

var ErrNotRunning = errors.New("monitor: not running")

type Options struct {
	Interval      time.Duration
	RetentionDays int
	MaxEntries    int
}

// Report describes one sweep.
type Report struct {
	At               time.Time     `json:"at"`
	Trigger          string        `json:"trigger"`
	ThresholdDays    int           `json:"threshold_days"`
	EmotionalRemoved int           `json:"emotional_removed"`
	Pruned           int           `json:"pruned"`
	Health           memory.Health `json:"health"`
	Saved            bool          `json:"saved"`
	SaveError        string        `json:"save_error,omitempty"`
}

type taskKind int

const (
	taskCleanup taskKind = iota
	taskSnapshot
)

type task struct {
	kind  taskKind
	days  int
	reply chan Report
}

type Monitor struct {
	memories *memory.Store
	profiles *profile.Store
	backend  storage.Backend
	metrics  *observability.Metrics
	opts     Options
	tasks    chan task

	mu      sync.Mutex
	running bool
	done    <-chan struct{}
	last    Report
}

// New builds a monitor. backend and metrics may be nil.
func New(memories *memory.Store, profiles *profile.Store, backend storage.Backend, metrics *observability.Metrics, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = memory.DefaultCleanupDays
	}
	return &Monitor{
		memories: memories,
		profiles: profiles,
		backend:  backend,
		metrics:  metrics,
		opts:     opts,
		tasks:    make(chan task),
	}
}

// Start runs the monitor loop in a goroutine until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.done = ctx.Done()
	m.mu.Unlock()

	ticker := time.NewTicker(m.opts.Interval)
	go func() {
		defer func() {
			ticker.Stop()
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx, 0, "ticker")
			case t := <-m.tasks:
				var r Report
				switch t.kind {
				case taskCleanup:
					r = m.Sweep(ctx, t.days, "request")
				case taskSnapshot:
					r = m.save(ctx, Report{At: time.Now().UTC(), Trigger: "snapshot", Health: m.memories.Health()})
				}
				t.reply <- r
			}
		}
	}()
}

// RunCleanup asks the running monitor for an immediate sweep. days <= 0 uses
// the configured threshold tightened by the health recommendation.
func (m *Monitor) RunCleanup(ctx context.Context, days int) (Report, error) {
	return m.submit(ctx, task{kind: taskCleanup, days: days})
}

// Snapshot asks the running monitor to persist state now.
func (m *Monitor) Snapshot(ctx context.Context) (Report, error) {
	return m.submit(ctx, task{kind: taskSnapshot})
}

func (m *Monitor) submit(ctx context.Context, t task) (Report, error) {
	m.mu.Lock()
	running, done := m.running, m.done
	m.mu.Unlock()
	if !running {
		return Report{}, ErrNotRunning
	}
	t.reply = make(chan Report, 1)
	select {
	case m.tasks <- t:
	case <-done:
		return Report{}, ErrNotRunning
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
	select {
	case r := <-t.reply:
		return r, nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Sweep runs one maintenance pass synchronously.
func (m *Monitor) Sweep(ctx context.Context, days int, trigger string) Report {
	if days <= 0 {
		days = m.opts.RetentionDays
		if rec := m.memories.Health().RecommendedCleanupDays; rec > 0 && rec < days {
			days = rec
		}
	}
	r := Report{At: time.Now().UTC(), Trigger: trigger, ThresholdDays: days}
	r.EmotionalRemoved = m.memories.CleanupOldEmotional(days)
	if m.opts.MaxEntries > 0 {
		r.Pruned = m.memories.Prune(m.opts.MaxEntries)
	}
	r.Health = m.memories.Health()
	r = m.save(ctx, r)

	if m.metrics != nil {
		m.metrics.MemoryEvictions.WithLabelValues("emotional_age").Add(float64(r.EmotionalRemoved))
		m.metrics.MemoryEvictions.WithLabelValues("retention").Add(float64(r.Pruned))
	}
	log.Printf("monitor: %s sweep removed=%d pruned=%d status=%s score=%.1f", trigger, r.EmotionalRemoved, r.Pruned, r.Health.Status, r.Health.Score)
	return r
}

func (m *Monitor) save(ctx context.Context, r Report) Report {
	m.Publish()
	if m.backend != nil {
		err := reliability.Retry(ctx, reliability.DefaultPolicy(), func(ctx context.Context) error {
			if err := m.profiles.SaveTo(ctx, m.backend); err != nil {
				return err
			}
			return m.memories.SaveTo(ctx, m.backend)
		})
		if err != nil {
			r.SaveError = err.Error()
			log.Printf("monitor: snapshot failed: %v", err)
			if m.metrics != nil {
				m.metrics.PersistenceError.WithLabelValues("save").Inc()
			}
		} else {
			r.Saved = true
		}
	}
	m.mu.Lock()
	m.last = r
	m.mu.Unlock()
	return r
}

// Publish refreshes the store gauges.
func (m *Monitor) Publish() {
	if m.metrics == nil {
		return
	}
	sum := m.memories.Summary()
	m.metrics.MemoryEntries.WithLabelValues(string(memory.TypeNormal)).Set(float64(sum.ByType[memory.TypeNormal]))
	m.metrics.MemoryEntries.WithLabelValues(string(memory.TypeEmotional)).Set(float64(sum.ByType[memory.TypeEmotional]))
	m.metrics.MemoryHealth.Set(sum.Health.Score)
	m.metrics.EmotionalRatio.Set(sum.Health.EmotionalRatio)
	m.metrics.Profiles.Set(float64(m.profiles.Len()))
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
