package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/rapport/internal/config"
	"github.com/ent0n29/rapport/internal/httpapi"
	"github.com/ent0n29/rapport/internal/memory"
	"github.com/ent0n29/rapport/internal/monitor"
	"github.com/ent0n29/rapport/internal/observability"
	"github.com/ent0n29/rapport/internal/pipeline"
	"github.com/ent0n29/rapport/internal/profile"
	"github.com/ent0n29/rapport/internal/session"
	"github.com/ent0n29/rapport/internal/storage"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Pipeline *pipeline.Pipeline
	Profiles *profile.Store
	Memories *memory.Store
	Monitor  *monitor.Monitor
	Backend  storage.Backend
	Metrics  *observability.Metrics

	// Cleanup saves a final snapshot and releases the storage backend.
	Cleanup func() error
	// Close releases the storage backend without saving. Read-only
	// commands use it instead of Cleanup.
	Close func() error
}

// Build wires every service from cfg and loads persisted state. The
// background loops are not started; see Start.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	backend, err := storage.NewBackend(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage backend init failed: %w", err)
	}

	profiles := profile.NewStore(profile.WithContinuityWindow(cfg.ContinuityWindow))
	memories := memory.NewStore(memory.WithMaxEntries(cfg.MemoryMaxEntries))
	if err := load(ctx, backend, profiles, memories, metrics); err != nil {
		_ = backend.Close()
		return nil, err
	}

	mon := monitor.New(memories, profiles, backend, metrics, monitor.Options{
		Interval:      cfg.CleanupInterval,
		RetentionDays: cfg.EmotionalRetentionDays,
		MaxEntries:    cfg.MemoryMaxEntries,
	})
	mon.Publish()

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvent("expired", sessions.ActiveCount())
	})

	pipe := pipeline.New(profiles, memories, metrics, pipeline.OptionsFromConfig(cfg))

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions: sessions,
		Pipeline: pipe,
		Profiles: profiles,
		Memories: memories,
		Monitor:  mon,
		Metrics:  metrics,
	})

	cleanup := func() error {
		var errs []string
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		saveCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := profiles.SaveTo(saveCtx, backend); err != nil {
			metrics.PersistenceError.WithLabelValues("save_profiles").Inc()
			errs = append(errs, err.Error())
		}
		if err := memories.SaveTo(saveCtx, backend); err != nil {
			metrics.PersistenceError.WithLabelValues("save_memories").Inc()
			errs = append(errs, err.Error())
		}
		if err := backend.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Pipeline: pipe,
		Profiles: profiles,
		Memories: memories,
		Monitor:  mon,
		Backend:  backend,
		Metrics:  metrics,
		Cleanup:  cleanup,
		Close:    backend.Close,
	}, nil
}

// Start launches the session janitor and the cleanup monitor. Both stop when
// ctx is cancelled.
func (b *BuildResult) Start(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, 5*time.Second)
	b.Monitor.Start(ctx)
}

func load(ctx context.Context, backend storage.Backend, profiles *profile.Store, memories *memory.Store, metrics *observability.Metrics) error {
	np, err := profiles.LoadFrom(ctx, backend)
	if err != nil {
		metrics.PersistenceError.WithLabelValues("load_profiles").Inc()
		return fmt.Errorf("load profiles: %w", err)
	}
	nm, err := memories.LoadFrom(ctx, backend)
	if err != nil {
		metrics.PersistenceError.WithLabelValues("load_memories").Inc()
		return fmt.Errorf("load memories: %w", err)
	}
	log.Printf("app: loaded %d profiles and %d memories", np, nm)
	return nil
}
