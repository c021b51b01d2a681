package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.EmotionalRetentionDays != 7 {
		t.Fatalf("EmotionalRetentionDays = %d, want 7", cfg.EmotionalRetentionDays)
	}
	w := cfg.Fusion.Weights
	if w.Voice != 0.80 || w.TextStyle != 0.40 || w.Context != 0.60 || w.SelfID != 0.80 || w.Continuity != 0.20 {
		t.Fatalf("unexpected default weights: %+v", w)
	}
	if cfg.Fusion.Thresholds.NewUser != 0.35 || cfg.Fusion.Thresholds.TieEpsilon != 0.02 {
		t.Fatalf("unexpected default thresholds: %+v", cfg.Fusion.Thresholds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_CLEANUP_INTERVAL", "90s")
	t.Setenv("MEMORY_EMOTIONAL_RETENTION_DAYS", "3")
	t.Setenv("IDENTITY_NEW_USER_THRESHOLD", "0.5")
	t.Setenv("MEMORY_REDACT_PII", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CleanupInterval != 90*time.Second {
		t.Fatalf("CleanupInterval = %v, want 90s", cfg.CleanupInterval)
	}
	if cfg.EmotionalRetentionDays != 3 {
		t.Fatalf("EmotionalRetentionDays = %d, want 3", cfg.EmotionalRetentionDays)
	}
	if cfg.Fusion.Thresholds.NewUser != 0.5 {
		t.Fatalf("NewUser = %v, want 0.5", cfg.Fusion.Thresholds.NewUser)
	}
	if cfg.RedactPII {
		t.Fatalf("RedactPII = true, want false")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_SESSION_INACTIVITY_TIMEOUT":  "1s",
		"MEMORY_EMOTIONAL_RETENTION_DAYS": "0",
		"IDENTITY_CONTINUITY_WINDOW":      "-1",
		"IDENTITY_TIE_EPSILON":            "abc",
		"APP_ALLOW_ANY_ORIGIN":            "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func TestLoadFusionFileOverlaysDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "fusion.yaml")
	body := "weights:\n  voice: 0.9\nthresholds:\n  tie_epsilon: 0.05\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fusion file: %v", err)
	}
	t.Setenv("FUSION_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fusion.Weights.Voice != 0.9 {
		t.Fatalf("Voice = %v, want 0.9", cfg.Fusion.Weights.Voice)
	}
	if cfg.Fusion.Weights.TextStyle != 0.40 {
		t.Fatalf("TextStyle = %v, want default 0.40", cfg.Fusion.Weights.TextStyle)
	}
	if cfg.Fusion.Thresholds.TieEpsilon != 0.05 {
		t.Fatalf("TieEpsilon = %v, want 0.05", cfg.Fusion.Thresholds.TieEpsilon)
	}
}

func TestFusionValidateRejectsOutOfRange(t *testing.T) {
	f := DefaultFusion()
	f.Weights.Context = 1.5
	if err := f.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"FUSION_CONFIG_FILE",
		"MEMORY_CLEANUP_INTERVAL",
		"MEMORY_EMOTIONAL_RETENTION_DAYS",
		"MEMORY_MAX_ENTRIES",
		"MEMORY_PROMPT_LIMIT",
		"MEMORY_REDACT_PII",
		"IDENTITY_CONTINUITY_WINDOW",
		"IDENTITY_CONTINUITY_TIMEOUT",
		"IDENTITY_NEW_USER_THRESHOLD",
		"IDENTITY_TIE_EPSILON",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
