package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the identity and memory service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// DatabaseURL selects the persistence backend: empty keeps everything
	// in-process, postgres:// uses pgx and sqlite:// (or a bare path) uses SQLite.
	DatabaseURL string

	CleanupInterval        time.Duration
	EmotionalRetentionDays int
	MemoryMaxEntries       int
	PromptMemoryLimit      int
	RedactPII              bool

	ContinuityWindow  int
	ContinuityTimeout time.Duration

	FusionConfigFile string
	Fusion           FusionConfig
}

// FusionConfig holds the identity fusion weights and thresholds. The
// defaults were picked empirically and are expected to be tuned.
type FusionConfig struct {
	Weights    FusionWeights    `yaml:"weights"`
	Thresholds FusionThresholds `yaml:"thresholds"`
}

type FusionWeights struct {
	Voice      float64 `yaml:"voice"`
	TextStyle  float64 `yaml:"text_style"`
	Context    float64 `yaml:"context"`
	SelfID     float64 `yaml:"self_id"`
	Continuity float64 `yaml:"continuity"`
}

type FusionThresholds struct {
	NewUser             float64 `yaml:"new_user"`
	TieEpsilon          float64 `yaml:"tie_epsilon"`
	BootstrapConfidence float64 `yaml:"bootstrap_confidence"`
	FallbackFactor      float64 `yaml:"fallback_factor"`
	SelfIDScore         float64 `yaml:"self_id_score"`
	MinVoiceScore       float64 `yaml:"min_voice_score"`
}

// DefaultFusion returns the stock fusion tuning.
func DefaultFusion() FusionConfig {
	return FusionConfig{
		Weights: FusionWeights{
			Voice:      0.80,
			TextStyle:  0.40,
			Context:    0.60,
			SelfID:     0.80,
			Continuity: 0.20,
		},
		Thresholds: FusionThresholds{
			NewUser:             0.35,
			TieEpsilon:          0.02,
			BootstrapConfidence: 0.10,
			FallbackFactor:      0.5,
			SelfIDScore:         0.95,
			MinVoiceScore:       0.3,
		},
	}
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "rapport"),
		AllowAnyOrigin:           false,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		FusionConfigFile:         stringsTrimSpace("FUSION_CONFIG_FILE"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		CleanupInterval:          time.Hour,
		EmotionalRetentionDays:   7,
		MemoryMaxEntries:         10000,
		PromptMemoryLimit:        5,
		RedactPII:                true,
		ContinuityWindow:         10,
		ContinuityTimeout:        10 * time.Minute,
		Fusion:                   DefaultFusion(),
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CleanupInterval, err = durationFromEnv("MEMORY_CLEANUP_INTERVAL", cfg.CleanupInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ContinuityTimeout, err = durationFromEnv("IDENTITY_CONTINUITY_TIMEOUT", cfg.ContinuityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmotionalRetentionDays, err = intFromEnv("MEMORY_EMOTIONAL_RETENTION_DAYS", cfg.EmotionalRetentionDays)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryMaxEntries, err = intFromEnv("MEMORY_MAX_ENTRIES", cfg.MemoryMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.PromptMemoryLimit, err = intFromEnv("MEMORY_PROMPT_LIMIT", cfg.PromptMemoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ContinuityWindow, err = intFromEnv("IDENTITY_CONTINUITY_WINDOW", cfg.ContinuityWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.Fusion.Thresholds.NewUser, err = floatFromEnv("IDENTITY_NEW_USER_THRESHOLD", cfg.Fusion.Thresholds.NewUser)
	if err != nil {
		return Config{}, err
	}
	cfg.Fusion.Thresholds.TieEpsilon, err = floatFromEnv("IDENTITY_TIE_EPSILON", cfg.Fusion.Thresholds.TieEpsilon)
	if err != nil {
		return Config{}, err
	}

	if cfg.FusionConfigFile != "" {
		cfg.Fusion, err = LoadFusionFile(cfg.FusionConfigFile, cfg.Fusion)
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.CleanupInterval < time.Second {
		return Config{}, fmt.Errorf("MEMORY_CLEANUP_INTERVAL must be at least 1s")
	}
	if cfg.EmotionalRetentionDays <= 0 {
		return Config{}, fmt.Errorf("MEMORY_EMOTIONAL_RETENTION_DAYS must be positive")
	}
	if cfg.MemoryMaxEntries < 0 {
		return Config{}, fmt.Errorf("MEMORY_MAX_ENTRIES must be >= 0")
	}
	if cfg.ContinuityWindow <= 0 {
		return Config{}, fmt.Errorf("IDENTITY_CONTINUITY_WINDOW must be positive")
	}
	if err := cfg.Fusion.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFusionFile overlays the YAML file at path on top of base. Keys missing
// from the file keep their base values.
func LoadFusionFile(path string, base FusionConfig) (FusionConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FusionConfig{}, fmt.Errorf("read fusion config: %w", err)
	}
	out := base
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return FusionConfig{}, fmt.Errorf("parse fusion config %s: %w", path, err)
	}
	return out, nil
}

// Validate checks that every weight and threshold is usable.
func (f FusionConfig) Validate() error {
	weights := map[string]float64{
		"voice":      f.Weights.Voice,
		"text_style": f.Weights.TextStyle,
		"context":    f.Weights.Context,
		"self_id":    f.Weights.SelfID,
		"continuity": f.Weights.Continuity,
	}
	for name, w := range weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("fusion weight %s must be in [0,1], got %v", name, w)
		}
	}
	th := f.Thresholds
	for name, v := range map[string]float64{
		"new_user":             th.NewUser,
		"tie_epsilon":          th.TieEpsilon,
		"bootstrap_confidence": th.BootstrapConfidence,
		"fallback_factor":      th.FallbackFactor,
		"self_id_score":        th.SelfIDScore,
		"min_voice_score":      th.MinVoiceScore,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("fusion threshold %s must be in [0,1], got %v", name, v)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
