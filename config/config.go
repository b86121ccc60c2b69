package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrInvalidOverlay indicates the YAML overlay file could not be parsed.
var ErrInvalidOverlay = errors.New("config: invalid overlay file")

// Config holds every environment-tunable the core reads at bootstrap. Field
// names mirror the environment variables in §6 of the runtime's requirements
// (EMBEDDING_DIM, SHGAT_MAX_LEVEL, ...) with Go-idiomatic casing.
type Config struct {
	EmbeddingDim       int     `yaml:"embedding_dim"`
	SHGATMaxLevel      int     `yaml:"shgat_max_level"`
	PERAlpha           float64 `yaml:"per_alpha"`
	PERTau             float64 `yaml:"per_tau"`
	NumNegatives       int     `yaml:"num_negatives"`
	TrainLR            float64 `yaml:"train_lr"`
	TrainBatch         int     `yaml:"train_batch"`
	TrainTimeoutMS     int     `yaml:"train_timeout_ms"`
	ParamStalenessSec  int     `yaml:"param_staleness_sec"`
}

// Default returns the built-in defaults, matching §6 exactly.
func Default() Config {
	return Config{
		EmbeddingDim:      1024,
		SHGATMaxLevel:     2,
		PERAlpha:          0.6,
		PERTau:            0.1,
		NumNegatives:      4,
		TrainLR:           0.01,
		TrainBatch:        16,
		TrainTimeoutMS:    60000,
		ParamStalenessSec: 3600,
	}
}

// Option configures the Load call.
type Option func(*loadState)

type loadState struct {
	lookup      func(string) (string, bool)
	overlayPath string
}

// WithEnvLookup overrides the environment source (os.LookupEnv by default);
// tests use this to avoid mutating process-wide environment variables.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(s *loadState) { s.lookup = fn }
}

// WithOverlayPath sets a YAML file whose keys are applied before environment
// variables are consulted. A missing file is not an error; a malformed one is.
func WithOverlayPath(path string) Option {
	return func(s *loadState) { s.overlayPath = path }
}

// Load builds a Config from defaults, an optional YAML overlay, and the
// environment, in that precedence order.
func Load(opts ...Option) (Config, error) {
	state := &loadState{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(state)
	}

	cfg := Default()

	if state.overlayPath != "" {
		data, err := os.ReadFile(state.overlayPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config.Load: read overlay: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config.Load: %w: %v", ErrInvalidOverlay, err)
		}
	}

	if err := applyEnv(&cfg, state.lookup); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var err error
	cfg.EmbeddingDim, err = envInt(lookup, "EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return err
	}
	cfg.SHGATMaxLevel, err = envInt(lookup, "SHGAT_MAX_LEVEL", cfg.SHGATMaxLevel)
	if err != nil {
		return err
	}
	cfg.PERAlpha, err = envFloat(lookup, "PER_ALPHA", cfg.PERAlpha)
	if err != nil {
		return err
	}
	cfg.PERTau, err = envFloat(lookup, "PER_TAU", cfg.PERTau)
	if err != nil {
		return err
	}
	cfg.NumNegatives, err = envInt(lookup, "NUM_NEGATIVES", cfg.NumNegatives)
	if err != nil {
		return err
	}
	cfg.TrainLR, err = envFloat(lookup, "TRAIN_LR", cfg.TrainLR)
	if err != nil {
		return err
	}
	cfg.TrainBatch, err = envInt(lookup, "TRAIN_BATCH", cfg.TrainBatch)
	if err != nil {
		return err
	}
	cfg.TrainTimeoutMS, err = envInt(lookup, "TRAIN_TIMEOUT_MS", cfg.TrainTimeoutMS)
	if err != nil {
		return err
	}
	cfg.ParamStalenessSec, err = envInt(lookup, "PARAM_STALENESS_SEC", cfg.ParamStalenessSec)

	return err
}

func envInt(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, raw, err)
	}

	return v, nil
}

func envFloat(lookup func(string) (string, bool), key string, fallback float64) (float64, error) {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, raw, err)
	}

	return v, nil
}
