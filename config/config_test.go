package config_test

import (
	"testing"

	"github.com/shgat/runtime/config"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(config.WithEnvLookup(lookupFrom(nil)))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	cfg, err := config.Load(config.WithEnvLookup(lookupFrom(map[string]string{
		"EMBEDDING_DIM": "256",
		"PER_ALPHA":     "0.75",
	})))
	require.NoError(t, err)
	require.Equal(t, 256, cfg.EmbeddingDim)
	require.Equal(t, 0.75, cfg.PERAlpha)
	require.Equal(t, config.Default().TrainBatch, cfg.TrainBatch)
}

func TestLoad_BadIntEnv(t *testing.T) {
	_, err := config.Load(config.WithEnvLookup(lookupFrom(map[string]string{
		"NUM_NEGATIVES": "not-a-number",
	})))
	require.Error(t, err)
}

func TestLoad_MissingOverlayFileIsNotError(t *testing.T) {
	cfg, err := config.Load(
		config.WithEnvLookup(lookupFrom(nil)),
		config.WithOverlayPath("/nonexistent/overlay.yaml"),
	)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}
