package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 0.70, cfg.MatchThreshold)
	assert.Equal(t, 0.5, cfg.ReviewFractionThreshold)
	assert.Equal(t, 5, cfg.TopKVendors)
	assert.Equal(t, 60.0, cfg.MinReliability)
	assert.Equal(t, int64(10), cfg.SeedSamples)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.AdminEnabled())

	q := cfg.IngestionQueue()
	assert.Equal(t, 3, q.MaxAttempts)
	assert.Equal(t, 5*time.Second, q.BaseBackoff)
	assert.Equal(t, 10*time.Minute, q.CapBackoff)
}

func TestLoad_WeightOverrides(t *testing.T) {
	t.Setenv("SELECTOR_W_REL", "0.25")
	t.Setenv("SELECTOR_W_PRICE", "0.25")
	t.Setenv("SELECTOR_W_FUL", "0.25")
	t.Setenv("SELECTOR_W_RESP", "0.25")

	cfg, err := config.Load()
	require.NoError(t, err)
	w := cfg.SelectorWeights()
	assert.Equal(t, 0.25, w.Reliability)
	assert.Equal(t, 0.25, w.Response)
}

func TestLoad_RejectsBadWeightSum(t *testing.T) {
	t.Setenv("SELECTOR_W_REL", "0.9")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selector weights")

	t.Setenv("SELECTOR_W_REL", "0.40")
	t.Setenv("METRICS_W5", "0.5")
	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics weights")
}

func TestLoad_RejectsOutOfRangeThreshold(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "1.5")
	_, err := config.Load()
	require.Error(t, err)
}

func TestEnvModes(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.False(t, cfg.IsDev())
	assert.False(t, cfg.IsTest())
}
