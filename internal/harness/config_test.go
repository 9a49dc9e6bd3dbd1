package harness_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/trainkit/internal/harness"
	"github.com/born-ml/trainkit/internal/optim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := harness.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 128, cfg.BatchSize)
	assert.Equal(t, "adam", cfg.Optimizer)
	assert.Equal(t, float32(optim.DefaultAveragingDecay), cfg.AveragingDecay)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 32\noptimizer: rms\ngrad_clip: 0\n"), 0o600))

	cfg, err := harness.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, "rms", cfg.Optimizer)
	assert.Zero(t, cfg.GradClip)
	assert.Equal(t, harness.DefaultConfig().NumTrainingSteps, cfg.NumTrainingSteps)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_sise: 32\n"), 0o600))

	_, err := harness.LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := harness.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, harness.DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*harness.Config)
	}{
		{"batch size", func(c *harness.Config) { c.BatchSize = 0 }},
		{"learning rate", func(c *harness.Config) { c.LearningRate = 0 }},
		{"keep prob", func(c *harness.Config) { c.KeepProb = 1.5 }},
		{"grad clip", func(c *harness.Config) { c.GradClip = -1 }},
		{"restarts", func(c *harness.Config) { c.NumRestarts = -1 }},
		{"patience", func(c *harness.Config) { c.EarlyStoppingSteps = 0 }},
		{"decay", func(c *harness.Config) { c.AveragingDecay = 1 }},
		{"log interval", func(c *harness.Config) { c.LogInterval = 0 }},
		{"log interval past patience", func(c *harness.Config) { c.LogInterval, c.EarlyStoppingSteps = 50, 20 }},
		{"window", func(c *harness.Config) { c.LossAveragingWindow = 0 }},
		{"dirs", func(c *harness.Config) { c.CheckpointDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := harness.DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), harness.ErrInvalidConfig)
		})
	}

	cfg := harness.DefaultConfig()
	cfg.Optimizer = "momentum"
	assert.ErrorIs(t, cfg.Validate(), optim.ErrUnknownOptimizer)
}
