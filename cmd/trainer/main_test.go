package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/trainkit/internal/harness"
	"github.com/born-ml/trainkit/internal/npy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSynthetic(t *testing.T) {
	f, err := synthetic(50, 4, 3, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, 50, f.Len())

	features, ok := f.Array(featuresColumn)
	require.True(t, ok)
	assert.Equal(t, []int{50, 4}, []int(features.Shape()))

	labels, ok := f.Array(labelsColumn)
	require.True(t, ok)
	for _, l := range labels.Int32s() {
		assert.True(t, l >= 0 && l < 3)
	}

	again, err := synthetic(50, 4, 3, 3, 7)
	require.NoError(t, err)
	againFeatures, _ := again.Array(featuresColumn)
	assert.Equal(t, features.Float32s(), againFeatures.Float32s())

	_, err = synthetic(10, 4, 1, 3, 7)
	assert.Error(t, err)
}

func TestTrainSyntheticEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := harness.DefaultConfig()
	cfg.BatchSize = 16
	cfg.NumTrainingSteps = 30
	cfg.MinStepsToCheckpoint = 30
	cfg.LogInterval = 5
	cfg.LossAveragingWindow = 5
	cfg.EnableParameterAveraging = true
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.CheckpointDir = filepath.Join(dir, "checkpoints")
	cfg.PredictionDir = filepath.Join(dir, "predictions")

	opts := options{
		Config:    cfg,
		Synthetic: true,
		Mode:      "all",
		ChunkSize: 64,
		Seed:      3,
		Hidden:    8,
		Classes:   3,
		Rows:      400,
		Dim:       4,
	}
	require.NoError(t, train(context.Background(), opts, zaptest.NewLogger(t)))

	probs, err := npy.Load(filepath.Join(cfg.PredictionDir, "probabilities.npy"))
	require.NoError(t, err)
	assert.Equal(t, []int{400, 3}, []int(probs.Shape()))

	preds, err := npy.Load(filepath.Join(cfg.PredictionDir, "predictions.npy"))
	require.NoError(t, err)
	assert.Equal(t, []int{400}, []int(preds.Shape()))

	for _, name := range []string{"fc1_weight", "fc1_bias", "fc2_weight", "fc2_bias"} {
		_, err := os.Stat(filepath.Join(cfg.PredictionDir, name+".npy"))
		assert.NoError(t, err, name)
	}
}

func TestTrainDataDir(t *testing.T) {
	dir := t.TempDir()
	f, err := synthetic(200, 4, 2, 3, 1)
	require.NoError(t, err)
	for name, c := range f.All() {
		require.NoError(t, npy.Save(filepath.Join(dir, "data", name+".npy"), c))
	}

	cfg := harness.DefaultConfig()
	cfg.BatchSize = 8
	cfg.NumTrainingSteps = 4
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.CheckpointDir = filepath.Join(dir, "checkpoints")
	cfg.PredictionDir = filepath.Join(dir, "predictions")

	opts := options{
		Config:    cfg,
		DataDir:   filepath.Join(dir, "data"),
		Mmap:      true,
		Mode:      "fit",
		ChunkSize: 32,
		Hidden:    4,
		Classes:   2,
	}
	require.NoError(t, train(context.Background(), opts, zaptest.NewLogger(t)))

	// fit only: final checkpoint, no predictions
	_, err = os.Stat(filepath.Join(cfg.CheckpointDir, "model-4.npz"))
	assert.NoError(t, err)
	_, err = os.Stat(cfg.PredictionDir)
	assert.True(t, os.IsNotExist(err))
}
