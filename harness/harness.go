// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package harness trains Born models with early stopping, restarts,
// checkpointing, parameter averaging and batched prediction.
//
// A model implements Model over an autodiff backend; batches come from a
// Reader. The loop evaluates one validation batch and takes one optimizer
// step per training step:
//
//	backend := autodiff.New(cpu.New())
//	r, err := harness.OpenReader("data", harness.ReaderOptions{Seed: 1})
//	h, err := harness.New(model, r, harness.DefaultConfig(), backend, logger)
//	result, err := h.Fit(ctx)
//	paths, err := h.Predict(ctx, 512)
package harness

import (
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/trainkit/internal/harness"
	"github.com/born-ml/trainkit/internal/reader"
	"go.uber.org/zap"
)

// Harness trains a model.
type Harness[B autodiff.BackwardCapable] = harness.Harness[B]

// Config holds the training options.
type Config = harness.Config

// Model defines a network and its loss.
type Model[B tensor.Backend] = harness.Model[B]

// Capabilities declares what a model reads and exposes.
type Capabilities = harness.Capabilities

// Feed maps declared model inputs to batch tensors.
type Feed = harness.Feed

// Mode carries the per-call dropout and training flags.
type Mode = harness.Mode

// Outputs is the result of one forward pass.
type Outputs[B tensor.Backend] = harness.Outputs[B]

// Reader supplies training, validation and test batches.
type Reader = harness.Reader

// State is the phase of a training run.
type State = harness.State

// Result summarises a call to Fit.
type Result = harness.Result

// Training states.
const (
	Idle         = harness.Idle
	Running      = harness.Running
	Restarting   = harness.Restarting
	EarlyStopped = harness.EarlyStopped
	Completed    = harness.Completed
	Interrupted  = harness.Interrupted
	Failed       = harness.Failed
)

// Errors returned by the harness.
var (
	ErrInvalidConfig      = harness.ErrInvalidConfig
	ErrReaderExhausted    = harness.ErrReaderExhausted
	ErrNoLoss             = harness.ErrNoLoss
	ErrMissingOutput      = harness.ErrMissingOutput
	ErrCheckpointMismatch = harness.ErrCheckpointMismatch
)

// New validates cfg, builds the model on backend and sets up the optimizer.
func New[B autodiff.BackwardCapable](model Model[B], r Reader, cfg Config, backend B, logger *zap.Logger) (*Harness[B], error) {
	return harness.New(model, r, cfg, backend, logger)
}

// DefaultConfig returns the default options.
func DefaultConfig() Config {
	return harness.DefaultConfig()
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	return harness.LoadConfig(path)
}

// NpyReader serves batches from a directory of .npy columns.
type NpyReader = reader.Reader

// ReaderOptions configures OpenReader.
type ReaderOptions = reader.Options

// OpenReader loads every column in dir and splits it into training and
// validation frames.
func OpenReader(dir string, opts ReaderOptions) (*NpyReader, error) {
	return reader.Open(dir, opts)
}
