package harness

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/born-ml/trainkit/internal/checkpoint"
	"github.com/born-ml/trainkit/internal/frame"
	"github.com/born-ml/trainkit/internal/npy"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// shadowPrefix marks moving-average entries stored in regular checkpoints.
const shadowPrefix = "ema."

// Save writes a checkpoint for step. With averaged set it stores the moving
// averages in place of the parameters, under the parameter keys, in the
// averaged checkpoint directory.
func (h *Harness[B]) Save(step int, averaged bool) error {
	if averaged && h.avg == nil {
		return errors.New("harness: parameter averaging is disabled")
	}

	entries := make([]npy.Entry, 0, 2*len(h.params))
	for i, p := range h.params {
		raw := p.Tensor().Raw()
		if !averaged {
			entries = append(entries, npy.Entry{Name: paramKey(i, p), Column: raw})
			continue
		}
		shadow, err := frame.FromSlice(h.avg.Shadow(i), raw.Shape()...)
		if err != nil {
			return errors.Wrapf(err, "average of %s", paramKey(i, p))
		}
		entries = append(entries, npy.Entry{Name: paramKey(i, p), Column: shadow})
	}
	if !averaged && h.avg != nil {
		for i, p := range h.params {
			shadow, err := frame.FromSlice(h.avg.Shadow(i), p.Tensor().Shape()...)
			if err != nil {
				return errors.Wrapf(err, "average of %s", paramKey(i, p))
			}
			entries = append(entries, npy.Entry{Name: shadowPrefix + paramKey(i, p), Column: shadow})
		}
	}

	_, err := h.store.Save(entries, checkpoint.Meta{
		Step:         step,
		LearningRate: h.lr,
		Averaged:     averaged,
		RunID:        h.runID,
	})
	return err
}

// Restore loads the checkpoint at step into the parameters; step 0 selects
// the latest. A missing checkpoint is an error.
//
// Restoring an averaged checkpoint loads the averages as parameter values.
// Optimizer state is kept as is.
func (h *Harness[B]) Restore(step int, averaged bool) error {
	ckpt, err := h.store.Load(step, averaged)
	if err != nil {
		return err
	}

	for i, p := range h.params {
		key := paramKey(i, p)
		arr, err := ckpt.Archive.Array(key)
		if err != nil {
			return errors.Wrapf(ErrCheckpointMismatch, "%s: %v", ckpt.Path, err)
		}
		raw := p.Tensor().Raw()
		if arr.DType() != raw.DType() || !arr.Shape().Equal(raw.Shape()) {
			return errors.Wrapf(ErrCheckpointMismatch, "%s: %s is %s%v, parameter is %s%v",
				ckpt.Path, key, arr.DType(), []int(arr.Shape()), raw.DType(), []int(raw.Shape()))
		}
		copy(raw.Data(), arr.Data())
	}

	if h.avg != nil {
		h.avg.Reset()
		for i, p := range h.params {
			if shadow, ok := ckpt.Archive.Arrays[shadowPrefix+paramKey(i, p)]; ok {
				h.avg.Load(i, shadow.Float32s())
			}
		}
	}
	return nil
}

// Predict evaluates the prediction tensors over the test sequence with
// chunkSize rows per batch and writes <PredictionDir>/<name>.npy for each,
// then writes every parameter tensor. It returns the written paths.
func (h *Harness[B]) Predict(ctx context.Context, chunkSize int) ([]string, error) {
	dir := h.cfg.PredictionDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create prediction directory %s", dir)
	}

	var written []string
	if len(h.caps.PredictionTensors) > 0 {
		parts := make(map[string][]frame.Column, len(h.caps.PredictionTensors))
		chunks := 0
		for batch := range h.reader.TestBatches(chunkSize) {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			out, err := h.forward(batch)
			if err != nil {
				return written, errors.Wrapf(err, "predict chunk %d", chunks)
			}
			for _, name := range h.caps.PredictionTensors {
				t, ok := out.Tensors[name]
				if !ok {
					return written, errors.Wrapf(ErrMissingOutput, "prediction tensor %q", name)
				}
				parts[name] = append(parts[name], frame.FromRaw(t))
			}
			chunks++
		}

		for _, name := range h.caps.PredictionTensors {
			if len(parts[name]) == 0 {
				h.logger.Warn("no test batches, nothing to save", zap.String("tensor", name))
				continue
			}
			arr, err := frame.Concat(parts[name]...)
			if err != nil {
				return written, errors.Wrapf(err, "concatenate %q", name)
			}
			path, err := h.writeArray(dir, name, arr)
			if err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}

	names := make([]string, 0, len(h.caps.ParameterTensors))
	for name := range h.caps.ParameterTensors {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		path, err := h.writeArray(dir, name, h.caps.ParameterTensors[name])
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func (h *Harness[B]) writeArray(dir, name string, c frame.Column) (string, error) {
	path := filepath.Join(dir, fileName(name)+".npy")
	h.logger.Info("saving tensor",
		zap.String("tensor", name),
		zap.Ints("shape", c.Shape()),
		zap.String("path", path))
	if err := npy.Save(path, c); err != nil {
		return "", errors.Wrapf(err, "save %q", name)
	}
	return path, nil
}

// fileName keeps tensor names with path separators inside dir.
func fileName(name string) string {
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(name)
}
