// Package reader serves training, validation and test batches from a
// directory of .npy columns.
//
// Every <name>.npy file in the directory becomes a column of the test frame.
// A seeded split of that frame gives the training and validation frames:
//
//	data/
//	  features.npy   [N, D] float32
//	  labels.npy     [N] int32
//
// Training and validation batches are shuffled and never run out; test
// batches cover the test frame once, in order, keeping the final short batch.
package reader

import (
	"iter"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/born-ml/trainkit/internal/frame"
	"github.com/born-ml/trainkit/internal/npy"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultTrainFraction is the share of rows used for training.
const DefaultTrainFraction = 0.95

// ErrNoColumns is returned when a directory holds no .npy files.
var ErrNoColumns = errors.New("reader: no .npy columns found")

// Transform adds derived columns to a batch before it is yielded.
// test reports whether the batch comes from the test sequence.
type Transform func(batch *frame.Frame, test bool) error

// Options configures Open and New.
type Options struct {
	// Columns restricts loading to these names; empty loads every .npy file.
	Columns []string
	// TrainFraction is the training share of the split, DefaultTrainFraction
	// when zero.
	TrainFraction float64
	// Seed drives the split and the batch shuffling.
	Seed uint64
	// Mmap maps column files instead of reading them.
	Mmap bool
	// Transform, when set, runs on every batch.
	Transform Transform
	Logger    *zap.Logger
}

// Reader yields batches of a split frame.
type Reader struct {
	test, train, val *frame.Frame
	transform        Transform
	logger           *zap.Logger
	closers          []*npy.Mapped

	mu  sync.Mutex
	err error
}

// Open loads the columns in dir and splits them.
func Open(dir string, opts Options) (*Reader, error) {
	names := opts.Columns
	if len(names) == 0 {
		var err error
		if names, err = List(dir); err != nil {
			return nil, err
		}
	}

	cols := make([]frame.Column, 0, len(names))
	var mapped []*npy.Mapped
	closeAll := func() {
		for _, m := range mapped {
			_ = m.Close()
		}
	}
	for _, name := range names {
		path := filepath.Join(dir, name+".npy")
		if opts.Mmap {
			m, err := npy.Open(path)
			if err != nil {
				closeAll()
				return nil, errors.Wrapf(err, "column %q", name)
			}
			mapped = append(mapped, m)
			cols = append(cols, m)
			continue
		}
		arr, err := npy.Load(path)
		if err != nil {
			closeAll()
			return nil, errors.Wrapf(err, "column %q", name)
		}
		cols = append(cols, arr)
	}

	test, err := frame.New(names, cols)
	if err != nil {
		closeAll()
		return nil, err
	}
	r, err := New(test, opts)
	if err != nil {
		closeAll()
		return nil, err
	}
	r.closers = mapped
	return r, nil
}

// New splits an in-memory test frame. The train and validation frames own
// their rows; test is used as is.
func New(test *frame.Frame, opts Options) (*Reader, error) {
	frac := opts.TrainFraction
	if frac == 0 {
		frac = DefaultTrainFraction
	}
	train, val, err := test.Split(frac, opts.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "split")
	}
	train.SetSource(rand.NewPCG(opts.Seed, 1))
	val.SetSource(rand.NewPCG(opts.Seed, 2))

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("data loaded",
		zap.Strings("columns", test.Columns()),
		zap.Int("train", train.Len()),
		zap.Int("val", val.Len()),
		zap.Int("test", test.Len()))

	return &Reader{
		test:      test,
		train:     train,
		val:       val,
		transform: opts.Transform,
		logger:    logger,
	}, nil
}

// List returns the column names of the .npy files in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read data directory %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".npy") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".npy"))
	}
	if len(names) == 0 {
		return nil, errors.Wrapf(ErrNoColumns, "%s", dir)
	}
	slices.Sort(names)
	return names, nil
}

// Train returns the training frame.
func (r *Reader) Train() *frame.Frame { return r.train }

// Val returns the validation frame.
func (r *Reader) Val() *frame.Frame { return r.val }

// Test returns the full frame that test batches cover.
func (r *Reader) Test() *frame.Frame { return r.test }

// TrainBatches returns shuffled training batches without end.
func (r *Reader) TrainBatches(batchSize int) iter.Seq[*frame.Frame] {
	return r.batches(r.train, frame.BatchOptions{BatchSize: batchSize, Shuffle: true}, false)
}

// ValBatches returns shuffled validation batches without end.
func (r *Reader) ValBatches(batchSize int) iter.Seq[*frame.Frame] {
	return r.batches(r.val, frame.BatchOptions{BatchSize: batchSize, Shuffle: true}, false)
}

// TestBatches returns one ordered pass over the test frame.
func (r *Reader) TestBatches(batchSize int) iter.Seq[*frame.Frame] {
	return r.batches(r.test, frame.BatchOptions{
		BatchSize:              batchSize,
		NumEpochs:              1,
		AllowSmallerFinalBatch: true,
	}, true)
}

func (r *Reader) batches(f *frame.Frame, opts frame.BatchOptions, test bool) iter.Seq[*frame.Frame] {
	return func(yield func(*frame.Frame) bool) {
		for batch := range f.Batches(opts) {
			if r.transform != nil {
				if err := r.transform(batch, test); err != nil {
					r.fail(err)
					return
				}
			}
			if !yield(batch) {
				return
			}
		}
	}
}

func (r *Reader) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Error("batch transform failed", zap.Error(err))
	if r.err == nil {
		r.err = errors.Wrap(err, "transform")
	}
}

// Err returns the first transform error. A sequence that hit one ends early.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close unmaps mapped columns. The test frame must not be used afterwards.
func (r *Reader) Close() error {
	var err error
	for _, m := range r.closers {
		err = multierr.Append(err, m.Close())
	}
	r.closers = nil
	return err
}
