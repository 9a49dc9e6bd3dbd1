// Package frame implements an aligned-columns table for feeding training loops.
//
// A Frame holds named n-dimensional columns that share a leading dimension N
// together with an index, a permutation of 0..N-1 that decides the order in
// which rows are visited. Shuffle permutes the index in place; every other
// operation leaves it alone. Split, Mask, Take and the batches yielded by
// Batches are new frames that own copies of their rows and start with an
// identity index.
package frame

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Row maps column names to the values of a single row.
// Each value has the column shape without its leading dimension.
type Row map[string]*Array

// Frame is a set of named columns with equal leading dimension.
type Frame struct {
	columns []string
	fields  map[string]Column
	index   []int
	length  int
	rng     *rand.Rand
}

// New creates a frame from parallel lists of names and columns.
//
// The columns are referenced, not copied. All of them must share the same
// leading dimension and none may be a scalar.
func New(columns []string, data []Column) (*Frame, error) {
	if len(columns) != len(data) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d column names for %d arrays", len(columns), len(data))
	}

	f := &Frame{
		columns: make([]string, 0, len(columns)),
		fields:  make(map[string]Column, len(columns)),
		length:  -1,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // shuffling, not crypto
	}
	for i, name := range columns {
		if _, dup := f.fields[name]; dup {
			return nil, errors.Wrapf(ErrDuplicateColumn, "%q", name)
		}
		n := leading(data[i])
		if n < 0 {
			return nil, errors.Wrapf(ErrShapeMismatch, "column %q is a scalar", name)
		}
		if f.length >= 0 && n != f.length {
			return nil, errors.Wrapf(ErrShapeMismatch, "column %q has %d rows, want %d", name, n, f.length)
		}
		f.length = n
		f.columns = append(f.columns, name)
		f.fields[name] = data[i]
	}
	if f.length < 0 {
		f.length = 0
	}
	f.index = identity(f.length)
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.length }

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string { return slices.Clone(f.columns) }

// Index returns a copy of the current row order.
func (f *Frame) Index() []int { return slices.Clone(f.index) }

// Shapes returns the shape of every column.
func (f *Frame) Shapes() map[string]tensor.Shape {
	out := make(map[string]tensor.Shape, len(f.columns))
	for _, name := range f.columns {
		out[name] = f.fields[name].Shape().Clone()
	}
	return out
}

// DTypes returns the element type of every column.
func (f *Frame) DTypes() map[string]tensor.DataType {
	out := make(map[string]tensor.DataType, len(f.columns))
	for _, name := range f.columns {
		out[name] = f.fields[name].DType()
	}
	return out
}

// SetSource replaces the random source used by Shuffle and Batches.
func (f *Frame) SetSource(src rand.Source) {
	f.rng = rand.New(src) //nolint:gosec // shuffling, not crypto
}

// Shuffle permutes the row order in place.
func (f *Frame) Shuffle() {
	f.rng.Shuffle(len(f.index), func(i, j int) {
		f.index[i], f.index[j] = f.index[j], f.index[i]
	})
}

// Split partitions the rows into disjoint train and test frames.
//
// floor(trainFraction*N) rows are drawn without replacement from the current
// row order using a generator seeded with seed; the rest form the test frame
// in their current order. The same seed always yields the same partition.
func (f *Frame) Split(trainFraction float64, seed uint64) (train, test *Frame, err error) {
	if !(trainFraction > 0 && trainFraction < 1) {
		return nil, nil, errors.Wrapf(ErrInvalidFraction, "got %v", trainFraction)
	}
	nTrain := int(math.Floor(trainFraction * float64(f.length)))
	if nTrain == 0 || nTrain == f.length {
		return nil, nil, errors.Wrapf(ErrEmptySplit, "%d of %d rows for training", nTrain, f.length)
	}

	picked := make([]int, nTrain)
	sampleuv.WithoutReplacement(picked, f.length, rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	inTrain := make([]bool, f.length)
	trainIdx := make([]int, nTrain)
	for i, p := range picked {
		inTrain[p] = true
		trainIdx[i] = f.index[p]
	}
	testIdx := make([]int, 0, f.length-nTrain)
	for p, k := range f.index {
		if !inTrain[p] {
			testIdx = append(testIdx, k)
		}
	}

	if train, err = f.Take(trainIdx); err != nil {
		return nil, nil, err
	}
	if test, err = f.Take(testIdx); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// BatchOptions configures Batches.
type BatchOptions struct {
	BatchSize int
	// Shuffle reshuffles the frame at the start of every epoch.
	Shuffle bool
	// NumEpochs bounds the number of passes; zero means unbounded.
	NumEpochs int
	// AllowSmallerFinalBatch yields the trailing partial window of each epoch
	// instead of dropping it.
	AllowSmallerFinalBatch bool
}

// Batches returns a lazy sequence of row batches.
//
// Each epoch walks the index in windows of BatchSize starting at 0, so an
// epoch yields N/BatchSize full batches, plus one partial batch of N%BatchSize
// rows when AllowSmallerFinalBatch is set. Every batch owns copies of its
// rows. With NumEpochs zero the sequence only ends when the consumer stops.
func (f *Frame) Batches(opts BatchOptions) iter.Seq[*Frame] {
	return func(yield func(*Frame) bool) {
		size := opts.BatchSize
		if size <= 0 || f.length == 0 {
			return
		}
		if f.length < size && !opts.AllowSmallerFinalBatch {
			return
		}
		epochs := opts.NumEpochs
		if epochs <= 0 {
			epochs = math.MaxInt
		}

		for epoch := 0; epoch < epochs; epoch++ {
			if opts.Shuffle {
				f.Shuffle()
			}
			for start := 0; start < f.length; start += size {
				end := min(start+size, f.length)
				if end-start < size && !opts.AllowSmallerFinalBatch {
					break
				}
				if !yield(f.gather(f.index[start:end])) {
					return
				}
			}
		}
	}
}

// Mask returns the rows whose entry in keep is true, in storage order.
func (f *Frame) Mask(keep []bool) (*Frame, error) {
	if len(keep) != f.length {
		return nil, errors.Wrapf(ErrLengthMismatch, "mask of %d for %d rows", len(keep), f.length)
	}
	idx := make([]int, 0, f.length)
	for k, ok := range keep {
		if ok {
			idx = append(idx, k)
		}
	}
	return f.Take(idx)
}

// Take returns a new frame with copies of the rows at the given storage
// positions, in that order.
func (f *Frame) Take(idx []int) (*Frame, error) {
	for _, k := range idx {
		if k < 0 || k >= f.length {
			return nil, errors.Wrapf(ErrIndexOutOfRange, "row %d of %d", k, f.length)
		}
	}
	return f.gather(idx), nil
}

// gather copies the rows at storage positions idx, which must be in range.
func (f *Frame) gather(idx []int) *Frame {
	out := &Frame{
		columns: slices.Clone(f.columns),
		fields:  make(map[string]Column, len(f.columns)),
		index:   identity(len(idx)),
		length:  len(idx),
		rng:     rand.New(rand.NewPCG(f.rng.Uint64(), f.rng.Uint64())), //nolint:gosec // shuffling, not crypto
	}
	for _, name := range f.columns {
		out.fields[name] = take(f.fields[name], idx)
	}
	return out
}

// Rows returns the rows in current index order.
// The order is fixed when iteration starts.
func (f *Frame) Rows() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		for pos, k := range slices.Clone(f.index) {
			if !yield(pos, f.storageRow(k)) {
				return
			}
		}
	}
}

// Row returns the row at position pos of the current index order.
// After Shuffle the same pos resolves to a different stored row.
func (f *Frame) Row(pos int) (Row, error) {
	if pos < 0 || pos >= f.length {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "row %d of %d", pos, f.length)
	}
	return f.storageRow(f.index[pos]), nil
}

func (f *Frame) storageRow(k int) Row {
	r := make(Row, len(f.columns))
	for _, name := range f.columns {
		r[name] = row(f.fields[name], k)
	}
	return r
}

// Column returns the named column as stored.
func (f *Frame) Column(name string) (Column, bool) {
	c, ok := f.fields[name]
	return c, ok
}

// Array returns the named column as an owned array, copying if it is not one.
func (f *Frame) Array(name string) (*Array, bool) {
	c, ok := f.fields[name]
	if !ok {
		return nil, false
	}
	if a, isArray := c.(*Array); isArray {
		return a, true
	}
	return ArrayOf(c), true
}

// Set adds a column, or replaces it when the name exists.
func (f *Frame) Set(name string, c Column) error {
	if n := leading(c); n != f.length {
		return errors.Wrapf(ErrShapeMismatch, "column %q has %d rows, want %d", name, n, f.length)
	}
	if _, ok := f.fields[name]; !ok {
		f.columns = append(f.columns, name)
	}
	f.fields[name] = c
	return nil
}

// All returns the columns in order.
func (f *Frame) All() iter.Seq2[string, Column] {
	return func(yield func(string, Column) bool) {
		for _, name := range f.columns {
			if !yield(name, f.fields[name]) {
				return
			}
		}
	}
}

func (f *Frame) String() string {
	parts := make([]string, len(f.columns))
	for i, name := range f.columns {
		c := f.fields[name]
		parts[i] = fmt.Sprintf("%s:%s%v", name, c.DType(), []int(c.Shape()))
	}
	return fmt.Sprintf("Frame(%d rows; %s)", f.length, strings.Join(parts, ", "))
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
