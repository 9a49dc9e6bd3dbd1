package frame

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newXY builds the frame {"x": (n,3) float32, "y": (n,) int32} where row i
// holds x = [3i, 3i+1, 3i+2] and y = i.
func newXY(t *testing.T, n int) *Frame {
	t.Helper()

	xs := make([]float32, n*3)
	for i := range xs {
		xs[i] = float32(i)
	}
	ys := make([]int32, n)
	for i := range ys {
		ys[i] = int32(i)
	}

	f, err := New([]string{"x", "y"}, []Column{
		MustFromSlice(xs, n, 3),
		MustFromSlice(ys),
	})
	require.NoError(t, err)
	return f
}

func ids(t *testing.T, f *Frame) []int {
	t.Helper()
	c, ok := f.Array("y")
	require.True(t, ok)
	out := make([]int, 0, f.Len())
	for _, v := range c.Int32s() {
		out = append(out, int(v))
	}
	return out
}

func TestNew(t *testing.T) {
	f := newXY(t, 10)

	assert.Equal(t, 10, f.Len())
	assert.Equal(t, []string{"x", "y"}, f.Columns())
	assert.Equal(t, identity(10), f.Index())
	assert.Equal(t, map[string]tensor.Shape{"x": {10, 3}, "y": {10}}, f.Shapes())
	assert.Equal(t, map[string]tensor.DataType{"x": tensor.Float32, "y": tensor.Int32}, f.DTypes())
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		data    []Column
		want    error
	}{
		{
			name:    "count mismatch",
			columns: []string{"a", "b"},
			data:    []Column{MustFromSlice([]float32{1, 2})},
			want:    ErrShapeMismatch,
		},
		{
			name:    "leading dimension mismatch",
			columns: []string{"a", "b"},
			data:    []Column{MustFromSlice([]float32{1, 2}), MustFromSlice([]float32{1, 2, 3})},
			want:    ErrShapeMismatch,
		},
		{
			name:    "scalar",
			columns: []string{"a"},
			data:    []Column{Zeros(tensor.Float32)},
			want:    ErrShapeMismatch,
		},
		{
			name:    "duplicate",
			columns: []string{"a", "a"},
			data:    []Column{MustFromSlice([]float32{1}), MustFromSlice([]float32{2})},
			want:    ErrDuplicateColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.columns, tt.data)
			assert.Nil(t, f)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewAcceptsRawTensor(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{4, 2}, tensor.Float64, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat64(), []float64{0, 1, 2, 3, 4, 5, 6, 7})

	f, err := New([]string{"raw"}, []Column{raw})
	require.NoError(t, err)

	r, err := f.Row(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, r["raw"].Float64s())
}

func TestShuffleIsPermutation(t *testing.T) {
	f := newXY(t, 50)
	f.SetSource(rand.NewPCG(1, 2))

	f.Shuffle()
	idx := f.Index()
	assert.NotEqual(t, identity(50), idx)

	sorted := slices.Clone(idx)
	slices.Sort(sorted)
	assert.Equal(t, identity(50), sorted)
}

func TestRowFollowsIndex(t *testing.T) {
	f := newXY(t, 20)
	f.SetSource(rand.NewPCG(3, 4))
	f.Shuffle()

	idx := f.Index()
	for pos := range 20 {
		r, err := f.Row(pos)
		require.NoError(t, err)
		assert.Equal(t, []int32{int32(idx[pos])}, r["y"].Int32s())
		assert.Equal(t, tensor.Shape{}, r["y"].Shape())
		assert.Equal(t, tensor.Shape{3}, r["x"].Shape())
	}

	_, err := f.Row(20)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = f.Row(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestRows(t *testing.T) {
	f := newXY(t, 5)
	f.SetSource(rand.NewPCG(5, 6))
	f.Shuffle()
	idx := f.Index()

	seen := 0
	for pos, r := range f.Rows() {
		assert.Equal(t, seen, pos)
		assert.Equal(t, int32(idx[pos]), r["y"].Int32s()[0])
		x := r["x"].Float32s()
		assert.Equal(t, float32(3*idx[pos]), x[0])
		seen++
	}
	assert.Equal(t, 5, seen)
}

func TestSplit(t *testing.T) {
	f := newXY(t, 100)

	train, test, err := f.Split(0.8, 42)
	require.NoError(t, err)
	assert.Equal(t, 80, train.Len())
	assert.Equal(t, 20, test.Len())

	trainIDs, testIDs := ids(t, train), ids(t, test)
	union := append(slices.Clone(trainIDs), testIDs...)
	slices.Sort(union)
	assert.Equal(t, identity(100), union, "partitions must be disjoint and cover every row")

	again, againTest, err := f.Split(0.8, 42)
	require.NoError(t, err)
	assert.Equal(t, trainIDs, ids(t, again))
	assert.Equal(t, testIDs, ids(t, againTest))

	other, _, err := f.Split(0.8, 43)
	require.NoError(t, err)
	assert.NotEqual(t, trainIDs, ids(t, other))

	// New frames start with an identity index.
	assert.Equal(t, identity(80), train.Index())
}

func TestSplitRowsStayAligned(t *testing.T) {
	f := newXY(t, 30)
	train, _, err := f.Split(0.5, 7)
	require.NoError(t, err)

	for _, r := range train.Rows() {
		y := r["y"].Int32s()[0]
		assert.Equal(t, []float32{float32(3 * y), float32(3*y + 1), float32(3*y + 2)}, r["x"].Float32s())
	}
}

func TestSplitErrors(t *testing.T) {
	f := newXY(t, 10)

	for _, frac := range []float64{0, 1, -0.5, 1.5} {
		_, _, err := f.Split(frac, 1)
		assert.ErrorIs(t, err, ErrInvalidFraction, "fraction %v", frac)
	}

	_, _, err := f.Split(0.05, 1)
	assert.ErrorIs(t, err, ErrEmptySplit)
}

func TestBatchesConcreteScenario(t *testing.T) {
	f := newXY(t, 10)

	var sizes []int
	var got [][]int
	for b := range f.Batches(BatchOptions{BatchSize: 4, NumEpochs: 1, AllowSmallerFinalBatch: true}) {
		sizes = append(sizes, b.Len())
		got = append(got, ids(t, b))

		x, ok := b.Array("x")
		require.True(t, ok)
		first := ids(t, b)[0]
		assert.Equal(t, float32(3*first), x.Float32s()[0])
	}

	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}, got)
}

func TestBatchesCounts(t *testing.T) {
	tests := []struct {
		n, k         int
		allowSmaller bool
		wantSizes    []int
	}{
		{n: 10, k: 4, allowSmaller: false, wantSizes: []int{4, 4}},
		{n: 10, k: 4, allowSmaller: true, wantSizes: []int{4, 4, 2}},
		{n: 12, k: 4, allowSmaller: false, wantSizes: []int{4, 4, 4}},
		{n: 12, k: 4, allowSmaller: true, wantSizes: []int{4, 4, 4}},
		{n: 3, k: 4, allowSmaller: false, wantSizes: nil},
		{n: 3, k: 4, allowSmaller: true, wantSizes: []int{3}},
	}

	for _, tt := range tests {
		f := newXY(t, tt.n)
		var sizes []int
		for b := range f.Batches(BatchOptions{BatchSize: tt.k, NumEpochs: 1, AllowSmallerFinalBatch: tt.allowSmaller}) {
			sizes = append(sizes, b.Len())
		}
		assert.Equal(t, tt.wantSizes, sizes, "n=%d k=%d allowSmaller=%v", tt.n, tt.k, tt.allowSmaller)
	}
}

func TestBatchesEpochsAndShuffle(t *testing.T) {
	f := newXY(t, 9)
	f.SetSource(rand.NewPCG(11, 12))

	count := 0
	seen := make(map[int]int)
	for b := range f.Batches(BatchOptions{BatchSize: 3, Shuffle: true, NumEpochs: 2}) {
		count++
		for _, id := range ids(t, b) {
			seen[id]++
		}
	}
	assert.Equal(t, 6, count)
	for id := range 9 {
		assert.Equal(t, 2, seen[id], "row %d must appear once per epoch", id)
	}
}

func TestBatchesUnboundedStopsWithConsumer(t *testing.T) {
	f := newXY(t, 5)

	count := 0
	for range f.Batches(BatchOptions{BatchSize: 2}) {
		count++
		if count == 100 {
			break
		}
	}
	assert.Equal(t, 100, count)
}

func TestBatchesFollowShuffledIndex(t *testing.T) {
	f := newXY(t, 10)
	f.SetSource(rand.NewPCG(3, 4))

	var got []int
	for b := range f.Batches(BatchOptions{BatchSize: 4, Shuffle: true, NumEpochs: 1, AllowSmallerFinalBatch: true}) {
		x, _ := b.Array("x")
		for i, id := range ids(t, b) {
			assert.Equal(t, float32(3*id), x.Float32s()[3*i], "row %d misaligned", id)
			got = append(got, id)
		}
	}
	assert.Equal(t, f.Index(), got)
}

func TestBatchesAreCopies(t *testing.T) {
	f := newXY(t, 4)

	for b := range f.Batches(BatchOptions{BatchSize: 2, NumEpochs: 1}) {
		y, _ := b.Array("y")
		y.Int32s()[0] = -1
	}
	assert.Equal(t, []int{0, 1, 2, 3}, ids(t, f))
}

func TestMask(t *testing.T) {
	f := newXY(t, 6)
	f.SetSource(rand.NewPCG(1, 1))
	f.Shuffle()

	m, err := f.Mask([]bool{true, false, true, true, false, false})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []int{0, 2, 3}, ids(t, m))
	assert.Equal(t, identity(3), m.Index())

	empty, err := f.Mask(make([]bool, 6))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, tensor.Shape{0, 3}, empty.Shapes()["x"])

	_, err = f.Mask([]bool{true})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestColumnAndSet(t *testing.T) {
	f := newXY(t, 3)

	x, ok := f.Column("x")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{3, 3}, x.Shape())

	_, ok = f.Column("missing")
	assert.False(t, ok)

	require.NoError(t, f.Set("z", MustFromSlice([]float64{7, 8, 9})))
	assert.Equal(t, []string{"x", "y", "z"}, f.Columns())

	require.NoError(t, f.Set("z", MustFromSlice([]float64{1, 2, 3})))
	assert.Equal(t, []string{"x", "y", "z"}, f.Columns())
	z, _ := f.Array("z")
	assert.Equal(t, []float64{1, 2, 3}, z.Float64s())

	err := f.Set("w", MustFromSlice([]float64{1, 2}))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, []string{"x", "y", "z"}, f.Columns())

	var names []string
	for name := range f.All() {
		names = append(names, name)
	}
	assert.Equal(t, []string{"x", "y", "z"}, names)
}

func TestTakeLargeColumn(t *testing.T) {
	const n = 1 << 17
	f := newXY(t, n)
	f.SetSource(rand.NewPCG(5, 6))
	f.Shuffle()

	taken, err := f.Take(f.Index())
	require.NoError(t, err)
	assert.Equal(t, f.Index(), ids(t, taken))

	x, ok := taken.Array("x")
	require.True(t, ok)
	xs := x.Float32s()
	for i, k := range f.Index() {
		if xs[3*i] != float32(3*k) || xs[3*i+2] != float32(3*k+2) {
			t.Fatalf("row %d holds %v, want source row %d", i, xs[3*i:3*i+3], k)
		}
	}
}
