package reader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/trainkit/internal/frame"
	"github.com/born-ml/trainkit/internal/npy"
	"github.com/born-ml/trainkit/internal/reader"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// writeDir stores n rows of id (int32) and features (float32, [n, 2]).
func writeDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	ids := make([]int32, n)
	features := make([]float32, 2*n)
	for i := range n {
		ids[i] = int32(i)
		features[2*i] = float32(i)
		features[2*i+1] = float32(-i)
	}
	require.NoError(t, npy.Save(filepath.Join(dir, "id.npy"), frame.MustFromSlice(ids)))
	require.NoError(t, npy.Save(filepath.Join(dir, "features.npy"), frame.MustFromSlice(features, n, 2)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("not a column"), 0o600))
	return dir
}

func batchIDs(t *testing.T, batch *frame.Frame) []int32 {
	t.Helper()
	ids, ok := batch.Array("id")
	require.True(t, ok)
	return ids.Int32s()
}

func TestList(t *testing.T) {
	names, err := reader.List(writeDir(t, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"features", "id"}, names)

	_, err = reader.List(t.TempDir())
	assert.ErrorIs(t, err, reader.ErrNoColumns)
}

func TestOpenSplits(t *testing.T) {
	for _, mmap := range []bool{false, true} {
		r, err := reader.Open(writeDir(t, 40), reader.Options{Seed: 3, Mmap: mmap, Logger: zaptest.NewLogger(t)})
		require.NoError(t, err)

		assert.Equal(t, 40, r.Test().Len())
		assert.Equal(t, 38, r.Train().Len())
		assert.Equal(t, 2, r.Val().Len())

		seen := map[int32]bool{}
		for _, f := range []*frame.Frame{r.Train(), r.Val()} {
			for _, row := range f.Rows() {
				id := row["id"].Int32s()[0]
				assert.False(t, seen[id], "row %d in both splits", id)
				seen[id] = true
				assert.Equal(t, float32(id), row["features"].Float32s()[0])
			}
		}
		assert.Len(t, seen, 40)
		require.NoError(t, r.Close())
	}
}

func TestOpenColumns(t *testing.T) {
	r, err := reader.Open(writeDir(t, 40), reader.Options{Columns: []string{"id"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, r.Test().Columns())

	_, err = reader.Open(writeDir(t, 40), reader.Options{Columns: []string{"labels"}})
	assert.Error(t, err)
}

func TestTestBatchesCoverInOrder(t *testing.T) {
	r, err := reader.Open(writeDir(t, 10), reader.Options{TrainFraction: 0.5})
	require.NoError(t, err)

	var ids []int32
	var sizes []int
	for batch := range r.TestBatches(4) {
		sizes = append(sizes, batch.Len())
		ids = append(ids, batchIDs(t, batch)...)
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids)
}

func TestTrainBatchesAreUnbounded(t *testing.T) {
	r, err := reader.Open(writeDir(t, 20), reader.Options{Seed: 1})
	require.NoError(t, err)

	n := 0
	for batch := range r.TrainBatches(5) {
		assert.Equal(t, 5, batch.Len())
		if n++; n == 12 {
			break
		}
	}
	assert.Equal(t, 12, n)
}

func TestSeedIsDeterministic(t *testing.T) {
	dir := writeDir(t, 30)
	first := func() []int32 {
		r, err := reader.Open(dir, reader.Options{Seed: 9})
		require.NoError(t, err)
		for batch := range r.TrainBatches(8) {
			return batchIDs(t, batch)
		}
		return nil
	}
	assert.Equal(t, first(), first())
}

func TestTransform(t *testing.T) {
	var tested []bool
	double := func(batch *frame.Frame, test bool) error {
		tested = append(tested, test)
		ids, _ := batch.Array("id")
		out := frame.Zeros(tensor.Float32, ids.Len())
		for i, v := range ids.Int32s() {
			out.Float32s()[i] = 2 * float32(v)
		}
		return batch.Set("double", out)
	}
	r, err := reader.Open(writeDir(t, 10), reader.Options{TrainFraction: 0.5, Transform: double})
	require.NoError(t, err)

	for batch := range r.TestBatches(5) {
		d, ok := batch.Array("double")
		require.True(t, ok)
		assert.Equal(t, 2*float32(batchIDs(t, batch)[0]), d.Float32s()[0])
	}
	for range r.ValBatches(5) {
		break
	}
	assert.Equal(t, []bool{true, true, false}, tested)
	assert.NoError(t, r.Err())
}

func TestTransformErrorEndsSequence(t *testing.T) {
	boom := errors.New("boom")
	r, err := reader.Open(writeDir(t, 10), reader.Options{
		TrainFraction: 0.5,
		Transform:     func(*frame.Frame, bool) error { return boom },
	})
	require.NoError(t, err)

	n := 0
	for range r.TrainBatches(2) {
		n++
	}
	assert.Zero(t, n)
	assert.ErrorIs(t, r.Err(), boom)
}

func TestNewRejectsTinyFrame(t *testing.T) {
	f, err := frame.New([]string{"id"}, []frame.Column{frame.MustFromSlice([]int32{1})})
	require.NoError(t, err)
	_, err = reader.New(f, reader.Options{})
	assert.ErrorIs(t, err, frame.ErrEmptySplit)
}
