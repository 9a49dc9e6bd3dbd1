package main

import (
	"math/rand/v2"

	"github.com/born-ml/trainkit/internal/frame"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// synthetic returns rows drawn from one unit Gaussian blob per class. Class c
// is shifted by spread*(1+c/dim) along axis c mod dim.
func synthetic(rows, dim, classes int, spread float64, seed uint64) (*frame.Frame, error) {
	if rows <= 0 || dim <= 0 || classes < 2 {
		return nil, errors.Errorf("synthetic: invalid sizes %d/%d/%d", rows, dim, classes)
	}
	src := rand.NewPCG(seed, seed+1)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	pick := rand.New(src) //nolint:gosec // synthetic data

	features := make([]float32, rows*dim)
	labels := make([]int32, rows)
	for i := range rows {
		c := pick.IntN(classes)
		labels[i] = int32(c) //nolint:gosec // c < classes
		for j := range dim {
			v := noise.Rand()
			if j == c%dim {
				v += spread * float64(1+c/dim)
			}
			features[i*dim+j] = float32(v)
		}
	}

	f, err := frame.FromSlice(features, rows, dim)
	if err != nil {
		return nil, err
	}
	return frame.New(
		[]string{featuresColumn, labelsColumn},
		[]frame.Column{f, frame.MustFromSlice(labels)},
	)
}
