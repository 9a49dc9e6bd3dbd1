// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package frame provides an aligned-columns table for feeding training loops.
//
// A Frame holds named n-dimensional columns that share their leading
// dimension. It shuffles, splits, masks and cuts itself into batches:
//
//	f, err := frame.New(
//	    []string{"features", "labels"},
//	    []frame.Column{features, labels},
//	)
//	train, val, err := f.Split(0.95, 42)
//	for batch := range train.Batches(frame.BatchOptions{BatchSize: 128, Shuffle: true}) {
//	    ...
//	}
package frame

import (
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/trainkit/internal/frame"
)

// Column is an n-dimensional array whose leading dimension indexes rows.
// *tensor.RawTensor satisfies it.
type Column = frame.Column

// Array is an owned, in-memory Column.
type Array = frame.Array

// Frame is a set of named columns with equal leading dimension.
type Frame = frame.Frame

// Row maps column names to the values of a single row.
type Row = frame.Row

// BatchOptions configures Frame.Batches.
type BatchOptions = frame.BatchOptions

// Errors returned by frame operations.
var (
	ErrShapeMismatch   = frame.ErrShapeMismatch
	ErrDuplicateColumn = frame.ErrDuplicateColumn
	ErrInvalidFraction = frame.ErrInvalidFraction
	ErrEmptySplit      = frame.ErrEmptySplit
	ErrLengthMismatch  = frame.ErrLengthMismatch
	ErrIndexOutOfRange = frame.ErrIndexOutOfRange
	ErrDTypeMismatch   = frame.ErrDTypeMismatch
)

// New creates a frame from parallel lists of names and columns.
func New(columns []string, data []Column) (*Frame, error) {
	return frame.New(columns, data)
}

// NewArray wraps data as an array of the given dtype and shape.
func NewArray(dtype tensor.DataType, shape tensor.Shape, data []byte) (*Array, error) {
	return frame.NewArray(dtype, shape, data)
}

// Zeros returns a zero-filled array.
func Zeros(dtype tensor.DataType, shape ...int) *Array {
	return frame.Zeros(dtype, shape...)
}

// FromSlice copies values into a new array.
func FromSlice[T tensor.DType](values []T, shape ...int) (*Array, error) {
	return frame.FromSlice(values, shape...)
}

// MustFromSlice is like FromSlice but panics on error.
func MustFromSlice[T tensor.DType](values []T, shape ...int) *Array {
	return frame.MustFromSlice(values, shape...)
}

// FromRaw copies a Born tensor into an array.
func FromRaw(raw *tensor.RawTensor) *Array {
	return frame.FromRaw(raw)
}

// Concat joins columns along the leading dimension.
func Concat(cols ...Column) (*Array, error) {
	return frame.Concat(cols...)
}

// Values converts any numeric column to float64.
func Values(c Column) []float64 {
	return frame.Values(c)
}
