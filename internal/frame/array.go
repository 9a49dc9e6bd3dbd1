package frame

import (
	"fmt"
	"unsafe"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/trainkit/internal/parallel"
	"github.com/pkg/errors"
)

// Column is an n-dimensional array whose leading dimension indexes rows.
//
// Data is row-major and little-endian, the same layout Born uses for
// RawTensor, so *tensor.RawTensor satisfies Column directly.
type Column interface {
	Shape() tensor.Shape
	DType() tensor.DataType
	Data() []byte
}

// Array is an owned, in-memory Column.
//
// Unlike tensor.RawTensor an Array may have zero-length dimensions, which is
// what an empty mask or an empty split produces.
type Array struct {
	shape tensor.Shape
	dtype tensor.DataType
	data  []byte
}

// NewArray wraps data as an array of the given dtype and shape.
// The slice is used as is, not copied.
func NewArray(dtype tensor.DataType, shape tensor.Shape, data []byte) (*Array, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, errors.Wrapf(ErrShapeMismatch, "negative dimension in %v", shape)
		}
	}
	if want := numElements(shape) * dtype.Size(); len(data) != want {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s%v needs %d bytes, got %d", dtype, shape, want, len(data))
	}
	return &Array{shape: shape.Clone(), dtype: dtype, data: data}, nil
}

// Zeros returns a zero-filled array.
func Zeros(dtype tensor.DataType, shape ...int) *Array {
	return &Array{
		shape: tensor.Shape(shape).Clone(),
		dtype: dtype,
		data:  make([]byte, numElements(shape)*dtype.Size()),
	}
}

// FromSlice copies values into a new array.
// Without a shape the array is one-dimensional.
func FromSlice[T tensor.DType](values []T, shape ...int) (*Array, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	if numElements(shape) != len(values) {
		return nil, errors.Wrapf(ErrShapeMismatch, "shape %v requires %d elements, got %d",
			shape, numElements(shape), len(values))
	}
	dtype := dtypeOf[T]()
	a := Zeros(dtype, shape...)
	copy(view[T](a.data), values)
	return a, nil
}

// MustFromSlice is like FromSlice but panics on error.
func MustFromSlice[T tensor.DType](values []T, shape ...int) *Array {
	a, err := FromSlice(values, shape...)
	if err != nil {
		panic(err)
	}
	return a
}

// ArrayOf copies any column into an owned array.
func ArrayOf(c Column) *Array {
	if a, ok := c.(*Array); ok {
		return a.Clone()
	}
	size := numElements(c.Shape()) * c.DType().Size()
	data := make([]byte, size)
	copy(data, c.Data()[:size])
	return &Array{shape: c.Shape().Clone(), dtype: c.DType(), data: data}
}

// FromRaw copies a Born raw tensor into an array.
func FromRaw(raw *tensor.RawTensor) *Array {
	return ArrayOf(raw)
}

// Shape returns the array dimensions.
func (a *Array) Shape() tensor.Shape { return a.shape }

// DType returns the element type.
func (a *Array) DType() tensor.DataType { return a.dtype }

// Data returns the underlying bytes.
func (a *Array) Data() []byte { return a.data }

// Len returns the leading dimension, or 0 for a scalar.
func (a *Array) Len() int {
	if len(a.shape) == 0 {
		return 0
	}
	return a.shape[0]
}

// RowSize returns the number of elements in one row.
func (a *Array) RowSize() int {
	if len(a.shape) == 0 {
		return 1
	}
	return numElements(a.shape[1:])
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	data := make([]byte, len(a.data))
	copy(data, a.data)
	return &Array{shape: a.shape.Clone(), dtype: a.dtype, data: data}
}

// Raw copies the array into a Born raw tensor on the given device.
func (a *Array) Raw(device tensor.Device) (*tensor.RawTensor, error) {
	raw, err := tensor.NewRaw(a.shape, a.dtype, device)
	if err != nil {
		return nil, errors.Wrapf(err, "array %s%v", a.dtype, a.shape)
	}
	copy(raw.Data(), a.data)
	return raw, nil
}

// Float32s returns the elements as []float32. Panics if the dtype differs.
func (a *Array) Float32s() []float32 {
	a.mustBe(tensor.Float32)
	return view[float32](a.data)
}

// Float64s returns the elements as []float64. Panics if the dtype differs.
func (a *Array) Float64s() []float64 {
	a.mustBe(tensor.Float64)
	return view[float64](a.data)
}

// Int32s returns the elements as []int32. Panics if the dtype differs.
func (a *Array) Int32s() []int32 {
	a.mustBe(tensor.Int32)
	return view[int32](a.data)
}

// Int64s returns the elements as []int64. Panics if the dtype differs.
func (a *Array) Int64s() []int64 {
	a.mustBe(tensor.Int64)
	return view[int64](a.data)
}

// Uint8s returns the elements as []uint8. Panics if the dtype differs.
func (a *Array) Uint8s() []uint8 {
	a.mustBe(tensor.Uint8)
	return a.data
}

// Bools returns the elements as []bool. Panics if the dtype differs.
func (a *Array) Bools() []bool {
	a.mustBe(tensor.Bool)
	return view[bool](a.data)
}

// Values converts every element to float64, bools becoming 0 or 1.
func (a *Array) Values() []float64 {
	return Values(a)
}

// Values converts every element of a column to float64.
func Values(c Column) []float64 {
	data := c.Data()[:numElements(c.Shape())*c.DType().Size()]
	switch c.DType() {
	case tensor.Float32:
		return convert(view[float32](data))
	case tensor.Float64:
		out := make([]float64, len(data)/8)
		copy(out, view[float64](data))
		return out
	case tensor.Int32:
		return convert(view[int32](data))
	case tensor.Int64:
		return convert(view[int64](data))
	case tensor.Uint8:
		return convert(data)
	case tensor.Bool:
		bs := view[bool](data)
		out := make([]float64, len(bs))
		for i, b := range bs {
			if b {
				out[i] = 1
			}
		}
		return out
	}
	panic(fmt.Sprintf("frame: unsupported dtype %s", c.DType()))
}

func (a *Array) String() string {
	return fmt.Sprintf("Array(%s%v)", a.dtype, []int(a.shape))
}

func (a *Array) mustBe(dtype tensor.DataType) {
	if a.dtype != dtype {
		panic(fmt.Sprintf("frame: array dtype is %s, not %s", a.dtype, dtype))
	}
}

// Concat joins columns along the leading axis.
// Trailing dimensions and dtypes must agree.
func Concat(cols ...Column) (*Array, error) {
	if len(cols) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "concat of nothing")
	}
	first := cols[0]
	if len(first.Shape()) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "concat of scalars")
	}
	trailing := first.Shape()[1:]
	rows := 0
	for i, c := range cols {
		if c.DType() != first.DType() {
			return nil, errors.Wrapf(ErrDTypeMismatch, "concat part %d is %s, want %s", i, c.DType(), first.DType())
		}
		s := c.Shape()
		if len(s) == 0 || !tensor.Shape(s[1:]).Equal(trailing) {
			return nil, errors.Wrapf(ErrShapeMismatch, "concat part %d has shape %v, want [*]%v", i, s, trailing)
		}
		rows += s[0]
	}

	shape := append(tensor.Shape{rows}, trailing...)
	out := Zeros(first.DType(), shape...)
	off := 0
	for _, c := range cols {
		n := numElements(c.Shape()) * c.DType().Size()
		off += copy(out.data[off:], c.Data()[:n])
	}
	return out, nil
}

// take gathers rows of c at the given storage positions.
func take(c Column, idx []int) *Array {
	shape := c.Shape().Clone()
	stride := rowBytes(c)
	shape[0] = len(idx)
	out := Zeros(c.DType(), shape...)
	src := c.Data()
	parallel.Ranges(len(idx), stride, func(lo, hi int) {
		for i, k := range idx[lo:hi] {
			i += lo
			copy(out.data[i*stride:(i+1)*stride], src[k*stride:(k+1)*stride])
		}
	}, parallel.DefaultConfig())
	return out
}

// row returns a copy of row k with the leading dimension dropped.
func row(c Column, k int) *Array {
	stride := rowBytes(c)
	data := make([]byte, stride)
	copy(data, c.Data()[k*stride:(k+1)*stride])
	return &Array{shape: c.Shape()[1:].Clone(), dtype: c.DType(), data: data}
}

func rowBytes(c Column) int {
	return numElements(c.Shape()[1:]) * c.DType().Size()
}

// leading returns the leading dimension or -1 for a scalar.
func leading(c Column) int {
	s := c.Shape()
	if len(s) == 0 {
		return -1
	}
	return s[0]
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func view[T tensor.DType](data []byte) []T {
	if len(data) == 0 {
		return nil
	}
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	//nolint:gosec // reinterpretation of a little-endian buffer, length derived from the byte count
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

func convert[T int32 | int64 | uint8 | float32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func dtypeOf[T tensor.DType]() tensor.DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return tensor.Float32
	case float64:
		return tensor.Float64
	case int32:
		return tensor.Int32
	case int64:
		return tensor.Int64
	case uint8:
		return tensor.Uint8
	case bool:
		return tensor.Bool
	}
	panic(fmt.Sprintf("frame: unsupported element type %T", zero))
}
