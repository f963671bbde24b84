package tensor

import (
	"fmt"
	"slices"
)

// DType describes the element encoding of a Tensor.
type DType uint8

const (
	Float32 DType = iota + 1
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Tensor is a dense row-major n-dimensional array.
//
// Exactly one of F32 or I64 is populated, selected by DType. Int64 tensors
// carry shape arithmetic and indices; all numeric kernels operate on Float32.
// A rank-0 tensor (scalar) has an empty Shape and one element.
//
// Kernels treat their inputs as read-only and always return freshly allocated
// outputs, except for pure views (Reshape) which share the backing slice.
type Tensor struct {
	DType DType
	Shape []int
	F32   []float32
	I64   []int64
}

// New allocates a zero-valued float32 tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		DType: Float32,
		Shape: slices.Clone(shape),
		F32:   make([]float32, NumElements(shape)),
	}
}

// NewInt64 allocates a zero-valued int64 tensor of the given shape.
func NewInt64(shape ...int) *Tensor {
	return &Tensor{
		DType: Int64,
		Shape: slices.Clone(shape),
		I64:   make([]int64, NumElements(shape)),
	}
}

// FromFloat32 wraps data as a float32 tensor. The data length must match the
// element count implied by shape.
func FromFloat32(shape []int, data []float32) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if want := NumElements(shape); want != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, want, len(data))
	}
	return &Tensor{DType: Float32, Shape: slices.Clone(shape), F32: data}, nil
}

// FromInt64 wraps data as an int64 tensor.
func FromInt64(shape []int, data []int64) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if want := NumElements(shape); want != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, want, len(data))
	}
	return &Tensor{DType: Int64, Shape: slices.Clone(shape), I64: data}, nil
}

// Vector returns a rank-1 int64 tensor holding vals.
func Vector(vals ...int64) *Tensor {
	return &Tensor{DType: Int64, Shape: []int{len(vals)}, I64: slices.Clone(vals)}
}

// NumElements returns the product of the dimensions. An empty shape is a
// scalar and has one element.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkShape(shape []int) error {
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
	}
	return nil
}

// Len returns the number of elements held by t.
func (t *Tensor) Len() int {
	if t.DType == Int64 {
		return len(t.I64)
	}
	return len(t.F32)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		DType: t.DType,
		Shape: slices.Clone(t.Shape),
		F32:   slices.Clone(t.F32),
		I64:   slices.Clone(t.I64),
	}
}

// Reshape returns a view of t with a new shape. The element count must match.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if NumElements(shape) != t.Len() {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShape, t.Shape, shape)
	}
	return &Tensor{DType: t.DType, Shape: slices.Clone(shape), F32: t.F32, I64: t.I64}, nil
}

// Float32s returns the elements as float32, converting int64 tensors.
func (t *Tensor) Float32s() []float32 {
	if t.DType == Float32 {
		return t.F32
	}
	out := make([]float32, len(t.I64))
	for i, v := range t.I64 {
		out[i] = float32(v)
	}
	return out
}

// Int64s returns the elements as int64, truncating float32 tensors.
func (t *Tensor) Int64s() []int64 {
	if t.DType == Int64 {
		return t.I64
	}
	out := make([]int64, len(t.F32))
	for i, v := range t.F32 {
		out[i] = int64(v)
	}
	return out
}

// Cast converts t to the requested dtype. Casting to the same dtype returns t.
func (t *Tensor) Cast(to DType) (*Tensor, error) {
	if t.DType == to {
		return t, nil
	}
	switch to {
	case Float32:
		return &Tensor{DType: Float32, Shape: slices.Clone(t.Shape), F32: t.Float32s()}, nil
	case Int64:
		return &Tensor{DType: Int64, Shape: slices.Clone(t.Shape), I64: t.Int64s()}, nil
	default:
		return nil, fmt.Errorf("%w: cannot cast to %s", ErrDType, to)
	}
}

// Equal reports whether two tensors have the same dtype, shape and values.
func Equal(a, b *Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.DType == b.DType &&
		slices.Equal(a.Shape, b.Shape) &&
		slices.Equal(a.F32, b.F32) &&
		slices.Equal(a.I64, b.I64)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor<%s%v>", t.DType, t.Shape)
}

// strides returns row-major element strides for shape.
func strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

// normAxis maps a possibly negative axis into [0, rank).
func normAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("%w: axis out of range for rank %d", ErrShape, rank)
	}
	return axis, nil
}
