package tensor

import (
	"fmt"
	"slices"
)

// BroadcastShape returns the numpy-style broadcast of two shapes.
func BroadcastShape(a, b []int) ([]int, error) {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := range n {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v with %v", ErrShape, a, b)
		}
	}
	return out, nil
}

// broadcastStrides returns strides that walk shape as if it had been expanded
// to out. Broadcast dimensions get a zero stride.
func broadcastStrides(shape, out []int) []int {
	st := make([]int, len(out))
	off := len(out) - len(shape)
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] != 1 {
			st[off+i] = acc
		}
		acc *= shape[i]
	}
	return st
}

// broadcastIndex visits every element of out and yields the matching flat
// offsets into a and b.
func broadcastIndex(aShape, bShape, out []int, fn func(i, ia, ib int)) {
	n := NumElements(out)
	if slices.Equal(aShape, bShape) {
		for i := range n {
			fn(i, i, i)
		}
		return
	}
	sa := broadcastStrides(aShape, out)
	sb := broadcastStrides(bShape, out)
	idx := make([]int, len(out))
	ia, ib := 0, 0
	for i := range n {
		fn(i, ia, ib)
		// advance the multi-index like an odometer
		for d := len(out) - 1; d >= 0; d-- {
			idx[d]++
			ia += sa[d]
			ib += sb[d]
			if idx[d] < out[d] {
				break
			}
			ia -= sa[d] * idx[d]
			ib -= sb[d] * idx[d]
			idx[d] = 0
		}
	}
}

// Binary applies fn element-wise over the broadcast of a and b. Mixed dtypes
// are promoted to float32; two int64 operands use intFn when it is non-nil.
func Binary(a, b *Tensor, fn func(x, y float32) float32, intFn func(x, y int64) int64) (*Tensor, error) {
	out, err := BroadcastShape(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}
	if a.DType == Int64 && b.DType == Int64 && intFn != nil {
		res := NewInt64(out...)
		broadcastIndex(a.Shape, b.Shape, out, func(i, ia, ib int) {
			res.I64[i] = intFn(a.I64[ia], b.I64[ib])
		})
		return res, nil
	}
	av, bv := a.Float32s(), b.Float32s()
	res := New(out...)
	broadcastIndex(a.Shape, b.Shape, out, func(i, ia, ib int) {
		res.F32[i] = fn(av[ia], bv[ib])
	})
	return res, nil
}

// AddInPlace adds src to dst, broadcasting src to dst's shape.
func AddInPlace(dst, src *Tensor) error {
	out, err := BroadcastShape(dst.Shape, src.Shape)
	if err != nil {
		return err
	}
	if !slices.Equal(out, dst.Shape) {
		return fmt.Errorf("%w: %v does not broadcast into %v", ErrShape, src.Shape, dst.Shape)
	}
	sv := src.Float32s()
	broadcastIndex(dst.Shape, src.Shape, out, func(i, _, is int) {
		dst.F32[i] += sv[is]
	})
	return nil
}
