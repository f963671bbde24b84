package tensor

import (
	"fmt"
	"slices"
)

// Transpose permutes the dimensions of t. A nil perm reverses them.
func Transpose(t *Tensor, perm []int) (*Tensor, error) {
	rank := t.Rank()
	if perm == nil {
		perm = make([]int, rank)
		for i := range perm {
			perm[i] = rank - 1 - i
		}
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("%w: perm %v for rank %d", ErrShape, perm, rank)
	}
	seen := make([]bool, rank)
	outShape := make([]int, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("%w: invalid perm %v", ErrShape, perm)
		}
		seen[p] = true
		outShape[i] = t.Shape[p]
	}

	inStrides := strides(t.Shape)
	// stride in the source for each output dimension
	walk := make([]int, rank)
	for i, p := range perm {
		walk[i] = inStrides[p]
	}

	out := &Tensor{DType: t.DType, Shape: outShape}
	n := NumElements(outShape)
	if t.DType == Int64 {
		out.I64 = make([]int64, n)
	} else {
		out.F32 = make([]float32, n)
	}
	idx := make([]int, rank)
	src := 0
	for i := range n {
		if t.DType == Int64 {
			out.I64[i] = t.I64[src]
		} else {
			out.F32[i] = t.F32[src]
		}
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			src += walk[d]
			if idx[d] < outShape[d] {
				break
			}
			src -= walk[d] * idx[d]
			idx[d] = 0
		}
	}
	return out, nil
}

// Concat joins tensors along axis. All inputs must share dtype and every
// dimension other than axis.
func Concat(ts []*Tensor, axis int) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: concat of nothing", ErrShape)
	}
	first := ts[0]
	axis, err := normAxis(axis, first.Rank())
	if err != nil {
		return nil, err
	}
	dtype := first.DType
	outShape := slices.Clone(first.Shape)
	outShape[axis] = 0
	for _, t := range ts {
		if t.Rank() != first.Rank() {
			return nil, fmt.Errorf("%w: concat rank mismatch %v vs %v", ErrShape, first.Shape, t.Shape)
		}
		for d := range t.Shape {
			if d != axis && t.Shape[d] != first.Shape[d] {
				return nil, fmt.Errorf("%w: concat %v with %v on axis %d", ErrShape, first.Shape, t.Shape, axis)
			}
		}
		if t.DType != dtype {
			dtype = Float32
		}
		outShape[axis] += t.Shape[axis]
	}

	outer := NumElements(outShape[:axis])
	inner := NumElements(outShape[axis+1:])
	out := &Tensor{DType: dtype, Shape: outShape}
	if dtype == Int64 {
		out.I64 = make([]int64, 0, NumElements(outShape))
	} else {
		out.F32 = make([]float32, 0, NumElements(outShape))
	}
	for o := range outer {
		for _, t := range ts {
			block := t.Shape[axis] * inner
			if dtype == Int64 {
				out.I64 = append(out.I64, t.I64[o*block:(o+1)*block]...)
			} else {
				out.F32 = append(out.F32, t.Float32s()[o*block:(o+1)*block]...)
			}
		}
	}
	return out, nil
}

// Gather selects slices of data along axis using integer indices. Negative
// indices count from the end.
func Gather(data, indices *Tensor, axis int) (*Tensor, error) {
	axis, err := normAxis(axis, data.Rank())
	if err != nil {
		return nil, err
	}
	dim := data.Shape[axis]
	idx := indices.Int64s()
	outShape := slices.Concat(data.Shape[:axis], indices.Shape, data.Shape[axis+1:])
	outer := NumElements(data.Shape[:axis])
	inner := NumElements(data.Shape[axis+1:])

	out := &Tensor{DType: data.DType, Shape: outShape}
	n := NumElements(outShape)
	if data.DType == Int64 {
		out.I64 = make([]int64, 0, n)
	} else {
		out.F32 = make([]float32, 0, n)
	}
	for o := range outer {
		for _, raw := range idx {
			j := int(raw)
			if j < 0 {
				j += dim
			}
			if j < 0 || j >= dim {
				return nil, fmt.Errorf("%w: gather index %d out of range [0,%d)", ErrShape, raw, dim)
			}
			start := (o*dim + j) * inner
			if data.DType == Int64 {
				out.I64 = append(out.I64, data.I64[start:start+inner]...)
			} else {
				out.F32 = append(out.F32, data.F32[start:start+inner]...)
			}
		}
	}
	return out, nil
}

// Slice extracts a strided sub-tensor. starts, ends and steps are indexed by
// axes; ends are clamped the way numpy clamps them.
func Slice(data *Tensor, starts, ends, axes, steps []int64) (*Tensor, error) {
	rank := data.Rank()
	if len(starts) != len(ends) {
		return nil, fmt.Errorf("%w: slice starts/ends length mismatch", ErrShape)
	}
	if axes == nil {
		axes = make([]int64, len(starts))
		for i := range axes {
			axes[i] = int64(i)
		}
	}
	if steps == nil {
		steps = make([]int64, len(starts))
		for i := range steps {
			steps[i] = 1
		}
	}
	if len(axes) != len(starts) || len(steps) != len(starts) {
		return nil, fmt.Errorf("%w: slice axes/steps length mismatch", ErrShape)
	}

	begin := make([]int, rank)
	step := make([]int, rank)
	outShape := slices.Clone(data.Shape)
	for i := range step {
		step[i] = 1
	}
	for i, a := range axes {
		axis, err := normAxis(int(a), rank)
		if err != nil {
			return nil, err
		}
		dim := int64(data.Shape[axis])
		s, e, st := starts[i], ends[i], steps[i]
		if st == 0 {
			return nil, fmt.Errorf("%w: slice step cannot be zero", ErrShape)
		}
		if s < 0 {
			s += dim
		}
		if e < 0 {
			e += dim
		}
		var count int64
		if st > 0 {
			s = min(max(s, 0), dim)
			e = min(max(e, 0), dim)
			if e > s {
				count = (e - s + st - 1) / st
			}
		} else {
			s = min(max(s, 0), dim-1)
			e = min(max(e, -1), dim-1)
			if s > e {
				count = (s - e - st - 1) / -st
			}
		}
		begin[axis] = int(s)
		step[axis] = int(st)
		outShape[axis] = int(count)
	}

	inStrides := strides(data.Shape)
	out := &Tensor{DType: data.DType, Shape: outShape}
	n := NumElements(outShape)
	if data.DType == Int64 {
		out.I64 = make([]int64, n)
	} else {
		out.F32 = make([]float32, n)
	}
	if n == 0 {
		return out, nil
	}
	idx := make([]int, rank)
	for i := range n {
		src := 0
		for d := range rank {
			src += (begin[d] + idx[d]*step[d]) * inStrides[d]
		}
		if data.DType == Int64 {
			out.I64[i] = data.I64[src]
		} else {
			out.F32[i] = data.F32[src]
		}
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}
