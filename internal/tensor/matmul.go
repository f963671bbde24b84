package tensor

import (
	"fmt"
	"slices"
)

// MatMul computes the numpy-style matrix product of a and b. Rank-1 operands
// are promoted to matrices and the promoted dimension is removed from the
// result. Leading (batch) dimensions broadcast.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Rank() == 0 || b.Rank() == 0 {
		return nil, fmt.Errorf("%w: matmul of scalar", ErrShape)
	}
	aShape, bShape := a.Shape, b.Shape
	squeezeRow, squeezeCol := false, false
	if len(aShape) == 1 {
		aShape = []int{1, aShape[0]}
		squeezeRow = true
	}
	if len(bShape) == 1 {
		bShape = []int{bShape[0], 1}
		squeezeCol = true
	}

	m, k := aShape[len(aShape)-2], aShape[len(aShape)-1]
	k2, n := bShape[len(bShape)-2], bShape[len(bShape)-1]
	if k != k2 {
		return nil, fmt.Errorf("%w: matmul %v x %v", ErrShape, a.Shape, b.Shape)
	}

	aBatch, bBatch := aShape[:len(aShape)-2], bShape[:len(bShape)-2]
	batch, err := BroadcastShape(aBatch, bBatch)
	if err != nil {
		return nil, err
	}

	outShape := append(slices.Clone(batch), m, n)
	out := New(outShape...)
	av, bv := a.Float32s(), b.Float32s()
	broadcastIndex(aBatch, bBatch, batch, func(i, ia, ib int) {
		matmul2D(out.F32[i*m*n:(i+1)*m*n], av[ia*m*k:(ia+1)*m*k], bv[ib*k*n:(ib+1)*k*n], m, k, n)
	})

	switch {
	case squeezeRow && squeezeCol:
		out.Shape = slices.Clone(batch)
	case squeezeRow:
		out.Shape = append(slices.Clone(batch), n)
	case squeezeCol:
		out.Shape = append(slices.Clone(batch), m)
	}
	return out, nil
}

// matmul2D accumulates a[m,k] x b[k,n] into dst[m,n]. dst must be zeroed.
func matmul2D(dst, a, b []float32, m, k, n int) {
	for i := range m {
		row := dst[i*n : (i+1)*n]
		for p := range k {
			av := a[i*k+p]
			brow := b[p*n : (p+1)*n]
			for j := range row {
				row[j] += av * brow[j]
			}
		}
	}
}

// Gemm computes alpha*op(A)*op(B) + beta*C where op transposes when the
// matching flag is set. A and B must be rank 2; C is optional and broadcasts
// to the [M,N] result.
func Gemm(a, b, c *Tensor, alpha, beta float32, transA, transB bool) (*Tensor, error) {
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("%w: gemm needs rank-2 operands, got %v and %v", ErrShape, a.Shape, b.Shape)
	}
	var err error
	if transA {
		if a, err = Transpose(a, []int{1, 0}); err != nil {
			return nil, err
		}
	}
	if transB {
		if b, err = Transpose(b, []int{1, 0}); err != nil {
			return nil, err
		}
	}
	out, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	if alpha != 1 {
		for i := range out.F32 {
			out.F32[i] *= alpha
		}
	}
	if c == nil || beta == 0 {
		return out, nil
	}
	if beta == 1 {
		return out, AddInPlace(out, c)
	}
	scaled := Map(c, func(x float32) float32 { return beta * x })
	return out, AddInPlace(out, scaled)
}
