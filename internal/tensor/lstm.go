package tensor

import "fmt"

// LSTMCell holds the weights of a single-direction LSTM layer in ONNX layout.
// Gates are stacked in the order input, output, forget, cell.
//
//	W: [1, 4*H, I]   R: [1, 4*H, H]   B: [1, 8*H] (Wb then Rb), optional
type LSTMCell struct {
	Hidden int
	W, R   *Tensor
	B      *Tensor
}

// Validate checks the weight shapes against the hidden size.
func (c LSTMCell) Validate() error {
	h := c.Hidden
	if h <= 0 {
		return fmt.Errorf("%w: lstm hidden size %d", ErrShape, h)
	}
	if c.W.Rank() != 3 || c.W.Shape[0] != 1 || c.W.Shape[1] != 4*h {
		return fmt.Errorf("%w: lstm W shape %v for hidden %d", ErrShape, c.W.Shape, h)
	}
	if c.R.Rank() != 3 || c.R.Shape[0] != 1 || c.R.Shape[1] != 4*h || c.R.Shape[2] != h {
		return fmt.Errorf("%w: lstm R shape %v for hidden %d", ErrShape, c.R.Shape, h)
	}
	if c.B != nil && (c.B.Rank() != 2 || c.B.Shape[0] != 1 || c.B.Shape[1] != 8*h) {
		return fmt.Errorf("%w: lstm B shape %v for hidden %d", ErrShape, c.B.Shape, h)
	}
	return nil
}

// Forward runs the layer over x [seq, batch, I] starting from h0/c0
// [1, batch, H] (nil means zeros). It returns the full output sequence
// Y [seq, 1, batch, H] and the final states Y_h, Y_c [1, batch, H].
func (c LSTMCell) Forward(x, h0, c0 *Tensor) (y, yh, yc *Tensor, err error) {
	if err := c.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if x.Rank() != 3 {
		return nil, nil, nil, fmt.Errorf("%w: lstm input must be rank 3, got %v", ErrShape, x.Shape)
	}
	seq, batch, in := x.Shape[0], x.Shape[1], x.Shape[2]
	h := c.Hidden
	if c.W.Shape[2] != in {
		return nil, nil, nil, fmt.Errorf("%w: lstm input size %d, W expects %d", ErrShape, in, c.W.Shape[2])
	}
	stateShape := []int{1, batch, h}
	hPrev := New(stateShape...)
	cPrev := New(stateShape...)
	for _, pair := range []struct{ dst, src *Tensor }{{hPrev, h0}, {cPrev, c0}} {
		if pair.src == nil {
			continue
		}
		if NumElements(pair.src.Shape) != NumElements(stateShape) {
			return nil, nil, nil, fmt.Errorf("%w: lstm state shape %v, want %v", ErrShape, pair.src.Shape, stateShape)
		}
		copy(pair.dst.F32, pair.src.Float32s())
	}

	xv := x.Float32s()
	w, r := c.W.Float32s(), c.R.Float32s()
	var bias []float32
	if c.B != nil {
		bv := c.B.Float32s()
		bias = make([]float32, 4*h)
		for i := range bias {
			bias[i] = bv[i] + bv[4*h+i]
		}
	}

	y = New(seq, 1, batch, h)
	gates := make([]float32, 4*h)
	for t := range seq {
		for b := range batch {
			xt := xv[(t*batch+b)*in : (t*batch+b+1)*in]
			ht := hPrev.F32[b*h : (b+1)*h]
			ct := cPrev.F32[b*h : (b+1)*h]
			for g := range gates {
				var sum float32
				if bias != nil {
					sum = bias[g]
				}
				wrow := w[g*in : (g+1)*in]
				for k, v := range xt {
					sum += wrow[k] * v
				}
				rrow := r[g*h : (g+1)*h]
				for k, v := range ht {
					sum += rrow[k] * v
				}
				gates[g] = sum
			}
			for j := range h {
				ig := Sigmoid(gates[j])
				og := Sigmoid(gates[h+j])
				fg := Sigmoid(gates[2*h+j])
				cg := Tanh(gates[3*h+j])
				ct[j] = fg*ct[j] + ig*cg
				ht[j] = og * Tanh(ct[j])
			}
			copy(y.F32[(t*batch+b)*h:(t*batch+b+1)*h], ht)
		}
	}
	return y, hPrev, cPrev, nil
}
