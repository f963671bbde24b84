package tensor

import (
	"math"
	"slices"
)

// Map returns a new float32 tensor with fn applied to every element of t.
func Map(t *Tensor, fn func(float32) float32) *Tensor {
	src := t.Float32s()
	out := &Tensor{DType: Float32, Shape: slices.Clone(t.Shape), F32: make([]float32, len(src))}
	for i, v := range src {
		out.F32[i] = fn(v)
	}
	return out
}

// MapInPlace applies fn to every element of a float32 tensor.
func MapInPlace(t *Tensor, fn func(float32) float32) {
	for i, v := range t.F32 {
		t.F32[i] = fn(v)
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Tanh computes the hyperbolic tangent.
func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Relu clamps negative values to zero.
func Relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// LeakyRelu returns a closure implementing leaky ReLU with slope alpha.
func LeakyRelu(alpha float32) func(float32) float32 {
	return func(x float32) float32 {
		if x < 0 {
			return alpha * x
		}
		return x
	}
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// SoftmaxAxis applies softmax along a single axis and returns a new tensor.
func SoftmaxAxis(t *Tensor, axis int) (*Tensor, error) {
	axis, err := normAxis(axis, t.Rank())
	if err != nil {
		return nil, err
	}
	out := t.Clone()
	if out.DType != Float32 {
		out, _ = out.Cast(Float32)
	}
	outer := NumElements(t.Shape[:axis])
	dim := t.Shape[axis]
	inner := NumElements(t.Shape[axis+1:])
	lane := make([]float32, dim)
	for o := range outer {
		for in := range inner {
			base := o*dim*inner + in
			for d := range dim {
				lane[d] = out.F32[base+d*inner]
			}
			Softmax(lane)
			for d := range dim {
				out.F32[base+d*inner] = lane[d]
			}
		}
	}
	return out, nil
}
