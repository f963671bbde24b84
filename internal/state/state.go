// Package state holds the recurrent tensors a policy carries from one
// inference to the next.
package state

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/tradepolicy/internal/tensor"
)

// Names lists the recurrent tensors in slot order.
var Names = [4]string{"actor_h", "actor_c", "critic_h", "critic_c"}

var ErrShape = errors.New("recurrent state shape mismatch")

// Recurrent is the LSTM state quadruple of an actor-critic policy.
type Recurrent struct {
	ActorH  *tensor.Tensor
	ActorC  *tensor.Tensor
	CriticH *tensor.Tensor
	CriticC *tensor.Tensor
}

// Zero returns an all-zero state with every tensor of the given shape.
func Zero(shape []int) Recurrent {
	return Recurrent{
		ActorH:  tensor.New(shape...),
		ActorC:  tensor.New(shape...),
		CriticH: tensor.New(shape...),
		CriticC: tensor.New(shape...),
	}
}

// Tensors returns the four tensors in slot order.
func (r Recurrent) Tensors() []*tensor.Tensor {
	return []*tensor.Tensor{r.ActorH, r.ActorC, r.CriticH, r.CriticC}
}

// FromTensors builds a state from four tensors in slot order.
func FromTensors(ts []*tensor.Tensor) (Recurrent, error) {
	if len(ts) != len(Names) {
		return Recurrent{}, fmt.Errorf("%w: need %d tensors, got %d", ErrShape, len(Names), len(ts))
	}
	return Recurrent{ActorH: ts[0], ActorC: ts[1], CriticH: ts[2], CriticC: ts[3]}, nil
}

// Clone deep-copies every tensor.
func (r Recurrent) Clone() Recurrent {
	return Recurrent{
		ActorH:  r.ActorH.Clone(),
		ActorC:  r.ActorC.Clone(),
		CriticH: r.CriticH.Clone(),
		CriticC: r.CriticC.Clone(),
	}
}

// Validate checks that every tensor is float32 with the given shape.
func (r Recurrent) Validate(shape []int) error {
	for i, t := range r.Tensors() {
		if t == nil {
			return fmt.Errorf("%w: %s is missing", ErrShape, Names[i])
		}
		if t.DType != tensor.Float32 || !slices.Equal(t.Shape, shape) || len(t.F32) != tensor.NumElements(shape) {
			return fmt.Errorf("%w: %s is %s, want float32%v", ErrShape, Names[i], t, shape)
		}
	}
	return nil
}

// Equal reports whether both states hold identical values.
func (r Recurrent) Equal(o Recurrent) bool {
	a, b := r.Tensors(), o.Tensors()
	for i := range a {
		if !tensor.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
