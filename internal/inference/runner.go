package inference

import (
	"fmt"

	"github.com/samcharles93/tradepolicy/internal/graph"
	"github.com/samcharles93/tradepolicy/internal/state"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

// Output is the result of one forward pass.
type Output struct {
	Logits []float32
	// Value is the critic estimate when the graph exposes one between the
	// logits and the state outputs.
	Value []float32
	State state.Recurrent
}

// Runner executes plans under a fixed contract. It holds no mutable state.
type Runner struct {
	contract Contract
}

func NewRunner(c Contract) *Runner {
	return &Runner{contract: c}
}

func (r *Runner) Contract() Contract { return r.contract }

// Run validates obs, executes plan once with the given recurrent state and
// returns the logits and the next state. Neither obs nor cur is modified.
func (r *Runner) Run(plan *graph.Plan, obs []float32, cur state.Recurrent) (Output, error) {
	if plan == nil {
		return Output{}, ErrModelNotInitialized
	}
	if len(obs) != r.contract.ObservationLen {
		return Output{}, &InputShapeError{Expected: r.contract.ObservationLen, Got: len(obs)}
	}

	x, err := tensor.FromFloat32(r.contract.ObservationShape(), obs)
	if err != nil {
		return Output{}, fmt.Errorf("%w: build observation: %w", ErrExecution, err)
	}
	if err := cur.Validate(r.contract.StateShape); err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	inputs := append([]*tensor.Tensor{x}, cur.Tensors()...)
	if n := len(plan.Inputs()); n > len(inputs) {
		// episode_starts: every call continues the current episode
		inputs = append(inputs, tensor.New(1))
	}
	if len(inputs) != len(plan.Inputs()) {
		return Output{}, fmt.Errorf("%w: plan takes %d inputs, contract supplies %d", ErrExecution, len(plan.Inputs()), len(inputs))
	}

	outs, err := plan.Run(inputs)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	n := len(state.Names)
	if len(outs) < n+1 {
		return Output{}, fmt.Errorf("%w: plan produced %d outputs", ErrExecution, len(outs))
	}

	logits, err := outs[0].Cast(tensor.Float32)
	if err != nil {
		return Output{}, fmt.Errorf("%w: read logits: %w", ErrExecution, err)
	}
	next, err := state.FromTensors(outs[len(outs)-n:])
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	if err := next.Validate(r.contract.StateShape); err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	out := Output{Logits: logits.F32, State: next}
	if len(outs) > n+1 {
		v, err := outs[1].Cast(tensor.Float32)
		if err == nil {
			out.Value = v.F32
		}
	}
	return out, nil
}
