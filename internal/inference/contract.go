// Package inference runs one forward pass of a compiled policy: it checks the
// observation against the input contract, feeds the recurrent state, and
// splits the outputs into logits and the next state.
package inference

import (
	"slices"

	"github.com/samcharles93/tradepolicy/internal/graph"
	"github.com/samcharles93/tradepolicy/internal/state"
)

// Contract describes the inputs a policy graph must accept:
//
//	obs            [1, ObservationLen]
//	actor_h        StateShape
//	actor_c        StateShape
//	critic_h       StateShape
//	critic_c       StateShape
//	episode_starts [1]            (optional, fed zeros)
//
// and requires the last four outputs to be the next state in the same order.
type Contract struct {
	ObservationLen int
	StateShape     []int
	EpisodeStarts  bool
}

// DefaultContract is the recurrent PPO trading policy layout: eight market
// and portfolio features and 256-wide LSTM states.
var DefaultContract = Contract{
	ObservationLen: 8,
	StateShape:     []int{1, 1, 256},
	EpisodeStarts:  true,
}

// ObservationShape is the tensor shape the observation is reshaped to.
func (c Contract) ObservationShape() []int {
	return []int{1, c.ObservationLen}
}

// Binding converts the contract into the graph compiler's terms.
func (c Contract) Binding() graph.Binding {
	b := graph.Binding{
		Inputs: []graph.InputSpec{{Name: "obs", Shape: c.ObservationShape()}},
	}
	for _, name := range state.Names {
		b.Inputs = append(b.Inputs, graph.InputSpec{Name: name, Shape: slices.Clone(c.StateShape)})
		b.TrailingOutputs = append(b.TrailingOutputs, slices.Clone(c.StateShape))
	}
	if c.EpisodeStarts {
		b.Inputs = append(b.Inputs, graph.InputSpec{Name: "episode_starts", Shape: []int{1}, Optional: true})
	}
	return b
}
