package graph

import (
	"fmt"
	"slices"
)

// InputSpec fixes the shape of one runtime graph input. Optional inputs may
// be missing from the graph, but only at the end of the input list.
type InputSpec struct {
	Name     string
	Shape    []int
	Optional bool
}

// Binding is the external contract a graph is compiled against. Every
// dimension is concrete: symbolic graph dimensions are pinned to it.
type Binding struct {
	Inputs []InputSpec
	// TrailingOutputs lists the required shapes of the last graph outputs,
	// in order. Outputs before them are unconstrained.
	TrailingOutputs [][]int
}

func (b Binding) validate() error {
	optional := false
	for i, in := range b.Inputs {
		if in.Optional {
			optional = true
		} else if optional {
			return fmt.Errorf("binding input %d (%s) is required after an optional input", i, in.Name)
		}
		if slices.ContainsFunc(in.Shape, func(d int) bool { return d <= 0 }) {
			return fmt.Errorf("binding input %d (%s) has non-positive dims %v", i, in.Name, in.Shape)
		}
	}
	return nil
}

func (b Binding) required() int {
	n := 0
	for _, in := range b.Inputs {
		if !in.Optional {
			n++
		}
	}
	return n
}

// ValueSpec names a plan input or output with its concrete shape.
type ValueSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}
