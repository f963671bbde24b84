package graph

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/samcharles93/tradepolicy/internal/tensor"
)

type planStep struct {
	op    string
	label string
	run   kernel
	in    []int
	out   []int
}

// ModelInfo is descriptive metadata carried over from the ModelProto.
type ModelInfo struct {
	IRVersion       int64             `json:"ir_version"`
	Opset           int64             `json:"opset"`
	Producer        string            `json:"producer,omitempty"`
	ProducerVersion string            `json:"producer_version,omitempty"`
	Graph           string            `json:"graph,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Plan is a compiled, immutable execution plan. Values live in numbered
// slots; constants are pre-filled and each step reads and writes slots by
// index. A Plan is safe for concurrent Run calls.
type Plan struct {
	inputs     []ValueSpec
	outputs    []ValueSpec
	inSlots    []int
	outSlots   []int
	consts     []*tensor.Tensor
	steps      []planStep
	ops        map[string]int
	info       ModelInfo
	compiledAt time.Time
}

func (p *program) emit() *Plan {
	slot := make([]int, len(p.values))
	for i := range slot {
		slot[i] = -1
	}
	next := 0
	assign := func(id int) int {
		if id < 0 {
			return -1
		}
		if slot[id] < 0 {
			slot[id] = next
			next++
		}
		return slot[id]
	}

	plan := &Plan{ops: make(map[string]int)}
	for _, id := range p.inputs {
		v := p.values[id]
		plan.inSlots = append(plan.inSlots, assign(id))
		plan.inputs = append(plan.inputs, ValueSpec{Name: v.name, Shape: slices.Clone(v.shape)})
	}
	for _, s := range p.steps {
		ps := planStep{op: s.op, label: s.label(), run: s.run}
		for _, id := range s.in {
			ps.in = append(ps.in, assign(id))
		}
		for _, id := range s.out {
			ps.out = append(ps.out, assign(id))
		}
		plan.steps = append(plan.steps, ps)
		plan.ops[s.op]++
	}
	for _, id := range p.outputs {
		v := p.values[id]
		plan.outSlots = append(plan.outSlots, assign(id))
		plan.outputs = append(plan.outputs, ValueSpec{Name: v.name, Shape: slices.Clone(v.shape)})
	}

	plan.consts = make([]*tensor.Tensor, next)
	for id, s := range slot {
		if s >= 0 && p.values[id].konst != nil {
			plan.consts[s] = p.values[id].konst
		}
	}

	m := p.model
	plan.info = ModelInfo{
		IRVersion:       m.IRVersion,
		Opset:           p.opset,
		Producer:        m.ProducerName,
		ProducerVersion: m.ProducerVersion,
		Graph:           m.Graph.Name,
		Metadata:        maps.Clone(m.Metadata),
	}
	return plan
}

// Inputs returns the runtime inputs in the order Run expects them.
func (p *Plan) Inputs() []ValueSpec { return cloneSpecs(p.inputs) }

// Outputs returns the graph outputs in the order Run produces them.
func (p *Plan) Outputs() []ValueSpec { return cloneSpecs(p.outputs) }

// Ops returns a histogram of the executed step kinds, fused steps included.
func (p *Plan) Ops() map[string]int { return maps.Clone(p.ops) }

// Steps returns the number of kernel invocations per Run.
func (p *Plan) Steps() int { return len(p.steps) }

func (p *Plan) Info() ModelInfo {
	info := p.info
	info.Metadata = maps.Clone(p.info.Metadata)
	return info
}

func (p *Plan) CompiledAt() time.Time { return p.compiledAt }

func cloneSpecs(in []ValueSpec) []ValueSpec {
	out := make([]ValueSpec, len(in))
	for i, s := range in {
		out[i] = ValueSpec{Name: s.Name, Shape: slices.Clone(s.Shape)}
	}
	return out
}

// Run executes the plan once. inputs must match Inputs() in count, shape and
// dtype (float32). The returned tensors are owned by the caller.
func (p *Plan) Run(inputs []*tensor.Tensor) (out []*tensor.Tensor, err error) {
	if len(inputs) != len(p.inputs) {
		return nil, fmt.Errorf("%w: plan takes %d inputs, got %d", ErrExecution, len(p.inputs), len(inputs))
	}
	for i, in := range inputs {
		spec := p.inputs[i]
		if in == nil || in.DType != tensor.Float32 || !slices.Equal(in.Shape, spec.Shape) || in.Len() != tensor.NumElements(spec.Shape) {
			return nil, fmt.Errorf("%w: %w: input %q must be float32 %v", ErrExecution, ErrShapeMismatch, spec.Name, spec.Shape)
		}
	}

	current := ""
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: panic in %s: %v", ErrExecution, current, r)
		}
	}()

	slots := make([]*tensor.Tensor, len(p.consts))
	copy(slots, p.consts)
	for i, s := range p.inSlots {
		slots[s] = inputs[i]
	}
	args := make([]*tensor.Tensor, 0, 8)
	for _, st := range p.steps {
		current = st.label
		args = args[:0]
		for _, s := range st.in {
			if s < 0 {
				args = append(args, nil)
			} else {
				args = append(args, slots[s])
			}
		}
		res, err := st.run(args)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrExecution, st.label, err)
		}
		for j, s := range st.out {
			if s < 0 {
				continue
			}
			if j >= len(res) || res[j] == nil {
				return nil, fmt.Errorf("%w: %s produced no output %d", ErrExecution, st.label, j)
			}
			slots[s] = res[j]
		}
	}

	out = make([]*tensor.Tensor, len(p.outSlots))
	for i, s := range p.outSlots {
		out[i] = slots[s].Clone()
	}
	return out, nil
}
