package graph

import (
	"fmt"
	"slices"

	"github.com/samcharles93/tradepolicy/internal/tensor"
)

const (
	opFusedLinear = "FusedLinear"
	opFusedGemm   = "FusedGemm"
)

func (p *program) compact() {
	p.steps = slices.DeleteFunc(p.steps, func(s *step) bool { return s.dead })
}

func gather(vals []*tensor.Tensor, ids []int) []*tensor.Tensor {
	args := make([]*tensor.Tensor, len(ids))
	for i, id := range ids {
		if id >= 0 {
			args[i] = vals[id]
		}
	}
	return args
}

func (p *program) setConst(id int, t *tensor.Tensor) {
	v := p.values[id]
	v.konst = t
	v.shape = t.Shape
	v.known = true
}

// foldConstants evaluates every step whose inputs are all constants. Steps
// are in topological order, so chains fold in a single sweep.
func (p *program) foldConstants() error {
	vals := make([]*tensor.Tensor, len(p.values))
	for _, s := range p.steps {
		foldable := true
		for _, id := range s.in {
			if id < 0 {
				continue
			}
			if p.values[id].konst == nil {
				foldable = false
				break
			}
			vals[id] = p.values[id].konst
		}
		if !foldable {
			continue
		}
		outs, err := s.exec(gather(vals, s.in))
		if err != nil {
			return compileErr(ErrShapeMismatch, "folding: %v", err)
		}
		for i, id := range s.out {
			if id >= 0 {
				p.setConst(id, outs[i])
			}
		}
		s.dead = true
	}
	p.compact()
	return nil
}

// probeShapes runs the graph once on zero-valued inputs of the contract
// shapes and records the shape of every intermediate value.
func (p *program) probeShapes() error {
	vals := make([]*tensor.Tensor, len(p.values))
	for id, v := range p.values {
		if v.konst != nil {
			vals[id] = v.konst
		}
	}
	for _, id := range p.inputs {
		vals[id] = tensor.New(p.values[id].shape...)
	}
	for _, s := range p.steps {
		outs, err := s.exec(gather(vals, s.in))
		if err != nil {
			return compileErr(ErrShapeMismatch, "%v", err)
		}
		for i, id := range s.out {
			if id < 0 {
				continue
			}
			vals[id] = outs[i]
			v := p.values[id]
			v.shape = slices.Clone(outs[i].Shape)
			v.known = true
		}
	}
	return nil
}

// foldShapes replaces Shape nodes with constants now that every shape is
// known.
func (p *program) foldShapes() error {
	for _, s := range p.steps {
		if s.op != "Shape" {
			continue
		}
		src := p.values[s.in[0]]
		if !src.known {
			continue
		}
		placeholder := &tensor.Tensor{DType: tensor.Float32, Shape: src.shape}
		outs, err := s.exec([]*tensor.Tensor{placeholder})
		if err != nil {
			return compileErr(ErrShapeMismatch, "%v", err)
		}
		p.setConst(s.out[0], outs[0])
		s.dead = true
	}
	p.compact()
	return nil
}

// eliminateDeadCode drops steps that contribute nothing to the graph
// outputs, and discards unused outputs of the survivors.
func (p *program) eliminateDeadCode() error {
	live := make([]bool, len(p.values))
	for _, id := range p.outputs {
		live[id] = true
	}
	for i := len(p.steps) - 1; i >= 0; i-- {
		s := p.steps[i]
		used := false
		for j, id := range s.out {
			if id < 0 {
				continue
			}
			if live[id] {
				used = true
			} else {
				s.out[j] = -1
			}
		}
		if !used {
			s.dead = true
			continue
		}
		for _, id := range s.in {
			if id >= 0 {
				live[id] = true
			}
		}
	}
	p.compact()
	return nil
}

// fuse merges MatMul+Add[+activation] into a single linear step and
// Gemm+activation into a single Gemm step. Only values with exactly one
// consumer that are not graph outputs are fused away.
func (p *program) fuse() error {
	uses := make([]int, len(p.values))
	consumer := make([]*step, len(p.values))
	for _, id := range p.outputs {
		uses[id]++
	}
	for _, s := range p.steps {
		for _, id := range s.in {
			if id >= 0 {
				uses[id]++
				consumer[id] = s
			}
		}
	}
	sole := func(id int) *step {
		if id < 0 || uses[id] != 1 || slices.Contains(p.outputs, id) {
			return nil
		}
		if c := consumer[id]; c != nil && !c.dead {
			return c
		}
		return nil
	}

	for i, s := range p.steps {
		if s.dead {
			continue
		}
		switch s.op {
		case "MatMul":
			if fused := p.fuseLinear(s, sole); fused != nil {
				p.steps[i] = fused
			}
		case "Gemm":
			act := sole(s.out[0])
			if act == nil || act.node == nil {
				continue
			}
			fn, ok := activation(act.node)
			if !ok {
				continue
			}
			inner := s.run
			act.dead = true
			p.steps[i] = &step{
				op:   opFusedGemm,
				name: fmt.Sprintf("%s(%s+%s)", opFusedGemm, s.label(), act.op),
				in:   s.in,
				out:  []int{act.out[0]},
				run: func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
					outs, err := inner(in)
					if err != nil {
						return nil, err
					}
					// Gemm always returns a freshly allocated result
					tensor.MapInPlace(outs[0], fn)
					return outs[:1], nil
				},
			}
		}
	}
	p.compact()
	return nil
}

func (p *program) fuseLinear(mm *step, sole func(int) *step) *step {
	out := mm.out[0]
	add := sole(out)
	if add == nil || add.op != "Add" || add.in[0] == add.in[1] {
		return nil
	}
	biasID := add.in[0]
	if biasID == out {
		biasID = add.in[1]
	}
	bias := p.values[biasID]
	if bias.konst == nil || bias.konst.DType != tensor.Float32 {
		return nil
	}
	mmShape := p.values[out].shape
	if b, err := tensor.BroadcastShape(mmShape, bias.shape); err != nil || !slices.Equal(b, mmShape) {
		return nil
	}

	last := add
	var act func(float32) float32
	if next := sole(add.out[0]); next != nil && next.node != nil {
		if fn, ok := activation(next.node); ok {
			act, last = fn, next
		}
	}
	add.dead = true
	last.dead = true
	name := fmt.Sprintf("%s(%s+Add)", opFusedLinear, mm.label())
	if last != add {
		name = fmt.Sprintf("%s(%s+Add+%s)", opFusedLinear, mm.label(), last.op)
	}
	return &step{
		op:   opFusedLinear,
		name: name,
		in:   []int{mm.in[0], mm.in[1], biasID},
		out:  []int{last.out[0]},
		run:  linearKernel(act),
	}
}

func linearKernel(act func(float32) float32) kernel {
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		out, err := tensor.MatMul(in[0], in[1])
		if err != nil {
			return nil, err
		}
		if err := tensor.AddInPlace(out, in[2]); err != nil {
			return nil, err
		}
		if act != nil {
			tensor.MapInPlace(out, act)
		}
		return []*tensor.Tensor{out}, nil
	}
}

// checkOutputs verifies the trailing outputs against the contract. At least
// one leading output (the logits) must precede them.
func (p *program) checkOutputs(b Binding) error {
	k := len(b.TrailingOutputs)
	if len(p.outputs) < k+1 {
		return compileErr(ErrShapeMismatch, "graph has %d outputs, contract needs logits plus %d state outputs", len(p.outputs), k)
	}
	base := len(p.outputs) - k
	for i, want := range b.TrailingOutputs {
		v := p.values[p.outputs[base+i]]
		if !slices.Equal(v.shape, want) {
			return compileErr(ErrShapeMismatch, "output %q has shape %v, contract needs %v", v.name, v.shape, want)
		}
	}
	if first := p.values[p.outputs[0]]; tensor.NumElements(first.shape) == 0 {
		return compileErr(ErrShapeMismatch, "output %q is empty", first.name)
	}
	return nil
}
