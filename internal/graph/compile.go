// Package graph compiles an ONNX policy network into an immutable,
// slot-indexed execution plan.
//
// Compilation runs in a fixed order: decode, structural checks and
// topological ordering, binding the input contract, constant folding, a
// shape probe on zero-valued inputs, folding of Shape nodes, a second
// constant fold, dead-code elimination, operator fusion, and a final
// dead-code sweep. The result never changes after Compile returns.
package graph

import (
	"fmt"
	"time"

	"github.com/samcharles93/tradepolicy/internal/onnx"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

// defaultOpset is assumed when a model imports no default-domain opset.
const defaultOpset = 13

type value struct {
	name  string
	konst *tensor.Tensor
	shape []int
	known bool
	input bool
}

type step struct {
	op   string
	name string
	node *onnx.Node
	run  kernel
	in   []int // -1 marks an absent optional input
	out  []int // -1 marks a discarded output
	dead bool
}

type program struct {
	model   *onnx.Model
	opset   int64
	values  []*value
	byName  map[string]int
	inputs  []int
	infos   []*onnx.ValueInfo
	outputs []int
	steps   []*step
}

// Compile decodes b as an ONNX model and compiles it against binding.
// Every failure is a *CompileError.
func Compile(b []byte, binding Binding) (*Plan, error) {
	if err := binding.validate(); err != nil {
		return nil, compileErr(ErrShapeMismatch, "%v", err)
	}
	model, err := onnx.Decode(b)
	if err != nil {
		return nil, asCompileErr(ErrMalformedModel, err, "decode")
	}
	return CompileModel(model, binding)
}

// CompileModel compiles an already decoded model.
func CompileModel(model *onnx.Model, binding Binding) (*Plan, error) {
	if err := binding.validate(); err != nil {
		return nil, compileErr(ErrShapeMismatch, "%v", err)
	}
	p, err := buildProgram(model)
	if err != nil {
		return nil, err
	}
	if err := p.bind(binding); err != nil {
		return nil, err
	}
	passes := []struct {
		name string
		run  func() error
	}{
		{"fold constants", p.foldConstants},
		{"probe shapes", p.probeShapes},
		{"fold shapes", p.foldShapes},
		{"fold constants", p.foldConstants},
		{"eliminate dead code", p.eliminateDeadCode},
		{"fuse", p.fuse},
		{"eliminate dead code", p.eliminateDeadCode},
		{"check outputs", func() error { return p.checkOutputs(binding) }},
	}
	for _, pass := range passes {
		if err := pass.run(); err != nil {
			return nil, asCompileErr(ErrShapeMismatch, err, pass.name)
		}
	}
	plan := p.emit()
	plan.compiledAt = time.Now().UTC()
	return plan, nil
}

func (p *program) define(name string) (int, error) {
	if _, dup := p.byName[name]; dup {
		return 0, compileErr(ErrMalformedModel, "value %q is defined more than once", name)
	}
	id := len(p.values)
	p.values = append(p.values, &value{name: name})
	p.byName[name] = id
	return id, nil
}

func buildProgram(model *onnx.Model) (*program, error) {
	g := model.Graph
	p := &program{
		model:  model,
		opset:  model.Opset(),
		byName: make(map[string]int),
	}
	if p.opset == 0 {
		p.opset = defaultOpset
	}

	for _, init := range g.Initializers {
		if init.Name == "" {
			return nil, compileErr(ErrMalformedModel, "initializer without a name")
		}
		t, err := onnx.ToTensor(init)
		if err != nil {
			return nil, asCompileErr(ErrMalformedModel, err, "initializer "+init.Name)
		}
		id, err := p.define(init.Name)
		if err != nil {
			return nil, err
		}
		p.values[id].konst = t
		p.values[id].shape = t.Shape
		p.values[id].known = true
	}
	for _, in := range g.Inputs {
		// inputs that also appear as initializers are overridable
		// defaults, not runtime inputs
		if _, isInit := p.byName[in.Name]; isInit {
			continue
		}
		id, err := p.define(in.Name)
		if err != nil {
			return nil, err
		}
		p.values[id].input = true
		p.inputs = append(p.inputs, id)
		p.infos = append(p.infos, in)
	}

	for _, n := range g.Nodes {
		if n.Domain != "" && n.Domain != "ai.onnx" {
			return nil, compileErr(ErrUnsupportedOperator, "%s in domain %q", n, n.Domain)
		}
		build, ok := builders[n.OpType]
		if !ok {
			return nil, compileErr(ErrUnsupportedOperator, "%q", n.OpType)
		}
		run, err := build(n, p.opset)
		if err != nil {
			return nil, asCompileErr(ErrMalformedModel, err, n.String())
		}
		s := &step{op: n.OpType, node: n, run: run}
		for _, out := range n.Outputs {
			if out == "" {
				s.out = append(s.out, -1)
				continue
			}
			id, err := p.define(out)
			if err != nil {
				return nil, err
			}
			s.out = append(s.out, id)
		}
		p.steps = append(p.steps, s)
	}

	for _, s := range p.steps {
		for _, name := range s.node.Inputs {
			if name == "" {
				s.in = append(s.in, -1)
				continue
			}
			id, ok := p.byName[name]
			if !ok {
				return nil, compileErr(ErrMalformedModel, "%s reads undefined value %q", s.node, name)
			}
			s.in = append(s.in, id)
		}
	}
	if len(g.Outputs) == 0 {
		return nil, compileErr(ErrMalformedModel, "graph has no outputs")
	}
	for _, out := range g.Outputs {
		id, ok := p.byName[out.Name]
		if !ok {
			return nil, compileErr(ErrMalformedModel, "graph output %q is never produced", out.Name)
		}
		p.outputs = append(p.outputs, id)
	}
	return p, p.sortSteps()
}

// sortSteps orders steps topologically (Kahn), keeping file order among
// steps that are ready at the same time.
func (p *program) sortSteps() error {
	producer := make(map[int]int, len(p.values))
	for i, s := range p.steps {
		for _, v := range s.out {
			if v >= 0 {
				producer[v] = i
			}
		}
	}
	indegree := make([]int, len(p.steps))
	consumers := make([][]int, len(p.steps))
	for i, s := range p.steps {
		for _, v := range s.in {
			if src, ok := producer[v]; ok && v >= 0 {
				indegree[i]++
				consumers[src] = append(consumers[src], i)
			}
		}
	}
	ready := make([]int, 0, len(p.steps))
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]*step, 0, len(p.steps))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, p.steps[i])
		for _, c := range consumers[i] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(order) != len(p.steps) {
		return compileErr(ErrMalformedModel, "graph contains a cycle")
	}
	p.steps = order
	return nil
}

// bind pins the runtime inputs to the contract.
func (p *program) bind(b Binding) error {
	n := len(p.inputs)
	if n < b.required() || n > len(b.Inputs) {
		return compileErr(ErrShapeMismatch, "graph declares %d inputs, contract accepts %d to %d",
			n, b.required(), len(b.Inputs))
	}
	for i, id := range p.inputs {
		spec, info := b.Inputs[i], p.infos[i]
		if info.ElemType != onnx.DataTypeFloat && info.ElemType != onnx.DataTypeUndefined {
			return compileErr(ErrShapeMismatch, "input %q has element type %s, contract needs FLOAT", info.Name, info.ElemType)
		}
		if info.Shape != nil {
			if len(info.Shape) != len(spec.Shape) {
				return compileErr(ErrShapeMismatch, "input %q has rank %d, contract needs %v", info.Name, len(info.Shape), spec.Shape)
			}
			for d, dim := range info.Shape {
				if dim.Known() && int(dim.Value) != spec.Shape[d] {
					return compileErr(ErrShapeMismatch, "input %q has shape %v, contract needs %v", info.Name, info.Shape, spec.Shape)
				}
			}
		}
		v := p.values[id]
		v.shape = spec.Shape
		v.known = true
	}
	return nil
}

func (s *step) label() string {
	if s.name != "" {
		return s.name
	}
	if s.node != nil {
		return s.node.String()
	}
	return s.op
}

// exec runs a step's kernel, turning panics into errors.
func (s *step) exec(args []*tensor.Tensor) (outs []*tensor.Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			outs, err = nil, fmt.Errorf("panic in %s: %v", s.label(), r)
		}
	}()
	outs, err = s.run(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.label(), err)
	}
	for i, id := range s.out {
		if id >= 0 && (i >= len(outs) || outs[i] == nil) {
			return nil, fmt.Errorf("%s did not produce output %d", s.label(), i)
		}
	}
	return outs, nil
}
