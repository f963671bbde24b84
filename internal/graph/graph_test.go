package graph

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/tradepolicy/internal/onnx"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

func f32Init(t *testing.T, name string, shape []int, vals ...float32) *onnx.TensorProto {
	t.Helper()
	x, err := tensor.FromFloat32(shape, vals)
	require.NoError(t, err)
	return onnx.FromTensor(name, x)
}

func valueInfo(name string, dims ...int64) *onnx.ValueInfo {
	vi := &onnx.ValueInfo{Name: name, ElemType: onnx.DataTypeFloat, Shape: []onnx.Dim{}}
	for _, d := range dims {
		if d < 0 {
			vi.Shape = append(vi.Shape, onnx.Dim{Param: "batch"})
		} else {
			vi.Shape = append(vi.Shape, onnx.Dim{Value: d})
		}
	}
	return vi
}

func node(op string, in, out []string, attrs ...*onnx.Attribute) *onnx.Node {
	return &onnx.Node{OpType: op, Inputs: in, Outputs: out, Attributes: attrs}
}

func intAttr(name string, v int64) *onnx.Attribute {
	return &onnx.Attribute{Name: name, Type: onnx.AttrInt, Int: v}
}

func encode(g *onnx.Graph) []byte {
	return onnx.Encode(&onnx.Model{
		IRVersion:    8,
		ProducerName: "graph-test",
		OpsetImports: []onnx.OperatorSet{{Version: 14}},
		Graph:        g,
	})
}

func bindOne(shape ...int) Binding {
	return Binding{Inputs: []InputSpec{{Name: "x", Shape: shape}}}
}

func run(t *testing.T, plan *Plan, vals ...float32) []*tensor.Tensor {
	t.Helper()
	in, err := tensor.FromFloat32(plan.Inputs()[0].Shape, vals)
	require.NoError(t, err)
	out, err := plan.Run([]*tensor.Tensor{in})
	require.NoError(t, err)
	return out
}

func linearGraph(t *testing.T) *onnx.Graph {
	return &onnx.Graph{
		Name: "linear",
		Nodes: []*onnx.Node{
			node("MatMul", []string{"x", "W"}, []string{"h"}),
			node("Add", []string{"h", "b"}, []string{"z"}),
			node("Relu", []string{"z"}, []string{"y"}),
		},
		Initializers: []*onnx.TensorProto{
			f32Init(t, "W", []int{3, 2}, 1, -1, 0, 1, 1, -2),
			f32Init(t, "b", []int{2}, 0.5, 0.5),
		},
		Inputs:  []*onnx.ValueInfo{valueInfo("x", -1, 3)},
		Outputs: []*onnx.ValueInfo{valueInfo("y", 1, 2)},
	}
}

func TestCompileFusesLinearChain(t *testing.T) {
	t.Parallel()
	plan, err := Compile(encode(linearGraph(t)), bindOne(1, 3))
	require.NoError(t, err)

	require.Equal(t, map[string]int{opFusedLinear: 1}, plan.Ops())
	require.Equal(t, 1, plan.Steps())
	require.Equal(t, []ValueSpec{{Name: "x", Shape: []int{1, 3}}}, plan.Inputs())
	require.Equal(t, []ValueSpec{{Name: "y", Shape: []int{1, 2}}}, plan.Outputs())
	require.Equal(t, "graph-test", plan.Info().Producer)
	require.Equal(t, int64(14), plan.Info().Opset)
	require.False(t, plan.CompiledAt().IsZero())

	out := run(t, plan, 1, 2, 3)
	require.Equal(t, []float32{4.5, 0}, out[0].F32)
}

func TestFusionSkipsSharedIntermediate(t *testing.T) {
	t.Parallel()
	g := linearGraph(t)
	// h is also a graph output, so MatMul cannot be folded into the Add
	g.Outputs = append(g.Outputs, valueInfo("h", 1, 2))
	plan, err := Compile(encode(g), bindOne(1, 3))
	require.NoError(t, err)
	require.Equal(t, map[string]int{"MatMul": 1, "Add": 1, "Relu": 1}, plan.Ops())

	out := run(t, plan, 1, 2, 3)
	require.Equal(t, []float32{4.5, 0}, out[0].F32)
	require.Equal(t, []float32{4, -5}, out[1].F32)
}

func TestGemmActivationFusion(t *testing.T) {
	t.Parallel()
	g := &onnx.Graph{
		Nodes: []*onnx.Node{
			node("Gemm", []string{"x", "W"}, []string{"h"}, intAttr("transB", 1)),
			node("Tanh", []string{"h"}, []string{"y"}),
		},
		Initializers: []*onnx.TensorProto{f32Init(t, "W", []int{2, 2}, 1, 0, 0, 1)},
		Inputs:       []*onnx.ValueInfo{valueInfo("x", 1, 2)},
		Outputs:      []*onnx.ValueInfo{valueInfo("y", 1, 2)},
	}
	plan, err := Compile(encode(g), bindOne(1, 2))
	require.NoError(t, err)
	require.Equal(t, map[string]int{opFusedGemm: 1}, plan.Ops())

	out := run(t, plan, 0.5, -0.5)
	want := float32(math.Tanh(0.5))
	require.InDeltaSlice(t, []float32{want, -want}, out[0].F32, 1e-6)
}

func TestShapeNodesFoldAway(t *testing.T) {
	t.Parallel()
	g := &onnx.Graph{
		Nodes: []*onnx.Node{
			node("Shape", []string{"x"}, []string{"s"}),
			node("Constant", nil, []string{"zero"}, &onnx.Attribute{
				Name: "value_ints", Type: onnx.AttrInts, Ints: []int64{0},
			}),
			node("Gather", []string{"s", "zero"}, []string{"batch"}),
			node("Constant", nil, []string{"minus1"}, &onnx.Attribute{
				Name: "value_ints", Type: onnx.AttrInts, Ints: []int64{-1},
			}),
			node("Concat", []string{"batch", "minus1"}, []string{"target"}, intAttr("axis", 0)),
			node("Reshape", []string{"x", "target"}, []string{"y"}),
		},
		Inputs:  []*onnx.ValueInfo{valueInfo("x", 1, 2, 3)},
		Outputs: []*onnx.ValueInfo{valueInfo("y")},
	}
	plan, err := Compile(encode(g), bindOne(1, 2, 3))
	require.NoError(t, err)
	require.Equal(t, map[string]int{"Reshape": 1}, plan.Ops())
	require.Equal(t, []int{1, 6}, plan.Outputs()[0].Shape)

	out := run(t, plan, 1, 2, 3, 4, 5, 6)
	require.Equal(t, []int{1, 6}, out[0].Shape)
}

func TestDeadBranchesAreRemoved(t *testing.T) {
	t.Parallel()
	g := linearGraph(t)
	g.Nodes = append(g.Nodes, node("Sigmoid", []string{"x"}, []string{"unused"}))
	plan, err := Compile(encode(g), bindOne(1, 3))
	require.NoError(t, err)
	require.NotContains(t, plan.Ops(), "Sigmoid")
}

func TestConstantSubgraphsFold(t *testing.T) {
	t.Parallel()
	g := &onnx.Graph{
		Nodes: []*onnx.Node{
			node("Mul", []string{"a", "a"}, []string{"a2"}),
			node("Add", []string{"x", "a2"}, []string{"y"}),
		},
		Initializers: []*onnx.TensorProto{f32Init(t, "a", []int{2}, 2, 3)},
		Inputs:       []*onnx.ValueInfo{valueInfo("x", 1, 2)},
		Outputs:      []*onnx.ValueInfo{valueInfo("y", 1, 2)},
	}
	plan, err := Compile(encode(g), bindOne(1, 2))
	require.NoError(t, err)
	require.Equal(t, map[string]int{"Add": 1}, plan.Ops())
	require.Equal(t, []float32{5, 10}, run(t, plan, 1, 1)[0].F32)
}

func TestNodesOutOfOrderAreSorted(t *testing.T) {
	t.Parallel()
	g := &onnx.Graph{
		Nodes: []*onnx.Node{
			node("Neg", []string{"h"}, []string{"y"}),
			node("Exp", []string{"x"}, []string{"h"}),
		},
		Inputs:  []*onnx.ValueInfo{valueInfo("x", 1)},
		Outputs: []*onnx.ValueInfo{valueInfo("y", 1)},
	}
	plan, err := Compile(encode(g), bindOne(1))
	require.NoError(t, err)
	require.InDelta(t, -1.0, run(t, plan, 0)[0].F32[0], 1e-6)
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes func(t *testing.T) []byte
		bind  Binding
		kind  error
	}{
		{
			name:  "garbage",
			bytes: func(*testing.T) []byte { return []byte("definitely not onnx") },
			bind:  bindOne(1, 3),
			kind:  ErrMalformedModel,
		},
		{
			name: "truncated",
			bytes: func(t *testing.T) []byte {
				b := encode(linearGraph(t))
				return b[:len(b)/2]
			},
			bind: bindOne(1, 3),
			kind: ErrMalformedModel,
		},
		{
			name: "unsupported operator",
			bytes: func(t *testing.T) []byte {
				g := linearGraph(t)
				g.Nodes[2].OpType = "Conv"
				return encode(g)
			},
			bind: bindOne(1, 3),
			kind: ErrUnsupportedOperator,
		},
		{
			name: "custom domain",
			bytes: func(t *testing.T) []byte {
				g := linearGraph(t)
				g.Nodes[2].Domain = "com.example"
				return encode(g)
			},
			bind: bindOne(1, 3),
			kind: ErrUnsupportedOperator,
		},
		{
			name: "bidirectional lstm",
			bytes: func(*testing.T) []byte {
				return encode(&onnx.Graph{
					Nodes: []*onnx.Node{node("LSTM", []string{"x", "W", "R"}, []string{"", "y"},
						intAttr("hidden_size", 2),
						&onnx.Attribute{Name: "direction", Type: onnx.AttrString, String: []byte("bidirectional")},
					)},
					Inputs:  []*onnx.ValueInfo{valueInfo("x", 1, 1, 3)},
					Outputs: []*onnx.ValueInfo{valueInfo("y")},
				})
			},
			bind: bindOne(1, 1, 3),
			kind: ErrUnsupportedOperator,
		},
		{
			name: "undefined value",
			bytes: func(t *testing.T) []byte {
				g := linearGraph(t)
				g.Nodes[1].Inputs[1] = "missing"
				return encode(g)
			},
			bind: bindOne(1, 3),
			kind: ErrMalformedModel,
		},
		{
			name: "cycle",
			bytes: func(*testing.T) []byte {
				return encode(&onnx.Graph{
					Nodes: []*onnx.Node{
						node("Add", []string{"x", "b"}, []string{"a"}),
						node("Neg", []string{"a"}, []string{"b"}),
					},
					Inputs:  []*onnx.ValueInfo{valueInfo("x", 1)},
					Outputs: []*onnx.ValueInfo{valueInfo("a")},
				})
			},
			bind: bindOne(1),
			kind: ErrMalformedModel,
		},
		{
			name:  "input shape differs from contract",
			bytes: func(t *testing.T) []byte { return encode(linearGraph(t)) },
			bind:  bindOne(1, 5),
			kind:  ErrShapeMismatch,
		},
		{
			name: "input count differs from contract",
			bytes: func(t *testing.T) []byte { return encode(linearGraph(t)) },
			bind: Binding{Inputs: []InputSpec{
				{Name: "x", Shape: []int{1, 3}},
				{Name: "h", Shape: []int{1, 4}},
			}},
			kind: ErrShapeMismatch,
		},
		{
			name: "inner dimensions disagree",
			bytes: func(t *testing.T) []byte {
				g := linearGraph(t)
				g.Initializers[0] = f32Init(t, "W", []int{2, 2}, 1, 2, 3, 4)
				return encode(g)
			},
			bind: bindOne(1, 3),
			kind: ErrShapeMismatch,
		},
		{
			name: "trailing output shape",
			bytes: func(t *testing.T) []byte {
				g := linearGraph(t)
				g.Outputs = append(g.Outputs, valueInfo("z", 1, 2))
				return encode(g)
			},
			bind: Binding{
				Inputs:          []InputSpec{{Name: "x", Shape: []int{1, 3}}},
				TrailingOutputs: [][]int{{1, 1, 2}},
			},
			kind: ErrShapeMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			plan, err := Compile(tc.bytes(t), tc.bind)
			require.Nil(t, plan)
			require.ErrorIs(t, err, ErrCompile)
			require.ErrorIs(t, err, tc.kind)
			var ce *CompileError
			require.True(t, errors.As(err, &ce))
		})
	}
}

func TestOptionalTrailingInput(t *testing.T) {
	t.Parallel()
	bind := Binding{Inputs: []InputSpec{
		{Name: "x", Shape: []int{1, 3}},
		{Name: "flag", Shape: []int{1}, Optional: true},
	}}
	plan, err := Compile(encode(linearGraph(t)), bind)
	require.NoError(t, err)
	require.Len(t, plan.Inputs(), 1)

	g := linearGraph(t)
	g.Inputs = append(g.Inputs, valueInfo("flag", 1))
	g.Nodes = append(g.Nodes, node("Identity", []string{"flag"}, []string{"flag_out"}))
	g.Outputs = append(g.Outputs, valueInfo("flag_out", 1))
	plan, err = Compile(encode(g), bind)
	require.NoError(t, err)
	require.Len(t, plan.Inputs(), 2)
}

func TestInitializerListedAsInputIsNotRuntimeInput(t *testing.T) {
	t.Parallel()
	g := linearGraph(t)
	g.Inputs = append(g.Inputs, valueInfo("W", 3, 2))
	plan, err := Compile(encode(g), bindOne(1, 3))
	require.NoError(t, err)
	require.Len(t, plan.Inputs(), 1)
}

func TestRunValidatesInputs(t *testing.T) {
	t.Parallel()
	plan, err := Compile(encode(linearGraph(t)), bindOne(1, 3))
	require.NoError(t, err)

	_, err = plan.Run(nil)
	require.ErrorIs(t, err, ErrExecution)

	_, err = plan.Run([]*tensor.Tensor{tensor.New(1, 4)})
	require.ErrorIs(t, err, ErrExecution)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = plan.Run([]*tensor.Tensor{tensor.NewInt64(1, 3)})
	require.ErrorIs(t, err, ErrExecution)
}

func TestRunDoesNotExposePlanConstants(t *testing.T) {
	t.Parallel()
	g := &onnx.Graph{
		Nodes:        []*onnx.Node{node("Add", []string{"x", "c"}, []string{"y"})},
		Initializers: []*onnx.TensorProto{f32Init(t, "c", []int{1}, 1), f32Init(t, "k", []int{1}, 7)},
		Inputs:       []*onnx.ValueInfo{valueInfo("x", 1)},
		Outputs:      []*onnx.ValueInfo{valueInfo("y", 1), valueInfo("k", 1)},
	}
	plan, err := Compile(encode(g), bindOne(1))
	require.NoError(t, err)

	out := run(t, plan, 1)
	out[1].F32[0] = 100
	require.Equal(t, float32(7), run(t, plan, 1)[1].F32[0])
}

func TestLSTMNode(t *testing.T) {
	t.Parallel()
	const hidden = 2
	g := &onnx.Graph{
		Nodes: []*onnx.Node{
			node("LSTM", []string{"x", "W", "R", "", "", "h0", "c0"}, []string{"", "yh", "yc"},
				intAttr("hidden_size", hidden)),
		},
		Initializers: []*onnx.TensorProto{
			onnx.FromTensor("W", tensor.New(1, 4*hidden, 3)),
			onnx.FromTensor("R", tensor.New(1, 4*hidden, hidden)),
		},
		Inputs: []*onnx.ValueInfo{
			valueInfo("x", 1, 1, 3),
			valueInfo("h0", 1, 1, hidden),
			valueInfo("c0", 1, 1, hidden),
		},
		Outputs: []*onnx.ValueInfo{valueInfo("yh"), valueInfo("yc")},
	}
	bind := Binding{
		Inputs: []InputSpec{
			{Name: "x", Shape: []int{1, 1, 3}},
			{Name: "h0", Shape: []int{1, 1, hidden}},
			{Name: "c0", Shape: []int{1, 1, hidden}},
		},
		TrailingOutputs: [][]int{{1, 1, hidden}},
	}
	plan, err := Compile(encode(g), bind)
	require.NoError(t, err)

	c0, err := tensor.FromFloat32([]int{1, 1, hidden}, []float32{2, -2})
	require.NoError(t, err)
	out, err := plan.Run([]*tensor.Tensor{tensor.New(1, 1, 3), tensor.New(1, 1, hidden), c0})
	require.NoError(t, err)
	require.InDeltaSlice(t, []float32{1, -1}, out[1].F32, 1e-6)
}

func TestLSTMNodeUsesBothBiasHalves(t *testing.T) {
	t.Parallel()
	w, err := tensor.FromFloat32([]int{1, 4, 1}, []float32{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)
	r, err := tensor.FromFloat32([]int{1, 4, 1}, []float32{0.5, -0.5, 1.0, -1.0})
	require.NoError(t, err)
	bias, err := tensor.FromFloat32([]int{1, 8}, []float32{0.01, 0.02, 0.03, 0.04, 0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)
	g := &onnx.Graph{
		Nodes: []*onnx.Node{
			node("LSTM", []string{"x", "W", "R", "B", "", "h0", "c0"}, []string{"", "yh", "yc"},
				intAttr("hidden_size", 1)),
		},
		Initializers: []*onnx.TensorProto{
			onnx.FromTensor("W", w),
			onnx.FromTensor("R", r),
			onnx.FromTensor("B", bias),
		},
		Inputs: []*onnx.ValueInfo{
			valueInfo("x", 1, 1, 1),
			valueInfo("h0", 1, 1, 1),
			valueInfo("c0", 1, 1, 1),
		},
		Outputs: []*onnx.ValueInfo{valueInfo("yh"), valueInfo("yc")},
	}
	bind := Binding{
		Inputs: []InputSpec{
			{Name: "x", Shape: []int{1, 1, 1}},
			{Name: "h0", Shape: []int{1, 1, 1}},
			{Name: "c0", Shape: []int{1, 1, 1}},
		},
		TrailingOutputs: [][]int{{1, 1, 1}},
	}
	plan, err := Compile(encode(g), bind)
	require.NoError(t, err)

	x, _ := tensor.FromFloat32([]int{1, 1, 1}, []float32{1})
	h0, _ := tensor.FromFloat32([]int{1, 1, 1}, []float32{0.5})
	c0, _ := tensor.FromFloat32([]int{1, 1, 1}, []float32{0.25})
	out, err := plan.Run([]*tensor.Tensor{x, h0, c0})
	require.NoError(t, err)
	// gates i, o, f, c read rows 0..3 of W and R; B is Wb followed by Rb
	require.InDeltaSlice(t, []float32{0.20128847}, out[0].F32, 1e-5)
	require.InDeltaSlice(t, []float32{0.38970801}, out[1].F32, 1e-5)
}

func TestPlanRunIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()
	plan, err := Compile(encode(linearGraph(t)), bindOne(1, 3))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, _ := tensor.FromFloat32([]int{1, 3}, []float32{1, 2, 3})
			out, err := plan.Run([]*tensor.Tensor{in})
			if err == nil && out[0].F32[0] != 4.5 {
				err = errors.New("unexpected output")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
