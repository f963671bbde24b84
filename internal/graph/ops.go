package graph

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/samcharles93/tradepolicy/internal/onnx"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

// kernel executes one node. Absent optional inputs are nil. Kernels must not
// mutate their inputs.
type kernel func(in []*tensor.Tensor) ([]*tensor.Tensor, error)

// builder validates a node's attributes and arity and returns its kernel.
type builder func(n *onnx.Node, opset int64) (kernel, error)

var builders map[string]builder

func init() {
	builders = map[string]builder{
		"Add": binaryOp(func(a, b float32) float32 { return a + b }, func(a, b int64) int64 { return a + b }),
		"Sub": binaryOp(func(a, b float32) float32 { return a - b }, func(a, b int64) int64 { return a - b }),
		"Mul": binaryOp(func(a, b float32) float32 { return a * b }, func(a, b int64) int64 { return a * b }),
		"Div": buildDiv,

		"Neg":     unaryOp(func(x float32) float32 { return -x }, func(x int64) int64 { return -x }),
		"Abs":     unaryOp(func(x float32) float32 { return float32(math.Abs(float64(x))) }, absInt),
		"Exp":     unaryOp(func(x float32) float32 { return float32(math.Exp(float64(x))) }, nil),
		"Log":     unaryOp(func(x float32) float32 { return float32(math.Log(float64(x))) }, nil),
		"Sqrt":    unaryOp(func(x float32) float32 { return float32(math.Sqrt(float64(x))) }, nil),
		"Relu":    unaryOp(tensor.Relu, nil),
		"Tanh":    unaryOp(tensor.Tanh, nil),
		"Sigmoid": unaryOp(tensor.Sigmoid, nil),
		"LeakyRelu": func(n *onnx.Node, opset int64) (kernel, error) {
			return unaryOp(tensor.LeakyRelu(n.AttrFloat("alpha", 0.01)), nil)(n, opset)
		},

		"Identity": buildIdentity,
		"Dropout":  buildDropout,
		"Softmax":  buildSoftmax,
		"MatMul":   buildMatMul,
		"Gemm":     buildGemm,

		"Reshape":   buildReshape,
		"Flatten":   buildFlatten,
		"Squeeze":   buildSqueeze,
		"Unsqueeze": buildUnsqueeze,
		"Concat":    buildConcat,
		"Transpose": buildTranspose,
		"Shape":     buildShape,
		"Gather":    buildGather,
		"Slice":     buildSlice,
		"Cast":      buildCast,
		"Constant":  buildConstant,

		"LSTM": buildLSTM,
	}
}

// SupportedOperators lists the op types with a kernel, sorted.
func SupportedOperators() []string {
	return slices.Sorted(maps.Keys(builders))
}

func arity(n *onnx.Node, minIn, maxIn int) error {
	if len(n.Inputs) < minIn || len(n.Inputs) > maxIn {
		return compileErr(ErrMalformedModel, "%s has %d inputs, want %d..%d", n, len(n.Inputs), minIn, maxIn)
	}
	for i := range minIn {
		if n.Inputs[i] == "" {
			return compileErr(ErrMalformedModel, "%s is missing required input %d", n, i)
		}
	}
	if len(n.Outputs) == 0 {
		return compileErr(ErrMalformedModel, "%s has no outputs", n)
	}
	return nil
}

func one(t *tensor.Tensor, err error) ([]*tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

func binaryOp(fn func(a, b float32) float32, intFn func(a, b int64) int64) builder {
	return func(n *onnx.Node, _ int64) (kernel, error) {
		if err := arity(n, 2, 2); err != nil {
			return nil, err
		}
		return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return one(tensor.Binary(in[0], in[1], fn, intFn))
		}, nil
	}
}

func buildDiv(n *onnx.Node, opset int64) (kernel, error) {
	div := binaryOp(func(a, b float32) float32 { return a / b }, func(a, b int64) int64 {
		if b == 0 {
			return 0
		}
		return a / b
	})
	k, err := div(n, opset)
	if err != nil {
		return nil, err
	}
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if in[0].DType == tensor.Int64 && in[1].DType == tensor.Int64 {
			for _, v := range in[1].I64 {
				if v == 0 {
					return nil, fmt.Errorf("integer division by zero")
				}
			}
		}
		return k(in)
	}, nil
}

func absInt(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func unaryOp(fn func(float32) float32, intFn func(int64) int64) builder {
	return func(n *onnx.Node, _ int64) (kernel, error) {
		if err := arity(n, 1, 1); err != nil {
			return nil, err
		}
		return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			x := in[0]
			if x.DType == tensor.Int64 && intFn != nil {
				out := tensor.NewInt64(x.Shape...)
				for i, v := range x.I64 {
					out.I64[i] = intFn(v)
				}
				return []*tensor.Tensor{out}, nil
			}
			return []*tensor.Tensor{tensor.Map(x, fn)}, nil
		}, nil
	}
}

// activation returns the element function of a fusable activation node.
func activation(n *onnx.Node) (func(float32) float32, bool) {
	switch n.OpType {
	case "Relu":
		return tensor.Relu, true
	case "Tanh":
		return tensor.Tanh, true
	case "Sigmoid":
		return tensor.Sigmoid, true
	case "LeakyRelu":
		return tensor.LeakyRelu(n.AttrFloat("alpha", 0.01)), true
	default:
		return nil, false
	}
}

func buildIdentity(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 1); err != nil {
		return nil, err
	}
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return []*tensor.Tensor{in[0]}, nil
	}, nil
}

// buildDropout is the inference form: the data passes through and the
// optional mask is all ones.
func buildDropout(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 3); err != nil {
		return nil, err
	}
	withMask := len(n.Outputs) > 1 && n.Outputs[1] != ""
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if !withMask {
			return []*tensor.Tensor{in[0]}, nil
		}
		mask := tensor.NewInt64(in[0].Shape...)
		for i := range mask.I64 {
			mask.I64[i] = 1
		}
		return []*tensor.Tensor{in[0], mask}, nil
	}, nil
}

func buildSoftmax(n *onnx.Node, opset int64) (kernel, error) {
	if err := arity(n, 1, 1); err != nil {
		return nil, err
	}
	if opset >= 13 {
		axis := int(n.AttrInt("axis", -1))
		return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return one(tensor.SoftmaxAxis(in[0], axis))
		}, nil
	}
	// Before opset 13 the input is coerced to 2D around axis.
	axis := int(n.AttrInt("axis", 1))
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		x := in[0]
		ax := axis
		if ax < 0 {
			ax += x.Rank()
		}
		if ax < 0 || ax > x.Rank() {
			return nil, fmt.Errorf("softmax axis %d out of range for %v", axis, x.Shape)
		}
		flat, err := x.Reshape([]int{tensor.NumElements(x.Shape[:ax]), tensor.NumElements(x.Shape[ax:])})
		if err != nil {
			return nil, err
		}
		out, err := tensor.SoftmaxAxis(flat, 1)
		if err != nil {
			return nil, err
		}
		return one(out.Reshape(x.Shape))
	}, nil
}

func buildMatMul(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 2, 2); err != nil {
		return nil, err
	}
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return one(tensor.MatMul(in[0], in[1]))
	}, nil
}

func buildGemm(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 2, 3); err != nil {
		return nil, err
	}
	alpha := n.AttrFloat("alpha", 1)
	beta := n.AttrFloat("beta", 1)
	transA := n.AttrInt("transA", 0) != 0
	transB := n.AttrInt("transB", 0) != 0
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		var c *tensor.Tensor
		if len(in) > 2 {
			c = in[2]
		}
		return one(tensor.Gemm(in[0], in[1], c, alpha, beta, transA, transB))
	}, nil
}
