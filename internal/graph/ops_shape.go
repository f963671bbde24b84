package graph

import (
	"fmt"
	"slices"

	"github.com/samcharles93/tradepolicy/internal/onnx"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

func buildReshape(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 2, 2); err != nil {
		return nil, err
	}
	allowZero := n.AttrInt("allowzero", 0) != 0
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		shape, err := reshapeTarget(in[0].Shape, in[1].Int64s(), allowZero)
		if err != nil {
			return nil, err
		}
		return one(in[0].Reshape(shape))
	}, nil
}

// reshapeTarget resolves ONNX Reshape semantics: 0 copies the input
// dimension (unless allowZero) and a single -1 is inferred.
func reshapeTarget(src []int, spec []int64, allowZero bool) ([]int, error) {
	out := make([]int, len(spec))
	infer := -1
	known := 1
	for i, d := range spec {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape %v has more than one -1", spec)
			}
			infer = i
			continue
		case d == 0 && !allowZero:
			if i >= len(src) {
				return nil, fmt.Errorf("reshape %v copies dim %d of %v", spec, i, src)
			}
			out[i] = src[i]
		case d < 0:
			return nil, fmt.Errorf("reshape %v has invalid dim %d", spec, d)
		default:
			out[i] = int(d)
		}
		known *= out[i]
	}
	if infer >= 0 {
		total := tensor.NumElements(src)
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("cannot reshape %v into %v", src, spec)
		}
		out[infer] = total / known
	}
	return out, nil
}

func buildFlatten(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 1); err != nil {
		return nil, err
	}
	axis := int(n.AttrInt("axis", 1))
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		x := in[0]
		ax := axis
		if ax < 0 {
			ax += x.Rank()
		}
		if ax < 0 || ax > x.Rank() {
			return nil, fmt.Errorf("flatten axis %d out of range for %v", axis, x.Shape)
		}
		return one(x.Reshape([]int{tensor.NumElements(x.Shape[:ax]), tensor.NumElements(x.Shape[ax:])}))
	}, nil
}

// axesOperand reads axes from input idx when present, else from the "axes"
// attribute (the pre-opset-13 form).
func axesOperand(n *onnx.Node, in []*tensor.Tensor, idx int) []int64 {
	if idx < len(in) && in[idx] != nil {
		return in[idx].Int64s()
	}
	return n.AttrInts("axes")
}

func buildSqueeze(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 2); err != nil {
		return nil, err
	}
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		x := in[0]
		axes := axesOperand(n, in, 1)
		drop := make([]bool, x.Rank())
		if len(axes) == 0 {
			for i, d := range x.Shape {
				drop[i] = d == 1
			}
		}
		for _, a := range axes {
			ax := int(a)
			if ax < 0 {
				ax += x.Rank()
			}
			if ax < 0 || ax >= x.Rank() || x.Shape[ax] != 1 {
				return nil, fmt.Errorf("cannot squeeze axis %d of %v", a, x.Shape)
			}
			drop[ax] = true
		}
		shape := make([]int, 0, x.Rank())
		for i, d := range x.Shape {
			if !drop[i] {
				shape = append(shape, d)
			}
		}
		return one(x.Reshape(shape))
	}, nil
}

func buildUnsqueeze(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 2); err != nil {
		return nil, err
	}
	if len(n.Inputs) < 2 && n.Attr("axes") == nil {
		return nil, compileErr(ErrMalformedModel, "%s has no axes", n)
	}
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		x := in[0]
		axes := axesOperand(n, in, 1)
		rank := x.Rank() + len(axes)
		insert := make([]bool, rank)
		for _, a := range axes {
			ax := int(a)
			if ax < 0 {
				ax += rank
			}
			if ax < 0 || ax >= rank || insert[ax] {
				return nil, fmt.Errorf("invalid unsqueeze axes %v for %v", axes, x.Shape)
			}
			insert[ax] = true
		}
		shape := make([]int, 0, rank)
		src := 0
		for i := range rank {
			if insert[i] {
				shape = append(shape, 1)
				continue
			}
			shape = append(shape, x.Shape[src])
			src++
		}
		return one(x.Reshape(shape))
	}, nil
}

func buildConcat(n *onnx.Node, _ int64) (kernel, error) {
	if len(n.Inputs) == 0 || len(n.Outputs) == 0 {
		return nil, compileErr(ErrMalformedModel, "%s needs inputs and an output", n)
	}
	if n.Attr("axis") == nil {
		return nil, compileErr(ErrMalformedModel, "%s has no axis", n)
	}
	axis := int(n.AttrInt("axis", 0))
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return one(tensor.Concat(in, axis))
	}, nil
}

func buildTranspose(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 1); err != nil {
		return nil, err
	}
	var perm []int
	for _, p := range n.AttrInts("perm") {
		perm = append(perm, int(p))
	}
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return one(tensor.Transpose(in[0], perm))
	}, nil
}

func buildShape(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 1); err != nil {
		return nil, err
	}
	start := int(n.AttrInt("start", 0))
	end, hasEnd := 0, n.Attr("end") != nil
	if hasEnd {
		end = int(n.AttrInt("end", 0))
	}
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		shape := in[0].Shape
		rank := len(shape)
		s, e := start, rank
		if hasEnd {
			e = end
		}
		if s < 0 {
			s += rank
		}
		if e < 0 {
			e += rank
		}
		s = min(max(s, 0), rank)
		e = min(max(e, 0), rank)
		dims := make([]int64, 0, rank)
		for i := s; i < e; i++ {
			dims = append(dims, int64(shape[i]))
		}
		return []*tensor.Tensor{tensor.Vector(dims...)}, nil
	}, nil
}

func buildGather(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 2, 2); err != nil {
		return nil, err
	}
	axis := int(n.AttrInt("axis", 0))
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return one(tensor.Gather(in[0], in[1], axis))
	}, nil
}

func buildSlice(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 5); err != nil {
		return nil, err
	}
	if len(n.Inputs) == 1 {
		// opset < 10 carries the ranges as attributes
		starts, ends, axes := n.AttrInts("starts"), n.AttrInts("ends"), n.AttrInts("axes")
		if starts == nil || ends == nil {
			return nil, compileErr(ErrMalformedModel, "%s has no starts/ends", n)
		}
		return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return one(tensor.Slice(in[0], starts, ends, axes, nil))
		}, nil
	}
	if len(n.Inputs) < 3 {
		return nil, compileErr(ErrMalformedModel, "%s needs starts and ends inputs", n)
	}
	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		var axes, steps []int64
		if len(in) > 3 && in[3] != nil {
			axes = in[3].Int64s()
		}
		if len(in) > 4 && in[4] != nil {
			steps = in[4].Int64s()
		}
		return one(tensor.Slice(in[0], in[1].Int64s(), in[2].Int64s(), axes, steps))
	}, nil
}

func buildCast(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 1, 1); err != nil {
		return nil, err
	}
	to := onnx.DataType(n.AttrInt("to", 0))
	switch to {
	case onnx.DataTypeFloat, onnx.DataTypeDouble, onnx.DataTypeFloat16, onnx.DataTypeBFloat16:
		return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return one(in[0].Cast(tensor.Float32))
		}, nil
	case onnx.DataTypeInt64, onnx.DataTypeInt32, onnx.DataTypeInt8, onnx.DataTypeUint8:
		return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return one(in[0].Cast(tensor.Int64))
		}, nil
	case onnx.DataTypeBool:
		return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			x := in[0]
			out := tensor.NewInt64(x.Shape...)
			for i, v := range x.Float32s() {
				if v != 0 {
					out.I64[i] = 1
				}
			}
			return []*tensor.Tensor{out}, nil
		}, nil
	default:
		return nil, compileErr(ErrUnsupportedOperator, "%s casts to %s", n, to)
	}
}

func buildConstant(n *onnx.Node, _ int64) (kernel, error) {
	if len(n.Outputs) != 1 {
		return nil, compileErr(ErrMalformedModel, "%s must have one output", n)
	}
	var (
		value *tensor.Tensor
		err   error
	)
	switch {
	case n.Attr("value") != nil && n.Attr("value").Tensor != nil:
		value, err = onnx.ToTensor(n.Attr("value").Tensor)
	case n.Attr("value_float") != nil:
		value, err = tensor.FromFloat32([]int{}, []float32{n.AttrFloat("value_float", 0)})
	case n.Attr("value_floats") != nil:
		fs := slices.Clone(n.Attr("value_floats").Floats)
		value, err = tensor.FromFloat32([]int{len(fs)}, fs)
	case n.Attr("value_int") != nil:
		value, err = tensor.FromInt64([]int{}, []int64{n.AttrInt("value_int", 0)})
	case n.Attr("value_ints") != nil:
		value = tensor.Vector(n.AttrInts("value_ints")...)
	default:
		return nil, compileErr(ErrUnsupportedOperator, "%s has no supported value attribute", n)
	}
	if err != nil {
		return nil, asCompileErr(ErrMalformedModel, err, n.String())
	}
	return func([]*tensor.Tensor) ([]*tensor.Tensor, error) {
		return []*tensor.Tensor{value}, nil
	}, nil
}
