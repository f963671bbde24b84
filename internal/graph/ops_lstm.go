package graph

import (
	"fmt"
	"strings"

	"github.com/samcharles93/tradepolicy/internal/onnx"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

// buildLSTM supports the forward, seq-major, default-activation form of the
// ONNX LSTM operator. Inputs: X, W, R, [B], [sequence_lens], [initial_h],
// [initial_c], [P]. Outputs: [Y], [Y_h], [Y_c].
func buildLSTM(n *onnx.Node, _ int64) (kernel, error) {
	if err := arity(n, 3, 8); err != nil {
		return nil, err
	}
	hidden := int(n.AttrInt("hidden_size", 0))
	if hidden <= 0 {
		return nil, compileErr(ErrMalformedModel, "%s has no hidden_size", n)
	}
	if dir := n.AttrString("direction", "forward"); dir != "forward" {
		return nil, compileErr(ErrUnsupportedOperator, "%s direction %q", n, dir)
	}
	if n.AttrInt("layout", 0) != 0 {
		return nil, compileErr(ErrUnsupportedOperator, "%s batch-major layout", n)
	}
	if n.AttrInt("input_forget", 0) != 0 {
		return nil, compileErr(ErrUnsupportedOperator, "%s input_forget", n)
	}
	if n.Attr("clip") != nil {
		return nil, compileErr(ErrUnsupportedOperator, "%s cell clip", n)
	}
	if a := n.Attr("activations"); a != nil {
		want := []string{"sigmoid", "tanh", "tanh"}
		if len(a.Strings) != len(want) {
			return nil, compileErr(ErrUnsupportedOperator, "%s activations", n)
		}
		for i, s := range a.Strings {
			if !strings.EqualFold(string(s), want[i]) {
				return nil, compileErr(ErrUnsupportedOperator, "%s activation %q", n, s)
			}
		}
	}
	if n.Input(7) != "" {
		return nil, compileErr(ErrUnsupportedOperator, "%s peephole weights", n)
	}

	return func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		get := func(i int) *tensor.Tensor {
			if i < len(in) {
				return in[i]
			}
			return nil
		}
		x := get(0)
		if lens := get(4); lens != nil && x.Rank() == 3 {
			for _, l := range lens.Int64s() {
				if int(l) != x.Shape[0] {
					return nil, fmt.Errorf("variable sequence lengths are not supported")
				}
			}
		}
		cell := tensor.LSTMCell{Hidden: hidden, W: get(1), R: get(2), B: get(3)}
		y, yh, yc, err := cell.Forward(x, get(5), get(6))
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{y, yh, yc}, nil
	}, nil
}
