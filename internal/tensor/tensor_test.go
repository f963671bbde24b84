package tensor

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func mustF32(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	x, err := FromFloat32(shape, data)
	if err != nil {
		t.Fatalf("FromFloat32(%v): %v", shape, err)
	}
	return x
}

func approxEqual(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > tol {
			return false
		}
	}
	return true
}

func TestFromFloat32RejectsWrongLength(t *testing.T) {
	t.Parallel()
	_, err := FromFloat32([]int{2, 3}, make([]float32, 5))
	if !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestReshapeSharesData(t *testing.T) {
	t.Parallel()
	x := mustF32(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	y, err := x.Reshape([]int{3, 2})
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	if !slices.Equal(y.Shape, []int{3, 2}) {
		t.Fatalf("unexpected shape %v", y.Shape)
	}
	if _, err := x.Reshape([]int{4, 2}); err == nil {
		t.Fatalf("expected error reshaping 6 elements into 8")
	}
}

func TestBinaryBroadcast(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := mustF32(t, []int{3}, []float32{10, 20, 30})
	out, err := Binary(a, b, func(x, y float32) float32 { return x + y }, nil)
	if err != nil {
		t.Fatalf("Binary: %v", err)
	}
	want := []float32{11, 22, 33, 14, 25, 36}
	if !slices.Equal(out.F32, want) {
		t.Fatalf("got %v want %v", out.F32, want)
	}

	col := mustF32(t, []int{2, 1}, []float32{100, 200})
	out, err = Binary(a, col, func(x, y float32) float32 { return x + y }, nil)
	if err != nil {
		t.Fatalf("Binary column: %v", err)
	}
	want = []float32{101, 102, 103, 204, 205, 206}
	if !slices.Equal(out.F32, want) {
		t.Fatalf("got %v want %v", out.F32, want)
	}

	if _, err := Binary(a, mustF32(t, []int{2}, []float32{1, 2}), func(x, y float32) float32 { return x }, nil); err == nil {
		t.Fatalf("expected broadcast error for [2,3] with [2]")
	}
}

func TestBinaryInt64KeepsDType(t *testing.T) {
	t.Parallel()
	out, err := Binary(Vector(2, 3), Vector(4), func(x, y float32) float32 { return x * y }, func(x, y int64) int64 { return x * y })
	if err != nil {
		t.Fatalf("Binary: %v", err)
	}
	if out.DType != Int64 || !slices.Equal(out.I64, []int64{8, 12}) {
		t.Fatalf("unexpected result %v %v", out.DType, out.I64)
	}
}

func TestMatMul(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := mustF32(t, []int{3, 2}, []float32{7, 8, 9, 10, 11, 12})
	out, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul: %v", err)
	}
	if !slices.Equal(out.Shape, []int{2, 2}) || !slices.Equal(out.F32, []float32{58, 64, 139, 154}) {
		t.Fatalf("got %v %v", out.Shape, out.F32)
	}

	v := mustF32(t, []int{3}, []float32{1, 0, 1})
	out, err = MatMul(v, b)
	if err != nil {
		t.Fatalf("MatMul vector: %v", err)
	}
	if !slices.Equal(out.Shape, []int{2}) || !slices.Equal(out.F32, []float32{18, 20}) {
		t.Fatalf("got %v %v", out.Shape, out.F32)
	}

	batched := mustF32(t, []int{2, 1, 3}, []float32{1, 2, 3, 4, 5, 6})
	out, err = MatMul(batched, b)
	if err != nil {
		t.Fatalf("MatMul batched: %v", err)
	}
	if !slices.Equal(out.Shape, []int{2, 1, 2}) || !slices.Equal(out.F32, []float32{58, 64, 139, 154}) {
		t.Fatalf("got %v %v", out.Shape, out.F32)
	}

	if _, err := MatMul(a, a); err == nil {
		t.Fatalf("expected inner dimension mismatch")
	}
}

func TestGemmTransposeAndBias(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{3, 2}, []float32{1, 4, 2, 5, 3, 6}) // transposed [2,3]
	b := mustF32(t, []int{2, 3}, []float32{7, 9, 11, 8, 10, 12}) // transposed [3,2]
	c := mustF32(t, []int{2}, []float32{1, -1})
	out, err := Gemm(a, b, c, 1, 2, true, true)
	if err != nil {
		t.Fatalf("Gemm: %v", err)
	}
	want := []float32{60, 62, 141, 152}
	if !slices.Equal(out.F32, want) {
		t.Fatalf("got %v want %v", out.F32, want)
	}
}

func TestTranspose(t *testing.T) {
	t.Parallel()
	x := mustF32(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	out, err := Transpose(x, nil)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if !slices.Equal(out.Shape, []int{3, 2}) || !slices.Equal(out.F32, []float32{1, 4, 2, 5, 3, 6}) {
		t.Fatalf("got %v %v", out.Shape, out.F32)
	}
	if _, err := Transpose(x, []int{0, 0}); err == nil {
		t.Fatalf("expected invalid perm error")
	}
}

func TestConcatGatherSlice(t *testing.T) {
	t.Parallel()
	a := mustF32(t, []int{2, 1}, []float32{1, 2})
	b := mustF32(t, []int{2, 2}, []float32{3, 4, 5, 6})
	cat, err := Concat([]*Tensor{a, b}, 1)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if !slices.Equal(cat.Shape, []int{2, 3}) || !slices.Equal(cat.F32, []float32{1, 3, 4, 2, 5, 6}) {
		t.Fatalf("concat got %v %v", cat.Shape, cat.F32)
	}

	g, err := Gather(cat, Vector(-1, 0), 1)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if !slices.Equal(g.Shape, []int{2, 2}) || !slices.Equal(g.F32, []float32{4, 1, 6, 2}) {
		t.Fatalf("gather got %v %v", g.Shape, g.F32)
	}

	s, err := Slice(cat, []int64{1}, []int64{math.MaxInt64}, []int64{1}, nil)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if !slices.Equal(s.Shape, []int{2, 2}) || !slices.Equal(s.F32, []float32{3, 4, 5, 6}) {
		t.Fatalf("slice got %v %v", s.Shape, s.F32)
	}

	rev, err := Slice(Vector(1, 2, 3, 4), []int64{-1}, []int64{math.MinInt64}, nil, []int64{-2})
	if err != nil {
		t.Fatalf("Slice reverse: %v", err)
	}
	if !slices.Equal(rev.I64, []int64{4, 2}) {
		t.Fatalf("reverse slice got %v", rev.I64)
	}
}

func TestSoftmaxAxis(t *testing.T) {
	t.Parallel()
	x := mustF32(t, []int{2, 2}, []float32{0, 0, 1, 3})
	out, err := SoftmaxAxis(x, -1)
	if err != nil {
		t.Fatalf("SoftmaxAxis: %v", err)
	}
	want := []float32{0.5, 0.5, 0.11920292, 0.880797}
	if !approxEqual(out.F32, want, 1e-5) {
		t.Fatalf("got %v want %v", out.F32, want)
	}
	if x.F32[3] != 3 {
		t.Fatalf("SoftmaxAxis mutated its input")
	}
}

func TestLSTMZeroWeightsDecayCell(t *testing.T) {
	t.Parallel()
	const hidden = 2
	cell := LSTMCell{
		Hidden: hidden,
		W:      New(1, 4*hidden, 3),
		R:      New(1, 4*hidden, hidden),
		B:      New(1, 8*hidden),
	}
	x := New(1, 1, 3)
	h0 := New(1, 1, hidden)
	c0 := mustF32(t, []int{1, 1, hidden}, []float32{1, -1})

	y, yh, yc, err := cell.Forward(x, h0, c0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// every gate pre-activation is zero: i=o=f=0.5 and the candidate is 0.
	wantC := []float32{0.5, -0.5}
	wantH := []float32{0.5 * float32(math.Tanh(0.5)), -0.5 * float32(math.Tanh(0.5))}
	if !approxEqual(yc.F32, wantC, 1e-6) {
		t.Fatalf("Y_c got %v want %v", yc.F32, wantC)
	}
	if !approxEqual(yh.F32, wantH, 1e-6) {
		t.Fatalf("Y_h got %v want %v", yh.F32, wantH)
	}
	if !slices.Equal(y.Shape, []int{1, 1, 1, hidden}) || !approxEqual(y.F32, wantH, 1e-6) {
		t.Fatalf("Y got %v %v", y.Shape, y.F32)
	}
	if c0.F32[0] != 1 {
		t.Fatalf("Forward mutated initial cell state")
	}
}

func TestLSTMGateOrder(t *testing.T) {
	t.Parallel()
	// one hidden unit, one input; each gate gets its own weights so a
	// swapped gate or a dropped bias half changes the result.
	cell := LSTMCell{
		Hidden: 1,
		W:      mustF32(t, []int{1, 4, 1}, []float32{0.1, 0.2, 0.3, 0.4}),
		R:      mustF32(t, []int{1, 4, 1}, []float32{0.5, -0.5, 1.0, -1.0}),
		B:      mustF32(t, []int{1, 8}, []float32{0.01, 0.02, 0.03, 0.04, 0.1, 0.2, 0.3, 0.4}),
	}
	x := mustF32(t, []int{1, 1, 1}, []float32{1})
	h0 := mustF32(t, []int{1, 1, 1}, []float32{0.5})
	c0 := mustF32(t, []int{1, 1, 1}, []float32{0.25})

	_, yh, yc, err := cell.Forward(x, h0, c0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	sig := func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }
	i := sig(0.1*1 + 0.5*0.5 + 0.01 + 0.1)
	o := sig(0.2*1 - 0.5*0.5 + 0.02 + 0.2)
	f := sig(0.3*1 + 1.0*0.5 + 0.03 + 0.3)
	g := math.Tanh(0.4*1 - 1.0*0.5 + 0.04 + 0.4)
	c := f*0.25 + i*g
	h := o * math.Tanh(c)

	if !approxEqual(yc.F32, []float32{float32(c)}, 1e-5) || !approxEqual(yc.F32, []float32{0.38970801}, 1e-5) {
		t.Fatalf("Y_c got %v want %v", yc.F32, c)
	}
	if !approxEqual(yh.F32, []float32{float32(h)}, 1e-5) || !approxEqual(yh.F32, []float32{0.20128847}, 1e-5) {
		t.Fatalf("Y_h got %v want %v", yh.F32, h)
	}
}

func TestLSTMRejectsBadWeights(t *testing.T) {
	t.Parallel()
	cell := LSTMCell{Hidden: 2, W: New(1, 7, 3), R: New(1, 8, 2)}
	if _, _, _, err := cell.Forward(New(1, 1, 3), nil, nil); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestFP16ToF32(t *testing.T) {
	t.Parallel()
	cases := map[uint16]float32{
		0x0000: 0,
		0x3C00: 1,
		0xC000: -2,
		0x3800: 0.5,
	}
	for in, want := range cases {
		if got := FP16ToF32(in); got != want {
			t.Fatalf("FP16ToF32(%#04x) = %v want %v", in, got, want)
		}
	}
}
