// Package toy builds small deterministic recurrent policy models. They follow
// the same input and output layout as exported actor-critic LSTM policies, so
// they stand in for real models in tests, demos and benchmarks.
package toy

import (
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/samcharles93/tradepolicy/internal/action"
	"github.com/samcharles93/tradepolicy/internal/onnx"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

// Config sizes the generated policy.
type Config struct {
	ObservationLen int
	Hidden         int
	Seed           int64
	// EpisodeStarts adds the optional episode_starts input, which zeroes the
	// incoming state when set to 1.
	EpisodeStarts bool
	// ValueHead adds a critic value output after the logits.
	ValueHead bool
}

// DefaultConfig matches the default inference contract.
func DefaultConfig() Config {
	return Config{ObservationLen: 8, Hidden: 256, Seed: 7, EpisodeStarts: true, ValueHead: true}
}

type builder struct {
	rng   *rand.Rand
	graph *onnx.Graph
}

func (b *builder) init(name string, t *tensor.Tensor) string {
	b.graph.Initializers = append(b.graph.Initializers, onnx.FromTensor(name, t))
	return name
}

// uniform fills a tensor with values in [-scale, scale).
func (b *builder) uniform(name string, scale float64, shape ...int) string {
	t := tensor.New(shape...)
	for i := range t.F32 {
		t.F32[i] = float32((b.rng.Float64()*2 - 1) * scale)
	}
	return b.init(name, t)
}

func (b *builder) node(op string, in []string, out []string, attrs ...*onnx.Attribute) {
	b.graph.Nodes = append(b.graph.Nodes, &onnx.Node{
		Name:       out[len(out)-1],
		OpType:     op,
		Inputs:     in,
		Outputs:    out,
		Attributes: attrs,
	})
}

func floatInfo(name string, dims ...int) *onnx.ValueInfo {
	vi := &onnx.ValueInfo{Name: name, ElemType: onnx.DataTypeFloat, Shape: []onnx.Dim{}}
	for _, d := range dims {
		vi.Shape = append(vi.Shape, onnx.Dim{Value: int64(d)})
	}
	return vi
}

// Policy returns the model described by cfg. The same cfg always yields
// byte-identical encodings.
func Policy(cfg Config) *onnx.Model {
	h := cfg.Hidden
	b := &builder{
		rng:   rand.New(rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15)),
		graph: &onnx.Graph{Name: "recurrent_policy"},
	}
	g := b.graph

	g.Inputs = append(g.Inputs, floatInfo("obs", 1, cfg.ObservationLen))
	for _, name := range []string{"actor_h", "actor_c", "critic_h", "critic_c"} {
		g.Inputs = append(g.Inputs, floatInfo(name, 1, 1, h))
	}
	states := []string{"actor_h", "actor_c", "critic_h", "critic_c"}

	b.init("axes0", tensor.Vector(0))
	b.node("Unsqueeze", []string{"obs", "axes0"}, []string{"obs_seq"})

	if cfg.EpisodeStarts {
		g.Inputs = append(g.Inputs, floatInfo("episode_starts", 1))
		one, _ := tensor.FromFloat32([]int{1}, []float32{1})
		b.init("one", one)
		b.init("mask_shape", tensor.Vector(1, 1, 1))
		b.node("Sub", []string{"one", "episode_starts"}, []string{"keep"})
		b.node("Reshape", []string{"keep", "mask_shape"}, []string{"keep3"})
		for i, s := range states {
			masked := s + "_masked"
			b.node("Mul", []string{s, "keep3"}, []string{masked})
			states[i] = masked
		}
	}

	inScale := 1 / math.Sqrt(float64(cfg.ObservationLen))
	hScale := 1 / math.Sqrt(float64(h))
	hidden := &onnx.Attribute{Name: "hidden_size", Type: onnx.AttrInt, Int: int64(h)}
	for i, role := range []string{"actor", "critic"} {
		w := b.uniform(role+"_W", inScale, 1, 4*h, cfg.ObservationLen)
		r := b.uniform(role+"_R", hScale, 1, 4*h, h)
		bias := b.uniform(role+"_B", 0.1, 1, 8*h)
		b.node("LSTM",
			[]string{"obs_seq", w, r, bias, "", states[2*i], states[2*i+1]},
			[]string{"", role + "_h_out", role + "_c_out"},
			hidden)
	}

	b.init("flat_shape", tensor.Vector(1, int64(h)))
	b.node("Squeeze", []string{"actor_h_out", "axes0"}, []string{"actor_features"})
	b.node("MatMul", []string{"actor_features", b.uniform("pi_W", hScale, h, action.Count)}, []string{"pi_mm"})
	b.node("Add", []string{"pi_mm", b.uniform("pi_b", 0.1, action.Count)}, []string{"logits"})
	g.Outputs = append(g.Outputs, floatInfo("logits", 1, action.Count))

	if cfg.ValueHead {
		b.node("Reshape", []string{"critic_h_out", "flat_shape"}, []string{"critic_features"})
		b.node("MatMul", []string{"critic_features", b.uniform("vf_W", hScale, h, 1)}, []string{"vf_mm"})
		b.node("Add", []string{"vf_mm", b.uniform("vf_b", 0.1, 1)}, []string{"value"})
		g.Outputs = append(g.Outputs, floatInfo("value", 1, 1))
	}
	for _, name := range []string{"actor_h_out", "actor_c_out", "critic_h_out", "critic_c_out"} {
		g.Outputs = append(g.Outputs, floatInfo(name, 1, 1, h))
	}

	return &onnx.Model{
		IRVersion:       8,
		ProducerName:    "tradepolicy",
		ProducerVersion: "toy",
		OpsetImports:    []onnx.OperatorSet{{Version: 14}},
		Graph:           g,
		Metadata: map[string]string{
			"policy":          "recurrent-actor-critic",
			"observation_len": strconv.Itoa(cfg.ObservationLen),
			"hidden_size":     strconv.Itoa(h),
			"seed":            strconv.FormatInt(cfg.Seed, 10),
		},
	}
}

// Bytes returns the encoded Policy(cfg).
func Bytes(cfg Config) []byte {
	return onnx.Encode(Policy(cfg))
}

// Mirror returns a stateless model whose logits are the first action.Count
// observation values and whose state outputs echo the state inputs. It makes
// decisions predictable in tests.
func Mirror(cfg Config) *onnx.Model {
	h := cfg.Hidden
	b := &builder{graph: &onnx.Graph{Name: "mirror_policy"}}
	g := b.graph

	g.Inputs = append(g.Inputs, floatInfo("obs", 1, cfg.ObservationLen))
	for _, name := range []string{"actor_h", "actor_c", "critic_h", "critic_c"} {
		g.Inputs = append(g.Inputs, floatInfo(name, 1, 1, h))
	}
	if cfg.EpisodeStarts {
		g.Inputs = append(g.Inputs, floatInfo("episode_starts", 1))
	}

	pick := tensor.New(cfg.ObservationLen, action.Count)
	for i := range min(cfg.ObservationLen, action.Count) {
		pick.F32[i*action.Count+i] = 1
	}
	b.node("MatMul", []string{"obs", b.init("pick", pick)}, []string{"pick_mm"})
	b.node("Add", []string{"pick_mm", b.init("zero_bias", tensor.New(action.Count))}, []string{"logits"})
	g.Outputs = append(g.Outputs, floatInfo("logits", 1, action.Count))

	for _, name := range []string{"actor_h", "actor_c", "critic_h", "critic_c"} {
		b.node("Identity", []string{name}, []string{name + "_out"})
		g.Outputs = append(g.Outputs, floatInfo(name+"_out", 1, 1, h))
	}
	return &onnx.Model{
		IRVersion:    8,
		ProducerName: "tradepolicy",
		OpsetImports: []onnx.OperatorSet{{Version: 14}},
		Graph:        g,
	}
}
