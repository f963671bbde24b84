package toy

import (
	"bytes"
	"testing"

	"github.com/samcharles93/tradepolicy/internal/onnx"
)

func TestBytesAreDeterministic(t *testing.T) {
	t.Parallel()
	cfg := Config{ObservationLen: 8, Hidden: 4, Seed: 3, EpisodeStarts: true, ValueHead: true}
	if !bytes.Equal(Bytes(cfg), Bytes(cfg)) {
		t.Fatal("same config produced different encodings")
	}
	cfg2 := cfg
	cfg2.Seed = 4
	if bytes.Equal(Bytes(cfg), Bytes(cfg2)) {
		t.Fatal("different seeds produced identical encodings")
	}
}

func TestPolicyLayout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg         Config
		wantInputs  int
		wantOutputs int
	}{
		{Config{ObservationLen: 8, Hidden: 4, EpisodeStarts: true, ValueHead: true}, 6, 6},
		{Config{ObservationLen: 8, Hidden: 4}, 5, 5},
	}
	for _, tc := range tests {
		m, err := onnx.Decode(Bytes(tc.cfg))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got := len(m.Graph.Inputs); got != tc.wantInputs {
			t.Fatalf("inputs = %d, want %d", got, tc.wantInputs)
		}
		if got := len(m.Graph.Outputs); got != tc.wantOutputs {
			t.Fatalf("outputs = %d, want %d", got, tc.wantOutputs)
		}
		if m.Graph.Outputs[0].Name != "logits" {
			t.Fatalf("first output is %q", m.Graph.Outputs[0].Name)
		}
		if last := m.Graph.Outputs[len(m.Graph.Outputs)-1].Name; last != "critic_c_out" {
			t.Fatalf("last output is %q", last)
		}
	}
}

func TestMirrorLayout(t *testing.T) {
	t.Parallel()
	m := Mirror(Config{ObservationLen: 8, Hidden: 2, EpisodeStarts: true})
	if got := len(m.Graph.Inputs); got != 6 {
		t.Fatalf("inputs = %d, want 6", got)
	}
	if got := len(m.Graph.Outputs); got != 5 {
		t.Fatalf("outputs = %d, want 5", got)
	}
	pick := m.Graph.Initializer("pick")
	if pick == nil {
		t.Fatal("missing pick initializer")
	}
}
