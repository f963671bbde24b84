// Package engine owns the long-lived policy: the uploaded model bytes, the
// compiled plan and the recurrent state. Every entry point is serialized by a
// single mutex and either commits fully or leaves everything as it was.
package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samcharles93/tradepolicy/internal/action"
	"github.com/samcharles93/tradepolicy/internal/graph"
	"github.com/samcharles93/tradepolicy/internal/inference"
	"github.com/samcharles93/tradepolicy/internal/kvstore"
	"github.com/samcharles93/tradepolicy/internal/ledger"
	"github.com/samcharles93/tradepolicy/internal/logger"
	"github.com/samcharles93/tradepolicy/internal/logits"
	"github.com/samcharles93/tradepolicy/internal/state"
)

// DefaultChunkSize bounds a single append when LoadModel splits a file.
const DefaultChunkSize = 1 << 20

type Config struct {
	// Store persists the ledger and the recurrent state. A nil Store uses an
	// in-memory store.
	Store kvstore.Store
	// Contract defaults to inference.DefaultContract when ObservationLen is 0.
	Contract inference.Contract
	Logger   logger.Logger

	LedgerKey string
	StateKey  string
}

type Engine struct {
	log    logger.Logger
	runner *inference.Runner
	ledger *ledger.Ledger
	state  *state.Cache

	mu   sync.Mutex
	plan *graph.Plan
}

// Decision is the outcome of one GetAction call.
type Decision struct {
	Action        action.Action `json:"action"`
	Index         int           `json:"action_index"`
	Logits        []float32     `json:"logits"`
	Probabilities []float32     `json:"probabilities"`
	Value         []float32     `json:"value,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Status describes the engine for reporting.
type Status struct {
	Initialized bool              `json:"initialized"`
	LedgerBytes int               `json:"ledger_bytes"`
	Inputs      []graph.ValueSpec `json:"inputs,omitempty"`
	Outputs     []graph.ValueSpec `json:"outputs,omitempty"`
	Ops         map[string]int    `json:"ops,omitempty"`
	Steps       int               `json:"steps,omitempty"`
	Model       *graph.ModelInfo  `json:"model,omitempty"`
	CompiledAt  *time.Time        `json:"compiled_at,omitempty"`
}

func New(cfg Config) *Engine {
	if cfg.Store == nil {
		cfg.Store = kvstore.NewMemoryStore()
	}
	if cfg.Contract.ObservationLen == 0 {
		cfg.Contract = inference.DefaultContract
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &Engine{
		log:    cfg.Logger,
		runner: inference.NewRunner(cfg.Contract),
		ledger: ledger.New(cfg.Store, cfg.LedgerKey),
		state:  state.NewCache(cfg.Store, cfg.StateKey, cfg.Contract.StateShape),
	}
}

// Contract returns the input contract models are compiled against.
func (e *Engine) Contract() inference.Contract { return e.runner.Contract() }

// Restore reloads the ledger and the recurrent state from the store. The plan
// is not rebuilt; call SetupModel for that.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Restore(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := e.state.Restore(ctx); err != nil {
		e.log.Warn("discarding persisted recurrent state", "error", err)
	}
	e.log.Info("engine restored", "ledger_bytes", e.ledger.Len())
	return nil
}

func (e *Engine) ClearModelBytes(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clearLocked(ctx)
}

func (e *Engine) AppendModelBytes(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appendLocked(ctx, chunk)
}

// SetupModel compiles the current ledger content. The previous plan stays in
// place unless compilation succeeds.
func (e *Engine) SetupModel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setupLocked()
}

func (e *Engine) clearLocked(ctx context.Context) error {
	if err := e.ledger.Clear(ctx); err != nil {
		return fmt.Errorf("clear model bytes: %w", err)
	}
	e.log.Info("model bytes cleared")
	return nil
}

func (e *Engine) appendLocked(ctx context.Context, chunk []byte) error {
	if err := e.ledger.Append(ctx, chunk); err != nil {
		return fmt.Errorf("append model bytes: %w", err)
	}
	e.log.Debug("model bytes appended", "chunk_bytes", len(chunk), "ledger_bytes", e.ledger.Len())
	return nil
}

func (e *Engine) setupLocked() error {
	start := time.Now()
	b := e.ledger.Snapshot()
	plan, err := graph.Compile(b, e.runner.Contract().Binding())
	if err != nil {
		e.log.Warn("model compilation failed", "bytes", len(b), "error", err)
		return fmt.Errorf("setup model: %w", err)
	}
	e.plan = plan
	e.log.Info("model compiled",
		"bytes", len(b),
		"steps", plan.Steps(),
		"ops", len(plan.Ops()),
		"duration", time.Since(start),
	)
	return nil
}

// GetAction runs the policy once on obs and commits the next recurrent state.
// On any failure the state is left untouched.
func (e *Engine) GetAction(ctx context.Context, obs []float32) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	out, err := e.runner.Run(e.plan, obs, e.state.Current())
	if err != nil {
		return Decision{}, fmt.Errorf("get action: %w", err)
	}
	idx, ok := logits.Argmax(out.Logits)
	if !ok {
		return Decision{}, fmt.Errorf("get action: %w", action.ErrNoOutput)
	}
	act, err := action.FromIndex(idx)
	if err != nil {
		return Decision{}, fmt.Errorf("get action: %w", err)
	}
	if err := e.state.Replace(ctx, out.State); err != nil {
		return Decision{}, fmt.Errorf("get action: %w", err)
	}

	d := Decision{
		Action:        act,
		Index:         idx,
		Logits:        out.Logits,
		Probabilities: logits.Softmax(out.Logits),
		Value:         out.Value,
		Duration:      time.Since(start),
	}
	e.log.Debug("action decided", "action", act, "logits", out.Logits, "duration", d.Duration)
	return d, nil
}

// ResetState returns the recurrent state to zeros, as at the start of an
// episode.
func (e *Engine) ResetState(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.state.Reset(ctx); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	e.log.Info("recurrent state reset")
	return nil
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{LedgerBytes: e.ledger.Len()}
	if e.plan == nil {
		return st
	}
	info := e.plan.Info()
	at := e.plan.CompiledAt()
	st.Initialized = true
	st.Inputs = e.plan.Inputs()
	st.Outputs = e.plan.Outputs()
	st.Ops = e.plan.Ops()
	st.Steps = e.plan.Steps()
	st.Model = &info
	st.CompiledAt = &at
	return st
}

// LoadModel replaces the ledger with data, appended in chunks of at most
// chunkSize bytes, and compiles it. A chunkSize <= 0 uses DefaultChunkSize.
// The whole sequence holds the engine lock, so concurrent loads and byte
// uploads cannot interleave their chunks.
func (e *Engine) LoadModel(ctx context.Context, data []byte, chunkSize int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.clearLocked(ctx); err != nil {
		return err
	}
	chunks := 0
	for chunk := range slices.Chunk(data, chunkSize) {
		if err := e.appendLocked(ctx, chunk); err != nil {
			return fmt.Errorf("chunk %d: %w", chunks, err)
		}
		chunks++
	}
	e.log.Debug("model bytes loaded", "bytes", len(data), "chunks", chunks)
	return e.setupLocked()
}
