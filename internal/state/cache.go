package state

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/tradepolicy/internal/kvstore"
	"github.com/samcharles93/tradepolicy/internal/onnx"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

// DefaultKey is the store key the recurrent state lives under.
const DefaultKey = "state/recurrent"

// Cache owns the current recurrent state. Replacements are persisted before
// they become visible, so a failed write leaves the previous state in place.
type Cache struct {
	store kvstore.Store
	key   string
	shape []int

	mu  sync.RWMutex
	cur Recurrent
}

// NewCache returns a cache holding the zero state of the given per-tensor
// shape.
func NewCache(store kvstore.Store, key string, shape []int) *Cache {
	if key == "" {
		key = DefaultKey
	}
	return &Cache{
		store: store,
		key:   key,
		shape: slices.Clone(shape),
		cur:   Zero(shape),
	}
}

// Shape returns the per-tensor shape.
func (c *Cache) Shape() []int { return slices.Clone(c.shape) }

// Current returns a deep copy of the current state.
func (c *Cache) Current() Recurrent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur.Clone()
}

// Replace swaps in r as a whole.
func (c *Cache) Replace(ctx context.Context, r Recurrent) error {
	if err := r.Validate(c.shape); err != nil {
		return err
	}
	next := r.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(ctx, c.key, encode(next)); err != nil {
		return fmt.Errorf("persist recurrent state: %w", err)
	}
	c.cur = next
	return nil
}

// Reset returns to the zero state.
func (c *Cache) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("reset recurrent state: %w", err)
	}
	c.cur = Zero(c.shape)
	return nil
}

// Restore loads the persisted state. A missing entry yields the zero state.
// An unreadable or differently shaped entry is reported and the zero state
// is kept.
func (c *Cache) Restore(ctx context.Context) error {
	b, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		return fmt.Errorf("load recurrent state: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = Zero(c.shape)
	if !ok {
		return nil
	}
	r, err := decode(b)
	if err != nil {
		return fmt.Errorf("decode recurrent state: %w", err)
	}
	if err := r.Validate(c.shape); err != nil {
		return err
	}
	c.cur = r
	return nil
}

// encode stores the state as an ONNX graph whose initializers are the four
// tensors, so it can be inspected with ordinary ONNX tooling.
func encode(r Recurrent) []byte {
	g := &onnx.Graph{Name: "recurrent_state"}
	for i, t := range r.Tensors() {
		g.Initializers = append(g.Initializers, onnx.FromTensor(Names[i], t))
	}
	return onnx.EncodeGraph(g)
}

func decode(b []byte) (Recurrent, error) {
	g, err := onnx.DecodeGraph(b)
	if err != nil {
		return Recurrent{}, err
	}
	ts := make([]*tensor.Tensor, len(Names))
	for i, name := range Names {
		tp := g.Initializer(name)
		if tp == nil {
			return Recurrent{}, fmt.Errorf("%w: %s is missing", ErrShape, name)
		}
		if ts[i], err = onnx.ToTensor(tp); err != nil {
			return Recurrent{}, err
		}
	}
	return FromTensors(ts)
}
