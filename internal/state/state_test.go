package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/tradepolicy/internal/kvstore"
	"github.com/samcharles93/tradepolicy/internal/tensor"
)

var testShape = []int{1, 1, 4}

func filled(v float32) Recurrent {
	r := Zero(testShape)
	for i, t := range r.Tensors() {
		for j := range t.F32 {
			t.F32[j] = v + float32(i)
		}
	}
	return r
}

type brokenStore struct{ *kvstore.MemoryStore }

func (brokenStore) Put(context.Context, string, []byte) error { return errors.New("read-only") }

func TestCacheStartsAtZero(t *testing.T) {
	t.Parallel()
	c := NewCache(kvstore.NewMemoryStore(), "", testShape)
	require.True(t, c.Current().Equal(Zero(testShape)))
	require.Equal(t, testShape, c.Shape())
}

func TestReplaceAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewCache(kvstore.NewMemoryStore(), "", testShape)

	next := filled(0.25)
	require.NoError(t, c.Replace(ctx, next))
	require.True(t, c.Current().Equal(next))

	// the cache keeps its own copy
	next.ActorH.F32[0] = 99
	require.Equal(t, float32(0.25), c.Current().ActorH.F32[0])
	cur := c.Current()
	cur.ActorH.F32[0] = 42
	require.Equal(t, float32(0.25), c.Current().ActorH.F32[0])

	require.NoError(t, c.Reset(ctx))
	require.True(t, c.Current().Equal(Zero(testShape)))
}

func TestReplaceRejectsWrongShape(t *testing.T) {
	t.Parallel()
	c := NewCache(kvstore.NewMemoryStore(), "", testShape)
	bad := filled(1)
	bad.CriticC = tensor.New(1, 1, 3)
	require.ErrorIs(t, c.Replace(context.Background(), bad), ErrShape)
	require.True(t, c.Current().Equal(Zero(testShape)))
}

func TestReplaceKeepsStateWhenPersistFails(t *testing.T) {
	t.Parallel()
	c := NewCache(brokenStore{kvstore.NewMemoryStore()}, "", testShape)
	require.Error(t, c.Replace(context.Background(), filled(1)))
	require.True(t, c.Current().Equal(Zero(testShape)))
}

func TestRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	first := NewCache(store, "", testShape)
	require.NoError(t, first.Replace(ctx, filled(-0.5)))

	second := NewCache(store, "", testShape)
	require.NoError(t, second.Restore(ctx))
	require.True(t, second.Current().Equal(filled(-0.5)))
}

func TestRestoreDiscardsIncompatibleState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	require.NoError(t, NewCache(store, "", testShape).Replace(ctx, filled(2)))

	wider := NewCache(store, "", []int{1, 1, 8})
	require.ErrorIs(t, wider.Restore(ctx), ErrShape)
	require.True(t, wider.Current().Equal(Zero([]int{1, 1, 8})))

	require.NoError(t, store.Put(ctx, DefaultKey, []byte("garbage")))
	require.Error(t, NewCache(store, "", testShape).Restore(ctx))
}
