package ledger

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/tradepolicy/internal/kvstore"
)

// failingStore rejects writes once armed.
type failingStore struct {
	*kvstore.MemoryStore
	fail bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) Put(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return errDiskFull
	}
	return s.MemoryStore.Put(ctx, key, value)
}

func (s *failingStore) Delete(ctx context.Context, key string) error {
	if s.fail {
		return errDiskFull
	}
	return s.MemoryStore.Delete(ctx, key)
}

func TestAppendPreservesCallOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(kvstore.NewMemoryStore(), "")

	require.NoError(t, l.Append(ctx, []byte("AB")))
	require.NoError(t, l.Append(ctx, nil))
	require.NoError(t, l.Append(ctx, []byte("CDE")))
	require.Equal(t, []byte("ABCDE"), l.Snapshot())
	require.Equal(t, 5, l.Len())
}

func TestClearEmptiesBuffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(kvstore.NewMemoryStore(), "")

	require.NoError(t, l.Append(ctx, []byte("model")))
	require.NoError(t, l.Clear(ctx))
	require.Empty(t, l.Snapshot())
	require.Zero(t, l.Len())

	require.NoError(t, l.Append(ctx, []byte("x")))
	require.Equal(t, []byte("x"), l.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(kvstore.NewMemoryStore(), "")
	require.NoError(t, l.Append(ctx, []byte("abc")))

	snap := l.Snapshot()
	snap[0] = 'z'
	require.Equal(t, []byte("abc"), l.Snapshot())
}

func TestRestoreReadsPersistedBytes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	first := New(store, "")
	require.NoError(t, first.Append(ctx, []byte("chunk-1")))
	require.NoError(t, first.Append(ctx, []byte("chunk-2")))

	second := New(store, "")
	require.Zero(t, second.Len())
	require.NoError(t, second.Restore(ctx))
	require.Equal(t, []byte("chunk-1chunk-2"), second.Snapshot())

	require.NoError(t, first.Clear(ctx))
	require.NoError(t, second.Restore(ctx))
	require.Zero(t, second.Len())
}

func TestStoreFailureLeavesBufferUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &failingStore{MemoryStore: kvstore.NewMemoryStore()}
	l := New(store, "")
	require.NoError(t, l.Append(ctx, []byte("keep")))

	store.fail = true
	err := l.Append(ctx, []byte("lost"))
	require.ErrorIs(t, err, ErrIngestion)
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, []byte("keep"), l.Snapshot())

	require.ErrorIs(t, l.Clear(ctx), ErrIngestion)
	require.Equal(t, []byte("keep"), l.Snapshot())
}

// countingStore tallies the bytes written through Put.
type countingStore struct {
	*kvstore.MemoryStore
	written atomic.Int64
}

func (s *countingStore) Put(ctx context.Context, key string, value []byte) error {
	s.written.Add(int64(len(value)))
	return s.MemoryStore.Put(ctx, key, value)
}

func TestAppendWritesOnlyTheNewChunk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &countingStore{MemoryStore: kvstore.NewMemoryStore()}
	l := New(store, "")

	chunk := bytes.Repeat([]byte{0xab}, 1024)
	const chunks = 64
	for range chunks {
		require.NoError(t, l.Append(ctx, chunk))
	}
	require.Equal(t, chunks*len(chunk), l.Len())
	// payload plus a few bytes of record count per append
	require.Less(t, store.written.Load(), int64(chunks*(len(chunk)+8)))

	restored := New(store, "")
	require.NoError(t, restored.Restore(ctx))
	require.Equal(t, l.Snapshot(), restored.Snapshot())
}

func TestRestoreIgnoresUncommittedChunk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	l := New(store, "")
	require.NoError(t, l.Append(ctx, []byte("model")))

	// a chunk record written without its count update
	require.NoError(t, store.Put(ctx, DefaultKey+"/1", []byte("torn")))

	restored := New(store, "")
	require.NoError(t, restored.Restore(ctx))
	require.Equal(t, []byte("model"), restored.Snapshot())

	require.NoError(t, restored.Append(ctx, []byte("-v2")))
	again := New(store, "")
	require.NoError(t, again.Restore(ctx))
	require.Equal(t, []byte("model-v2"), again.Snapshot())
}

func TestRestoreRejectsMissingChunk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	l := New(store, "")
	require.NoError(t, l.Append(ctx, []byte("a")))
	require.NoError(t, l.Append(ctx, []byte("b")))
	require.NoError(t, store.Delete(ctx, DefaultKey+"/0"))

	require.ErrorIs(t, New(store, "").Restore(ctx), ErrIngestion)
}
