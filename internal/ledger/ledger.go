// Package ledger accumulates the uploaded model bytes. The buffer only ever
// grows by appending or drops to empty, and every change is written through
// to the durable store before it becomes visible.
//
// Each appended chunk is stored as its own record under "<key>/<n>"; the
// record count under "<key>/chunks" is written last and is the commit point.
// Records past the count are ignored on restore.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/samcharles93/tradepolicy/internal/kvstore"
)

// DefaultKey is the store key prefix the model bytes live under.
const DefaultKey = "ledger/model"

// ErrIngestion reports that the durable store rejected a ledger change. The
// in-memory buffer is left as it was.
var ErrIngestion = errors.New("ingestion failed")

type Ledger struct {
	store kvstore.Store
	key   string

	mu     sync.RWMutex
	buf    []byte
	chunks int
}

// New returns an empty ledger persisted under key (DefaultKey when empty).
func New(store kvstore.Store, key string) *Ledger {
	if key == "" {
		key = DefaultKey
	}
	return &Ledger{store: store, key: key}
}

func (l *Ledger) countKey() string      { return l.key + "/chunks" }
func (l *Ledger) chunkKey(n int) string { return l.key + "/" + strconv.Itoa(n) }

func (l *Ledger) putCount(ctx context.Context, n int) error {
	return l.store.Put(ctx, l.countKey(), []byte(strconv.Itoa(n)))
}

// Restore replaces the buffer with the persisted content, if any.
func (l *Ledger) Restore(ctx context.Context) error {
	raw, ok, err := l.store.Get(ctx, l.countKey())
	if err != nil {
		return fmt.Errorf("%w: restore: %w", ErrIngestion, err)
	}
	n := 0
	if ok {
		n, err = strconv.Atoi(string(raw))
		if err != nil || n < 0 {
			return fmt.Errorf("%w: restore: bad chunk count %q", ErrIngestion, raw)
		}
	}
	var buf []byte
	for i := range n {
		chunk, ok, err := l.store.Get(ctx, l.chunkKey(i))
		if err != nil {
			return fmt.Errorf("%w: restore chunk %d: %w", ErrIngestion, i, err)
		}
		if !ok {
			return fmt.Errorf("%w: restore: chunk %d of %d is missing", ErrIngestion, i, n)
		}
		buf = append(buf, chunk...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = buf
	l.chunks = n
	return nil
}

// Append adds chunk to the end of the buffer. Empty chunks are accepted and
// change nothing. Only the new chunk and the record count are written.
func (l *Ledger) Append(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Put(ctx, l.chunkKey(l.chunks), chunk); err != nil {
		return fmt.Errorf("%w: append %d bytes: %w", ErrIngestion, len(chunk), err)
	}
	if err := l.putCount(ctx, l.chunks+1); err != nil {
		return fmt.Errorf("%w: append %d bytes: %w", ErrIngestion, len(chunk), err)
	}
	l.buf = append(l.buf, chunk...)
	l.chunks++
	return nil
}

// Clear empties the buffer. Stale chunk records are removed on a best-effort
// basis once the zero count is committed.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.putCount(ctx, 0); err != nil {
		return fmt.Errorf("%w: clear: %w", ErrIngestion, err)
	}
	for i := range l.chunks {
		_ = l.store.Delete(ctx, l.chunkKey(i))
	}
	l.buf = nil
	l.chunks = 0
	return nil
}

// Snapshot returns a copy of the current content.
func (l *Ledger) Snapshot() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return bytes.Clone(l.buf)
}

// Len returns the current size in bytes.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}
