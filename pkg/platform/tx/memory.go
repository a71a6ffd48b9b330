package tx

import (
	"context"
	"sync"
	"time"

	dErrors "escorte/pkg/domain-errors"
)

// Snapshotter is implemented by in-memory stores that can participate in a
// MemoryRunner transaction. Snapshot returns an opaque copy of the store
// state; Restore puts it back after a failed transaction.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}

// defaultMemoryTxTimeout bounds a single in-memory transaction.
const defaultMemoryTxTimeout = 5 * time.Second

// MemoryRunner serializes transactions on a single mutex and emulates
// rollback by restoring snapshots of every participating store. Coarse, but
// it gives unit tests the same all-or-nothing contract the SQL runner has.
type MemoryRunner struct {
	mu      sync.Mutex
	stores  []Snapshotter
	timeout time.Duration
}

func NewMemoryRunner(stores ...Snapshotter) *MemoryRunner {
	return &MemoryRunner{stores: stores, timeout: defaultMemoryTxTimeout}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	snapshots := make([]any, len(r.stores))
	for i, s := range r.stores {
		snapshots[i] = s.Snapshot()
	}
	if err := fn(ctx); err != nil {
		for i, s := range r.stores {
			s.Restore(snapshots[i])
		}
		return err
	}
	return nil
}
