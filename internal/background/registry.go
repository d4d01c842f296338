package background

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type entry struct {
	cancel context.CancelFunc
}

// Registry owns fire-and-forget background units, keyed by session id. Entries
// remove themselves on completion; Shutdown cancels everything still pending
// and waits for it, suppressing failures.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	closed  bool
}

func NewRegistry(logger *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		entries: make(map[string]*entry),
		baseCtx: ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Go runs fn in its own goroutine under the registry's lifetime. A second unit
// scheduled under the same key cancels the first. After Shutdown, Go is a no-op.
func (r *Registry) Go(key string, fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("background unit rejected after shutdown", zap.String("key", key))
		return
	}
	if prev, ok := r.entries[key]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	e := &entry{cancel: cancel}
	r.entries[key] = e
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			// Only remove our own entry; a replacement may have been installed.
			if cur, ok := r.entries[key]; ok && cur == e {
				delete(r.entries, key)
			}
			r.mu.Unlock()
			r.wg.Done()
		}()
		fn(ctx)
	}()
}

// Pending reports the number of units that have not finished yet.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown cancels all pending units and waits for them to finish, or for ctx
// to expire. Best-effort cleanup: unit failures are not reported.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("background units did not drain before deadline")
		return ctx.Err()
	}
}
