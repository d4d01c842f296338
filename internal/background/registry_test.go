package background

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestGoRemovesEntryOnCompletion(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	done := make(chan struct{})
	r.Go("s1", func(ctx context.Context) {
		close(done)
	})

	<-done
	deadline := time.After(time.Second)
	for r.Pending() != 0 {
		select {
		case <-deadline:
			t.Fatalf("Pending = %d, want 0", r.Pending())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestShutdownCancelsPendingUnits(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var cancelled atomic.Bool
	started := make(chan struct{})
	r.Go("s1", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !cancelled.Load() {
		t.Fatalf("pending unit was not cancelled")
	}
}

func TestGoAfterShutdownIsNoOp(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	ran := make(chan struct{}, 1)
	r.Go("s1", func(ctx context.Context) {
		ran <- struct{}{}
	})

	select {
	case <-ran:
		t.Fatalf("unit ran after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDuplicateKeyCancelsPrevious(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	firstCancelled := make(chan struct{})
	started := make(chan struct{})
	r.Go("s1", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(firstCancelled)
	})
	<-started

	r.Go("s1", func(ctx context.Context) {})

	select {
	case <-firstCancelled:
	case <-time.After(time.Second):
		t.Fatalf("first unit was not cancelled by its replacement")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
