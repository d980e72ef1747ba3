package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls []time.Duration
	swept chan struct{}
}

func (f *fakeSweeper) Sweep(idle time.Duration) int {
	f.mu.Lock()
	f.calls = append(f.calls, idle)
	f.mu.Unlock()
	select {
	case f.swept <- struct{}{}:
	default:
	}
	return 1
}

type fakePruner struct {
	olderThan time.Duration
	err       error
}

func (f *fakePruner) PruneMessages(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 3, f.err
}

func TestRunOnce(t *testing.T) {
	sweeper := &fakeSweeper{swept: make(chan struct{}, 1)}
	pruner := &fakePruner{}
	w := New(sweeper, pruner, Config{
		Interval:            time.Minute,
		ConversationIdleTTL: 6 * time.Hour,
		MessageLogRetention: 48 * time.Hour,
	}, nil)

	w.RunOnce(context.Background())

	if len(sweeper.calls) != 1 || sweeper.calls[0] != 6*time.Hour {
		t.Fatalf("unexpected sweep calls %v", sweeper.calls)
	}
	if pruner.olderThan != 48*time.Hour {
		t.Fatalf("unexpected retention %v", pruner.olderThan)
	}
}

func TestRunOnceSkipsDisabledSteps(t *testing.T) {
	sweeper := &fakeSweeper{swept: make(chan struct{}, 1)}
	pruner := &fakePruner{err: errors.New("should not be called")}
	w := New(sweeper, pruner, Config{Interval: time.Minute}, nil)

	w.RunOnce(context.Background())

	if len(sweeper.calls) != 0 || pruner.olderThan != 0 {
		t.Fatal("expected zero TTLs to disable both steps")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	sweeper := &fakeSweeper{swept: make(chan struct{}, 1)}
	w := New(sweeper, nil, Config{Interval: 5 * time.Millisecond, ConversationIdleTTL: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-sweeper.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one sweep")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
