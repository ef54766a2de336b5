package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evidentia/platform/internal/retention"
	"github.com/evidentia/platform/internal/shared/types"
)

type fakeChains struct {
	reseals   atomic.Int64
	reverifys atomic.Int64
}

func (f *fakeChains) ResealDueChains(ctx context.Context, now time.Time, limit int) (*types.BatchResult, error) {
	f.reseals.Add(1)
	return types.NewBatchResult(), nil
}

func (f *fakeChains) ReverifyChains(ctx context.Context, verifiedBefore time.Time, limit int) (*types.BatchResult, error) {
	f.reverifys.Add(1)
	return types.NewBatchResult(), nil
}

type fakeTiers struct {
	migrations atomic.Int64
}

func (f *fakeTiers) MigrateTiers(ctx context.Context, now time.Time, limit int) (*types.BatchResult, error) {
	f.migrations.Add(1)
	return types.NewBatchResult(), nil
}

type fakeExpiry struct {
	runs atomic.Int64
}

func (f *fakeExpiry) ProcessExpiryActions(ctx context.Context, store retention.ExpiryStore, now time.Time, limit int) (*retention.ExpiryReport, error) {
	f.runs.Add(1)
	return &retention.ExpiryReport{}, nil
}

func TestSchedulerRunsAllSweeps(t *testing.T) {
	chains := &fakeChains{}
	tiers := &fakeTiers{}
	expiry := &fakeExpiry{}

	s := New(chains, tiers, expiry, nil, Config{
		ResealInterval:    5 * time.Millisecond,
		MigrationInterval: 5 * time.Millisecond,
		ExpiryInterval:    5 * time.Millisecond,
		ReverifyInterval:  5 * time.Millisecond,
	})

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if chains.reseals.Load() == 0 {
		t.Error("reseal sweep never ran")
	}
	if chains.reverifys.Load() == 0 {
		t.Error("reverify sweep never ran")
	}
	if tiers.migrations.Load() == 0 {
		t.Error("tier migration sweep never ran")
	}
	if expiry.runs.Load() == 0 {
		t.Error("expiry sweep never ran")
	}
}

func TestStopIsIdempotentAndDrains(t *testing.T) {
	s := New(&fakeChains{}, &fakeTiers{}, &fakeExpiry{}, nil, Config{
		ResealInterval:    time.Millisecond,
		MigrationInterval: time.Millisecond,
		ExpiryInterval:    time.Millisecond,
		ReverifyInterval:  time.Millisecond,
	})

	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestContextCancelStopsLoops(t *testing.T) {
	chains := &fakeChains{}
	s := New(chains, &fakeTiers{}, &fakeExpiry{}, nil, Config{
		ResealInterval:    time.Millisecond,
		MigrationInterval: time.Hour,
		ExpiryInterval:    time.Hour,
		ReverifyInterval:  time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loops did not exit after context cancellation")
	}
}
