package openmemory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsInitialDecaySynchronously(t *testing.T) {
	s := newTestStore(t)
	var decayRan int32

	decay := func(ctx context.Context) (int64, error) {
		atomic.AddInt32(&decayRan, 1)
		return 0, nil
	}
	noop := func(ctx context.Context) (int64, error) { return 0, nil }

	cfg := Config{DecayIntervalMinutes: 60, PruneIntervalMinutes: 60, ReflectIntervalMinutes: 60, UserSummaryIntervalMinutes: 60}
	sched := NewScheduler(s, cfg, decay, noop, noop, noop)
	sched.Start(context.Background())
	defer sched.Close()

	if atomic.LoadInt32(&decayRan) != 1 {
		t.Errorf("expected Start to run decay synchronously once before returning, got %d", decayRan)
	}
}

func TestSchedulerCloseStopsAllJobs(t *testing.T) {
	s := newTestStore(t)
	var ticks int32
	fast := func(ctx context.Context) (int64, error) {
		atomic.AddInt32(&ticks, 1)
		return 0, nil
	}

	cfg := Config{DecayIntervalMinutes: 60, PruneIntervalMinutes: 60, ReflectIntervalMinutes: 60, UserSummaryIntervalMinutes: 60}
	sched := NewScheduler(s, cfg, fast, fast, fast, fast)
	sched.Start(context.Background())
	sched.Close()

	afterClose := atomic.LoadInt32(&ticks)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&ticks) != afterClose {
		t.Error("expected no further job runs after Close")
	}
}
