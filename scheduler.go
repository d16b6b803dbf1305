package openmemory

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// schedulerJob is one named, independently-ticking maintenance task.
type schedulerJob struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (count int64, err error)
}

// Scheduler owns cancellable goroutines for every maintenance job
// (decay, waypoint pruning, reflection, user-summary rebuild), each on its
// own ticker, generalizing the teacher's fixed decay_worker/reflect_worker
// pair into an N-job table.
type Scheduler struct {
	jobs   []schedulerJob
	store  *Store
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds the standard job table from cfg and the engine's
// maintenance callbacks.
func NewScheduler(store *Store, cfg Config, decay, prune, reflect, userSummary func(ctx context.Context) (int64, error)) *Scheduler {
	return &Scheduler{
		store: store,
		jobs: []schedulerJob{
			{name: "decay", interval: time.Duration(cfg.DecayIntervalMinutes) * time.Minute, run: decay},
			{name: "prune_waypoints", interval: time.Duration(cfg.PruneIntervalMinutes) * time.Minute, run: prune},
			{name: "reflect", interval: time.Duration(cfg.ReflectIntervalMinutes) * time.Minute, run: reflect},
			{name: "user_summary", interval: time.Duration(cfg.UserSummaryIntervalMinutes) * time.Minute, run: userSummary},
		},
	}
}

// Start launches every job's ticker goroutine. An initial synchronous
// decay pass runs before Start returns, matching the startup rule that the
// engine is not marked ready until one decay sweep has completed.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, j := range s.jobs {
		if j.name == "decay" {
			s.runOnce(ctx, j)
		}
	}

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

func (s *Scheduler) loop(ctx context.Context, j schedulerJob) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j schedulerJob) {
	count, err := j.run(ctx)
	now := time.Now()
	if err != nil {
		log.Printf("[openmemory] job %s failed: %v", j.name, err)
		return
	}
	if err := s.store.LogStat(j.name, count, now); err != nil {
		log.Printf("[openmemory] job %s: log stat failed: %v", j.name, err)
	}
	log.Printf("[openmemory] job %s processed %s rows at %s", j.name, humanize.Comma(count), humanize.Time(now))
}

// Close cancels every job goroutine and waits for them to exit.
func (s *Scheduler) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
