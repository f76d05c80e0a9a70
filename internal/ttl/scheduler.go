// Package ttl implements the TTL Scheduler from spec section 4.7: a
// chained one-shot timer that asks every registered bucket to purge its
// expired records once per interval, never overlapping a purge cycle with
// the next tick.
package ttl

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/metrics"
)

const defaultInterval = time.Second

// Scheduler owns the purge cycle for every TTL-bearing bucket in a store.
type Scheduler struct {
	mu       sync.Mutex
	workers  map[string]*bucket.Worker
	interval time.Duration
	timer    *time.Timer
	running  bool
	log      *log.Logger
}

// New constructs a Scheduler with the given check interval (defaultInterval
// if interval <= 0).
func New(interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		workers:  map[string]*bucket.Worker{},
		interval: interval,
		log:      logger,
	}
}

// Register adds w to the purge rotation. Buckets without a TTL should
// never be registered; the scheduler does not itself check def.TTL.
func (s *Scheduler) Register(name string, w *bucket.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[name] = w
}

// Unregister removes a bucket from the purge rotation, e.g. when the
// bucket is dropped or its worker is stopped.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, name)
}

// Start schedules the first purge cycle. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.scheduleNextLocked()
}

// scheduleNextLocked arms a one-shot timer for the next cycle; callers
// must hold s.mu.
func (s *Scheduler) scheduleNextLocked() {
	s.timer = time.AfterFunc(s.interval, s.tick)
}

// tick runs one purge cycle and, unless stopped in the meantime, chains
// the next one-shot timer — this is what keeps cycles from overlapping
// even if a purge takes longer than the interval.
func (s *Scheduler) tick() {
	s.Purge(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.scheduleNextLocked()
	}
}

// Stop cancels any pending timer. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Purge runs one purge cycle immediately, fanning out across every
// registered bucket in parallel and returning the total number of records
// removed. It can be invoked directly by the store in addition to the
// scheduled cycles.
func (s *Scheduler) Purge(ctx context.Context) int {
	s.mu.Lock()
	names := make([]string, 0, len(s.workers))
	workers := make([]*bucket.Worker, 0, len(s.workers))
	for name, w := range s.workers {
		names = append(names, name)
		workers = append(workers, w)
	}
	s.mu.Unlock()

	sort.Sort(byName{names: names, workers: workers})

	var mu sync.Mutex
	total := 0
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		w := workers[i]
		name := names[i]
		g.Go(func() error {
			if w.State() == bucket.StateStopped || w.State() == bucket.StateStopping {
				return nil
			}
			n, err := w.PurgeExpired(gctx)
			if err != nil {
				s.log.Printf("ttl: purge failed for bucket %q: %v", name, err)
				return nil
			}
			if n > 0 {
				metrics.RecordTTLPurged(name, n)
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if total > 0 {
		s.log.Printf("ttl: purge cycle removed %s record(s) across %d bucket(s)", humanize.Comma(int64(total)), len(names))
	}
	return total
}

type byName struct {
	names   []string
	workers []*bucket.Worker
}

func (b byName) Len() int      { return len(b.names) }
func (b byName) Swap(i, j int) {
	b.names[i], b.names[j] = b.names[j], b.names[i]
	b.workers[i], b.workers[j] = b.workers[j], b.workers[i]
}
func (b byName) Less(i, j int) bool { return b.names[i] < b.names[j] }
