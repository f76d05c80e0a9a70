// Package bucket implements the Bucket Worker actor from spec section 4.3:
// a single-threaded message loop that exclusively owns one bucket's record
// map, indexes, and autoincrement counter.
package bucket

import (
	"context"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/indexmgr"
	"github.com/emberdb/ember/internal/metrics"
	"github.com/emberdb/ember/internal/types"
	"github.com/emberdb/ember/internal/validation"
)

// Seed is the initial state a worker is constructed with, typically
// decoded from a persistence snapshot; a zero-value Seed starts empty.
type Seed struct {
	Records             []types.Record
	AutoincrementCounter int64
}

// Worker is the actor owning exactly one bucket. All exported methods are
// safe to call from any goroutine: each submits a closure to the worker's
// single-threaded inbox and waits for its result.
type Worker struct {
	name string
	def  types.BucketDefinition
	bus  *eventbus.Bus
	ttlMs int64
	hasTTL bool

	validator *validation.Validator
	index     *indexmgr.Manager

	inbox   chan func()
	stopCh  chan struct{}
	stopped chan struct{}
	state   atomic.Int32

	log *log.Logger

	// Actor-owned state: touched only inside run().
	records map[string]types.Record
	order   []string // insertion order, for eviction ties and unordered iteration
	counter int64
}

// New constructs a worker for def and starts its message loop. seed, if
// non-nil, preloads records and the autoincrement counter from a
// persistence snapshot.
func New(def types.BucketDefinition, bus *eventbus.Bus, seed *Seed, logger *log.Logger) (*Worker, error) {
	var ttlMs int64
	hasTTL := def.TTL != nil
	if hasTTL {
		ms, err := types.ParseTTL(def.TTL)
		if err != nil {
			return nil, err
		}
		ttlMs = ms
	}

	w := &Worker{
		name:      def.Name,
		def:       def,
		bus:       bus,
		ttlMs:     ttlMs,
		hasTTL:    hasTTL,
		validator: validation.New(def.Name, def.Key, def.Schema),
		index:     indexmgr.New(def.Name, def.Schema, def.Indexes),
		inbox:     make(chan func(), 64),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
		records:   make(map[string]types.Record),
		log:       logger,
	}
	w.state.Store(int32(StateStarting))

	if seed != nil {
		for _, rec := range seed.Records {
			key := rec.PrimaryKey(def.Key)
			w.records[key] = rec
			w.order = append(w.order, key)
			w.index.AddRecord(key, rec)
		}
		sort.Strings(w.order)
		w.counter = seed.AutoincrementCounter
		if maxField := maxAutoincrementValue(def, seed.Records); maxField+1 > w.counter {
			w.counter = maxField + 1
		}
	}

	w.state.Store(int32(StateRunning))
	go w.run()
	return w, nil
}

func maxAutoincrementValue(def types.BucketDefinition, records []types.Record) int64 {
	var field string
	for name, fd := range def.Schema {
		if fd.Generated == types.GeneratedAutoincrement {
			field = name
			break
		}
	}
	if field == "" {
		return 0
	}
	var max int64
	for _, r := range records {
		if v, ok := r[field]; ok && v.IsNumber() {
			if n := v.AsInt(); n > max {
				max = n
			}
		}
	}
	return max
}

// Name returns the bucket's name.
func (w *Worker) Name() string { return w.name }

// Definition returns the bucket's definition.
func (w *Worker) Definition() types.BucketDefinition { return w.def }

func (w *Worker) run() {
	for {
		select {
		case task := <-w.inbox:
			task()
		case <-w.stopCh:
			w.state.Store(int32(StateStopped))
			close(w.stopped)
			return
		}
	}
}

// Stop transitions the worker to stopping, drains no further tasks after
// its current queue is exhausted by the time it observes the stop signal,
// and blocks until the run loop has exited. Idempotent.
func (w *Worker) Stop() {
	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		if !w.state.CompareAndSwap(int32(StateStarting), int32(StateStopping)) {
			return
		}
	}
	close(w.stopCh)
	<-w.stopped
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// submit runs fn on the worker's single goroutine and returns its result,
// or a WorkerClosedError if the worker is not running, or ctx.Err() if ctx
// is cancelled first.
func submit[T any](ctx context.Context, w *Worker, fn func() (T, error)) (T, error) {
	var zero T
	if State(w.state.Load()) != StateRunning {
		return zero, types.NewWorkerClosedError(w.name)
	}

	type result struct {
		val T
		err error
	}
	resCh := make(chan result, 1)
	task := func() {
		v, err := fn()
		resCh <- result{v, err}
	}

	select {
	case w.inbox <- task:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-w.stopped:
		return zero, types.NewWorkerClosedError(w.name)
	}

	select {
	case r := <-resCh:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (w *Worker) publish(ctx context.Context, eventType eventbus.EventType, key string, record, oldRecord types.Record) {
	if w.bus == nil {
		return
	}
	var rec, old map[string]any
	if record != nil {
		rec = record.ToMap()
	}
	if oldRecord != nil {
		old = oldRecord.ToMap()
	}
	w.bus.Publish(ctx, eventbus.Event{
		Topic:     eventbus.BuildTopic(w.name, eventType),
		Bucket:    w.name,
		Type:      eventType,
		Key:       key,
		Record:    rec,
		OldRecord: old,
		At:        time.Now(),
	})
}

func (w *Worker) nextCounter() int64 {
	w.counter++
	return w.counter
}

func nowMs() int64 { return time.Now().UnixMilli() }
