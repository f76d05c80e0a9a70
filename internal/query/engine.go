// Package query implements the reactive Query Engine from spec section
// 4.6: named functions evaluated with dependency tracking, an
// invalidation index keyed off bucket events, and serialized
// re-evaluation with deep-equality change suppression.
package query

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/metrics"
	"github.com/emberdb/ember/internal/types"
)

// Fn is a registered query function: it reads through qc's bucket
// proxies (which record dependencies) and returns a result.
type Fn func(ctx context.Context, qc *Context, params map[string]any) (any, error)

// Engine owns the query registry, active subscriptions, and the
// bucket/record invalidation index.
type Engine struct {
	registry Registry
	bus      *eventbus.Bus
	log      *log.Logger

	mu          sync.Mutex
	queries     map[string]Fn
	subs        map[string]*subscription
	bucketLevel map[string]map[string]bool            // bucket -> subIDs
	recordLevel map[string]map[string]map[string]bool // bucket -> key -> subIDs

	nextID    atomic.Uint64
	wg        sync.WaitGroup
	handlerID string
}

// New constructs an Engine bound to registry (for resolving bucket
// proxies) and bus (for invalidation events). Call Start to begin
// listening for events.
func New(registry Registry, bus *eventbus.Bus, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		registry:    registry,
		bus:         bus,
		log:         logger,
		queries:     map[string]Fn{},
		subs:        map[string]*subscription{},
		bucketLevel: map[string]map[string]bool{},
		recordLevel: map[string]map[string]map[string]bool{},
		handlerID:   "query-engine",
	}
}

// Start subscribes the engine to every bucket event so active
// subscriptions can be invalidated and rescheduled.
func (e *Engine) Start() {
	e.bus.Subscribe("bucket.*.*", eventbus.HandlerFunc{
		IDValue:       e.handlerID,
		PriorityValue: 0,
		Fn:            e.onEvent,
	})
}

// Stop unregisters the engine from the event bus.
func (e *Engine) Stop() {
	e.bus.Unregister(e.handlerID)
}

// Register adds a named query function; names are globally unique.
func (e *Engine) Register(name string, fn Fn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.queries[name]; exists {
		return types.NewQueryAlreadyDefinedError(name)
	}
	e.queries[name] = fn
	return nil
}

func (e *Engine) lookup(name string) (Fn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn, ok := e.queries[name]
	if !ok {
		return nil, types.NewQueryNotDefinedError(name)
	}
	return fn, nil
}

// RunQuery evaluates name once with params and returns the result,
// creating no subscription and touching no invalidation index.
func (e *Engine) RunQuery(ctx context.Context, name string, params map[string]any) (any, error) {
	fn, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	deps := newDependencies()
	return fn(ctx, newContext(e.registry, deps), params)
}

// Subscribe performs an initial evaluation (not delivered to callback),
// registers the resulting dependencies in the invalidation index, and
// returns an idempotent unsubscribe handle.
func (e *Engine) Subscribe(ctx context.Context, name string, params map[string]any, callback Callback) (Unsubscribe, error) {
	fn, err := e.lookup(name)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		id:       fmt.Sprintf("qsub-%d", e.nextID.Add(1)),
		name:     name,
		params:   params,
		fn:       fn,
		callback: callback,
	}

	deps := newDependencies()
	result, evalErr := fn(ctx, newContext(e.registry, deps), params)

	e.mu.Lock()
	e.subs[sub.id] = sub
	e.registerDepsLocked(sub.id, deps)
	e.mu.Unlock()

	if evalErr == nil {
		sub.lastResult = result
		sub.hasResult = true
	} else {
		e.log.Printf("query %q initial evaluation failed: %v", name, evalErr)
	}

	return func() { e.unsubscribe(sub) }, nil
}

func (e *Engine) unsubscribe(sub *subscription) {
	if !sub.cancel() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, sub.id)
	e.clearIndexLocked(sub.id)
}

// registerDepsLocked must be called with e.mu held.
func (e *Engine) registerDepsLocked(subID string, deps *dependencies) {
	for bucketName := range deps.bucketLevel {
		set, ok := e.bucketLevel[bucketName]
		if !ok {
			set = map[string]bool{}
			e.bucketLevel[bucketName] = set
		}
		set[subID] = true
	}
	for bucketName, keys := range deps.recordLevel {
		byKey, ok := e.recordLevel[bucketName]
		if !ok {
			byKey = map[string]map[string]bool{}
			e.recordLevel[bucketName] = byKey
		}
		for key := range keys {
			set, ok := byKey[key]
			if !ok {
				set = map[string]bool{}
				byKey[key] = set
			}
			set[subID] = true
		}
	}
}

// clearIndexLocked removes every invalidation-index entry for subID; must
// be called with e.mu held.
func (e *Engine) clearIndexLocked(subID string) {
	for bucketName, set := range e.bucketLevel {
		delete(set, subID)
		if len(set) == 0 {
			delete(e.bucketLevel, bucketName)
		}
	}
	for bucketName, byKey := range e.recordLevel {
		for key, set := range byKey {
			delete(set, subID)
			if len(set) == 0 {
				delete(byKey, key)
			}
		}
		if len(byKey) == 0 {
			delete(e.recordLevel, bucketName)
		}
	}
}

// onEvent is the bus handler driving invalidation: union bucketLevel[bucket]
// and recordLevel[bucket][key], then schedule each affected subscription.
func (e *Engine) onEvent(ctx context.Context, event eventbus.Event) error {
	e.mu.Lock()
	affected := map[string]*subscription{}
	for id := range e.bucketLevel[event.Bucket] {
		if sub, ok := e.subs[id]; ok {
			affected[id] = sub
		}
	}
	if byKey, ok := e.recordLevel[event.Bucket]; ok {
		for id := range byKey[event.Key] {
			if sub, ok := e.subs[id]; ok {
				affected[id] = sub
			}
		}
	}
	e.mu.Unlock()

	for _, sub := range affected {
		e.scheduleReevaluate(ctx, sub)
	}
	return nil
}

// scheduleReevaluate runs sub's re-evaluation in its own goroutine,
// serialized against any other in-flight re-evaluation of the same
// subscription, and tracked by the engine's wait group so Settle can
// observe completion.
func (e *Engine) scheduleReevaluate(ctx context.Context, sub *subscription) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.isCancelled() {
			return
		}
		e.reevaluate(ctx, sub)
	}()
}

func (e *Engine) reevaluate(ctx context.Context, sub *subscription) {
	e.mu.Lock()
	e.clearIndexLocked(sub.id)
	e.mu.Unlock()

	deps := newDependencies()
	result, err := sub.fn(ctx, newContext(e.registry, deps), sub.params)

	e.mu.Lock()
	if _, stillActive := e.subs[sub.id]; stillActive {
		e.registerDepsLocked(sub.id, deps)
	}
	e.mu.Unlock()

	if err != nil {
		e.log.Printf("query %q re-evaluation failed: %v", sub.name, err)
		return
	}
	metrics.RecordQueryReevaluated(sub.name)

	if sub.hasResult && deepEqual(sub.lastResult, result) {
		return
	}
	sub.lastResult = result
	sub.hasResult = true
	if sub.callback != nil && !sub.isCancelled() {
		sub.callback(result, nil)
	}
}

// Settle blocks until every currently scheduled re-evaluation has
// completed. Test-only but exported, per spec section 4.6.
func (e *Engine) Settle() {
	e.wg.Wait()
}
