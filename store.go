// Package ember is an embeddable, in-memory record store: actor-owned
// buckets with schema validation, secondary indexes, optimistic-locked
// multi-bucket transactions, TTL eviction, reactive queries, and optional
// durable persistence. Store is the package's single entry point; every
// other exported type is reached through it.
package ember

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/config"
	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/metrics"
	"github.com/emberdb/ember/internal/persistence"
	"github.com/emberdb/ember/internal/query"
	"github.com/emberdb/ember/internal/ttl"
	"github.com/emberdb/ember/internal/txn"
	"github.com/emberdb/ember/internal/types"
)

// Record is the public shape of a stored record: field name to plain Go
// value, including the four reserved metadata fields once persisted.
type Record = map[string]any

// BucketDefinition is re-exported so callers can define buckets without
// importing internal/types directly.
type BucketDefinition = types.BucketDefinition

// FieldDefinition is re-exported for the same reason.
type FieldDefinition = types.FieldDefinition

// TxnContext is the read/write handle a Transact callback receives: every
// Get/Insert/Update/Delete call on it participates in the same
// multi-bucket two-phase commit.
type TxnContext = txn.Context

// QueryContext is the read-only, dependency-tracking handle a registered
// query function receives; every read through it is recorded so the
// query engine knows which bucket mutations should trigger re-evaluation.
type QueryContext = query.Context

// QueryFn is a registered query function's signature.
type QueryFn = query.Fn

// Store owns every bucket, the shared event bus, and the optional
// TTL/persistence/query subsystems layered on top of them.
type Store struct {
	name     string
	bus      *eventbus.Bus
	log      *log.Logger
	operational config.Operational

	mu      sync.RWMutex
	buckets map[string]*bucket.Worker
	closed  bool

	ttlSched *ttl.Scheduler
	persist  *persistence.Coordinator
	queries  *query.Engine

	commitRetryMaxElapsed time.Duration

	configWatchStop func()
}

// Open constructs a Store with the given options and starts its ambient
// subsystems (TTL scheduler, persistence coordinator if configured, query
// engine), then defines every bucket supplied through WithBuckets or a
// definitions file. Further buckets can be added afterward with
// DefineBucket.
func Open(opts ...Option) (*Store, error) {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.err != nil {
		return nil, fmt.Errorf("ember: open: %w", cfg.err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ember:store] ", log.LstdFlags)
	}

	bus := eventbus.New()
	if cfg.forwarder != nil {
		bus.SetForwarder(cfg.forwarder)
	}

	s := &Store{
		name:                  cfg.name,
		bus:                   bus,
		log:                   logger,
		operational:           cfg.operational,
		buckets:               map[string]*bucket.Worker{},
		commitRetryMaxElapsed: cfg.operational.CommitRetryMaxElapsed,
	}

	s.ttlSched = ttl.New(cfg.operational.TTLCheckInterval, logLike(logger, "ttl"))
	s.ttlSched.Start()

	if cfg.adapter != nil {
		s.persist = persistence.New(cfg.adapter, cfg.name, cfg.serverID, cfg.operational.PersistenceDebounce, bus, cfg.onPersistError, logLike(logger, "persistence"))
		s.persist.Start()
	}

	s.queries = query.New(s, bus, logLike(logger, "query"))
	s.queries.Start()

	for _, def := range cfg.definitions {
		if _, err := s.DefineBucket(def); err != nil {
			return nil, fmt.Errorf("ember: open: %w", err)
		}
	}

	if cfg.watchDefinitionsFile != "" {
		stop, err := config.Watch(cfg.watchDefinitionsFile, cfg.operational.PersistenceDebounce, logLike(logger, "config"), s.reconcileDefinitionsFile(cfg.watchDefinitionsFile))
		if err != nil {
			_ = s.Close(context.Background())
			return nil, fmt.Errorf("ember: open: watch %s: %w", cfg.watchDefinitionsFile, err)
		}
		s.configWatchStop = stop
	}

	return s, nil
}

// reconcileDefinitionsFile returns the config.Watch callback that
// registers any buckets a definitions file gained since the store
// opened (or since the last reload). It never redefines or removes an
// already-defined bucket.
func (s *Store) reconcileDefinitionsFile(path string) func() {
	return func() {
		defs, err := config.LoadDefinitions(path)
		if err != nil {
			s.log.Printf("config: reload %s: %v", path, err)
			return
		}
		for _, def := range defs {
			if _, err := s.DefineBucket(def); err != nil {
				if _, exists := err.(*types.BucketAlreadyExistsError); exists {
					continue
				}
				s.log.Printf("config: reconcile bucket %q from %s: %v", def.Name, path, err)
			}
		}
	}
}

func logLike(base *log.Logger, component string) *log.Logger {
	return log.New(base.Writer(), fmt.Sprintf("[ember:%s] ", component), base.Flags())
}

// DefineBucket registers a new bucket. If the store has a persistence
// adapter configured and the bucket is persistent (BucketDefinition.
// Persistent nil or true), its prior snapshot is loaded before the worker
// starts accepting writes.
func (s *Store) DefineBucket(def types.BucketDefinition) (*Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.NewWorkerClosedError(def.Name)
	}
	if _, exists := s.buckets[def.Name]; exists {
		return nil, types.NewBucketAlreadyExistsError(def.Name)
	}

	var seed *bucket.Seed
	persistent := def.IsPersistent(s.persist != nil)
	if s.persist != nil && persistent {
		seed = s.persist.LoadSeed(context.Background(), def.Name, def.Key)
	}

	w, err := bucket.New(def, s.bus, seed, logLike(s.log, def.Name))
	if err != nil {
		return nil, err
	}
	s.buckets[def.Name] = w

	if def.TTL != nil {
		s.ttlSched.Register(def.Name, w)
	}
	if s.persist != nil && persistent {
		s.persist.Register(def.Name, w)
	}

	return &Bucket{store: s, worker: w}, nil
}

// Bucket returns a handle to an already-defined bucket.
func (s *Store) Bucket(name string) (*Bucket, error) {
	w, err := s.Worker(name)
	if err != nil {
		return nil, err
	}
	return &Bucket{store: s, worker: w}, nil
}

// Worker resolves a bucket's underlying actor. It implements both
// txn.Registry and query.Registry so the Store itself can be handed
// directly to the transaction and query subsystems.
func (s *Store) Worker(name string) (*bucket.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.buckets[name]
	if !ok {
		return nil, types.NewBucketNotDefinedError(name)
	}
	return w, nil
}

// BucketNames returns every defined bucket name, sorted.
func (s *Store) BucketNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Transact runs fn inside a multi-bucket transaction: reads inside fn see
// fn's own uncommitted writes, and every bucket touched commits atomically
// via two-phase commit, or none do. See internal/txn for the full
// coalescing, conflict, and rollback semantics.
//
// A TransactionConflict at commit time (another writer raced fn's reads)
// re-runs fn from scratch, backing off exponentially, up to the store's
// configured commit-retry-max-elapsed; any other error or a conflict that
// outlasts the backoff budget is returned to the caller immediately, with
// the write buffer already discarded.
func (s *Store) Transact(ctx context.Context, fn func(tx *txn.Context) (any, error)) (any, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.commitRetryMaxElapsed

	var result any
	err := backoff.Retry(func() error {
		r, err := txn.Run(ctx, s, fn)
		if err != nil {
			if conflict, ok := err.(*types.TransactionConflictError); ok {
				metrics.RecordTxnConflict(conflict.Bucket)
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	metrics.RecordTxnCommitted()
	return result, nil
}

// RegisterQuery adds a named reactive query function.
func (s *Store) RegisterQuery(name string, fn query.Fn) error {
	return s.queries.Register(name, fn)
}

// RunQuery evaluates a registered query once, with no subscription.
func (s *Store) RunQuery(ctx context.Context, name string, params map[string]any) (any, error) {
	return s.queries.RunQuery(ctx, name, params)
}

// Subscribe evaluates a registered query and re-evaluates it whenever a
// bucket mutation could have changed its result, invoking callback only
// when the new result differs from the last delivered one.
func (s *Store) Subscribe(ctx context.Context, name string, params map[string]any, callback query.Callback) (query.Unsubscribe, error) {
	return s.queries.Subscribe(ctx, name, params, callback)
}

// Settle blocks until every in-flight reactive re-evaluation has
// completed. Intended for deterministic tests, not production control flow.
func (s *Store) Settle() {
	s.queries.Settle()
}

// Flush forces an immediate persistence flush of every dirty bucket,
// collapsing with any concurrently in-flight flush. A no-op if the store
// has no persistence adapter configured.
func (s *Store) Flush(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	return s.persist.Flush(ctx)
}

// PurgeExpired immediately runs one TTL purge cycle across every
// TTL-bearing bucket and returns the total number of records removed.
func (s *Store) PurgeExpired(ctx context.Context) int {
	return s.ttlSched.Purge(ctx)
}

// Close flushes any pending persistence, then stops the TTL scheduler,
// query engine, and every bucket worker, in that order so a final flush
// sees every bucket's last committed state.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	workers := make([]*bucket.Worker, 0, len(s.buckets))
	for _, w := range s.buckets {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	if s.configWatchStop != nil {
		s.configWatchStop()
	}

	var shutdownErr error
	if s.persist != nil {
		shutdownErr = s.persist.Shutdown(ctx)
	}

	s.ttlSched.Stop()
	s.queries.Stop()

	for _, w := range workers {
		w.Stop()
	}

	return shutdownErr
}
