// Package persistence implements the Persistence Coordinator from spec
// section 4.8: optional load-on-create, debounced dirty-bucket
// snapshotting, and an explicit flush path, bound to an external
// StorageAdapter.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/metrics"
)

const defaultDebounce = 100 * time.Millisecond

const schemaVersion = 1

// OnError is invoked, if provided, whenever a load or a per-bucket save
// fails; a failed save never aborts its peers.
type OnError func(bucketName string, err error)

// Coordinator owns the dirty set and debounce timer described in spec
// section 5 ("the persistence coordinator owns the dirty set and
// debounce timer"). It is bound to one store and one StorageAdapter.
type Coordinator struct {
	adapter   StorageAdapter
	storeName string
	serverID  string
	debounce  time.Duration
	bus       *eventbus.Bus
	onError   OnError
	log       *log.Logger

	mu       sync.Mutex
	workers  map[string]*bucket.Worker
	dirty    map[string]bool
	timer    *time.Timer
	stopping bool

	handlerID string
	flushGrp  singleflight.Group
}

// New constructs a Coordinator. debounce <= 0 uses the spec's 100ms
// default.
func New(adapter StorageAdapter, storeName, serverID string, debounce time.Duration, bus *eventbus.Bus, onError OnError, logger *log.Logger) *Coordinator {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		adapter:   adapter,
		storeName: storeName,
		serverID:  serverID,
		debounce:  debounce,
		bus:       bus,
		onError:   onError,
		log:       logger,
		workers:   map[string]*bucket.Worker{},
		dirty:     map[string]bool{},
		handlerID: "persistence:" + storeName,
	}
}

func (c *Coordinator) blobKey(bucketName string) string {
	return c.storeName + ":bucket:" + bucketName
}

// LoadSeed fetches and decodes bucketName's persisted state, for use as a
// bucket.Seed when constructing its worker. A NotFoundError (nothing saved
// yet) yields an empty seed without calling onError; any other adapter
// error, or a blob that fails to decode, is reported via onError and also
// yields an empty seed.
func (c *Coordinator) LoadSeed(ctx context.Context, bucketName, keyField string) *bucket.Seed {
	blob, err := c.adapter.Load(ctx, c.blobKey(bucketName))
	if err != nil {
		if _, ok := err.(*NotFoundError); !ok && c.onError != nil {
			c.onError(bucketName, err)
		}
		return &bucket.Seed{}
	}
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		if c.onError != nil {
			c.onError(bucketName, fmt.Errorf("persistence: decode %s: %w", bucketName, err))
		}
		return &bucket.Seed{}
	}
	return &bucket.Seed{
		Records:              entriesToRecords(env.State.Records),
		AutoincrementCounter: env.State.AutoincrementCounter,
	}
}

// Register adds w to the set of buckets this coordinator tracks for
// dirtiness and flushing. Must be called once per persistent bucket
// before Start.
func (c *Coordinator) Register(bucketName string, w *bucket.Worker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[bucketName] = w
}

// Start subscribes to every bucket event so writes can be tracked as
// dirty and debounce-flushed.
func (c *Coordinator) Start() {
	c.bus.Subscribe("bucket.*.*", eventbus.HandlerFunc{
		IDValue:       c.handlerID,
		PriorityValue: 0,
		Fn:            c.onEvent,
	})
}

func (c *Coordinator) onEvent(_ context.Context, event eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return nil
	}
	if _, tracked := c.workers[event.Bucket]; !tracked {
		return nil
	}
	c.dirty[event.Bucket] = true
	c.armLocked()
	return nil
}

// armLocked schedules the debounce timer if one isn't already pending.
// Callers must hold c.mu.
func (c *Coordinator) armLocked() {
	if c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		_ = c.Flush(context.Background())
	})
}

// Flush snapshots every currently-dirty bucket and saves it, in
// parallel, cancelling any pending debounce timer first. Per-bucket
// failures are reported via onError and do not abort peers.
func (c *Coordinator) Flush(ctx context.Context) error {
	_, err, _ := c.flushGrp.Do("flush", func() (any, error) {
		c.doFlush(ctx)
		return nil, nil
	})
	return err
}

func (c *Coordinator) doFlush(ctx context.Context) {
	start := time.Now()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	names := make([]string, 0, len(c.dirty))
	for name := range c.dirty {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		delete(c.dirty, name)
	}
	workers := make(map[string]*bucket.Worker, len(names))
	for _, name := range names {
		workers[name] = c.workers[name]
	}
	c.mu.Unlock()

	if len(names) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		w := workers[name]
		g.Go(func() error {
			if err := c.flushOne(gctx, name, w); err != nil {
				if c.onError != nil {
					c.onError(name, err)
				} else {
					c.log.Printf("persistence: flush failed for bucket %q: %v", name, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.RecordPersistenceFlush(float64(time.Since(start).Milliseconds()))
}

func (c *Coordinator) flushOne(ctx context.Context, name string, w *bucket.Worker) error {
	snap, err := w.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	env := Envelope{
		State: State{
			Records:              recordsToEntries(snap.Records, w.KeyField()),
			AutoincrementCounter: snap.AutoincrementCounter,
		},
		Metadata: Metadata{
			PersistedAt:   time.Now().UnixMilli(),
			ServerID:      c.serverID,
			SchemaVersion: schemaVersion,
		},
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := c.adapter.Save(ctx, c.blobKey(name), blob); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	c.log.Printf("persistence: flushed bucket %q (%s, %d records)", name, humanize.Bytes(uint64(len(blob))), len(snap.Records))
	return nil
}

// Shutdown marks the coordinator stopping, marks every registered bucket
// dirty, flushes one final time, unsubscribes from the event bus, and
// closes the adapter if it implements Closer. It must be called before
// the store tears down its bucket workers, since flushing needs them
// alive to snapshot.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.stopping = true
	for name := range c.workers {
		c.dirty[name] = true
	}
	c.mu.Unlock()

	err := c.Flush(ctx)
	c.bus.Unregister(c.handlerID)

	if closer, ok := c.adapter.(Closer); ok {
		if cerr := closer.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
