package txn

import (
	"context"
	"sort"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/types"
)

// Registry is the subset of the bucket registry a Transaction Context
// needs: looking up a live worker by bucket name.
type Registry interface {
	Worker(name string) (*bucket.Worker, error)
}

// Fn is a transaction callback; its return value becomes Run's return
// value on a successful commit.
type Fn func(tx *Context) (any, error)

// Context is the Transaction Context from spec section 4.5: a
// single-writer view across multiple buckets that buffers every write
// until Commit, and serves reads with read-your-own-writes semantics
// against that buffer.
type Context struct {
	registry Registry
	buffer   *WriteBuffer
}

func newContext(registry Registry) *Context {
	return &Context{registry: registry, buffer: NewWriteBuffer()}
}

func (tx *Context) worker(bucketName string) (*bucket.Worker, error) {
	return tx.registry.Worker(bucketName)
}

// Get returns the record at bucketName/key as the transaction currently
// sees it: a buffered insert/update, a buffered-deleted nil, or the
// bucket's real stored record.
func (tx *Context) Get(ctx context.Context, bucketName, key string) (map[string]any, error) {
	if rec, state := tx.buffer.Overlay(bucketName, key); state != OverlayNotBuffered {
		if state == OverlayDeleted {
			return nil, nil
		}
		return rec.ToMap(), nil
	}
	w, err := tx.worker(bucketName)
	if err != nil {
		return nil, err
	}
	rec, err := w.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.ToMap(), nil
}

// overlaidView returns bucketName's real records overlaid with this
// transaction's buffered inserts/updates and with buffered deletes
// removed, keyed by primary key.
func (tx *Context) overlaidView(ctx context.Context, bucketName string) (map[string]types.Record, error) {
	w, err := tx.worker(bucketName)
	if err != nil {
		return nil, err
	}
	real, err := w.All(ctx)
	if err != nil {
		return nil, err
	}
	view := make(map[string]types.Record, len(real))
	for _, r := range real {
		view[r.PrimaryKey(w.KeyField())] = r
	}
	upserts, deleted := tx.buffer.OverlayAll(bucketName)
	for k := range deleted {
		delete(view, k)
	}
	for k, r := range upserts {
		view[k] = r
	}
	return view, nil
}

// All returns every record bucketName holds as this transaction sees it,
// in primary-key-sorted order.
func (tx *Context) All(ctx context.Context, bucketName string) ([]map[string]any, error) {
	return tx.Where(ctx, bucketName, nil)
}

// Where returns every record in bucketName matching f as this transaction
// sees it.
func (tx *Context) Where(ctx context.Context, bucketName string, f bucket.Filter) ([]map[string]any, error) {
	view, err := tx.overlaidView(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		if f == nil || f.Matches(view[k]) {
			out = append(out, view[k].ToMap())
		}
	}
	return out, nil
}

// FindOne returns the first (lowest-key) record in bucketName matching f
// as this transaction sees it, or nil.
func (tx *Context) FindOne(ctx context.Context, bucketName string, f bucket.Filter) (map[string]any, error) {
	results, err := tx.Where(ctx, bucketName, f)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// Count returns the number of records in bucketName matching f as this
// transaction sees it.
func (tx *Context) Count(ctx context.Context, bucketName string, f bucket.Filter) (int, error) {
	results, err := tx.Where(ctx, bucketName, f)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Insert stages a validated insert into the Write Buffer; nothing is
// visible to other transactions or the bucket itself until Commit.
func (tx *Context) Insert(ctx context.Context, bucketName string, input map[string]any) (map[string]any, error) {
	w, err := tx.worker(bucketName)
	if err != nil {
		return nil, err
	}
	record, err := w.PrepareInsert(ctx, input)
	if err != nil {
		return nil, err
	}
	key := record.PrimaryKey(w.KeyField())
	if err := tx.buffer.Insert(bucketName, key, record); err != nil {
		return nil, err
	}
	return record.ToMap(), nil
}

// Update stages a validated merge-update into the Write Buffer, reading
// the transaction's current view of the record (buffered or real) as the
// merge base and carrying the pre-transaction version for the optimistic
// check at Commit.
func (tx *Context) Update(ctx context.Context, bucketName, key string, changes map[string]any) (map[string]any, error) {
	w, err := tx.worker(bucketName)
	if err != nil {
		return nil, err
	}

	var existing types.Record
	var expectedVersion int64
	if rec, state := tx.buffer.Overlay(bucketName, key); state == OverlayRecord {
		existing = rec
		expectedVersion = rec.Version()
	} else if state == OverlayDeleted {
		return nil, types.NewRecordNotFoundError(bucketName, key)
	} else {
		real, err := w.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if real == nil {
			return nil, types.NewRecordNotFoundError(bucketName, key)
		}
		existing = real
		expectedVersion = real.Version()
	}

	merged, err := w.PrepareUpdate(existing, changes)
	if err != nil {
		return nil, err
	}
	if err := tx.buffer.Update(bucketName, key, merged, existing, expectedVersion); err != nil {
		return nil, err
	}
	return merged.ToMap(), nil
}

// Delete stages a delete into the Write Buffer. Deleting a key with no
// buffered or real record is a silent no-op, matching the bucket's own
// idempotent delete semantics.
func (tx *Context) Delete(ctx context.Context, bucketName, key string) error {
	w, err := tx.worker(bucketName)
	if err != nil {
		return err
	}

	var existing types.Record
	var expectedVersion int64
	if rec, state := tx.buffer.Overlay(bucketName, key); state == OverlayRecord {
		existing = rec
		expectedVersion = rec.Version()
	} else if state == OverlayDeleted {
		return nil
	} else {
		real, err := w.Get(ctx, key)
		if err != nil {
			return err
		}
		if real == nil {
			return nil
		}
		existing = real
		expectedVersion = real.Version()
	}

	return tx.buffer.Delete(bucketName, key, existing, expectedVersion)
}

// committedBucket records a successful per-bucket commit so it can be
// rolled back if a later bucket in the same transaction fails.
type committedBucket struct {
	worker *bucket.Worker
	undo   []bucket.UndoOp
}

// commit runs the two-phase commit across every dirty bucket in
// deterministic (sorted) order, rolling back already-committed buckets
// via ApplyUndo if any later bucket fails, and publishes every collected
// event only once every bucket has committed.
func (tx *Context) commit(ctx context.Context) error {
	names := tx.buffer.DirtyBucketNames()
	if len(names) == 0 {
		return nil
	}

	var done []committedBucket
	var allEvents []eventbus.Event

	for _, name := range names {
		w, err := tx.worker(name)
		if err != nil {
			tx.rollback(ctx, done)
			return err
		}
		events, undo, err := w.CommitBatch(ctx, tx.buffer.Ops(name))
		if err != nil {
			tx.rollback(ctx, done)
			return err
		}
		done = append(done, committedBucket{worker: w, undo: undo})
		allEvents = append(allEvents, events...)
	}

	for _, e := range allEvents {
		if len(done) == 0 {
			break
		}
		done[0].worker.Bus().Publish(ctx, e)
	}
	return nil
}

func (tx *Context) rollback(ctx context.Context, done []committedBucket) {
	for i := len(done) - 1; i >= 0; i-- {
		_ = done[i].worker.ApplyUndo(ctx, done[i].undo)
	}
}

// Run executes fn inside a fresh Transaction Context against registry: if
// fn returns an error, the Write Buffer is discarded with no worker calls
// at all; otherwise every buffered mutation commits atomically across
// buckets (with automatic rollback of any already-committed bucket on
// failure) and fn's return value is passed back to the caller.
func Run(ctx context.Context, registry Registry, fn Fn) (any, error) {
	tx := newContext(registry)
	result, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}
