package bucket

import (
	"context"
	"sort"

	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/metrics"
	"github.com/emberdb/ember/internal/types"
)

// Insert validates, generates, indexes, and stores a new record, evicting
// the oldest records first if maxSize would otherwise be exceeded. Returns
// the fully-merged stored record.
func (w *Worker) Insert(ctx context.Context, input map[string]any) (types.Record, error) {
	return submit(ctx, w, func() (types.Record, error) {
		record, err := w.validator.PrepareInsert(types.RecordFromMap(input), w.nextCounter)
		if err != nil {
			return nil, err
		}
		if err := w.index.ValidateInsert(record); err != nil {
			return nil, err
		}

		if w.hasTTL {
			if _, has := record.ExpiresAt(); !has {
				record["_expiresAt"] = types.Int(record.CreatedAt() + w.ttlMs)
			}
		}

		if w.def.MaxSize > 0 {
			w.evictUntilRoom(ctx)
		}

		key := record.PrimaryKey(w.def.Key)
		w.records[key] = record
		w.order = append(w.order, key)
		w.index.AddRecord(key, record)

		metrics.RecordInserted(w.name)
		w.publish(ctx, eventbus.Inserted, key, record, nil)
		return record, nil
	})
}

// Get returns the record stored at key, or nil if absent.
func (w *Worker) Get(ctx context.Context, key string) (types.Record, error) {
	return submit(ctx, w, func() (types.Record, error) {
		rec, ok := w.records[key]
		if !ok {
			return nil, nil
		}
		return rec, nil
	})
}

// Update applies changes to the record at key, failing RecordNotFound if
// absent. Returns the merged, re-validated record.
func (w *Worker) Update(ctx context.Context, key string, changes map[string]any) (types.Record, error) {
	return submit(ctx, w, func() (types.Record, error) {
		existing, ok := w.records[key]
		if !ok {
			return nil, types.NewRecordNotFoundError(w.name, key)
		}

		newRecord, err := w.validator.PrepareUpdate(existing, types.RecordFromMap(changes))
		if err != nil {
			return nil, err
		}
		if err := w.index.ValidateUpdate(key, existing, newRecord); err != nil {
			return nil, err
		}

		w.index.UpdateRecord(key, existing, newRecord)
		w.records[key] = newRecord

		metrics.RecordUpdated(w.name)
		w.publish(ctx, eventbus.Updated, key, newRecord, existing)
		return newRecord, nil
	})
}

// Delete removes the record at key. Absent keys are a no-op (idempotent).
func (w *Worker) Delete(ctx context.Context, key string) error {
	_, err := submit(ctx, w, func() (struct{}, error) {
		existing, ok := w.records[key]
		if !ok {
			return struct{}{}, nil
		}
		w.removeKey(ctx, key, existing, true)
		return struct{}{}, nil
	})
	return err
}

// removeKey removes key from records/order/index and, if publish is true,
// emits a deleted event. Must be called from inside the run loop.
func (w *Worker) removeKey(ctx context.Context, key string, record types.Record, publish bool) {
	w.index.RemoveRecord(key, record)
	delete(w.records, key)
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if publish {
		metrics.RecordDeleted(w.name)
		w.publish(ctx, eventbus.Deleted, key, nil, record)
	}
}

// Clear removes every record and resets indexes. Per spec section 4.3, no
// per-record deleted events are published for a clear.
func (w *Worker) Clear(ctx context.Context) error {
	_, err := submit(ctx, w, func() (struct{}, error) {
		w.records = make(map[string]types.Record)
		w.order = nil
		w.index.Reset()
		return struct{}{}, nil
	})
	return err
}

// evictUntilRoom removes the oldest records (ascending _createdAt, ties
// by _updatedAt then insertion order) one at a time until inserting one
// more record would not exceed maxSize. Must be called from inside the
// run loop, before the new record is stored.
func (w *Worker) evictUntilRoom(ctx context.Context) {
	for len(w.records) >= w.def.MaxSize {
		oldest := w.oldestKey()
		if oldest == "" {
			return
		}
		rec := w.records[oldest]
		w.removeKey(ctx, oldest, rec, false)
		metrics.RecordEvicted(w.name)
		w.publish(ctx, eventbus.Deleted, oldest, nil, rec)
	}
}

func (w *Worker) oldestKey() string {
	if len(w.order) == 0 {
		return ""
	}
	keys := make([]string, len(w.order))
	copy(keys, w.order)
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := w.records[keys[i]], w.records[keys[j]]
		if ri.CreatedAt() != rj.CreatedAt() {
			return ri.CreatedAt() < rj.CreatedAt()
		}
		return ri.UpdatedAt() < rj.UpdatedAt()
	})
	return keys[0]
}

// PurgeExpired deletes every record whose _expiresAt has passed, publishing
// a deleted event per record, and returns the count removed.
func (w *Worker) PurgeExpired(ctx context.Context) (int, error) {
	return submit(ctx, w, func() (int, error) {
		now := nowMs()
		var expired []string
		for key, rec := range w.records {
			if exp, has := rec.ExpiresAt(); has && exp <= now {
				expired = append(expired, key)
			}
		}
		sort.Strings(expired)
		for _, key := range expired {
			rec := w.records[key]
			w.removeKey(ctx, key, rec, true)
		}
		return len(expired), nil
	})
}
