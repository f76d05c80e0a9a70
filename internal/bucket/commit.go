package bucket

import (
	"context"

	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/types"
)

// Snapshot is a point-in-time atomic copy of a bucket's records and
// counter, suitable for persistence.
type Snapshot struct {
	Records              []types.Record
	AutoincrementCounter int64
}

// Snapshot returns an atomic copy of the bucket's current state.
func (w *Worker) Snapshot(ctx context.Context) (Snapshot, error) {
	return submit(ctx, w, func() (Snapshot, error) {
		keys := w.sortedKeys()
		recs := make([]types.Record, 0, len(keys))
		for _, k := range keys {
			recs = append(recs, w.records[k].Clone())
		}
		return Snapshot{Records: recs, AutoincrementCounter: w.counter}, nil
	})
}

// CommitBatch runs the two-phase commit protocol from spec section 4.3:
// phase one validates every op without mutating anything; phase two
// applies every op, collecting the events to publish and the undo list to
// roll back with. Events are returned, not published — the caller
// publishes them only once every bucket in the transaction has committed.
func (w *Worker) CommitBatch(ctx context.Context, ops []Op) ([]eventbus.Event, []UndoOp, error) {
	type result struct {
		events []eventbus.Event
		undo   []UndoOp
	}
	r, err := submit(ctx, w, func() (result, error) {
		if err := w.validateBatch(ops); err != nil {
			return result{}, err
		}
		events, undo := w.applyBatch(ops)
		return result{events: events, undo: undo}, nil
	})
	return r.events, r.undo, err
}

func (w *Worker) validateBatch(ops []Op) error {
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			if _, exists := w.records[op.Key]; exists {
				return types.NewTransactionConflictError(w.name, op.Key, "key already exists")
			}
			if err := w.index.ValidateInsert(op.Record); err != nil {
				return err
			}
		case OpUpdate:
			current, exists := w.records[op.Key]
			if !exists || current.Version() != op.ExpectedVersion {
				return types.NewTransactionConflictError(w.name, op.Key, "version mismatch")
			}
			if err := w.index.ValidateUpdate(op.Key, current, op.Record); err != nil {
				return err
			}
		case OpDelete:
			if current, exists := w.records[op.Key]; exists {
				if current.Version() != op.ExpectedVersion {
					return types.NewTransactionConflictError(w.name, op.Key, "version mismatch")
				}
			}
			// absent key: idempotent no-op, nothing to validate
		}
	}
	return nil
}

func (w *Worker) applyBatch(ops []Op) ([]eventbus.Event, []UndoOp) {
	var events []eventbus.Event
	var undo []UndoOp

	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			w.records[op.Key] = op.Record
			w.order = append(w.order, op.Key)
			w.index.AddRecord(op.Key, op.Record)
			undo = append(undo, UndoOp{Kind: UndoInsert, Key: op.Key})
			events = append(events, w.buildEvent(eventbus.Inserted, op.Key, op.Record, nil))

		case OpUpdate:
			old := w.records[op.Key]
			w.index.UpdateRecord(op.Key, old, op.Record)
			w.records[op.Key] = op.Record
			undo = append(undo, UndoOp{Kind: UndoUpdate, Key: op.Key, Record: old})
			events = append(events, w.buildEvent(eventbus.Updated, op.Key, op.Record, old))

		case OpDelete:
			old, exists := w.records[op.Key]
			if !exists {
				continue
			}
			w.index.RemoveRecord(op.Key, old)
			delete(w.records, op.Key)
			for i, k := range w.order {
				if k == op.Key {
					w.order = append(w.order[:i], w.order[i+1:]...)
					break
				}
			}
			undo = append(undo, UndoOp{Kind: UndoDelete, Key: op.Key, Record: old})
			events = append(events, w.buildEvent(eventbus.Deleted, op.Key, nil, old))
		}
	}
	return events, undo
}

func (w *Worker) buildEvent(eventType eventbus.EventType, key string, record, oldRecord types.Record) eventbus.Event {
	var rec, old map[string]any
	if record != nil {
		rec = record.ToMap()
	}
	if oldRecord != nil {
		old = oldRecord.ToMap()
	}
	return eventbus.Event{
		Topic:     eventbus.BuildTopic(w.name, eventType),
		Bucket:    w.name,
		Type:      eventType,
		Key:       key,
		Record:    rec,
		OldRecord: old,
	}
}

// ApplyUndo applies an undo list as returned by CommitBatch (chronological
// order) from its last op back to its first, so changes are reverted in
// reverse order; failures are logged and ignored since rollback is
// best-effort.
func (w *Worker) ApplyUndo(ctx context.Context, undo []UndoOp) error {
	_, err := submit(ctx, w, func() (struct{}, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			u := undo[i]
			switch u.Kind {
			case UndoInsert:
				if rec, ok := w.records[u.Key]; ok {
					w.index.RemoveRecord(u.Key, rec)
					delete(w.records, u.Key)
					for i, k := range w.order {
						if k == u.Key {
							w.order = append(w.order[:i], w.order[i+1:]...)
							break
						}
					}
				}
			case UndoUpdate:
				if current, ok := w.records[u.Key]; ok {
					w.index.UpdateRecord(u.Key, current, u.Record)
					w.records[u.Key] = u.Record
				} else {
					w.log.Printf("applyUndo: key %q missing during update rollback in bucket %q", u.Key, w.name)
				}
			case UndoDelete:
				if _, exists := w.records[u.Key]; !exists {
					w.records[u.Key] = u.Record
					w.order = append(w.order, u.Key)
					w.index.AddRecord(u.Key, u.Record)
				}
			}
		}
		return struct{}{}, nil
	})
	return err
}

// Bus returns the shared event bus this worker publishes to, so the
// Transaction Context can publish a cross-bucket commit's events itself
// once every participating bucket has committed successfully.
func (w *Worker) Bus() *eventbus.Bus {
	return w.bus
}
