package bucket

import (
	"context"

	"github.com/emberdb/ember/internal/types"
)

// KeyField returns the name of the bucket's primary-key field.
func (w *Worker) KeyField() string { return w.def.Key }

// ReserveAutoincrement atomically consumes and returns the next
// autoincrement counter value, used by the Transaction Context to build a
// synthetic insert record for a generated autoincrement field without
// going through a full commit.
func (w *Worker) ReserveAutoincrement(ctx context.Context) (int64, error) {
	return submit(ctx, w, func() (int64, error) {
		return w.nextCounter(), nil
	})
}

// PrepareInsert builds a synthetic, fully-validated record for a
// transactional insert without touching the actor's record map; it is
// used by the Transaction Context to stage a Write Buffer entry. Any
// autoincrement field reserves a real counter value immediately, since the
// counter is exclusively actor-owned and cannot be "tentatively" assigned.
func (w *Worker) PrepareInsert(ctx context.Context, input map[string]any) (types.Record, error) {
	var reserveErr error
	record, err := w.validator.PrepareInsert(types.RecordFromMap(input), func() int64 {
		v, err := w.ReserveAutoincrement(ctx)
		if err != nil {
			reserveErr = err
		}
		return v
	})
	if reserveErr != nil {
		return nil, reserveErr
	}
	return record, err
}

// PrepareUpdate builds a synthetic, fully-validated merged record for a
// transactional update, given the caller's current view of existing
// (either the real record or the transaction's own overlay).
func (w *Worker) PrepareUpdate(existing types.Record, changes map[string]any) (types.Record, error) {
	return w.validator.PrepareUpdate(existing, types.RecordFromMap(changes))
}
