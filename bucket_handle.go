package ember

import (
	"context"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/types"
)

// Filter is a set of field-equality conditions for Where/FindOne/Count.
type Filter = bucket.Filter

// Bucket is a handle to one defined bucket's public CRUD and read API. It
// holds no state of its own beyond a reference to the owning store and
// worker; multiple handles for the same bucket are interchangeable.
type Bucket struct {
	store  *Store
	worker *bucket.Worker
}

// Name returns the bucket's name.
func (b *Bucket) Name() string { return b.worker.Name() }

// Insert validates input against the bucket's schema, fills in
// generated/default/meta fields, and stores the new record.
func (b *Bucket) Insert(ctx context.Context, input Record) (Record, error) {
	rec, err := b.worker.Insert(ctx, input)
	if err != nil {
		return nil, err
	}
	return rec.ToMap(), nil
}

// Get returns the record at key, or (nil, nil) if absent.
func (b *Bucket) Get(ctx context.Context, key string) (Record, error) {
	rec, err := b.worker.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.ToMap(), nil
}

// Update applies changes to the record at key and returns the merged,
// re-validated record. Fails with a RecordNotFound error if key is absent.
func (b *Bucket) Update(ctx context.Context, key string, changes Record) (Record, error) {
	rec, err := b.worker.Update(ctx, key, changes)
	if err != nil {
		return nil, err
	}
	return rec.ToMap(), nil
}

// Delete removes the record at key. Deleting an absent key is a no-op.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	return b.worker.Delete(ctx, key)
}

// Clear removes every record in the bucket.
func (b *Bucket) Clear(ctx context.Context) error {
	return b.worker.Clear(ctx)
}

// All returns every record in the bucket, in ascending key order.
func (b *Bucket) All(ctx context.Context) ([]Record, error) {
	return toRecords(b.worker.All(ctx))
}

// Where returns every record matching f, in ascending key order.
func (b *Bucket) Where(ctx context.Context, f Filter) ([]Record, error) {
	return toRecords(b.worker.Where(ctx, f))
}

// FindOne returns the first record matching f in ascending key order, or
// (nil, nil) if none match.
func (b *Bucket) FindOne(ctx context.Context, f Filter) (Record, error) {
	rec, err := b.worker.FindOne(ctx, f)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.ToMap(), nil
}

// Count returns the number of records matching f.
func (b *Bucket) Count(ctx context.Context, f Filter) (int, error) {
	return b.worker.Count(ctx, f)
}

// First returns up to n records in ascending key order.
func (b *Bucket) First(ctx context.Context, n int) ([]Record, error) {
	return toRecords(b.worker.First(ctx, n))
}

// Last returns the last n records by key, in ascending key order.
func (b *Bucket) Last(ctx context.Context, n int) ([]Record, error) {
	return toRecords(b.worker.Last(ctx, n))
}

// Paginate returns up to limit records with key greater than afterKey, in
// ascending key order.
func (b *Bucket) Paginate(ctx context.Context, afterKey string, limit int) ([]Record, error) {
	return toRecords(b.worker.Paginate(ctx, afterKey, limit))
}

// Sum returns the sum of field across records matching f.
func (b *Bucket) Sum(ctx context.Context, field string, f Filter) (float64, error) {
	return b.worker.Sum(ctx, field, f)
}

// Avg returns the average of field across records matching f.
func (b *Bucket) Avg(ctx context.Context, field string, f Filter) (float64, error) {
	return b.worker.Avg(ctx, field, f)
}

// Min returns the minimum value of field across records matching f, and
// false if no matching record has a value for field.
func (b *Bucket) Min(ctx context.Context, field string, f Filter) (float64, bool, error) {
	return b.worker.Min(ctx, field, f)
}

// Max returns the maximum value of field across records matching f, and
// false if no matching record has a value for field.
func (b *Bucket) Max(ctx context.Context, field string, f Filter) (float64, bool, error) {
	return b.worker.Max(ctx, field, f)
}

// PurgeExpired removes every record past its _expiresAt and returns the
// count removed. Normally driven by the store's TTL scheduler; exposed
// directly for tests and manual triggering.
func (b *Bucket) PurgeExpired(ctx context.Context) (int, error) {
	return b.worker.PurgeExpired(ctx)
}

func toRecords(recs []types.Record, err error) ([]Record, error) {
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToMap())
	}
	return out, nil
}
