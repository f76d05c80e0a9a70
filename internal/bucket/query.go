package bucket

import (
	"context"
	"sort"

	"github.com/emberdb/ember/internal/types"
)

// Filter is a set of field-equality conditions; Where/FindOne/Count use an
// index on any matching field to narrow candidates before a linear
// strict-equality check of the rest, per spec section 4.3.
type Filter map[string]any

// Matches reports whether r satisfies every field-equality condition in f;
// exported so the Transaction Context can apply the same matching rules to
// its read-your-own-writes overlay.
func (f Filter) Matches(r types.Record) bool {
	for field, want := range f {
		val, ok := r[field]
		if !ok {
			return false
		}
		if !types.Equal(val, types.FromAny(want)) {
			return false
		}
	}
	return true
}

// candidateKeys returns the smallest reachable candidate set for a filter:
// an index hit on the first indexed field present in the filter, or nil
// (meaning "full scan") if no filter field is indexed.
func (w *Worker) candidateKeys(f Filter) ([]string, bool) {
	for _, field := range w.index.IndexedFields() {
		want, ok := f[field]
		if !ok {
			continue
		}
		keys, hasIndex := w.index.FindByIndex(field, types.FromAny(want))
		if hasIndex {
			return keys, true
		}
	}
	return nil, false
}

func (w *Worker) scan(f Filter) []types.Record {
	var out []types.Record
	if keys, narrowed := w.candidateKeys(f); narrowed {
		for _, k := range keys {
			if rec, ok := w.records[k]; ok && f.Matches(rec) {
				out = append(out, rec)
			}
		}
		return out
	}
	keys := w.sortedKeys()
	for _, k := range keys {
		rec := w.records[k]
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (w *Worker) sortedKeys() []string {
	keys := make([]string, 0, len(w.records))
	for k := range w.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns every record in primary-key-sorted order.
func (w *Worker) All(ctx context.Context) ([]types.Record, error) {
	return submit(ctx, w, func() ([]types.Record, error) {
		keys := w.sortedKeys()
		out := make([]types.Record, 0, len(keys))
		for _, k := range keys {
			out = append(out, w.records[k])
		}
		return out, nil
	})
}

// Where returns every record matching f, index-assisted when possible.
func (w *Worker) Where(ctx context.Context, f Filter) ([]types.Record, error) {
	return submit(ctx, w, func() ([]types.Record, error) {
		return w.scan(f), nil
	})
}

// FindOne returns the first matching record (by sorted key) or nil.
func (w *Worker) FindOne(ctx context.Context, f Filter) (types.Record, error) {
	return submit(ctx, w, func() (types.Record, error) {
		results := w.scan(f)
		if len(results) == 0 {
			return nil, nil
		}
		best := results[0]
		for _, r := range results[1:] {
			if r.PrimaryKey(w.def.Key) < best.PrimaryKey(w.def.Key) {
				best = r
			}
		}
		return best, nil
	})
}

// Count returns the number of records matching f.
func (w *Worker) Count(ctx context.Context, f Filter) (int, error) {
	return submit(ctx, w, func() (int, error) {
		return len(w.scan(f)), nil
	})
}

// First returns up to n records in sorted-key order from the start.
func (w *Worker) First(ctx context.Context, n int) ([]types.Record, error) {
	return submit(ctx, w, func() ([]types.Record, error) {
		keys := w.sortedKeys()
		if n < len(keys) {
			keys = keys[:n]
		}
		out := make([]types.Record, 0, len(keys))
		for _, k := range keys {
			out = append(out, w.records[k])
		}
		return out, nil
	})
}

// Last returns up to n records in sorted-key order from the end, still
// returned in ascending key order.
func (w *Worker) Last(ctx context.Context, n int) ([]types.Record, error) {
	return submit(ctx, w, func() ([]types.Record, error) {
		keys := w.sortedKeys()
		if n < len(keys) {
			keys = keys[len(keys)-n:]
		}
		out := make([]types.Record, 0, len(keys))
		for _, k := range keys {
			out = append(out, w.records[k])
		}
		return out, nil
	})
}

// Paginate returns up to limit records whose key sorts strictly after
// afterKey ("" means from the start).
func (w *Worker) Paginate(ctx context.Context, afterKey string, limit int) ([]types.Record, error) {
	return submit(ctx, w, func() ([]types.Record, error) {
		keys := w.sortedKeys()
		var out []types.Record
		for _, k := range keys {
			if afterKey != "" && k <= afterKey {
				continue
			}
			if len(out) >= limit {
				break
			}
			out = append(out, w.records[k])
		}
		return out, nil
	})
}

// Sum, Avg, Min, Max aggregate a numeric field across records matching an
// optional filter (nil matches everything); non-numeric values are
// skipped silently.

func (w *Worker) Sum(ctx context.Context, field string, f Filter) (float64, error) {
	return submit(ctx, w, func() (float64, error) {
		var total float64
		for _, r := range w.scan(f) {
			if v, ok := r[field]; ok && v.IsNumber() {
				total += v.AsFloat()
			}
		}
		return total, nil
	})
}

func (w *Worker) Avg(ctx context.Context, field string, f Filter) (float64, error) {
	return submit(ctx, w, func() (float64, error) {
		var total float64
		var count int
		for _, r := range w.scan(f) {
			if v, ok := r[field]; ok && v.IsNumber() {
				total += v.AsFloat()
				count++
			}
		}
		if count == 0 {
			return 0, nil
		}
		return total / float64(count), nil
	})
}

func (w *Worker) Min(ctx context.Context, field string, f Filter) (float64, bool, error) {
	type minResult struct {
		val   float64
		found bool
	}
	r, err := submit(ctx, w, func() (minResult, error) {
		var best float64
		found := false
		for _, rec := range w.scan(f) {
			if v, ok := rec[field]; ok && v.IsNumber() {
				if !found || v.AsFloat() < best {
					best = v.AsFloat()
					found = true
				}
			}
		}
		return minResult{best, found}, nil
	})
	return r.val, r.found, err
}

func (w *Worker) Max(ctx context.Context, field string, f Filter) (float64, bool, error) {
	type maxResult struct {
		val   float64
		found bool
	}
	r, err := submit(ctx, w, func() (maxResult, error) {
		var best float64
		found := false
		for _, rec := range w.scan(f) {
			if v, ok := rec[field]; ok && v.IsNumber() {
				if !found || v.AsFloat() > best {
					best = v.AsFloat()
					found = true
				}
			}
		}
		return maxResult{best, found}, nil
	})
	return r.val, r.found, err
}
