package query

import (
	"context"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/types"
)

// Registry is the subset of the bucket registry a query evaluation needs:
// looking up a live worker by bucket name.
type Registry interface {
	Worker(name string) (*bucket.Worker, error)
}

// Context is the query context handed to a registered function: `bucket`
// returns a read-only proxy that records a dependency on every read.
type Context struct {
	registry Registry
	deps     *dependencies
}

func newContext(registry Registry, deps *dependencies) *Context {
	return &Context{registry: registry, deps: deps}
}

// Bucket returns a read-only proxy over name. Accessing the proxy without
// performing a read records no dependency.
func (c *Context) Bucket(name string) *BucketProxy {
	return &BucketProxy{name: name, registry: c.registry, deps: c.deps}
}

// BucketProxy is the read-only view spec section 4.6 calls for: every
// read method records a dependency into the evaluation's dependency set
// before delegating to the real bucket worker.
type BucketProxy struct {
	name     string
	registry Registry
	deps     *dependencies
}

func (p *BucketProxy) worker() (*bucket.Worker, error) {
	return p.registry.Worker(p.name)
}

func (p *BucketProxy) Get(ctx context.Context, key string) (map[string]any, error) {
	p.deps.addRecord(p.name, key)
	w, err := p.worker()
	if err != nil {
		return nil, err
	}
	rec, err := w.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.ToMap(), nil
}

func (p *BucketProxy) All(ctx context.Context) ([]map[string]any, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return nil, err
	}
	recs, err := w.All(ctx)
	if err != nil {
		return nil, err
	}
	return toMaps(recs), nil
}

func (p *BucketProxy) Where(ctx context.Context, f bucket.Filter) ([]map[string]any, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return nil, err
	}
	recs, err := w.Where(ctx, f)
	if err != nil {
		return nil, err
	}
	return toMaps(recs), nil
}

func (p *BucketProxy) FindOne(ctx context.Context, f bucket.Filter) (map[string]any, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return nil, err
	}
	rec, err := w.FindOne(ctx, f)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.ToMap(), nil
}

func (p *BucketProxy) Count(ctx context.Context, f bucket.Filter) (int, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return 0, err
	}
	return w.Count(ctx, f)
}

func (p *BucketProxy) First(ctx context.Context, n int) ([]map[string]any, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return nil, err
	}
	recs, err := w.First(ctx, n)
	if err != nil {
		return nil, err
	}
	return toMaps(recs), nil
}

func (p *BucketProxy) Last(ctx context.Context, n int) ([]map[string]any, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return nil, err
	}
	recs, err := w.Last(ctx, n)
	if err != nil {
		return nil, err
	}
	return toMaps(recs), nil
}

func (p *BucketProxy) Paginate(ctx context.Context, afterKey string, limit int) ([]map[string]any, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return nil, err
	}
	recs, err := w.Paginate(ctx, afterKey, limit)
	if err != nil {
		return nil, err
	}
	return toMaps(recs), nil
}

func (p *BucketProxy) Sum(ctx context.Context, field string, f bucket.Filter) (float64, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return 0, err
	}
	return w.Sum(ctx, field, f)
}

func (p *BucketProxy) Avg(ctx context.Context, field string, f bucket.Filter) (float64, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return 0, err
	}
	return w.Avg(ctx, field, f)
}

func (p *BucketProxy) Min(ctx context.Context, field string, f bucket.Filter) (float64, bool, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return 0, false, err
	}
	return w.Min(ctx, field, f)
}

func (p *BucketProxy) Max(ctx context.Context, field string, f bucket.Filter) (float64, bool, error) {
	p.deps.addBucket(p.name)
	w, err := p.worker()
	if err != nil {
		return 0, false, err
	}
	return w.Max(ctx, field, f)
}

func toMaps(recs []types.Record) []map[string]any {
	out := make([]map[string]any, len(recs))
	for i, r := range recs {
		out[i] = r.ToMap()
	}
	return out
}
