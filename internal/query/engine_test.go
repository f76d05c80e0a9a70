package query_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/query"
	"github.com/emberdb/ember/internal/types"
)

type fakeRegistry struct {
	workers map[string]*bucket.Worker
}

func (r *fakeRegistry) Worker(name string) (*bucket.Worker, error) {
	w, ok := r.workers[name]
	if !ok {
		return nil, types.NewBucketNotDefinedError(name)
	}
	return w, nil
}

func testLogger() *log.Logger { return log.New(os.Stderr, "[query-test] ", 0) }

func itemsDef() types.BucketDefinition {
	return types.BucketDefinition{
		Name: "items",
		Key:  "id",
		Schema: types.Schema{
			"id":    {Type: types.TypeString, Generated: types.GeneratedUUID},
			"price": {Type: types.TypeNumber, Required: true},
		},
	}
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	bus := eventbus.New()
	eng := query.New(&fakeRegistry{workers: map[string]*bucket.Worker{}}, bus, testLogger())

	fn := func(ctx context.Context, qc *query.Context, params map[string]any) (any, error) {
		return 1, nil
	}
	require.NoError(t, eng.Register("total", fn))
	err := eng.Register("total", fn)
	require.Error(t, err)
	_, ok := err.(*types.QueryAlreadyDefinedError)
	assert.True(t, ok)
}

func TestRunQueryDoesNotSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	w, err := bucket.New(itemsDef(), bus, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	reg := &fakeRegistry{workers: map[string]*bucket.Worker{"items": w}}
	eng := query.New(reg, bus, testLogger())
	eng.Start()
	defer eng.Stop()

	require.NoError(t, eng.Register("itemCount", func(ctx context.Context, qc *query.Context, params map[string]any) (any, error) {
		items, err := qc.Bucket("items").All(ctx)
		if err != nil {
			return nil, err
		}
		return len(items), nil
	}))

	result, err := eng.RunQuery(ctx, "itemCount", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result)

	w.Insert(ctx, map[string]any{"price": 5.0})
	eng.Settle()
}

func TestSubscriptionFiresOnlyWhenResultChanges(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	w, err := bucket.New(itemsDef(), bus, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	reg := &fakeRegistry{workers: map[string]*bucket.Worker{"items": w}}
	eng := query.New(reg, bus, testLogger())
	eng.Start()
	defer eng.Stop()

	require.NoError(t, eng.Register("totalValue", func(ctx context.Context, qc *query.Context, params map[string]any) (any, error) {
		sum, err := qc.Bucket("items").Sum(ctx, "price", nil)
		if err != nil {
			return nil, err
		}
		return sum, nil
	}))

	var results []any
	unsub, err := eng.Subscribe(ctx, "totalValue", nil, func(result any, err error) {
		results = append(results, result)
	})
	require.NoError(t, err)
	defer unsub()

	rec, err := w.Insert(ctx, map[string]any{"price": 10.0})
	require.NoError(t, err)
	eng.Settle()
	require.Len(t, results, 1)
	assert.Equal(t, 10.0, results[0])

	// Re-setting price to the same value re-evaluates the query, but the sum
	// stays 10, so the callback must not fire again.
	_, err = w.Update(ctx, rec.PrimaryKey("id"), map[string]any{"price": 10.0})
	require.NoError(t, err)
	eng.Settle()
	assert.Len(t, results, 1, "re-evaluation with an unchanged result must not invoke the callback")
}

func TestUnsubscribeStopsFutureCallbacks(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	w, err := bucket.New(itemsDef(), bus, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	reg := &fakeRegistry{workers: map[string]*bucket.Worker{"items": w}}
	eng := query.New(reg, bus, testLogger())
	eng.Start()
	defer eng.Stop()

	require.NoError(t, eng.Register("count", func(ctx context.Context, qc *query.Context, params map[string]any) (any, error) {
		items, err := qc.Bucket("items").All(ctx)
		if err != nil {
			return nil, err
		}
		return len(items), nil
	}))

	fired := 0
	unsub, err := eng.Subscribe(ctx, "count", nil, func(result any, err error) {
		fired++
	})
	require.NoError(t, err)

	unsub()
	unsub() // idempotent

	w.Insert(ctx, map[string]any{"price": 1.0})
	eng.Settle()
	assert.Equal(t, 0, fired)
}
