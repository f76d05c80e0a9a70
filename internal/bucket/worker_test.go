package bucket_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/types"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func usersDef() types.BucketDefinition {
	return types.BucketDefinition{
		Name: "users",
		Key:  "id",
		Schema: types.Schema{
			"id":    {Type: types.TypeString, Generated: types.GeneratedUUID},
			"email": {Type: types.TypeString, Required: true, Unique: true},
		},
	}
}

func TestInsertAndGet(t *testing.T) {
	bus := eventbus.New()
	w, err := bucket.New(usersDef(), bus, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx := context.Background()
	rec, err := w.Insert(ctx, map[string]any{"email": "a@x.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec["id"].AsString())

	got, err := w.Get(ctx, rec.PrimaryKey("id"))
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got["email"].AsString())
}

func TestUniqueConstraintOnInsert(t *testing.T) {
	bus := eventbus.New()
	w, err := bucket.New(usersDef(), bus, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx := context.Background()
	_, err = w.Insert(ctx, map[string]any{"email": "a@x.com"})
	require.NoError(t, err)
	_, err = w.Insert(ctx, map[string]any{"email": "a@x.com"})
	require.Error(t, err)
	_, ok := err.(*types.UniqueConstraintError)
	assert.True(t, ok)
}

func TestMaxSizeEviction(t *testing.T) {
	def := types.BucketDefinition{
		Name: "items",
		Key:  "id",
		Schema: types.Schema{
			"id": {Type: types.TypeString, Generated: types.GeneratedUUID},
		},
		MaxSize: 3,
	}
	bus := eventbus.New()
	w, err := bucket.New(def, bus, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx := context.Background()
	r1, _ := w.Insert(ctx, map[string]any{})
	w.Insert(ctx, map[string]any{})
	w.Insert(ctx, map[string]any{})
	w.Insert(ctx, map[string]any{})

	count, err := w.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := w.Get(ctx, r1.PrimaryKey("id"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	w, err := bucket.New(usersDef(), bus, nil, testLogger())
	require.NoError(t, err)
	defer w.Stop()

	ctx := context.Background()
	rec, _ := w.Insert(ctx, map[string]any{"email": "a@x.com"})
	key := rec.PrimaryKey("id")

	require.NoError(t, w.Delete(ctx, key))
	require.NoError(t, w.Delete(ctx, key))
}

func TestStoppedWorkerRejectsRequests(t *testing.T) {
	bus := eventbus.New()
	w, err := bucket.New(usersDef(), bus, nil, testLogger())
	require.NoError(t, err)
	w.Stop()

	_, err = w.Insert(context.Background(), map[string]any{"email": "a@x.com"})
	require.Error(t, err)
	_, ok := err.(*types.WorkerClosedError)
	assert.True(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	bus := eventbus.New()
	w, err := bucket.New(usersDef(), bus, nil, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	w.Insert(ctx, map[string]any{"email": "a@x.com"})
	w.Insert(ctx, map[string]any{"email": "b@x.com"})
	snap, err := w.Snapshot(ctx)
	require.NoError(t, err)
	w.Stop()

	w2, err := bucket.New(usersDef(), bus, &bucket.Seed{Records: snap.Records, AutoincrementCounter: snap.AutoincrementCounter}, testLogger())
	require.NoError(t, err)
	defer w2.Stop()

	all, err := w2.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
