package txn_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/txn"
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

func testLogger() *log.Logger { return log.New(os.Stderr, "[txn-test] ", 0) }

func accountsDef() types.BucketDefinition {
	return types.BucketDefinition{
		Name: "accounts",
		Key:  "id",
		Schema: types.Schema{
			"id":      {Type: types.TypeString, Generated: types.GeneratedUUID},
			"balance": {Type: types.TypeNumber, Required: true},
		},
	}
}

func newRegistry(t *testing.T, bus *eventbus.Bus) *fakeRegistry {
	t.Helper()
	w, err := bucket.New(accountsDef(), bus, nil, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })
	return &fakeRegistry{workers: map[string]*bucket.Worker{"accounts": w}}
}

func TestTransferCommitsAcrossTwoRecords(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	reg := newRegistry(t, bus)

	from, err := reg.workers["accounts"].Insert(ctx, map[string]any{"balance": 100.0})
	require.NoError(t, err)
	to, err := reg.workers["accounts"].Insert(ctx, map[string]any{"balance": 0.0})
	require.NoError(t, err)
	fromKey := from.PrimaryKey("id")
	toKey := to.PrimaryKey("id")

	_, err = txn.Run(ctx, reg, func(tx *txn.Context) (any, error) {
		fromRec, err := tx.Get(ctx, "accounts", fromKey)
		if err != nil {
			return nil, err
		}
		toRec, err := tx.Get(ctx, "accounts", toKey)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Update(ctx, "accounts", fromKey, map[string]any{"balance": fromRec["balance"].(float64) - 40}); err != nil {
			return nil, err
		}
		if _, err := tx.Update(ctx, "accounts", toKey, map[string]any{"balance": toRec["balance"].(float64) + 40}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	require.NoError(t, err)

	gotFrom, err := reg.workers["accounts"].Get(ctx, fromKey)
	require.NoError(t, err)
	assert.Equal(t, 60.0, gotFrom["balance"].AsFloat())

	gotTo, err := reg.workers["accounts"].Get(ctx, toKey)
	require.NoError(t, err)
	assert.Equal(t, 40.0, gotTo["balance"].AsFloat())
}

func TestTransactionCallbackErrorDiscardsBuffer(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	reg := newRegistry(t, bus)

	rec, err := reg.workers["accounts"].Insert(ctx, map[string]any{"balance": 100.0})
	require.NoError(t, err)
	key := rec.PrimaryKey("id")

	_, err = txn.Run(ctx, reg, func(tx *txn.Context) (any, error) {
		if _, err := tx.Update(ctx, "accounts", key, map[string]any{"balance": 999.0}); err != nil {
			return nil, err
		}
		return nil, assert.AnError
	})
	require.Error(t, err)

	got, err := reg.workers["accounts"].Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got["balance"].AsFloat())
}

func TestReadYourOwnWritesInsideTransaction(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	reg := newRegistry(t, bus)

	_, err := txn.Run(ctx, reg, func(tx *txn.Context) (any, error) {
		rec, err := tx.Insert(ctx, "accounts", map[string]any{"balance": 5.0})
		if err != nil {
			return nil, err
		}
		key := rec["id"].(string)

		got, err := tx.Get(ctx, "accounts", key)
		if err != nil {
			return nil, err
		}
		assert.Equal(t, 5.0, got["balance"])

		all, err := tx.All(ctx, "accounts")
		if err != nil {
			return nil, err
		}
		assert.Len(t, all, 1)
		return nil, nil
	})
	require.NoError(t, err)

	all, err := reg.workers["accounts"].All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCommitConflictRollsBackEarlierBucketWrites(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()

	usersW, err := bucket.New(types.BucketDefinition{
		Name: "users",
		Key:  "id",
		Schema: types.Schema{
			"id":   {Type: types.TypeString, Generated: types.GeneratedUUID},
			"name": {Type: types.TypeString},
		},
	}, bus, nil, testLogger())
	require.NoError(t, err)
	defer usersW.Stop()

	ordersW, err := bucket.New(types.BucketDefinition{
		Name: "orders",
		Key:  "id",
		Schema: types.Schema{
			"id":     {Type: types.TypeString, Generated: types.GeneratedUUID},
			"status": {Type: types.TypeString},
		},
	}, bus, nil, testLogger())
	require.NoError(t, err)
	defer ordersW.Stop()

	reg := &fakeRegistry{workers: map[string]*bucket.Worker{"users": usersW, "orders": ordersW}}

	u, err := usersW.Insert(ctx, map[string]any{"name": "a"})
	require.NoError(t, err)
	userKey := u.PrimaryKey("id")

	o, err := ordersW.Insert(ctx, map[string]any{"status": "pending"})
	require.NoError(t, err)
	orderKey := o.PrimaryKey("id")

	// Mutate orders out from under the transaction after it reads, forcing
	// a version mismatch at commit time on the second (sorted-later)
	// bucket; the first bucket's already-applied write must be undone.
	_, err = txn.Run(ctx, reg, func(tx *txn.Context) (any, error) {
		if _, err := tx.Update(ctx, "users", userKey, map[string]any{"name": "b"}); err != nil {
			return nil, err
		}
		if _, err := tx.Update(ctx, "orders", orderKey, map[string]any{"status": "cancelled"}); err != nil {
			return nil, err
		}
		if _, err := ordersW.Update(ctx, orderKey, map[string]any{"status": "shipped"}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	require.Error(t, err)
	_, ok := err.(*types.TransactionConflictError)
	assert.True(t, ok)

	gotUser, err := usersW.Get(ctx, userKey)
	require.NoError(t, err)
	assert.Equal(t, "a", gotUser["name"].AsString())
}
