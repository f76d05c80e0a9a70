package ember_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ember "github.com/emberdb/ember"
	"github.com/emberdb/ember/internal/persistence/memadapter"
)

func usersDef() ember.BucketDefinition {
	return ember.BucketDefinition{
		Name: "users",
		Key:  "id",
		Schema: map[string]ember.FieldDefinition{
			"id":    {Type: "string", Generated: "uuid"},
			"name":  {Type: "string", Required: true, MinLength: intPtr(2)},
			"email": {Type: "string", Required: true, Unique: true},
		},
	}
}

func intPtr(n int) *int { return &n }

func TestInsertGeneratesUUIDAndVersion(t *testing.T) {
	ctx := context.Background()
	store, err := ember.Open(ember.WithBuckets(usersDef()))
	require.NoError(t, err)
	defer store.Close(ctx)

	users, err := store.Bucket("users")
	require.NoError(t, err)

	rec, err := users.Insert(ctx, ember.Record{"name": "Alice", "email": "alice@x.test"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec["id"])
	assert.EqualValues(t, 1, rec["_version"])

	rec2, err := users.Insert(ctx, ember.Record{"name": "Bob", "email": "bob@x.test"})
	require.NoError(t, err)
	assert.NotEqual(t, rec["id"], rec2["id"])
}

func TestUniqueConstraintRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store, err := ember.Open(ember.WithBuckets(usersDef()))
	require.NoError(t, err)
	defer store.Close(ctx)

	users, err := store.Bucket("users")
	require.NoError(t, err)

	_, err = users.Insert(ctx, ember.Record{"name": "Alice", "email": "a@x.test"})
	require.NoError(t, err)

	_, err = users.Insert(ctx, ember.Record{"name": "Alice2", "email": "a@x.test"})
	require.Error(t, err)
}

func accountsDef() ember.BucketDefinition {
	return ember.BucketDefinition{
		Name: "accounts",
		Key:  "id",
		Schema: map[string]ember.FieldDefinition{
			"id":      {Type: "string", Generated: "uuid"},
			"balance": {Type: "number", Required: true},
		},
	}
}

func TestTransferTransactionEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := ember.Open(ember.WithBuckets(accountsDef()))
	require.NoError(t, err)
	defer store.Close(ctx)

	accounts, err := store.Bucket("accounts")
	require.NoError(t, err)

	alice, err := accounts.Insert(ctx, ember.Record{"balance": 1000.0})
	require.NoError(t, err)
	bob, err := accounts.Insert(ctx, ember.Record{"balance": 500.0})
	require.NoError(t, err)
	aliceKey := alice["id"].(string)
	bobKey := bob["id"].(string)

	_, err = store.Transact(ctx, func(tx *ember.TxnContext) (any, error) {
		a, err := tx.Get(ctx, "accounts", aliceKey)
		if err != nil {
			return nil, err
		}
		b, err := tx.Get(ctx, "accounts", bobKey)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Update(ctx, "accounts", aliceKey, ember.Record{"balance": a["balance"].(float64) - 200}); err != nil {
			return nil, err
		}
		if _, err := tx.Update(ctx, "accounts", bobKey, ember.Record{"balance": b["balance"].(float64) + 200}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	require.NoError(t, err)

	gotAlice, err := accounts.Get(ctx, aliceKey)
	require.NoError(t, err)
	assert.Equal(t, 800.0, gotAlice["balance"])

	gotBob, err := accounts.Get(ctx, bobKey)
	require.NoError(t, err)
	assert.Equal(t, 700.0, gotBob["balance"])
}

func TestReactiveSubscriptionFiresOnlyOnMatchingRecordChange(t *testing.T) {
	ctx := context.Background()
	store, err := ember.Open(ember.WithBuckets(usersDef()))
	require.NoError(t, err)
	defer store.Close(ctx)

	users, err := store.Bucket("users")
	require.NoError(t, err)

	u1, err := users.Insert(ctx, ember.Record{"name": "Alice", "email": "a@x.test"})
	require.NoError(t, err)
	u2, err := users.Insert(ctx, ember.Record{"name": "Bob", "email": "b@x.test"})
	require.NoError(t, err)
	u1Key := u1["id"].(string)
	u2Key := u2["id"].(string)

	require.NoError(t, store.RegisterQuery("getU1", func(ctx context.Context, qc *ember.QueryContext, params map[string]any) (any, error) {
		return qc.Bucket("users").Get(ctx, u1Key)
	}))

	fired := 0
	unsub, err := store.Subscribe(ctx, "getU1", nil, func(result any, err error) {
		fired++
	})
	require.NoError(t, err)
	defer unsub()

	_, err = users.Update(ctx, u2Key, ember.Record{"name": "Bobby"})
	require.NoError(t, err)
	store.Settle()
	assert.Equal(t, 0, fired, "updating an unrelated record must not fire a record-level subscription")

	_, err = users.Update(ctx, u1Key, ember.Record{"name": "Alicia"})
	require.NoError(t, err)
	store.Settle()
	assert.Equal(t, 1, fired)
}

func TestTTLPurgeRemovesExpiredRecord(t *testing.T) {
	ctx := context.Background()
	def := ember.BucketDefinition{
		Name: "sessions",
		Key:  "id",
		TTL:  10,
		Schema: map[string]ember.FieldDefinition{
			"id":    {Type: "string", Generated: "uuid"},
			"token": {Type: "string", Required: true},
		},
	}
	store, err := ember.Open(ember.WithBuckets(def))
	require.NoError(t, err)
	defer store.Close(ctx)

	sessions, err := store.Bucket("sessions")
	require.NoError(t, err)

	rec, err := sessions.Insert(ctx, ember.Record{"token": "abc"})
	require.NoError(t, err)
	key := rec["id"].(string)

	time.Sleep(20 * time.Millisecond)
	removed := store.PurgeExpired(ctx)
	assert.GreaterOrEqual(t, removed, 1)

	got, err := sessions.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersistenceRoundTripsOnReopen(t *testing.T) {
	ctx := context.Background()
	adapter := memadapter.New()

	store, err := ember.Open(ember.WithName("demo"), ember.WithPersistence(adapter, nil), ember.WithBuckets(usersDef()))
	require.NoError(t, err)

	users, err := store.Bucket("users")
	require.NoError(t, err)
	_, err = users.Insert(ctx, ember.Record{"name": "Alice", "email": "a@x.test"})
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx))

	store2, err := ember.Open(ember.WithName("demo"), ember.WithPersistence(adapter, nil), ember.WithBuckets(usersDef()))
	require.NoError(t, err)
	defer store2.Close(ctx)

	users2, err := store2.Bucket("users")
	require.NoError(t, err)
	all, err := users2.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Alice", all[0]["name"])
}

func TestDefinitionsFileWatchRegistersNewBucket(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.yaml")

	usersDoc := `
buckets:
  - name: users
    key: id
    schema:
      id:
        type: string
        generated: uuid
      email:
        type: string
        required: true
`
	require.NoError(t, os.WriteFile(path, []byte(usersDoc), 0o644))

	store, err := ember.Open(ember.WithDefinitionsFileWatch(path))
	require.NoError(t, err)
	defer store.Close(ctx)

	require.Contains(t, store.BucketNames(), "users")

	sessionsDoc := usersDoc + `
  - name: sessions
    key: id
    schema:
      id:
        type: string
        generated: uuid
      token:
        type: string
        required: true
`
	require.NoError(t, os.WriteFile(path, []byte(sessionsDoc), 0o644))

	require.Eventually(t, func() bool {
		for _, name := range store.BucketNames() {
			if name == "sessions" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond, "watch did not register the new bucket")

	sessions, err := store.Bucket("sessions")
	require.NoError(t, err)
	_, err = sessions.Insert(ctx, ember.Record{"token": "tok-1"})
	require.NoError(t, err)
}
