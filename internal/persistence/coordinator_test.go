package persistence_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/persistence"
	"github.com/emberdb/ember/internal/persistence/memadapter"
	"github.com/emberdb/ember/internal/types"
)

func notesDef() types.BucketDefinition {
	return types.BucketDefinition{
		Name: "notes",
		Key:  "id",
		Schema: types.Schema{
			"id":   {Type: types.TypeString, Generated: types.GeneratedUUID},
			"body": {Type: types.TypeString},
		},
	}
}

func TestFlushPersistsDirtyBuckets(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	adapter := memadapter.New()
	coord := persistence.New(adapter, "teststore", "server-1", time.Hour, bus, nil, log.New(os.Stderr, "[test] ", 0))

	w, err := bucket.New(notesDef(), bus, nil, log.New(os.Stderr, "[test] ", 0))
	require.NoError(t, err)
	defer w.Stop()

	coord.Register("notes", w)
	coord.Start()

	_, err = w.Insert(ctx, map[string]any{"body": "hello"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return coord.Flush(ctx) == nil
	}, time.Second, 5*time.Millisecond)

	seed := coord.LoadSeed(ctx, "notes", "id")
	require.Len(t, seed.Records, 1)
	assert.Equal(t, "hello", seed.Records[0]["body"].AsString())
}

func TestLoadSeedYieldsEmptyOnMissingKey(t *testing.T) {
	ctx := context.Background()
	adapter := memadapter.New()
	coord := persistence.New(adapter, "teststore", "server-1", time.Hour, eventbus.New(), nil, nil)

	seed := coord.LoadSeed(ctx, "ghost", "id")
	assert.Empty(t, seed.Records)
	assert.Zero(t, seed.AutoincrementCounter)
}

func TestShutdownFlushesDirtyBuckets(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	adapter := memadapter.New()
	coord := persistence.New(adapter, "teststore", "server-1", time.Hour, bus, nil, log.New(os.Stderr, "[test] ", 0))

	w, err := bucket.New(notesDef(), bus, nil, log.New(os.Stderr, "[test] ", 0))
	require.NoError(t, err)

	coord.Register("notes", w)
	coord.Start()

	_, err = w.Insert(ctx, map[string]any{"body": "shutdown"})
	require.NoError(t, err)

	require.NoError(t, coord.Shutdown(ctx))
	w.Stop()

	seed := coord.LoadSeed(context.Background(), "notes", "id")
	require.Len(t, seed.Records, 1)
}
