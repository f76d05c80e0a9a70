package ttl_test

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
	"github.com/emberdb/ember/internal/ttl"
	"github.com/emberdb/ember/internal/types"
)

func sessionsDef() types.BucketDefinition {
	return types.BucketDefinition{
		Name: "sessions",
		Key:  "id",
		Schema: types.Schema{
			"id": {Type: types.TypeString, Generated: types.GeneratedUUID},
		},
		TTL: 10,
	}
}

func TestPurgeRemovesExpiredRecords(t *testing.T) {
	bus := eventbus.New()
	w, err := bucket.New(sessionsDef(), bus, nil, log.New(os.Stderr, "[test] ", 0))
	require.NoError(t, err)
	defer w.Stop()

	ctx := context.Background()
	_, err = w.Insert(ctx, map[string]any{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	sched := ttl.New(time.Hour, nil)
	sched.Register("sessions", w)

	removed := sched.Purge(ctx)
	assert.Equal(t, 1, removed)

	all, err := w.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStopIsIdempotent(t *testing.T) {
	sched := ttl.New(time.Millisecond, nil)
	sched.Start()
	sched.Stop()
	sched.Stop()
}
