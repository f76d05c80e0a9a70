package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/config"
)

const yamlDoc = `
buckets:
  - name: sessions
    key: id
    ttl: 5000
    schema:
      id:
        type: string
        generated: uuid
      token:
        type: string
        required: true
        unique: true
`

const tomlDoc = `
[[buckets]]
name = "items"
key = "id"
maxSize = 100

[buckets.schema.id]
type = "string"
generated = "uuid"

[buckets.schema.price]
type = "number"
required = true
`

func TestLoadDefinitionsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	defs, err := config.LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "sessions", defs[0].Name)
	assert.Equal(t, "id", defs[0].Key)
	assert.EqualValues(t, 5000, defs[0].TTL)
	require.Contains(t, defs[0].Schema, "token")
	assert.True(t, defs[0].Schema["token"].Unique)
	assert.True(t, defs[0].Schema["token"].Required)
}

func TestLoadDefinitionsTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlDoc), 0o644))

	defs, err := config.LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "items", defs[0].Name)
	assert.Equal(t, 100, defs[0].MaxSize)
	require.Contains(t, defs[0].Schema, "price")
	assert.True(t, defs[0].Schema["price"].Required)
}

func TestLoadDefinitionsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := config.LoadDefinitions(path)
	require.Error(t, err)
}

func TestLoadOperationalDefaults(t *testing.T) {
	op, err := config.LoadOperational("")
	require.NoError(t, err)
	assert.Equal(t, time.Second, op.TTLCheckInterval)
	assert.Equal(t, 100*time.Millisecond, op.PersistenceDebounce)
}

func TestLoadOperationalEnvOverride(t *testing.T) {
	t.Setenv("EMBER_TTL_CHECK_INTERVAL", "2s")
	op, err := config.LoadOperational("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, op.TTLCheckInterval)
}

func TestWatchReconcilesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	fired := make(chan struct{}, 1)
	stop, err := config.Watch(path, 20*time.Millisecond, nil, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(yamlDoc+"\n"), 0o644))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler was not invoked after file write")
	}
}
