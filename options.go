package ember

import (
	"log"

	"github.com/emberdb/ember/internal/config"
	"github.com/emberdb/ember/internal/eventbus"
	"github.com/emberdb/ember/internal/persistence"
	"github.com/emberdb/ember/internal/types"
)

type storeConfig struct {
	name                 string
	serverID             string
	logger               *log.Logger
	adapter              persistence.StorageAdapter
	onPersistError       persistence.OnError
	forwarder            eventbus.Forwarder
	operational          config.Operational
	definitions          []types.BucketDefinition
	watchDefinitionsFile string
	err                  error
}

func defaultStoreConfig() *storeConfig {
	op, _ := config.LoadOperational("")
	return &storeConfig{
		name:        "ember",
		serverID:    "ember-local",
		operational: op,
	}
}

// Option configures a Store at construction time.
type Option func(*storeConfig)

// WithName sets the store name used as the persistence blob key prefix
// (<name>:bucket:<bucketName>).
func WithName(name string) Option {
	return func(c *storeConfig) { c.name = name }
}

// WithServerID sets the identifier recorded in every persisted snapshot's
// metadata.serverId field.
func WithServerID(id string) Option {
	return func(c *storeConfig) { c.serverID = id }
}

// WithLogger overrides the store's base logger; every subsystem derives a
// component-prefixed logger from it.
func WithLogger(logger *log.Logger) Option {
	return func(c *storeConfig) { c.logger = logger }
}

// WithPersistence configures a durable StorageAdapter. onError is called
// (possibly nil) whenever a load or flush fails; the store stays available
// in memory regardless.
func WithPersistence(adapter persistence.StorageAdapter, onError persistence.OnError) Option {
	return func(c *storeConfig) {
		c.adapter = adapter
		c.onPersistError = onError
	}
}

// WithForwarder installs a downstream event receiver every bucket
// mutation is mirrored to, in addition to in-process subscribers.
func WithForwarder(f eventbus.Forwarder) Option {
	return func(c *storeConfig) { c.forwarder = f }
}

// WithOperational overrides the layered TTL/persistence/retry parameters
// that config.LoadOperational would otherwise resolve from defaults, a
// file, and EMBER_* environment variables.
func WithOperational(op config.Operational) Option {
	return func(c *storeConfig) { c.operational = op }
}

// WithOperationalFile loads operational parameters from configFile
// (layered under defaults and EMBER_* env vars) instead of defaults alone.
func WithOperationalFile(configFile string) Option {
	return func(c *storeConfig) {
		op, err := config.LoadOperational(configFile)
		if err != nil {
			c.err = err
			return
		}
		c.operational = op
	}
}

// WithBuckets registers bucket definitions to create immediately on Open,
// in addition to any later DefineBucket calls.
func WithBuckets(defs ...types.BucketDefinition) Option {
	return func(c *storeConfig) { c.definitions = append(c.definitions, defs...) }
}

// WithDefinitionsFile loads bucket definitions from a YAML or TOML file
// (config.LoadDefinitions) and registers them on Open.
func WithDefinitionsFile(path string) Option {
	return func(c *storeConfig) {
		defs, err := config.LoadDefinitions(path)
		if err != nil {
			c.err = err
			return
		}
		c.definitions = append(c.definitions, defs...)
	}
}

// WithDefinitionsFileWatch loads bucket definitions from path like
// WithDefinitionsFile, then keeps the store open to it: every write to
// path re-reads it and calls DefineBucket for any bucket name not
// already defined, letting an embedder add buckets without a process
// restart. Definitions already defined are left untouched; the watch
// never redefines or removes a bucket. The watch is stopped when the
// store closes.
func WithDefinitionsFileWatch(path string) Option {
	return func(c *storeConfig) {
		defs, err := config.LoadDefinitions(path)
		if err != nil {
			c.err = err
			return
		}
		c.definitions = append(c.definitions, defs...)
		c.watchDefinitionsFile = path
	}
}
