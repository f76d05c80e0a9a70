package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func envReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

const envPrefix = "EMBER"

// Operational keys. These govern Store construction, not bucket
// definitions, and are layered defaults -> optional file -> EMBER_*
// env vars, mirroring the teacher's own viper-backed precedence order.
const (
	KeyTTLCheckInterval      = "ttl.check-interval"
	KeyPersistenceDebounce   = "persistence.debounce"
	KeyCommitRetryMaxElapsed = "commit.retry-max-elapsed"
)

// Operational holds the resolved operational parameters a Store reads at
// construction time.
type Operational struct {
	TTLCheckInterval      time.Duration
	PersistenceDebounce   time.Duration
	CommitRetryMaxElapsed time.Duration
}

// LoadOperational layers defaults, an optional configFile (ignored if
// empty or missing), and EMBER_*-prefixed environment variables into an
// Operational. Dots in key names map to underscores in env vars, so
// ttl.check-interval reads from EMBER_TTL_CHECK_INTERVAL.
func LoadOperational(configFile string) (Operational, error) {
	v := viper.New()
	v.SetDefault(KeyTTLCheckInterval, time.Second)
	v.SetDefault(KeyPersistenceDebounce, 100*time.Millisecond)
	v.SetDefault(KeyCommitRetryMaxElapsed, 5*time.Second)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envReplacer())
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return Operational{}, err
			}
		}
	}

	return Operational{
		TTLCheckInterval:      v.GetDuration(KeyTTLCheckInterval),
		PersistenceDebounce:   v.GetDuration(KeyPersistenceDebounce),
		CommitRetryMaxElapsed: v.GetDuration(KeyCommitRetryMaxElapsed),
	}, nil
}
