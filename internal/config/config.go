// Package config loads runtime tuning for the storage/concurrency core from
// the environment, optionally seeded from a .env file — the same
// envconfig+godotenv pairing the teacher carries in its own go.mod for
// server configuration.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config bundles the tunables each subsystem needs at construction time.
type Config struct {
	// PoolSize is the number of frames the buffer pool manages.
	PoolSize int `envconfig:"POOL_SIZE" default:"64"`
	// ReplacerK is K in the LRU-K replacement policy.
	ReplacerK int `envconfig:"REPLACER_K" default:"2"`
	// PageSize is the fixed byte size of every page.
	PageSize int `envconfig:"PAGE_SIZE" default:"4096"`
	// CycleDetectionIntervalMS is how often the deadlock detector rebuilds
	// the waits-for graph.
	CycleDetectionIntervalMS int `envconfig:"CYCLE_DETECTION_INTERVAL_MS" default:"50"`
	// DataDir is where the demo CLI stores its heap/index files.
	DataDir string `envconfig:"DATA_DIR" default:"./data"`
}

// Load reads COREDB_* environment variables into a Config, first loading
// envFile (if it exists) into the process environment. A missing envFile is
// not an error — envconfig's defaults still apply.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("coredb", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
