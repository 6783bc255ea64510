package config

// RetryConfig controls how the HTTP client retries transient-io
// failures against the cache server.
type RetryConfig struct {
	// Budget caps retry attempts beyond the first, per call.
	Budget int `yaml:"budget,omitempty"`

	// PeriodMillis is the fixed throttle period that spaces retry
	// attempts apart.
	PeriodMillis int `yaml:"periodMillis,omitempty"`
}

// ServerConfig points the CLI wrapper at a cache server and the
// generation bucket it should save into and restore from.
type ServerConfig struct {
	// URL is the base address of the cache server, e.g.
	// "http://localhost:8080". Empty means saves and restores use the
	// local on-disk CAS and metadata store instead of a server.
	URL string `yaml:"url,omitempty"`

	// Generation partitions incompatible toolchains/cache schemas from
	// each other (spec.md §3); units saved under one generation are
	// never restored into another.
	Generation int `yaml:"generation,omitempty"`

	Retry RetryConfig `yaml:"retry,omitempty"`
}

// WorkerConfig controls the bounded worker pool used for restore.
type WorkerConfig struct {
	// Count is the number of concurrent restore workers.
	Count int `yaml:"count,omitempty"`

	// BatchSize is checked by Validate but not read elsewhere:
	// pkg/restore requests CAS entries in fixed batches of 50 keys.
	BatchSize int `yaml:"batchSize,omitempty"`
}

// SummaryConfig controls the CLI hit/miss report of spec.md §7.
type SummaryConfig struct {
	// Color is not read by the summary printer: pkg/summary colors its
	// output through fatih/color regardless of this field.
	Color bool `yaml:"color,omitempty"`

	// ShowFailures is not read either: the restore summary always
	// prints one line per failed unit.
	ShowFailures bool `yaml:"showFailures,omitempty"`
}

// ProgressConfig controls the optional live restore-progress view.
type ProgressConfig struct {
	// Enabled is not read: the gocui progress view is switched on only
	// by the `--tui` flag.
	Enabled bool `yaml:"enabled,omitempty"`
}

// UserConfig holds all of the user-configurable options for unitcache.
type UserConfig struct {
	Server   ServerConfig   `yaml:"server,omitempty"`
	Worker   WorkerConfig   `yaml:"worker,omitempty"`
	Summary  SummaryConfig  `yaml:"summary,omitempty"`
	Progress ProgressConfig `yaml:"progress,omitempty"`
}

// GetDefaultConfig returns the application default configuration.
// NOTE: Summary.Color and Summary.ShowFailures default to true. The
// merge with a saved config.yml treats false as the unset zero value,
// so a config.yml cannot turn either of them back off.
func GetDefaultConfig() UserConfig {
	return UserConfig{
		Server: ServerConfig{
			Generation: 1,
			Retry: RetryConfig{
				Budget:       3,
				PeriodMillis: 200,
			},
		},
		Worker: WorkerConfig{
			Count:     8,
			BatchSize: 50,
		},
		Summary: SummaryConfig{
			Color:        true,
			ShowFailures: true,
		},
	}
}
