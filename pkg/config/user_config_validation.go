package config

import "fmt"

// Validate checks the user config for values that would make the
// worker pool or retry logic misbehave rather than simply fail
// loudly (e.g. a zero worker count would deadlock the pool).
func (config *UserConfig) Validate() error {
	if config.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be positive, got %d", config.Worker.Count)
	}
	if config.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batchSize must be positive, got %d", config.Worker.BatchSize)
	}
	if config.Server.Retry.Budget < 0 {
		return fmt.Errorf("server.retry.budget must not be negative, got %d", config.Server.Retry.Budget)
	}
	return nil
}
