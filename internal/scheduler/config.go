package scheduler

import "time"

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	RetryBatchSize int

	// UnknownSweepAge is how long a transfer sits in unknown before the
	// sweep asks the provider about it.
	UnknownSweepAge time.Duration
	UnknownBatch    int

	// StuckProcessingAge is how long a transfer may stay in processing
	// without provider news before it is parked as unknown.
	StuckProcessingAge time.Duration
	StuckBatch         int

	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Minute,
		RetryBatchSize:     50,
		UnknownSweepAge:    5 * time.Minute,
		UnknownBatch:       50,
		StuckProcessingAge: 30 * time.Minute,
		StuckBatch:         50,
		LockTTL:            5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = defaults.RetryBatchSize
	}
	if c.UnknownSweepAge <= 0 {
		c.UnknownSweepAge = defaults.UnknownSweepAge
	}
	if c.UnknownBatch <= 0 {
		c.UnknownBatch = defaults.UnknownBatch
	}
	if c.StuckProcessingAge <= 0 {
		c.StuckProcessingAge = defaults.StuckProcessingAge
	}
	if c.StuckBatch <= 0 {
		c.StuckBatch = defaults.StuckBatch
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
