package poller

import (
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
)

const (
	defaultFastInterval = 10 * time.Second
	defaultSlowInterval = 300 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

type Config struct {
	// FastInterval drives the current reading channel.
	FastInterval time.Duration
	// SlowInterval drives the historical log channel.
	SlowInterval time.Duration
	// FetchTimeout bounds a single fetch. Zero leaves fetches bounded only by
	// the parent context.
	FetchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FastInterval: defaultFastInterval,
		SlowInterval: defaultSlowInterval,
		FetchTimeout: defaultFetchTimeout,
	}
}

func (c Config) Validate() error {
	if c.FastInterval <= 0 || c.SlowInterval <= 0 || c.FetchTimeout < 0 {
		return errors.New().WithData(ErrInvalidConfig, struct {
			FastInterval string
			SlowInterval string
			FetchTimeout string
		}{
			FastInterval: c.FastInterval.String(),
			SlowInterval: c.SlowInterval.String(),
			FetchTimeout: c.FetchTimeout.String(),
		})
	}
	return nil
}
