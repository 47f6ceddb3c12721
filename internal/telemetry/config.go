package telemetry

import (
	"net/url"
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
)

const (
	defaultLogWindow   = 288
	defaultTimeout     = 30 * time.Second
	defaultDialTimeout = 5 * time.Second
	maxErrorBody       = 512
)

type Config struct {
	BaseURL string
	// LogWindow is passed to the service as the requested history length.
	// Zero leaves the choice to the service.
	LogWindow int
	// Timeout is the overall deadline of one request. Zero disables it.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		LogWindow: defaultLogWindow,
		Timeout:   defaultTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.BaseURL == "" {
		return errFactory.New(ErrInvalidBaseURL)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errFactory.Wrap(ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errFactory.WithData(ErrInvalidBaseURL, c.BaseURL)
	}
	if c.LogWindow < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value int
		}{
			Field: "LogWindow",
			Value: c.LogWindow,
		})
	}

	return nil
}
