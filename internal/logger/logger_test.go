package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.DebugLevel, logger.ParseLevel("debug"))
	assert.Equal(t, logger.WarnLevel, logger.ParseLevel("WARNING"))
	assert.Equal(t, logger.WarnLevel, logger.ParseLevel("warn"))
	assert.Equal(t, logger.ErrorLevel, logger.ParseLevel("error"))
	assert.Equal(t, logger.InfoLevel, logger.ParseLevel("bogus"))
}

func TestComponentFields(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "debug", true)
	t.Cleanup(func() { logger.SetLogLevel(logger.InfoLevel) })

	log := logger.Component("poller").With("tick", "t-1")
	log.Info().Str("plant", "X").Msg("Tick resolved")

	out := buf.String()
	assert.Contains(t, out, "Tick resolved")
	assert.Contains(t, out, "component=poller")
	assert.Contains(t, out, "tick=t-1")
	assert.Contains(t, out, "plant=X")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "warning", true)
	t.Cleanup(func() { logger.SetLogLevel(logger.InfoLevel) })

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "info", true)
	t.Cleanup(func() { logger.SetLogLevel(logger.InfoLevel) })

	logger.ErrorWithCode(errors.New().New(errors.ErrLoadPlants)).Msg("Startup")

	assert.Contains(t, buf.String(), "error_code=load_plants_failed")
}
