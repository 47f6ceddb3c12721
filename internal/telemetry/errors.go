package telemetry

import (
	"fmt"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/plant"
)

const (
	// Configuration Errors
	ErrInvalidConfig  = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidBaseURL = errors.ErrorCode("telemetry_invalid_base_url")

	// Transport Errors
	ErrRequestBuild     = errors.ErrorCode("telemetry_request_build_failed")
	ErrTransport        = errors.ErrorCode("telemetry_transport_failed")
	ErrUnexpectedStatus = errors.ErrorCode("telemetry_unexpected_status")
	ErrDecode           = errors.ErrorCode("telemetry_decode_failed")

	// Catalog Errors
	ErrListPlants = errors.ErrorCode("telemetry_list_plants_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInvalidConfig:    "Invalid telemetry configuration",
		ErrInvalidBaseURL:   "Invalid telemetry source URL",
		ErrRequestBuild:     "Failed to build telemetry request",
		ErrTransport:        "Telemetry request failed",
		ErrUnexpectedStatus: "Telemetry source returned an unexpected status",
		ErrDecode:           "Failed to decode telemetry response",
		ErrListPlants:       "Failed to list plants",
	})
}

// FetchError reports a failed fetch for one plant on one channel.
type FetchError struct {
	Key     plant.Key
	Channel Channel
	Cause   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for plant %q: %v", e.Channel, string(e.Key), e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

func newFetchError(key plant.Key, ch Channel, cause error) *FetchError {
	return &FetchError{Key: key, Channel: ch, Cause: cause}
}
