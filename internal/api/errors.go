package api

import "codeberg.org/mutker/pvdash/internal/errors"

const (
	ErrDecodeRequest = errors.ErrorCode("api_decode_request_failed")
	ErrInvalidKey    = errors.ErrorCode("api_invalid_plant_key")
	ErrPlantNotFound = errors.ErrorCode("api_plant_not_found")
	ErrServe         = errors.ErrServeAPI
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrDecodeRequest: "Failed to decode request body",
		ErrInvalidKey:    "Invalid plant key",
		ErrPlantNotFound: "Plant not found",
	})
}
