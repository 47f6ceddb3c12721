package plant

import (
	"fmt"

	"codeberg.org/mutker/pvdash/internal/errors"
)

const (
	ErrDuplicateKey = errors.ErrorCode("plant_duplicate_key")
	ErrEmptyKey     = errors.ErrorCode("plant_empty_key")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrDuplicateKey: "Plant is already registered",
		ErrEmptyKey:     "Plant key must not be empty",
	})
}

// DuplicateKeyError is returned by Registry.Add when the key is already registered.
type DuplicateKeyError struct {
	Key Key
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("plant %q is already registered", string(e.Key))
}

func (*DuplicateKeyError) Code() errors.ErrorCode {
	return ErrDuplicateKey
}
