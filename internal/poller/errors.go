package poller

import "codeberg.org/mutker/pvdash/internal/errors"

const (
	ErrInvalidConfig     = errors.ErrInvalidInterval
	ErrMissingDependency = errors.ErrorCode("poller_missing_dependency")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrMissingDependency: "Poller needs a registry, a source and an updater",
	})
}
