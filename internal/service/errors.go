package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrFlagStoreDisabled = errors.New("high-risk flag store is disabled")
	ErrDependencyMissing = errors.New("required dependency unavailable")
)

func errMissing(service, deps string) error {
	return fmt.Errorf("%w: %s needs %s", ErrDependencyMissing, service, deps)
}
