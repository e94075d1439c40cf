package lab

import (
	"errors"
	"fmt"
)

// Error kinds returned by the service. Every error the service returns wraps
// exactly one of these; callers distinguish them with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("invalid state")
	ErrConcurrency        = errors.New("concurrent modification")
	ErrAugmentationFailed = errors.New("narrative augmentation failed")
)

// ErrInconsistentGroup reports a group whose members are split across the
// draft and published states. It should never be observed at rest.
var ErrInconsistentGroup = fmt.Errorf("%w: group members split across states", ErrInvalidState)

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

func invalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidState}, args...)...)
}
