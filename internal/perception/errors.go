package perception

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Sentinel resolution errors. Both are recoverable from the loop's point of
// view: the dispatcher reports them and the decision engine must pick a
// different strategy next turn.
var (
	ErrElementNotFound  = errors.New("element not found")
	ErrAmbiguousLocator = errors.New("ambiguous locator")
)

// ResolutionError wraps a sentinel with the target and the locator trail that
// was attempted, so failure records carry enough evidence for a pivot.
type ResolutionError struct {
	Err     error
	Target  schemas.Target
	Attempt string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%v: %s (target: %s)", e.Err, e.Attempt, e.Target)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func notFound(target schemas.Target, attempt string) error {
	return &ResolutionError{Err: ErrElementNotFound, Target: target, Attempt: attempt}
}

func ambiguous(target schemas.Target, attempt string) error {
	return &ResolutionError{Err: ErrAmbiguousLocator, Target: target, Attempt: attempt}
}
