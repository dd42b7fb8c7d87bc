package access

import (
	"errors"
	"fmt"

	"github.com/faucetdb/roleguard/internal/model"
)

// ErrForbidden is matched by every *DeniedError.
var ErrForbidden = errors.New("forbidden")

// DeniedError is returned by Require when a principal may not access a
// resource. Denial is a normal outcome, not an infrastructure failure.
type DeniedError struct {
	Subject  string
	Resource string
	Kind     model.ResourceKind
	Reason   Reason
}

func (e *DeniedError) Error() string {
	who := e.Subject
	if who == "" {
		who = "anonymous"
	}
	return fmt.Sprintf("forbidden: %s may not access %s %q (%s)", who, e.Kind, e.Resource, e.Reason)
}

// Is makes errors.Is(err, ErrForbidden) true.
func (e *DeniedError) Is(target error) bool {
	return target == ErrForbidden
}

// LookupError reports that the assignment store could not be consulted.
type LookupError struct {
	Resource string
	Kind     model.ResourceKind
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s %q: %v", e.Kind, e.Resource, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// IsLookupError reports whether err wraps a *LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}
