package warehouse

import (
	"context"
	"errors"
	"fmt"
)

// InfrastructureError reports a failure of the warehouse transport rather
// than of the SQL itself: quota exhaustion, timeouts, unreachable endpoints.
type InfrastructureError struct {
	Op        string // "query", "wait", "create_table", ...
	Err       error
	Transient bool
}

func (e *InfrastructureError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("warehouse %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// NewInfrastructureError wraps err for op, marking context deadlines as
// transient.
func NewInfrastructureError(op string, err error) *InfrastructureError {
	return &InfrastructureError{
		Op:        op,
		Err:       err,
		Transient: errors.Is(err, context.DeadlineExceeded),
	}
}

// IsTransient reports whether err carries a transient InfrastructureError.
func IsTransient(err error) bool {
	var infra *InfrastructureError
	if errors.As(err, &infra) {
		return infra.Transient
	}
	return false
}
