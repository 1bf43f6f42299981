package orchestration

import "errors"

// Error kinds from the error taxonomy. Each is a sentinel wrapped with
// fmt.Errorf("...: %w", ...) at the raise site so callers can classify
// failures with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrCapacity     = errors.New("capacity error")
	ErrDistribution = errors.New("distribution error")
	ErrExecution    = errors.New("execution error")
	ErrTimeout      = errors.New("timeout error")
	ErrDependency   = errors.New("dependency error")
	ErrState        = errors.New("state error")
)
