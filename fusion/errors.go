package fusion

import (
	"errors"
	"fmt"
)

var (
	ErrNonMonotonicTimestamp = errors.New("timestamp earlier than previous sample")
	ErrInnovationCovariance  = errors.New("innovation covariance not positive")
	ErrMeasurementCount      = errors.New("range sample must carry exactly three measurements")
	ErrInvalidSample         = errors.New("sample value not finite or out of range")
	ErrLandmarkCount         = errors.New("exactly three landmarks required")
	ErrDegenerateGeometry    = errors.New("pose coincides with a landmark")
	ErrCovariance            = errors.New("covariance not finite or has negative variance")
	ErrTickBudgetExhausted   = errors.New("ensemble tick budget exhausted")
	ErrHalted                = errors.New("estimator halted")
)

// PreconditionError reports a fatal violation detected while processing a tick.
// Once returned, the estimator refuses further samples until Reset.
type PreconditionError struct {
	Op   string
	Tick int
	Err  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s tick %d: %v", e.Op, e.Tick, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// haltedError is returned for every call made after a fatal error.
type haltedError struct {
	cause error
}

func (e *haltedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrHalted, e.cause)
}

func (e *haltedError) Unwrap() []error { return []error{ErrHalted, e.cause} }
