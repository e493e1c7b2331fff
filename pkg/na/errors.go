package na

import (
	"errors"
	"fmt"
)

// Status is the completion/return status kind. Every operation either
// returns one synchronously (allocation/validation failures) or delivers
// one on a completion (everything that made it past posting).
type Status int

const (
	StatusSuccess Status = iota
	StatusNoMemory
	StatusInvalidParam
	StatusSize
	StatusProtocol
	StatusTimeout
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoMemory:
		return "no_memory"
	case StatusInvalidParam:
		return "invalid_parameter"
	case StatusSize:
		return "size"
	case StatusProtocol:
		return "protocol"
	case StatusTimeout:
		return "timeout"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// naError wraps a Status with context, matching the teacher's pattern of a
// small sentinel error type whose identity is checked via errors.Is while
// still carrying a human-readable cause.
type naError struct {
	status Status
	msg    string
	cause  error
}

func (e *naError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("na: %s: %s: %v", e.status, e.msg, e.cause)
	}
	return fmt.Sprintf("na: %s: %s", e.status, e.msg)
}

func (e *naError) Unwrap() error { return e.cause }

// Is reports equality by Status, so errors.Is(err, na.ErrProtocol) matches
// any naError carrying StatusProtocol regardless of message or cause.
func (e *naError) Is(target error) bool {
	t, ok := target.(*naError)
	if !ok {
		return false
	}
	return e.status == t.status
}

// Sentinel errors, one per Status kind, for errors.Is comparisons.
var (
	ErrNoMemory      = &naError{status: StatusNoMemory, msg: "out of memory"}
	ErrInvalidParam  = &naError{status: StatusInvalidParam, msg: "invalid parameter"}
	ErrSize          = &naError{status: StatusSize, msg: "buffer too small"}
	ErrProtocol      = &naError{status: StatusProtocol, msg: "protocol error"}
	ErrTimeout       = &naError{status: StatusTimeout, msg: "timed out"}
	ErrCanceled      = &naError{status: StatusCanceled, msg: "canceled"}
)

func newError(status Status, format string, args ...any) error {
	return &naError{status: status, msg: fmt.Sprintf(format, args...)}
}

func wrapError(status Status, cause error, format string, args ...any) error {
	return &naError{status: status, msg: fmt.Sprintf(format, args...), cause: cause}
}

// StatusOf extracts the Status carried by err, or StatusSuccess for a nil
// error and StatusProtocol for any error this package didn't produce.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var ne *naError
	if errors.As(err, &ne) {
		return ne.status
	}
	return StatusProtocol
}
