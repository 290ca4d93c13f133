// Package classify centralizes the per-errno decision table the event
// loop consults after every TUN/UDP read or write: skip, log and skip,
// or give up and exit. It is a pure function, independent of the pump,
// so the decision table can be unit tested without any I/O.
package classify

import (
	"errors"
	"syscall"
)

// Outcome is what the pump does next after a failed I/O call.
type Outcome int

const (
	// Skip means the error is spurious and the pump should loop
	// again without logging anything.
	Skip Outcome = iota
	// LogSkip means the error is transient or per-packet: log it and
	// keep running.
	LogSkip
	// Fatal means the error is unrecoverable for this socket/device
	// and the pump should exit its loop.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Skip:
		return "skip"
	case LogSkip:
		return "log_skip"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Op names the operation an error came from, since the same errno can
// classify differently depending on whether it happened on a TUN
// write versus a UDP send.
type Op int

const (
	OpUDPRecv Op = iota
	OpUDPSend
	OpTUNRead
	OpTUNWrite
)

// Classify maps (op, err) to an Outcome: EAGAIN/EWOULDBLOCK are
// spurious wake-ups, EINTR/EPERM are transient and logged, and the
// remaining per-operation set (ENETUNREACH/ENETDOWN on either UDP
// direction, EMSGSIZE on UDP send, EINVAL on TUN write) is also
// transient and logged. Anything else is fatal. nil errors are never
// passed in; callers only call Classify after a failed operation.
func Classify(op Op, err error) Outcome {
	if err == nil {
		return Skip
	}

	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return Skip
	}
	if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EPERM) {
		return LogSkip
	}

	switch op {
	case OpUDPSend:
		if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ENETDOWN) || errors.Is(err, syscall.EMSGSIZE) {
			return LogSkip
		}
	case OpUDPRecv:
		if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ENETDOWN) {
			return LogSkip
		}
	case OpTUNWrite:
		if errors.Is(err, syscall.EINVAL) {
			return LogSkip
		}
	case OpTUNRead:
	}

	return Fatal
}
