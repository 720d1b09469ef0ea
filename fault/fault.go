// Package fault tags errors with the gateway's failure taxonomy (kinds,
// not types) so callers can branch on the kind of failure without knowing
// which layer produced it, and maps terminal faults to process exit codes.
package fault

import (
	"errors"
	"fmt"
)

// Kind is one of the gateway's failure categories.
type Kind int

const (
	Unknown Kind = iota
	Configuration
	Transport
	Protocol
	Upstream
	Session
	Backpressure
	Authorization
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Upstream:
		return "upstream"
	case Session:
		return "session"
	case Backpressure:
		return "backpressure"
	case Authorization:
		return "authorization"
	default:
		return "unknown"
	}
}

type fault struct {
	kind  Kind
	cause error
}

func (f *fault) Error() string { return fmt.Sprintf("%s: %v", f.kind, f.cause) }
func (f *fault) Unwrap() error { return f.cause }

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &fault{kind: kind, cause: err}
}

// Wrapf tags a formatted error with kind.
func Wrapf(kind Kind, format string, args ...any) error {
	return &fault{kind: kind, cause: fmt.Errorf(format, args...)}
}

// KindOf reports the outermost Kind tag on err's chain, or Unknown.
func KindOf(err error) Kind {
	var f *fault
	if errors.As(err, &f) {
		return f.kind
	}
	return Unknown
}

// ExitCode maps a terminal error to the gateway's reserved process exit codes:
// 0 clean, 2 configuration, 3 listen/bind, 4 irrecoverable child spawn,
// 1 anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case Configuration:
		return 2
	case Transport:
		return 3
	case Upstream:
		return 4
	default:
		return 1
	}
}
