// Package rc defines the result codes returned by dataplane commands.
package rc

import "fmt"

type kind uint8

const (
	kindUnset kind = iota
	kindNoop
	kindOK
	kindInvalid
	kindTimeout
	kindFailed
)

// Code is the outcome of a command. Codes are comparable; two Failed codes
// are equal only when their reasons match.
type Code struct {
	kind   kind
	reason string
}

var (
	// Unset is the status of a cell no command has completed against yet.
	Unset = Code{kind: kindUnset}
	// NOOP means there is nothing to report, e.g. the entry is gone.
	NOOP = Code{kind: kindNoop}
	OK   = Code{kind: kindOK}
	// Invalid is returned when a command could not be built or sent.
	Invalid = Code{kind: kindInvalid}
	// Timeout is returned when the reply did not arrive in time.
	Timeout = Code{kind: kindTimeout}
)

// Failed returns a failure code carrying reason.
func Failed(reason string) Code {
	return Code{kind: kindFailed, reason: reason}
}

// FromRetval maps a dataplane return value to a code.
func FromRetval(retval int32) Code {
	if retval == 0 {
		return OK
	}

	return Failed(fmt.Sprintf("retval %d", retval))
}

func (c Code) IsOK() bool { return c.kind == kindOK }

// IsFailure reports whether c is any non-success outcome.
func (c Code) IsFailure() bool {
	switch c.kind {
	case kindInvalid, kindTimeout, kindFailed:
		return true
	default:
		return false
	}
}

// Reason returns the failure reason, if any.
func (c Code) Reason() string { return c.reason }

func (c Code) String() string {
	switch c.kind {
	case kindUnset:
		return "unset"
	case kindNoop:
		return "noop"
	case kindOK:
		return "ok"
	case kindInvalid:
		return "invalid"
	case kindTimeout:
		return "timeout"
	case kindFailed:
		if c.reason == "" {
			return "failed"
		}
		return "failed(" + c.reason + ")"
	default:
		return fmt.Sprintf("rc(%d)", c.kind)
	}
}
