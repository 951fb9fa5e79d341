// Package kerr defines the error kinds shared by kernel subsystems and the
// codes they translate to when reported back to a guest.
package kerr

import "errors"

// Error is a kernel error kind. Values compare with errors.Is even when
// wrapped.
type Error uint32

const (
	NotFound Error = iota + 1
	AccessDenied
	InvalidArgument
	WrongType
	BadState
)

var names = map[Error]string{
	NotFound:        "not found",
	AccessDenied:    "access denied",
	InvalidArgument: "invalid argument",
	WrongType:       "wrong object type",
	BadState:        "bad state",
}

func (e Error) Error() string {
	if name, ok := names[e]; ok {
		return name
	}
	return "unknown kernel error"
}

// Code is the negative value reported to a guest for this kind.
func (e Error) Code() int32 {
	return -int32(e)
}

// Code maps err to a guest-visible code. Nil is 0; errors that do not wrap a
// kernel kind are reported as BadState.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	var kind Error
	if errors.As(err, &kind) {
		return kind.Code()
	}
	return BadState.Code()
}
