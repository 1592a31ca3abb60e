package config

import "errors"

// Error is a configuration error. It is detected locally, before any network
// I/O, and is never retried.
type Error struct {
	Param  string
	Reason string
}

func (e *Error) Error() string {
	return e.Param + " " + e.Reason
}

// NotSet reports a missing or empty parameter.
func NotSet(name string) *Error {
	return &Error{Param: name, Reason: "is not set"}
}

// Invalid reports a parameter with a malformed value.
func Invalid(name, reason string) *Error {
	return &Error{Param: name, Reason: reason}
}

// IsConfigError reports whether err is, or wraps, a configuration error.
func IsConfigError(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr)
}
