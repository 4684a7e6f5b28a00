// Package errs defines the error taxonomy shared by the risk engines.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an engine error.
type Code string

const (
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeNotRegistered    Code = "NOT_REGISTERED"
	CodeInsufficientData Code = "INSUFFICIENT_DATA"
	CodeLayerFailure     Code = "LAYER_FAILURE"
	CodeNotFound         Code = "NOT_FOUND"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrInvalidInput     = &Error{Code: CodeInvalidInput}
	ErrNotRegistered    = &Error{Code: CodeNotRegistered}
	ErrInsufficientData = &Error{Code: CodeInsufficientData}
	ErrLayerFailure     = &Error{Code: CodeLayerFailure}
	ErrNotFound         = &Error{Code: CodeNotFound}
)

// Error is a coded engine error.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return fmt.Sprintf("%s: %s (op: %s)", e.Code, msg, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code only.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// InvalidInput reports an out-of-range or malformed argument.
func InvalidInput(op, format string, args ...any) error {
	return &Error{Code: CodeInvalidInput, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotRegistered reports a symbol or feed used before registration.
func NotRegistered(op, format string, args ...any) error {
	return &Error{Code: CodeNotRegistered, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing record.
func NotFound(op, format string, args ...any) error {
	return &Error{Code: CodeNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InsufficientData reports that not enough history exists yet.
func InsufficientData(op, format string, args ...any) error {
	return &Error{Code: CodeInsufficientData, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// LayerFailure wraps an error raised by one pipeline layer during a tick.
func LayerFailure(layer string, err error) error {
	return &Error{Code: CodeLayerFailure, Op: layer, Err: err}
}

// CodeOf returns the code of err, or "" when err is not coded.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
