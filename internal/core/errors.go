package core

import (
	"errors"
	"fmt"
)

// ErrKind classifies an operation failure so the signal adapter can pick
// the right reply without inspecting message strings.
type ErrKind int

const (
	KindValidation ErrKind = iota
	KindNotFound
	KindConflict
	KindEngine
)

func (k ErrKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindEngine:
		return "engine"
	}
	return "unknown"
}

// Error carries a kind, a client-facing message and an optional cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }
func NotFound(msg string) error   { return &Error{Kind: KindNotFound, Msg: msg} }
func Conflict(msg string) error   { return &Error{Kind: KindConflict, Msg: msg} }

func EngineErr(msg string, err error) error {
	return &Error{Kind: KindEngine, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or KindEngine for untyped errors so that
// unexpected failures still reach the client as an engine error.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEngine
}

// Message returns the client-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
