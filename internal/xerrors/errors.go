package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the stack captured where the error was created.
type stacked struct {
	err error
	pcs []uintptr
}

func (e *stacked) Error() string       { return e.err.Error() }
func (e *stacked) Unwrap() error       { return e.err }
func (e *stacked) StackPCs() []uintptr { return e.pcs }

// wrapped adds context and the single frame that added it.
type wrapped struct {
	msg   string
	cause error
	pc    uintptr
}

func (e *wrapped) Error() string { return e.msg + ": " + e.cause.Error() }
func (e *wrapped) Unwrap() error { return e.cause }
func (e *wrapped) PC() uintptr   { return e.pc }

// callers returns the stack above the function skip frames up from its caller.
func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pc [1]uintptr
	if runtime.Callers(skip+2, pc[:]) == 0 {
		return 0
	}
	return pc[0]
}

// New returns an error with msg and the caller's stack.
func New(msg string) error {
	return &stacked{err: errors.New(msg), pcs: callers(1)}
}

// Newf is New with fmt.Errorf formatting, %w included.
func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: callers(1)}
}

// WithStack attaches the caller's stack to err. Nil stays nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: callers(1)}
}

// EnsureTrace is WithStack unless some error in the chain already has a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	if len(StackOf(err)) > 0 {
		return err
	}
	return &stacked{err: err, pcs: callers(1)}
}

// Wrap prefixes err with msg and records the calling frame. Nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{msg: msg, cause: err, pc: caller(1)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{msg: fmt.Sprintf(format, args...), cause: err, pc: caller(1)}
}
