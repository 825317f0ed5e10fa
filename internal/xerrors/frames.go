package xerrors

import (
	"errors"
	"runtime"
)

type stackCarrier interface{ StackPCs() []uintptr }

type frameCarrier interface{ PC() uintptr }

// StackOf returns the first captured stack found in err's chain.
func StackOf(err error) []uintptr {
	var sc stackCarrier
	if errors.As(err, &sc) {
		return sc.StackPCs()
	}
	return nil
}

// Frame is one resolved call site.
type Frame struct {
	Func string
	File string
	Line int
}

// FrameOf reports where err itself (not its causes) was created or wrapped.
// Wrap gives its own frame, New and WithStack give the first frame of their
// stack. Errors from elsewhere have no frame.
func FrameOf(err error) (Frame, bool) {
	switch e := err.(type) {
	case frameCarrier:
		return frameAt(e.PC())
	case stackCarrier:
		pcs := e.StackPCs()
		if len(pcs) == 0 {
			return Frame{}, false
		}
		return frameAt(pcs[0])
	}
	return Frame{}, false
}

func frameAt(pc uintptr) (Frame, bool) {
	if pc == 0 {
		return Frame{}, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if fr.Function == "" {
		return Frame{}, false
	}
	return Frame{Func: fr.Function, File: fr.File, Line: fr.Line}, true
}

// IsWrapper reports whether err is one of this package's annotations, which
// add context but are not meaningful error types of their own.
func IsWrapper(err error) bool {
	switch err.(type) {
	case *stacked, *wrapped:
		return true
	}
	return false
}
