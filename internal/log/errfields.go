package log

import (
	"errors"
	"fmt"

	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

// errorFields are the kv pairs Logger.Error adds for err.
func errorFields(err error, withLinks bool, maxLinks int) []any {
	surface, root := errorTypes(err)
	kv := []any{"err", err, "error_type", surface, "cause_type", root}
	if chain := errorChain(err); len(chain) > 1 {
		kv = append(kv, "error_chain", chain)
	}
	if withLinks {
		kv = append(kv, "error_links", errorLinks(err, maxLinks))
	}
	return kv
}

// errorChain lists the message at every unwrap step, skipping steps that
// did not change the text. The branches of an errors.Join are listed after.
func errorChain(err error) []string {
	var out []string
	last := ""
	add := func(msg string) {
		if msg != last {
			out = append(out, msg)
			last = msg
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			if e != nil {
				add(e.Error())
			}
		}
	}
	return out
}

// errorLinks records where each step of the chain was created or wrapped.
// The outermost step is always present, others only when their position is
// known.
func errorLinks(err error, limit int) []map[string]any {
	var links []map[string]any
	depth := 0
	for e := err; e != nil && (limit <= 0 || depth < limit); e = errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fr, ok := xerrors.FrameOf(e)
		if ok {
			link["func"], link["file"], link["line"] = fr.Func, fr.File, fr.Line
		}
		if depth == 0 || ok {
			links = append(links, link)
		}
		depth++
	}
	return links
}

// errorTypes returns the first meaningful type in the chain (skipping
// xerrors and fmt wrappers) and the type of the innermost cause.
func errorTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	var last error
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
		if surface != "" || xerrors.IsWrapper(e) {
			continue
		}
		switch t := fmt.Sprintf("%T", e); t {
		case "*fmt.wrapError", "*fmt.wrapErrors":
		default:
			surface = t
		}
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, fmt.Sprintf("%T", last)
}
