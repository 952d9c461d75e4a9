package debug

import (
	"fmt"
	"runtime"
)

// NOTE: assertions guard programmer errors only (registry construction,
// impossible states). anything a peer can trigger must be a returned error.

// Assert panics with the caller's location if truth is false.
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		text := "assertion failed"
		if len(msg) == 1 {
			text = fmt.Sprintf("%s(%s)", text, msg[0])
		}
		fail(text)
	}
}

// NoErr is Assert for errors: it panics with err's text and the caller's
// location when err is not nil.
func NoErr(err error) {
	if err != nil {
		fail(fmt.Sprintf("unexpected error(%v)", err))
	}
}

func fail(text string) {
	// skip fail and its Assert/NoErr caller so the location points at the
	// code that asserted.
	if _, file, line, ok := runtime.Caller(2); ok {
		text = fmt.Sprintf("%s:%d: %s", file, line, text)
	}
	panic(text)
}
