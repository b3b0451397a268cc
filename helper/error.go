package helper

import (
	"fmt"
	"runtime"
	"strings"
)

// Error carries the trace of where an error was wrapped together with the
// original error. It unwraps to the original error so errors.Is works on
// sentinel errors further down the chain.
type Error struct {
	Original error
	Trace    []string
}

// NewError wraps err with the given trace and the name of the calling function.
// If err is already an *Error the trace is prepended to the existing one.
func NewError(trace string, err error) error {
	if err == nil {
		return nil
	}

	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			name := fn.Name()
			caller = name[strings.LastIndex(name, ".")+1:]
		}
	}
	step := fmt.Sprintf("%s: %s", caller, trace)

	if e, ok := err.(*Error); ok {
		return &Error{
			Original: e.Original,
			Trace:    append([]string{step}, e.Trace...),
		}
	}

	return &Error{
		Original: err,
		Trace:    []string{step},
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", strings.Join(e.Trace, " -> "), e.Original)
}

func (e *Error) Unwrap() error {
	return e.Original
}
