package logger

import (
	"path/filepath"
	"runtime"
)

// Location identifies the source position reporting a diagnostic.
type Location struct {
	Func string
	File string
	Line int
}

// Here returns the Location of its caller.
func Here() Location {
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		return Location{Func: "unknown"}
	}

	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}

	return Location{Func: name, File: filepath.Base(file), Line: line}
}

func (loc Location) fields() []Field {
	return []Field{
		{Key: "func", Value: loc.Func},
		{Key: "file", Value: loc.File},
		{Key: "line", Value: loc.Line},
	}
}

// Log reports a tagged diagnostic message at warn level together with the
// location that raised it. The socket core uses it for conditions that are
// worth an operator's attention but are handled locally.
//
// Parameters:
//   - l: Destination logger
//   - tag: Short category, e.g. "net" or "framing"
//   - message: The diagnostic text
//   - loc: Where the condition was detected, usually Here()
func Log(l Logger, tag string, message string, loc Location) {
	l.Warn(message, append(loc.fields(), Field{Key: "tag", Value: tag})...)
}

// Assert reports a failed invariant at error level. It never panics: asserts
// are development checks and callers must still handle the condition.
//
// Parameters:
//   - l: Destination logger
//   - condition: The invariant that should hold
//   - loc: Where the invariant is checked, usually Here()
//
// Returns:
//   - condition, so callers can branch on it
func Assert(l Logger, condition bool, loc Location) bool {
	if !condition {
		l.Error("assertion failed", loc.fields()...)
	}

	return condition
}
