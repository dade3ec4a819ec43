package transpile

import "fmt"

// TranspileError reports a template that cannot be turned into a program:
// an unknown directive, malformed directive arguments or an expression that
// is not valid Starlark.
type TranspileError struct {
	Template string
	Line     int
	Message  string
	Err      error
}

func (e *TranspileError) Error() string {
	msg := fmt.Sprintf("%s:%d: %s", e.Template, e.Line, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TranspileError) Unwrap() error { return e.Err }
