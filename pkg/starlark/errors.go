package starlark

import "fmt"

// ExecutionError reports a failure while running a template program. Line
// is the template line the failure maps to, or 0 when unknown.
type ExecutionError struct {
	Template string
	Line     int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("execution error in %s at line %d: %v", e.Template, e.Line, e.Err)
	}
	return fmt.Sprintf("execution error in %s: %v", e.Template, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
