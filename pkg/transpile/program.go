package transpile

import (
	"fmt"

	"go.starlark.net/syntax"
)

// FileOptions are the Starlark dialect options generated programs are
// parsed and executed with.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// SourcePos is a template location.
type SourcePos struct {
	Template string
	Line     int
}

func (p SourcePos) String() string {
	return fmt.Sprintf("%s:%d", p.Template, p.Line)
}

// Program is transpiled Starlark source. Lines[i] is the template location
// that produced generated line i+1.
type Program struct {
	Name  string
	Code  string
	Lines []SourcePos
}

// Source maps a 1-based generated line back to the template. Out of range
// lines map to the program's own template with line 0.
func (p *Program) Source(line int) SourcePos {
	if line < 1 || line > len(p.Lines) {
		return SourcePos{Template: p.Name}
	}
	return p.Lines[line-1]
}
