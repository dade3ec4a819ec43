package compiler

import "fmt"

// Stage names a step of the compile pipeline.
type Stage string

const (
	StageLoad      Stage = "load"
	StageLex       Stage = "lex"
	StageParse     Stage = "parse"
	StageTranspile Stage = "transpile"
	StageExecute   Stage = "execute"
)

// Stages lists the pipeline steps in the order they run.
var Stages = []Stage{StageLoad, StageLex, StageParse, StageTranspile, StageExecute}

// CompilerError is the only error type Compile returns. Err is the stage's
// own error (*tpl.LexError, *tpl.ParseError, *transpile.TranspileError or
// *starlark.ExecutionError) and is reachable with errors.As.
type CompilerError struct {
	Template string
	Stage    Stage
	Err      error
}

func (e *CompilerError) Error() string {
	return fmt.Sprintf("compile %s: %s failed: %v", e.Template, e.Stage, e.Err)
}

func (e *CompilerError) Unwrap() error { return e.Err }
