package starlark

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/neurodesk/viewc/pkg/transpile"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultMaxSteps bounds the work a single execution may do.
const DefaultMaxSteps = 10_000_000

// Executor runs transpiled programs. It holds no per-call state: every
// Execute gets its own thread, scope and output buffers, so one Executor
// may be shared across goroutines.
type Executor struct {
	maxSteps uint64
	logger   *slog.Logger
	extra    starlark.StringDict
}

type Option func(*Executor)

// WithMaxSteps sets the step budget; 0 disables it.
func WithMaxSteps(n uint64) Option {
	return func(x *Executor) { x.maxSteps = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithBuiltins adds predeclared values on top of the standard builtins.
func WithBuiltins(d starlark.StringDict) Option {
	return func(x *Executor) {
		if x.extra == nil {
			x.extra = starlark.StringDict{}
		}
		maps.Copy(x.extra, d)
	}
}

func NewExecutor(opts ...Option) *Executor {
	x := &Executor{maxSteps: DefaultMaxSteps, logger: slog.Default()}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Execute runs p with vars bound as globals and returns everything the
// program wrote. On failure no output is returned and every capture opened
// during the call is discarded.
func (x *Executor) Execute(p *transpile.Program, vars map[string]any) (result string, err error) {
	out := &output{}
	base := out.depth()

	thread := &starlark.Thread{
		Name: p.Name,
		Print: func(_ *starlark.Thread, msg string) {
			x.logger.Info("template print", "template", p.Name, "msg", msg)
		},
	}
	thread.SetLocal(outputKey, out)
	if x.maxSteps > 0 {
		thread.SetMaxExecutionSteps(x.maxSteps)
	}

	defer func() {
		if r := recover(); r != nil {
			out.unwind(base)
			result, err = "", &ExecutionError{Template: p.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	predeclared, prelude, err := x.scope(vars)
	if err != nil {
		return "", &ExecutionError{Template: p.Name, Err: err}
	}

	out.push()
	src := prelude + "\n" + p.Code
	if _, err := starlark.ExecFileOptions(transpile.FileOptions, thread, p.Name, src, predeclared); err != nil {
		out.unwind(base)
		return "", x.wrap(p, err)
	}
	if out.depth() != base+1 {
		out.unwind(base)
		return "", &ExecutionError{Template: p.Name, Err: errors.New("output capture left open")}
	}
	return out.pop(), nil
}

// scope builds the predeclared names and the one-line prelude that copies
// each variable from _in into a global, so templates can reassign them.
func (x *Executor) scope(vars map[string]any) (starlark.StringDict, string, error) {
	predeclared := CreateBuiltins()
	maps.Copy(predeclared, x.extra)

	in := starlark.NewDict(len(vars))
	var prelude []string
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		v, err := ConvertToStarlark(vars[k])
		if err != nil {
			return nil, "", fmt.Errorf("variable %q: %w", k, err)
		}
		if err := in.SetKey(starlark.String(k), v); err != nil {
			return nil, "", err
		}
		if transpile.IsBindable(k) {
			prelude = append(prelude, fmt.Sprintf("%s = _in[%s]", k, syntax.Quote(k, false)))
		}
	}
	predeclared["_in"] = in
	if len(prelude) == 0 {
		return predeclared, "pass", nil
	}
	return predeclared, strings.Join(prelude, "; "), nil
}

// wrap maps a Starlark failure to the template line that caused it. The
// prelude occupies the first line of the executed source.
func (x *Executor) wrap(p *transpile.Program, err error) error {
	line := 0
	var ee *starlark.EvalError
	var rl resolve.ErrorList
	var se syntax.Error
	switch {
	case errors.As(err, &ee):
		for i := 0; i < len(ee.CallStack); i++ {
			if fr := ee.CallStack.At(i); fr.Pos.Filename() == p.Name {
				line = int(fr.Pos.Line)
				break
			}
		}
	case errors.As(err, &rl) && len(rl) > 0:
		line = int(rl[0].Pos.Line)
	case errors.As(err, &se):
		line = int(se.Pos.Line)
	}
	if line <= 1 {
		return &ExecutionError{Template: p.Name, Err: err}
	}
	pos := p.Source(line - 1)
	x.logger.Debug("template execution failed", "template", pos.Template, "line", pos.Line, "error", err)
	return &ExecutionError{Template: pos.Template, Line: pos.Line, Err: err}
}
