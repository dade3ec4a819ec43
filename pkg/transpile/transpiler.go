package transpile

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neurodesk/viewc/pkg/tpl"
	"go.starlark.net/syntax"
)

// DefaultMaxIncludeDepth bounds include and extends nesting.
const DefaultMaxIncludeDepth = 16

// Transpiler turns template ASTs into Starlark programs. The generated code
// writes text with _w, escaped values with _e and relies on the builtins
// installed by the executor.
type Transpiler struct {
	registry        *Registry
	maxIncludeDepth int
	logger          *slog.Logger
}

type Option func(*Transpiler)

func WithRegistry(r *Registry) Option {
	return func(t *Transpiler) { t.registry = r }
}

func WithMaxIncludeDepth(n int) Option {
	return func(t *Transpiler) {
		if n > 0 {
			t.maxIncludeDepth = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transpiler) { t.logger = l }
}

// New returns a Transpiler using the default directive set unless
// WithRegistry is given.
func New(opts ...Option) *Transpiler {
	t := &Transpiler{maxIncludeDepth: DefaultMaxIncludeDepth, logger: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	if t.registry == nil {
		t.registry = DefaultRegistry()
	}
	return t
}

// Registry returns the directive registry. It is also the parser's BlockSet.
func (t *Transpiler) Registry() *Registry { return t.registry }

// Transpile generates the program for ast. loader resolves include and
// extends targets and may be nil when the template uses neither.
func (t *Transpiler) Transpile(name string, ast *tpl.AbstractSyntaxTree, loader tpl.Loader) (*Program, error) {
	e := &Emitter{
		t:      t,
		loader: loader,
		name:   name,
		chain:  []string{name},
	}
	if err := e.template(name, ast.Root()); err != nil {
		return nil, err
	}

	p := &Program{Name: name, Code: e.buf.String(), Lines: e.lines}
	if _, err := FileOptions.Parse(name, p.Code, 0); err != nil {
		line := 0
		var serr syntax.Error
		if errors.As(err, &serr) {
			line = int(serr.Pos.Line)
		}
		pos := p.Source(line)
		return nil, &TranspileError{Template: pos.Template, Line: pos.Line, Message: "generated code does not parse", Err: err}
	}
	t.logger.Debug("transpiled template", "template", name, "lines", len(p.Lines))
	return p, nil
}

// Emitter accumulates generated code for one Transpile call. Directive
// handlers use it to write lines, open indented bodies and recurse into
// child nodes.
type Emitter struct {
	t      *Transpiler
	loader tpl.Loader

	buf    strings.Builder
	lines  []SourcePos
	indent int

	name  string // template currently being emitted
	line  int    // template line currently being emitted
	temps int

	chain  []string // include/extends chain for cycle detection
	loops  []loopVars
	blocks map[string][]blockDef
	supers []blockFrame
}

type loopVars struct{ index, seq string }

// Template returns the name of the template being emitted.
func (e *Emitter) Template() string { return e.name }

// Loader returns the loader used for include and extends.
func (e *Emitter) Loader() tpl.Loader { return e.loader }

// Line writes one statement at the current indentation. Embedded newlines
// are only valid inside brackets and are mapped to consecutive template
// lines.
func (e *Emitter) Line(format string, args ...any) {
	s := format
	if len(args) > 0 {
		s = fmt.Sprintf(format, args...)
	}
	for i, part := range strings.Split(s, "\n") {
		if i == 0 {
			e.buf.WriteString(strings.Repeat("    ", e.indent))
		}
		e.buf.WriteString(part)
		e.buf.WriteByte('\n')
		e.lines = append(e.lines, SourcePos{Template: e.name, Line: e.line + i})
	}
}

// Indent runs fn one level deeper. An empty body becomes pass.
func (e *Emitter) Indent(fn func() error) error {
	e.indent++
	before := len(e.lines)
	err := fn()
	if err == nil && len(e.lines) == before {
		e.Line("pass")
	}
	e.indent--
	return err
}

// Body emits nodes as an indented block.
func (e *Emitter) Body(nodes []*tpl.Node) error {
	return e.Indent(func() error { return e.Nodes(nodes) })
}

// Nodes emits nodes at the current indentation.
func (e *Emitter) Nodes(nodes []*tpl.Node) error {
	for _, n := range nodes {
		if err := e.Node(n); err != nil {
			return err
		}
	}
	return nil
}

// Node emits a single node.
func (e *Emitter) Node(n *tpl.Node) error {
	e.line = n.Line
	switch n.Kind {
	case tpl.NodeWord:
		if n.Value != "" {
			e.Line("_w(%s)", syntax.Quote(n.Value, false))
		}
	case tpl.NodeComment:
	case tpl.NodeExpression:
		e.hostCode(n)
	case tpl.NodeSanitizedTag, tpl.NodeUnsanitizedTag:
		x, err := e.Expr(n, n.Expression())
		if err != nil {
			return err
		}
		fn := "_e"
		if n.IsUnsanitizedTag() {
			fn = "_w"
		}
		e.line = n.Line
		e.Line("%s(%s)", fn, x)
	case tpl.NodeDirective:
		name := n.DirectiveName()
		h, ok := e.t.registry.Lookup(name)
		if !ok {
			return e.Errorf(n, "unknown directive %q", name)
		}
		return h.Emit(e, n)
	default:
		return e.Errorf(n, "unexpected %s node", n.Kind)
	}
	return nil
}

// Expr validates a Starlark expression and returns it parenthesized, ready
// to be embedded in a statement.
func (e *Emitter) Expr(n *tpl.Node, src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", e.Errorf(n, "missing expression")
	}
	closer := ")"
	if strings.ContainsAny(src, "#\n") {
		closer = "\n)"
	}
	wrapped := "(" + src + closer
	x, err := FileOptions.ParseExpr(e.name, wrapped, 0)
	if err != nil {
		return "", &TranspileError{Template: e.name, Line: n.Line, Message: fmt.Sprintf("invalid expression %q", src), Err: err}
	}
	if p, ok := x.(*syntax.ParenExpr); ok {
		if _, tuple := p.X.(*syntax.TupleExpr); tuple {
			return "", e.Errorf(n, "expected a single expression, found %q", src)
		}
	}
	if id := reservedIdent(x); id != nil {
		return "", e.Errorf(n, "%s cannot be used in a template expression", id.Name)
	}
	return wrapped, nil
}

// reservedName reports whether expressions may not reference name. echo
// writes unescaped output and underscore names belong to generated code;
// _in, the variable dict, stays readable.
func reservedName(name string) bool {
	if name == "echo" {
		return true
	}
	return len(name) > 1 && name[0] == '_' && name != "_in"
}

// reservedIdent returns the first reserved identifier x refers to.
// Attribute names after a dot are not references.
func reservedIdent(x syntax.Expr) *syntax.Ident {
	var found *syntax.Ident
	var visit func(n syntax.Node) bool
	visit = func(n syntax.Node) bool {
		if found != nil {
			return false
		}
		switch n := n.(type) {
		case *syntax.DotExpr:
			syntax.Walk(n.X, visit)
			return false
		case *syntax.Ident:
			if reservedName(n.Name) {
				found = n
			}
		}
		return true
	}
	syntax.Walk(x, visit)
	return found
}

// Temp returns a fresh generated identifier. Template code cannot bind
// names starting with an underscore, so temporaries never collide.
func (e *Emitter) Temp(prefix string) string {
	e.temps++
	return fmt.Sprintf("_%s%d", prefix, e.temps)
}

// Errorf returns a TranspileError located at n.
func (e *Emitter) Errorf(n *tpl.Node, format string, args ...any) error {
	return &TranspileError{Template: e.name, Line: n.Line, Message: fmt.Sprintf(format, args...)}
}

// hostCode splices a <? ?> block, re-indented to the current depth.
func (e *Emitter) hostCode(n *tpl.Node) {
	lines := strings.Split(strings.ReplaceAll(n.Value, "\r\n", "\n"), "\n")
	margin := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		w := len(l) - len(strings.TrimLeft(l, " \t"))
		if margin < 0 || w < margin {
			margin = w
		}
	}
	if margin < 0 {
		return
	}
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		e.line = n.Line + i
		e.Line("%s", strings.TrimRight(l[margin:], " \t"))
	}
}

// template emits a whole template, resolving its layout chain first.
func (e *Emitter) template(name string, root *tpl.Node) error {
	base, baseName, overrides, err := e.resolveLayout(name, root)
	if err != nil {
		return err
	}
	prevName, prevBlocks := e.name, e.blocks
	e.name, e.blocks = baseName, overrides
	defer func() { e.name, e.blocks = prevName, prevBlocks }()
	return e.Nodes(base.Children)
}

// Include loads, parses and emits another template in place.
func (e *Emitter) Include(n *tpl.Node, name string) error {
	if len(e.chain) > e.t.maxIncludeDepth {
		return e.Errorf(n, "include depth exceeds %d", e.t.maxIncludeDepth)
	}
	for _, c := range e.chain {
		if c == name {
			return e.Errorf(n, "include cycle: %s -> %s", strings.Join(e.chain, " -> "), name)
		}
	}
	root, err := e.load(n, name)
	if err != nil {
		return err
	}
	e.chain = append(e.chain, name)
	defer func() { e.chain = e.chain[:len(e.chain)-1] }()
	return e.template(name, root)
}

func (e *Emitter) load(n *tpl.Node, name string) (*tpl.Node, error) {
	if e.loader == nil {
		return nil, e.Errorf(n, "cannot load %q: no loader configured", name)
	}
	src, err := e.loader.Load(name)
	if err != nil {
		return nil, &TranspileError{Template: e.name, Line: n.Line, Message: fmt.Sprintf("cannot load %q", name), Err: err}
	}
	ast, err := tpl.ParseString(src, tpl.WithBlocks(e.t.registry))
	if err != nil {
		return nil, &TranspileError{Template: name, Line: errLine(err), Message: "cannot parse", Err: err}
	}
	return ast.Root(), nil
}

func errLine(err error) int {
	var le *tpl.LexError
	if errors.As(err, &le) {
		return le.Line
	}
	var pe *tpl.ParseError
	if errors.As(err, &pe) {
		return pe.Line
	}
	return 0
}

// stringArg parses a directive argument that must be a string literal.
func (e *Emitter) stringArg(d *tpl.Node) (string, error) {
	args := d.DirectiveArgs()
	x, err := FileOptions.ParseExpr(e.name, args, 0)
	if err == nil {
		if lit, ok := x.(*syntax.Literal); ok && lit.Token == syntax.STRING {
			return lit.Value.(string), nil
		}
	}
	return "", e.Errorf(d, "%s expects a string literal, found %q", d.DirectiveName(), args)
}
