package transpile

import (
	"regexp"
	"slices"
	"strings"

	"github.com/neurodesk/viewc/pkg/tpl"
)

var keywords = map[string]bool{
	"and": true, "as": true, "assert": true, "async": true, "await": true,
	"break": true, "class": true, "continue": true, "def": true, "del": true,
	"elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "load": true, "nonlocal": true, "not": true,
	"or": true, "pass": true, "raise": true, "return": true, "try": true,
	"while": true, "with": true, "yield": true,
	"True": true, "False": true, "None": true,
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func isIdentifier(s string) bool {
	return identRe.MatchString(s) && !keywords[s]
}

// IsBindable reports whether template code may assign to name. Names with a
// leading underscore belong to generated code and loop is set by for.
func IsBindable(name string) bool {
	return isIdentifier(name) && !strings.HasPrefix(name, "_") && name != "loop"
}

func bindTarget(e *Emitter, d *tpl.Node, name string) error {
	if !IsBindable(name) {
		return e.Errorf(d, "%s: cannot assign to %q", d.DirectiveName(), name)
	}
	return nil
}

// clause is an elif/else inside an if or for body.
type clause struct {
	node *tpl.Node
	body []*tpl.Node
}

// splitClauses splits a block body at top-level clause directives. The
// first clause has a nil node and holds the body before any clause.
func splitClauses(d *tpl.Node, names ...string) []clause {
	out := []clause{{}}
	for _, n := range d.Body() {
		if n.IsDirective() && slices.Contains(names, n.DirectiveName()) {
			out = append(out, clause{node: n})
			continue
		}
		out[len(out)-1].body = append(out[len(out)-1].body, n)
	}
	return out
}

func emitIf(e *Emitter, d *tpl.Node) error {
	clauses := splitClauses(d, "elif", "else")
	cond, err := e.Expr(d, d.DirectiveArgs())
	if err != nil {
		return err
	}
	e.line = d.Line
	e.Line("if %s:", cond)
	if err := e.Body(clauses[0].body); err != nil {
		return err
	}
	sawElse := false
	for _, c := range clauses[1:] {
		if sawElse {
			return e.Errorf(c.node, "%s after else", c.node.DirectiveName())
		}
		e.line = c.node.Line
		switch c.node.DirectiveName() {
		case "elif":
			cond, err := e.Expr(c.node, c.node.DirectiveArgs())
			if err != nil {
				return err
			}
			e.line = c.node.Line
			e.Line("elif %s:", cond)
		case "else":
			if c.node.DirectiveArgs() != "" {
				return e.Errorf(c.node, "else takes no arguments")
			}
			sawElse = true
			e.Line("else:")
		}
		if err := e.Body(c.body); err != nil {
			return err
		}
	}
	return nil
}

var forRe = regexp.MustCompile(`(?s)^(.+?)\s+in\s+(.+)$`)

// emitFor iterates over the value with a loop record bound to loop. The
// outer loop record is restored after a nested loop finishes.
func emitFor(e *Emitter, d *tpl.Node) error {
	m := forRe.FindStringSubmatch(d.DirectiveArgs())
	if m == nil {
		return e.Errorf(d, "for expects \"target in expression\", found %q", d.DirectiveArgs())
	}
	targets := strings.Split(m[1], ",")
	for i, t := range targets {
		targets[i] = strings.TrimSpace(t)
		if err := bindTarget(e, d, targets[i]); err != nil {
			return err
		}
	}
	target := strings.Join(targets, ", ")
	if len(targets) > 1 {
		target = "(" + target + ")"
	}
	seq, err := e.Expr(d, m[2])
	if err != nil {
		return err
	}

	clauses := splitClauses(d, "else")
	if len(clauses) > 2 {
		return e.Errorf(clauses[2].node, "for has more than one else")
	}
	if len(clauses) == 2 && clauses[1].node.DirectiveArgs() != "" {
		return e.Errorf(clauses[1].node, "else takes no arguments")
	}

	lv := loopVars{index: e.Temp("i"), seq: e.Temp("seq")}
	e.line = d.Line
	e.Line("%s = _iter(%s)", lv.seq, seq)
	e.line = d.Line
	e.Line("for %s, %s in enumerate(%s):", lv.index, target, lv.seq)
	e.loops = append(e.loops, lv)
	err = e.Indent(func() error {
		e.line = d.Line
		e.Line("loop = _loop(%s, len(%s))", lv.index, lv.seq)
		return e.Nodes(clauses[0].body)
	})
	e.loops = e.loops[:len(e.loops)-1]
	if err != nil {
		return err
	}
	if n := len(e.loops); n > 0 {
		outer := e.loops[n-1]
		e.Line("loop = _loop(%s, len(%s))", outer.index, outer.seq)
	}
	if len(clauses) == 2 {
		e.line = clauses[1].node.Line
		e.Line("if not %s:", lv.seq)
		return e.Body(clauses[1].body)
	}
	return nil
}

func emitWhile(e *Emitter, d *tpl.Node) error {
	cond, err := e.Expr(d, d.DirectiveArgs())
	if err != nil {
		return err
	}
	e.line = d.Line
	e.Line("while %s:", cond)
	return e.Body(d.Body())
}

// emitSet handles "name = expression".
func emitSet(e *Emitter, d *tpl.Node) error {
	args := d.DirectiveArgs()
	i := assignIndex(args)
	if i < 0 {
		return e.Errorf(d, "set expects \"name = expression\", found %q", args)
	}
	name := strings.TrimSpace(args[:i])
	if err := bindTarget(e, d, name); err != nil {
		return err
	}
	val, err := e.Expr(d, args[i+1:])
	if err != nil {
		return err
	}
	e.line = d.Line
	e.Line("%s = %s", name, val)
	return nil
}

// assignIndex returns the offset of the first "=" that is not part of a
// comparison operator.
func assignIndex(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '=' {
			return -1
		}
		if i > 0 && strings.ContainsRune("!<>=", rune(s[i-1])) {
			return -1
		}
		return i
	}
	return -1
}

// emitCapture renders its body into a string bound to a variable instead
// of the output.
func emitCapture(e *Emitter, d *tpl.Node) error {
	name := strings.TrimSpace(d.DirectiveArgs())
	if err := bindTarget(e, d, name); err != nil {
		return err
	}
	e.line = d.Line
	e.Line("_capture_start()")
	if err := e.Nodes(d.Body()); err != nil {
		return err
	}
	e.line = d.Line
	e.Line("%s = _capture_end()", name)
	return nil
}

func emitInclude(e *Emitter, d *tpl.Node) error {
	name, err := e.stringArg(d)
	if err != nil {
		return err
	}
	return e.Include(d, name)
}

func clauseOutside(where string) Handler {
	return HandlerFunc(func(e *Emitter, d *tpl.Node) error {
		return e.Errorf(d, "%s outside of %s", d.DirectiveName(), where)
	})
}
