package transpile

import (
	"fmt"
	"strings"

	"github.com/neurodesk/viewc/pkg/tpl"
)

// A template whose top level holds <% extends "parent" %> renders as the
// parent, with its block definitions replacing the parent's blocks of the
// same name. Chains of any length resolve to the root layout.

type blockDef struct {
	node     *tpl.Node
	template string
}

type blockFrame struct {
	defs []blockDef
	at   int
}

// resolveLayout follows the extends chain starting at root. It returns the
// root layout and the block overrides of every template above it, most
// derived first.
func (e *Emitter) resolveLayout(name string, root *tpl.Node) (*tpl.Node, string, map[string][]blockDef, error) {
	var overrides map[string][]blockDef
	chain := []string{name}
	prevName := e.name
	defer func() { e.name = prevName }()
	for {
		e.name = name
		ext, err := topLevelExtends(e, root)
		if err != nil || ext == nil {
			return root, name, overrides, err
		}
		parent, err := e.stringArg(ext)
		if err != nil {
			return nil, "", nil, err
		}
		if len(e.chain)+len(chain) > e.t.maxIncludeDepth {
			return nil, "", nil, e.Errorf(ext, "extends depth exceeds %d", e.t.maxIncludeDepth)
		}
		for _, c := range append(append([]string{}, e.chain...), chain...) {
			if c == parent {
				return nil, "", nil, e.Errorf(ext, "extends cycle: %s -> %s", strings.Join(chain, " -> "), parent)
			}
		}

		if overrides == nil {
			overrides = map[string][]blockDef{}
		}
		if err := collectBlocks(e, name, root, overrides); err != nil {
			return nil, "", nil, err
		}

		next, err := e.load(ext, parent)
		if err != nil {
			return nil, "", nil, err
		}
		root, name = next, parent
		chain = append(chain, parent)
	}
}

func topLevelExtends(e *Emitter, root *tpl.Node) (*tpl.Node, error) {
	var found *tpl.Node
	for _, c := range root.Children {
		if !c.IsDirective() || c.DirectiveName() != "extends" {
			continue
		}
		if found != nil {
			return nil, &TranspileError{Template: e.name, Line: c.Line, Message: "template extends more than one layout"}
		}
		found = c
	}
	return found, nil
}

// collectBlocks appends the block definitions found anywhere in root.
func collectBlocks(e *Emitter, name string, root *tpl.Node, into map[string][]blockDef) error {
	seen := map[string]bool{}
	return tpl.Walk(tpl.VisitorFunc(func(n *tpl.Node) error {
		if !n.IsDirective() || n.DirectiveName() != "block" {
			return nil
		}
		id := strings.TrimSpace(n.DirectiveArgs())
		if seen[id] {
			return &TranspileError{Template: name, Line: n.Line, Message: fmt.Sprintf("block %q defined twice", id)}
		}
		seen[id] = true
		into[id] = append(into[id], blockDef{node: n, template: name})
		return nil
	}), root)
}

// emitBlock renders the most derived definition of a block. Inside it,
// <% parent %> renders the next definition up the chain.
func emitBlock(e *Emitter, d *tpl.Node) error {
	id := strings.TrimSpace(d.DirectiveArgs())
	if !isIdentifier(id) {
		return e.Errorf(d, "block expects a name, found %q", id)
	}
	var defs []blockDef
	own := false
	for _, b := range e.blocks[id] {
		defs = append(defs, b)
		if b.node == d {
			own = true
		}
	}
	if !own {
		defs = append(defs, blockDef{node: d, template: e.name})
	}
	return e.emitBlockDef(blockFrame{defs: defs})
}

func (e *Emitter) emitBlockDef(f blockFrame) error {
	def := f.defs[f.at]
	prev := e.name
	e.name = def.template
	e.supers = append(e.supers, f)
	defer func() {
		e.supers = e.supers[:len(e.supers)-1]
		e.name = prev
	}()
	return e.Nodes(def.node.Body())
}

func emitParent(e *Emitter, d *tpl.Node) error {
	if d.DirectiveArgs() != "" {
		return e.Errorf(d, "parent takes no arguments")
	}
	if len(e.supers) == 0 {
		return e.Errorf(d, "parent used outside of a block")
	}
	f := e.supers[len(e.supers)-1]
	if f.at+1 >= len(f.defs) {
		return nil
	}
	f.at++
	return e.emitBlockDef(f)
}

func emitExtends(e *Emitter, d *tpl.Node) error {
	if d.Parent().IsRoot() {
		// Resolved before emission.
		return nil
	}
	return e.Errorf(d, "extends must appear at the top level of a template")
}
