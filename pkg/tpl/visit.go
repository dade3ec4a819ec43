package tpl

import (
	"bytes"
	"fmt"
)

type Visitor interface {
	Visit(n *Node) error
}

// VisitorFunc adapts a function to a Visitor.
type VisitorFunc func(n *Node) error

func (f VisitorFunc) Visit(n *Node) error { return f(n) }

// Walk visits n and its descendants in document order.
func Walk(v Visitor, n *Node) error {
	if err := v.Visit(n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := Walk(v, c); err != nil {
			return err
		}
	}
	return nil
}

// Pretty returns a line-oriented string representation of the AST.
func Pretty(t *AbstractSyntaxTree) string {
	var buf bytes.Buffer
	ppNode(&buf, 0, t.Root())
	return buf.String()
}

func ppNode(buf *bytes.Buffer, indent int, n *Node) {
	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}
	switch n.Kind {
	case NodeRoot:
		buf.WriteString("Root\n")
	case NodeDirective:
		fmt.Fprintf(buf, "Directive@%d\n", n.Line)
	default:
		fmt.Fprintf(buf, "%s(%q)@%d\n", n.Kind, n.Value, n.Line)
	}
	for _, c := range n.Children {
		ppNode(buf, indent+2, c)
	}
}
