package tpl

import "strings"

// NodeKind tags the variant held by a Node.
type NodeKind int

const (
	NodeRoot NodeKind = iota
	NodeDirective
	NodeDirectiveName
	NodeExpression
	NodeSanitizedTag
	NodeUnsanitizedTag
	NodeComment
	NodeWord
)

var nodeKindNames = [...]string{
	NodeRoot:           "Root",
	NodeDirective:      "Directive",
	NodeDirectiveName:  "DirectiveName",
	NodeExpression:     "Expression",
	NodeSanitizedTag:   "SanitizedTag",
	NodeUnsanitizedTag: "UnsanitizedTag",
	NodeComment:        "Comment",
	NodeWord:           "Word",
}

func (k NodeKind) String() string {
	if int(k) >= 0 && int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return "Unknown"
}

// Node is a single AST node. Children are owned by the node and are kept in
// output order. The parent link is only used for navigation.
type Node struct {
	Kind     NodeKind
	Value    string
	Line     int
	Children []*Node

	parent *Node
}

// NewNode returns a detached node.
func NewNode(kind NodeKind, value string, line int) *Node {
	return &Node{Kind: kind, Value: value, Line: line}
}

// Parent returns the node's parent. The root is its own parent.
func (n *Node) Parent() *Node {
	if n.parent == nil {
		return n
	}
	return n.parent
}

// AddChild appends c to n's children and sets n as its parent.
func (n *Node) AddChild(c *Node) *Node {
	c.parent = n
	n.Children = append(n.Children, c)
	return c
}

func (n *Node) IsRoot() bool           { return n.Kind == NodeRoot }
func (n *Node) IsDirective() bool      { return n.Kind == NodeDirective }
func (n *Node) IsDirectiveName() bool  { return n.Kind == NodeDirectiveName }
func (n *Node) IsExpression() bool     { return n.Kind == NodeExpression }
func (n *Node) IsSanitizedTag() bool   { return n.Kind == NodeSanitizedTag }
func (n *Node) IsUnsanitizedTag() bool { return n.Kind == NodeUnsanitizedTag }
func (n *Node) IsComment() bool        { return n.Kind == NodeComment }
func (n *Node) IsWord() bool           { return n.Kind == NodeWord }

// DirectiveName returns the name of a directive node, or "".
func (n *Node) DirectiveName() string {
	if nn := n.nameNode(); nn != nil {
		return nn.Value
	}
	return ""
}

// DirectiveArgs returns the argument text of a directive node, or "".
func (n *Node) DirectiveArgs() string {
	nn := n.nameNode()
	if nn == nil {
		return ""
	}
	for _, c := range nn.Children {
		if c.IsExpression() {
			return c.Value
		}
	}
	return ""
}

func (n *Node) nameNode() *Node {
	if !n.IsDirective() || len(n.Children) == 0 || !n.Children[0].IsDirectiveName() {
		return nil
	}
	return n.Children[0]
}

// Body returns the body children of a directive, or all children of any
// other node.
func (n *Node) Body() []*Node {
	if n.nameNode() != nil {
		return n.Children[1:]
	}
	return n.Children
}

// Expression returns the expression text held by a tag node.
func (n *Node) Expression() string {
	for _, c := range n.Children {
		if c.IsExpression() {
			return c.Value
		}
	}
	return ""
}

// AbstractSyntaxTree owns the root node and the cursor of currently open
// nodes used while parsing.
type AbstractSyntaxTree struct {
	root  *Node
	stack []*Node
}

// NewAbstractSyntaxTree returns an empty tree with the cursor at the root.
func NewAbstractSyntaxTree() *AbstractSyntaxTree {
	t := &AbstractSyntaxTree{}
	t.ClearNodes()
	return t
}

// Root returns the root node.
func (t *AbstractSyntaxTree) Root() *Node { return t.root }

// Current returns the node new children are appended to.
func (t *AbstractSyntaxTree) Current() *Node { return t.stack[len(t.stack)-1] }

// ClearNodes resets the tree to a fresh root.
func (t *AbstractSyntaxTree) ClearNodes() {
	t.root = NewNode(NodeRoot, "", 0)
	t.stack = []*Node{t.root}
}

func (t *AbstractSyntaxTree) depth() int { return len(t.stack) - 1 }

// push appends n to the current node and makes it current.
func (t *AbstractSyntaxTree) push(n *Node) *Node {
	t.Current().AddChild(n)
	t.stack = append(t.stack, n)
	return n
}

// pop closes the current node. The root is never popped.
func (t *AbstractSyntaxTree) pop() *Node {
	n := t.Current()
	if len(t.stack) > 1 {
		t.stack = t.stack[:len(t.stack)-1]
	}
	return n
}

// openDirective returns the innermost open directive, or nil.
func (t *AbstractSyntaxTree) openDirective() *Node {
	for i := len(t.stack) - 1; i > 0; i-- {
		if t.stack[i].IsDirective() {
			return t.stack[i]
		}
	}
	return nil
}

// BlockSet reports which directive names open a block that must be closed.
type BlockSet interface {
	IsBlock(name string) bool
}

// BlockNames is a BlockSet backed by a fixed list of names.
type BlockNames []string

func (b BlockNames) IsBlock(name string) bool {
	for _, n := range b {
		if n == name {
			return true
		}
	}
	return false
}

// DefaultBlocks lists the block directives understood by the built-in
// directive set.
var DefaultBlocks = BlockNames{"if", "for", "while", "capture", "block"}

// closerTarget reports whether name closes a block and, for end<name>, which
// block it closes. A bare end returns "".
func closerTarget(name string, blocks BlockSet) (string, bool) {
	if name == "end" {
		return "", true
	}
	target, ok := strings.CutPrefix(name, "end")
	if !ok || target == "" || !blocks.IsBlock(target) {
		return "", false
	}
	return target, true
}
