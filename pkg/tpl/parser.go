package tpl

import "fmt"

// ParseOption configures Parse.
type ParseOption func(*parser)

// WithBlocks sets the directive names that open blocks. The default is
// DefaultBlocks.
func WithBlocks(b BlockSet) ParseOption {
	return func(p *parser) { p.blocks = b }
}

type parser struct {
	tokens []Token
	pos    int
	tree   *AbstractSyntaxTree
	blocks BlockSet
}

// Parse builds an AST from a token stream produced by Lex.
func Parse(tokens []Token, opts ...ParseOption) (*AbstractSyntaxTree, error) {
	p := &parser{tokens: tokens, tree: NewAbstractSyntaxTree(), blocks: DefaultBlocks}
	for _, o := range opts {
		o(p)
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.tree, nil
}

// ParseString lexes and parses src.
func ParseString(src string, opts ...ParseOption) (*AbstractSyntaxTree, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	return Parse(tokens, opts...)
}

func (p *parser) next() Token {
	if p.pos >= len(p.tokens) {
		line := 1
		if n := len(p.tokens); n > 0 {
			line = p.tokens[n-1].Line
		}
		return Token{Type: TokenEOF, Line: line}
	}
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) parse() error {
	for {
		tok := p.next()
		var err error
		switch tok.Type {
		case TokenEOF:
			if d := p.tree.openDirective(); d != nil {
				return &ParseError{
					Line:     tok.Line,
					Expected: fmt.Sprintf("%q closing %q opened at line %d", DirectiveOpen+" end"+d.DirectiveName()+" "+DirectiveClose, d.DirectiveName(), d.Line),
					Found:    tok.describe(),
				}
			}
			return nil
		case TokenText:
			p.tree.Current().AddChild(NewNode(NodeWord, tok.Value, tok.Line))
		case TokenHostOpen:
			err = p.parseHost(tok)
		case TokenSanitizedOpen:
			err = p.parseTag(tok, NodeSanitizedTag, TokenSanitizedClose)
		case TokenUnsanitizedOpen:
			err = p.parseTag(tok, NodeUnsanitizedTag, TokenUnsanitizedClose)
		case TokenCommentOpen:
			err = p.parseComment(tok)
		case TokenDirectiveOpen:
			err = p.parseDirective(tok)
		default:
			err = &ParseError{Line: tok.Line, Found: tok.describe()}
		}
		if err != nil {
			return err
		}
	}
}

// body consumes an optional expression token.
func (p *parser) body() (Token, bool) {
	if p.peek().Type == TokenExpression {
		return p.next(), true
	}
	return Token{}, false
}

func (p *parser) expect(want TokenType) error {
	tok := p.next()
	if tok.Type != want {
		return &ParseError{Line: tok.Line, Expected: fmt.Sprintf("%q", delimiterText(want)), Found: tok.describe()}
	}
	return nil
}

func (p *parser) parseHost(open Token) error {
	n := p.tree.push(NewNode(NodeExpression, "", open.Line))
	if body, ok := p.body(); ok {
		n.Value = body.Value
	}
	if err := p.expect(TokenHostClose); err != nil {
		return err
	}
	p.tree.pop()
	return nil
}

func (p *parser) parseTag(open Token, kind NodeKind, closer TokenType) error {
	p.tree.push(NewNode(kind, "", open.Line))
	body, ok := p.body()
	if !ok {
		return &ParseError{Line: open.Line, Expected: "expression", Found: p.peek().describe()}
	}
	p.tree.Current().AddChild(NewNode(NodeExpression, body.Value, body.Line))
	if err := p.expect(closer); err != nil {
		return err
	}
	p.tree.pop()
	return nil
}

func (p *parser) parseComment(open Token) error {
	n := p.tree.push(NewNode(NodeComment, "", open.Line))
	if body, ok := p.body(); ok {
		n.Value = body.Value
	}
	if err := p.expect(TokenCommentClose); err != nil {
		return err
	}
	p.tree.pop()
	return nil
}

func (p *parser) parseDirective(open Token) error {
	nameTok := p.next()
	if nameTok.Type != TokenDirectiveName {
		return &ParseError{Line: nameTok.Line, Expected: "directive name", Found: nameTok.describe()}
	}
	d := NewNode(NodeDirective, "", open.Line)
	name := d.AddChild(NewNode(NodeDirectiveName, nameTok.Value, nameTok.Line))
	if args, ok := p.body(); ok {
		name.AddChild(NewNode(NodeExpression, args.Value, args.Line))
	}
	if err := p.expect(TokenDirectiveClose); err != nil {
		return err
	}

	if target, ok := closerTarget(nameTok.Value, p.blocks); ok {
		if args := name.Children; len(args) > 0 {
			return &ParseError{
				Line:     args[0].Line,
				Expected: fmt.Sprintf("%q", DirectiveOpen+" "+nameTok.Value+" "+DirectiveClose),
				Found:    fmt.Sprintf("arguments %q", args[0].Value),
			}
		}
		return p.closeBlock(nameTok, target)
	}
	if p.blocks.IsBlock(nameTok.Value) {
		p.tree.push(d)
		return nil
	}
	p.tree.Current().AddChild(d)
	return nil
}

// closeBlock pops exactly one open directive. An end<name> closer must match
// the name of the block it closes.
func (p *parser) closeBlock(closer Token, target string) error {
	found := fmt.Sprintf("%q", DirectiveOpen+" "+closer.Value+" "+DirectiveClose)
	cur := p.tree.Current()
	if !cur.IsDirective() {
		return &ParseError{Line: closer.Line, Expected: "", Found: found + " with no open block"}
	}
	if target != "" && cur.DirectiveName() != target {
		return &ParseError{
			Line:     closer.Line,
			Expected: fmt.Sprintf("%q closing %q opened at line %d", DirectiveOpen+" end"+cur.DirectiveName()+" "+DirectiveClose, cur.DirectiveName(), cur.Line),
			Found:    found,
		}
	}
	p.tree.pop()
	return nil
}
