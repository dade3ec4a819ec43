package tpl

import "strings"

// The lexer scans template source and yields a flat token stream for text and
// the five delimiter forms: sanitized tags {{ }}, unsanitized tags {{! !}},
// directives <% %>, host code <? ?> and comments {# #}.

type lexMode int

const (
	modeText lexMode = iota
	modeSanitized
	modeUnsanitized
	modeDirective
	modeHost
	modeComment
)

type delimiter struct {
	text string
	kind TokenType
	mode lexMode // mode entered after an opener; modeText for closers
}

// escapable lists every delimiter a backslash can make literal, longest
// first so that {{! is never read as {{ followed by text.
var escapable = []delimiter{
	{UnsanitizedOpen, TokenUnsanitizedOpen, modeUnsanitized},
	{UnsanitizedClose, TokenUnsanitizedClose, modeText},
	{SanitizedOpen, TokenSanitizedOpen, modeSanitized},
	{SanitizedClose, TokenSanitizedClose, modeText},
	{CommentOpen, TokenCommentOpen, modeComment},
	{CommentClose, TokenCommentClose, modeText},
	{DirectiveOpen, TokenDirectiveOpen, modeDirective},
	{DirectiveClose, TokenDirectiveClose, modeText},
	{HostOpen, TokenHostOpen, modeHost},
	{HostClose, TokenHostClose, modeText},
}

// textDelimiters are the delimiters recognized in text: every opener, and
// the directive closer so that a stray %> reaches the parser. The other
// closers are ordinary text outside their construct, which keeps inline
// JSON, scripts and styles intact.
var textDelimiters = []delimiter{
	{UnsanitizedOpen, TokenUnsanitizedOpen, modeUnsanitized},
	{SanitizedOpen, TokenSanitizedOpen, modeSanitized},
	{CommentOpen, TokenCommentOpen, modeComment},
	{DirectiveOpen, TokenDirectiveOpen, modeDirective},
	{DirectiveClose, TokenDirectiveClose, modeText},
	{HostOpen, TokenHostOpen, modeHost},
}

var closers = map[lexMode]delimiter{
	modeSanitized:   {SanitizedClose, TokenSanitizedClose, modeText},
	modeUnsanitized: {UnsanitizedClose, TokenUnsanitizedClose, modeText},
	modeDirective:   {DirectiveClose, TokenDirectiveClose, modeText},
	modeHost:        {HostClose, TokenHostClose, modeText},
	modeComment:     {CommentClose, TokenCommentClose, modeText},
}

var modeNames = map[lexMode]string{
	modeSanitized:   "sanitized tag",
	modeUnsanitized: "unsanitized tag",
	modeDirective:   "directive",
	modeHost:        "host code block",
	modeComment:     "comment",
}

type lexer struct {
	src    string
	i      int
	n      int
	line   int
	modes  []lexMode
	tokens []Token
}

// Lex scans src into tokens. The stream always ends with a TokenEOF. Any
// unterminated construct fails the whole scan.
func Lex(src string) ([]Token, error) {
	l := &lexer{src: src, n: len(src), line: 1, modes: []lexMode{modeText}}
	for l.i < l.n {
		var err error
		switch m := l.mode(); m {
		case modeText:
			l.lexText()
		case modeDirective:
			err = l.lexDirective()
		case modeComment:
			err = l.lexInside(m, false)
		default:
			err = l.lexInside(m, true)
		}
		if err != nil {
			return nil, err
		}
	}
	if m := l.mode(); m != modeText {
		return nil, &LexError{Line: l.line, Message: "unterminated " + modeNames[m]}
	}
	l.emit(TokenEOF, "", l.line)
	return l.tokens, nil
}

func (l *lexer) mode() lexMode { return l.modes[len(l.modes)-1] }

func (l *lexer) push(m lexMode) { l.modes = append(l.modes, m) }

func (l *lexer) pop() { l.modes = l.modes[:len(l.modes)-1] }

func (l *lexer) emit(kind TokenType, val string, line int) {
	l.tokens = append(l.tokens, Token{Type: kind, Value: val, Line: line})
}

func (l *lexer) match(s string) bool {
	return l.i+len(s) <= l.n && l.src[l.i:l.i+len(s)] == s
}

func (l *lexer) delimiterAt(pos int, set []delimiter) (delimiter, bool) {
	for _, d := range set {
		if pos+len(d.text) <= l.n && l.src[pos:pos+len(d.text)] == d.text {
			return d, true
		}
	}
	return delimiter{}, false
}

// advance consumes n bytes, counting newlines.
func (l *lexer) advance(n int) {
	l.line += strings.Count(l.src[l.i:l.i+n], "\n")
	l.i += n
}

// lexText emits a single coalesced text token up to the next delimiter, then
// the delimiter itself. A backslash before a delimiter makes it literal.
func (l *lexer) lexText() {
	var b strings.Builder
	start, line := l.i, l.line
	flush := func() {
		b.WriteString(l.src[start:l.i])
		if b.Len() > 0 {
			l.emit(TokenText, b.String(), line)
		}
	}
	for l.i < l.n {
		c := l.src[l.i]
		if c == '\\' {
			if d, ok := l.delimiterAt(l.i+1, escapable); ok {
				b.WriteString(l.src[start:l.i])
				l.advance(1)
				lit := l.i
				l.advance(l.escapedSpan(d))
				b.WriteString(l.src[lit:l.i])
				start = l.i
				continue
			}
		}
		if d, ok := l.delimiterAt(l.i, textDelimiters); ok {
			flush()
			l.emit(d.kind, "", l.line)
			l.i += len(d.text)
			if d.mode != modeText {
				l.push(d.mode)
			}
			return
		}
		if c == '\n' {
			l.line++
		}
		l.i++
	}
	flush()
}

// escapedSpan returns the length of literal text produced by an escaped
// delimiter at l.i. An escaped opener runs through its closer when one
// follows, so \{{ name }} is emitted verbatim as {{ name }}.
func (l *lexer) escapedSpan(d delimiter) int {
	n := len(d.text)
	if d.mode == modeText {
		return n
	}
	c := closers[d.mode].text
	if k := strings.Index(l.src[l.i+n:], c); k >= 0 {
		return n + k + len(c)
	}
	return n
}

// lexInside emits the body of a tag, host block or comment as one expression
// token followed by the closing delimiter. When code is set, the closer is
// only recognized outside string literals and brackets.
func (l *lexer) lexInside(m lexMode, code bool) error {
	closer := closers[m]
	openLine := l.line
	end := l.findCloser(closer.text, code)
	if end < 0 {
		return &LexError{Line: openLine, Message: "unterminated " + modeNames[m] + ", expected " + closer.text}
	}
	body := l.src[l.i:end]
	if strings.TrimSpace(body) != "" {
		l.emit(TokenExpression, body, openLine)
	}
	l.advance(end - l.i)
	l.emit(closer.kind, "", l.line)
	l.i += len(closer.text)
	l.pop()
	return nil
}

// lexDirective emits the directive name and, when present, its argument text.
func (l *lexer) lexDirective() error {
	openLine := l.line
	for l.i < l.n && isSpace(l.src[l.i]) {
		l.advance(1)
	}
	if l.i >= l.n {
		return &LexError{Line: openLine, Message: "unterminated directive, expected " + DirectiveClose}
	}
	start := l.i
	for l.i < l.n && isIdentByte(l.src[l.i], l.i == start) {
		l.i++
	}
	if l.i == start {
		if l.match(DirectiveClose) {
			return &LexError{Line: l.line, Message: "empty directive"}
		}
		return &LexError{Line: l.line, Message: "directive must start with a name"}
	}
	l.emit(TokenDirectiveName, l.src[start:l.i], l.line)

	end := l.findCloser(DirectiveClose, true)
	if end < 0 {
		return &LexError{Line: openLine, Message: "unterminated directive, expected " + DirectiveClose}
	}
	argLine := l.line
	for p := l.i; p < end && isSpace(l.src[p]); p++ {
		if l.src[p] == '\n' {
			argLine++
		}
	}
	if args := strings.TrimSpace(l.src[l.i:end]); args != "" {
		l.emit(TokenExpression, args, argLine)
	}
	l.advance(end - l.i)
	l.emit(TokenDirectiveClose, "", l.line)
	l.i += len(DirectiveClose)
	l.pop()
	return nil
}

// findCloser returns the offset of the next closer at or after l.i, or -1.
func (l *lexer) findCloser(closer string, code bool) int {
	if !code {
		if k := strings.Index(l.src[l.i:], closer); k >= 0 {
			return l.i + k
		}
		return -1
	}
	depth := 0
	for p := l.i; p < l.n; p++ {
		c := l.src[p]
		if depth == 0 && strings.HasPrefix(l.src[p:], closer) {
			return p
		}
		switch c {
		case '"', '\'':
			q := skipString(l.src, p)
			if q < 0 {
				return -1
			}
			p = q - 1
		case '#':
			for p+1 < l.n && l.src[p+1] != '\n' && !strings.HasPrefix(l.src[p+1:], closer) {
				p++
			}
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return -1
}

// skipString returns the offset just past the string literal starting at p,
// or -1 when it is not terminated. Triple-quoted strings are supported.
func skipString(src string, p int) int {
	q := src[p]
	triple := strings.Repeat(string(q), 3)
	if strings.HasPrefix(src[p:], triple) {
		if k := strings.Index(src[p+3:], triple); k >= 0 {
			return p + 3 + k + 3
		}
		return -1
	}
	for i := p + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case q:
			return i + 1
		case '\n':
			return -1
		}
	}
	return -1
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isIdentByte(b byte, first bool) bool {
	if b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') {
		return true
	}
	return !first && b >= '0' && b <= '9'
}
