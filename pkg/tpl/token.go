package tpl

import "fmt"

// TokenType identifies the kind of a lexed token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenText
	TokenExpression
	TokenHostOpen         // <?
	TokenHostClose        // ?>
	TokenDirectiveOpen    // <%
	TokenDirectiveName    // first word inside <% %>
	TokenDirectiveClose   // %>
	TokenSanitizedOpen    // {{
	TokenSanitizedClose   // }}
	TokenUnsanitizedOpen  // {{!
	TokenUnsanitizedClose // !}}
	TokenCommentOpen      // {#
	TokenCommentClose     // #}
)

var tokenNames = [...]string{
	TokenEOF:              "EOF",
	TokenText:             "TEXT",
	TokenExpression:       "EXPRESSION",
	TokenHostOpen:         "HOST_OPEN",
	TokenHostClose:        "HOST_CLOSE",
	TokenDirectiveOpen:    "DIRECTIVE_OPEN",
	TokenDirectiveName:    "DIRECTIVE_NAME",
	TokenDirectiveClose:   "DIRECTIVE_CLOSE",
	TokenSanitizedOpen:    "SANITIZED_OPEN",
	TokenSanitizedClose:   "SANITIZED_CLOSE",
	TokenUnsanitizedOpen:  "UNSANITIZED_OPEN",
	TokenUnsanitizedClose: "UNSANITIZED_CLOSE",
	TokenCommentOpen:      "COMMENT_OPEN",
	TokenCommentClose:     "COMMENT_CLOSE",
}

func (t TokenType) String() string {
	if int(t) >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Delimiters of the template language.
const (
	HostOpen         = "<?"
	HostClose        = "?>"
	DirectiveOpen    = "<%"
	DirectiveClose   = "%>"
	SanitizedOpen    = "{{"
	SanitizedClose   = "}}"
	UnsanitizedOpen  = "{{!"
	UnsanitizedClose = "!}}"
	CommentOpen      = "{#"
	CommentClose     = "#}"
)

// Token is a single lexeme. Tokens are never modified after lexing.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

func (t Token) String() string {
	if t.Value == "" {
		return fmt.Sprintf("%s@%d", t.Type, t.Line)
	}
	return fmt.Sprintf("%s(%q)@%d", t.Type, t.Value, t.Line)
}

// describe renders a token the way it appeared in the source, for errors.
func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenText:
		return fmt.Sprintf("text %q", abbreviate(t.Value))
	case TokenExpression:
		return fmt.Sprintf("expression %q", abbreviate(t.Value))
	case TokenDirectiveName:
		return fmt.Sprintf("directive name %q", t.Value)
	}
	return fmt.Sprintf("%q", delimiterText(t.Type))
}

func delimiterText(t TokenType) string {
	switch t {
	case TokenHostOpen:
		return HostOpen
	case TokenHostClose:
		return HostClose
	case TokenDirectiveOpen:
		return DirectiveOpen
	case TokenDirectiveClose:
		return DirectiveClose
	case TokenSanitizedOpen:
		return SanitizedOpen
	case TokenSanitizedClose:
		return SanitizedClose
	case TokenUnsanitizedOpen:
		return UnsanitizedOpen
	case TokenUnsanitizedClose:
		return UnsanitizedClose
	case TokenCommentOpen:
		return CommentOpen
	case TokenCommentClose:
		return CommentClose
	}
	return t.String()
}

func abbreviate(s string) string {
	const max = 24
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
