package tpl

import (
	"errors"
	"fmt"
)

// ErrTemplateNotFound is returned by loaders when a name does not resolve.
var ErrTemplateNotFound = errors.New("template not found")

// LexError reports malformed template source.
type LexError struct {
	Line    int
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at line %d: %s", e.Line, e.Message)
}

// ParseError reports a token that does not fit the nesting rules.
type ParseError struct {
	Line     int
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("parse error at line %d: unexpected %s", e.Line, e.Found)
	}
	return fmt.Sprintf("parse error at line %d: expected %s, found %s", e.Line, e.Expected, e.Found)
}
