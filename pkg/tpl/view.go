package tpl

import "fmt"

// View is the input to a compile: a template identity, its source and the
// variables it is rendered with.
type View struct {
	Path     string
	Contents string
	Vars     map[string]any
}

// NewView returns a view with a non-nil variable map.
func NewView(path, contents string, vars map[string]any) *View {
	if vars == nil {
		vars = map[string]any{}
	}
	return &View{Path: path, Contents: contents, Vars: vars}
}

// SetContents replaces the source, e.g. after a rewriting pass.
func (v *View) SetContents(s string) { v.Contents = s }

// Loader resolves template names to source text.
type Loader interface {
	Load(name string) (string, error)
}

// MemoryLoader serves templates from a map.
type MemoryLoader map[string]string

func (m MemoryLoader) Load(name string) (string, error) {
	if s, ok := m[name]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}
