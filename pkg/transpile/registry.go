package transpile

import (
	"sort"
	"sync"

	"github.com/neurodesk/viewc/pkg/tpl"
)

// Handler emits Starlark for one directive.
type Handler interface {
	Emit(e *Emitter, d *tpl.Node) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(e *Emitter, d *tpl.Node) error

func (f HandlerFunc) Emit(e *Emitter, d *tpl.Node) error { return f(e, d) }

// Registry maps directive names to handlers. It also tells the parser which
// directives open blocks. Register before compiling; lookups during a compile
// only read.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	blocks   map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}, blocks: map[string]bool{}}
}

// Register adds a leaf directive, replacing any handler of the same name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	delete(r.blocks, name)
}

// RegisterBlock adds a directive whose body runs until end<name> or end.
func (r *Registry) RegisterBlock(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	r.blocks[name] = true
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// IsBlock implements tpl.BlockSet.
func (r *Registry) IsBlock(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blocks[name]
}

// Names returns the registered directive names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry holding the built-in directives.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterBlock("if", HandlerFunc(emitIf))
	r.RegisterBlock("for", HandlerFunc(emitFor))
	r.RegisterBlock("while", HandlerFunc(emitWhile))
	r.RegisterBlock("capture", HandlerFunc(emitCapture))
	r.RegisterBlock("block", HandlerFunc(emitBlock))
	r.Register("set", HandlerFunc(emitSet))
	r.Register("include", HandlerFunc(emitInclude))
	r.Register("extends", HandlerFunc(emitExtends))
	r.Register("parent", HandlerFunc(emitParent))
	r.Register("elif", clauseOutside("if"))
	r.Register("else", clauseOutside("if or for"))
	return r
}

var _ tpl.BlockSet = (*Registry)(nil)
