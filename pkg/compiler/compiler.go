// Package compiler is the entry point for rendering templates. It drives
// the lex, parse, transpile and execute stages and memoizes results in a
// cache.
package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/neurodesk/viewc/pkg/cache"
	viewstar "github.com/neurodesk/viewc/pkg/starlark"
	"github.com/neurodesk/viewc/pkg/tpl"
	"github.com/neurodesk/viewc/pkg/transpile"
	"golang.org/x/sync/singleflight"
)

// KeyFunc derives the cache key of a view. An error marks the view as
// uncacheable; it is then compiled without consulting the cache.
type KeyFunc func(v *tpl.View) (string, error)

// Preprocessor rewrites template source before lexing. It is applied to
// the compiled view and to every template reached through include or
// extends.
type Preprocessor func(src string) string

// DefaultKey hashes the view's contents and variables, so editing the
// template or rendering with other data never hits a stale entry. The
// variables are hashed in the form the executor binds them.
func DefaultKey(v *tpl.View) (string, error) {
	vars, err := viewstar.Fingerprint(v.Vars)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(v.Contents))
	h.Write([]byte{0})
	h.Write([]byte(vars))
	return v.Path + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizeNewlines strips a UTF-8 byte order mark and converts CRLF and
// lone CR line endings to LF.
func NormalizeNewlines(src string) string {
	src = strings.TrimPrefix(src, "\ufeff")
	if !strings.Contains(src, "\r") {
		return src
	}
	src = strings.ReplaceAll(src, "\r\n", "\n")
	return strings.ReplaceAll(src, "\r", "\n")
}

// Compiler renders views. It is safe for concurrent use.
type Compiler struct {
	cache      cache.Cache
	lifetime   time.Duration
	loader     tpl.Loader
	transpiler *transpile.Transpiler
	executor   *viewstar.Executor
	key        KeyFunc
	observer   Observer
	preprocess Preprocessor
	logger     *slog.Logger

	group singleflight.Group
}

type Option func(*Compiler)

// WithCache memoizes rendered output in c for lifetime. A lifetime <= 0
// reads the cache but never writes to it.
func WithCache(c cache.Cache, lifetime time.Duration) Option {
	return func(cp *Compiler) { cp.cache, cp.lifetime = c, lifetime }
}

// WithLoader sets where Render and the include and extends directives find
// templates.
func WithLoader(l tpl.Loader) Option {
	return func(c *Compiler) { c.loader = l }
}

func WithTranspiler(t *transpile.Transpiler) Option {
	return func(c *Compiler) { c.transpiler = t }
}

func WithExecutor(x *viewstar.Executor) Option {
	return func(c *Compiler) { c.executor = x }
}

func WithKeyFunc(f KeyFunc) Option {
	return func(c *Compiler) { c.key = f }
}

func WithObserver(o Observer) Option {
	return func(c *Compiler) { c.observer = o }
}

// WithPreprocessor replaces NormalizeNewlines. nil disables preprocessing.
func WithPreprocessor(p Preprocessor) Option {
	return func(c *Compiler) { c.preprocess = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

func New(opts ...Option) *Compiler {
	c := &Compiler{
		key:        DefaultKey,
		observer:   nopObserver{},
		preprocess: NormalizeNewlines,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.transpiler == nil {
		c.transpiler = transpile.New(transpile.WithLogger(c.logger))
	}
	if c.executor == nil {
		c.executor = viewstar.NewExecutor(viewstar.WithLogger(c.logger))
	}
	if c.preprocess == nil {
		c.preprocess = func(s string) string { return s }
	}
	return c
}

// Compile renders v, serving it from the cache when possible. Every
// failure is a *CompilerError.
func (c *Compiler) Compile(v *tpl.View) (string, error) {
	if v == nil {
		return "", &CompilerError{Stage: StageLoad, Err: errors.New("nil view")}
	}
	if c.cache == nil {
		return c.run(v)
	}
	key, err := c.key(v)
	if err != nil {
		c.logger.Debug("view is not cacheable", "template", v.Path, "error", err)
		return c.run(v)
	}
	if out, ok := c.lookup(v.Path, key); ok {
		c.observer.ObserveCache(v.Path, true)
		return out, nil
	}
	c.observer.ObserveCache(v.Path, false)

	res, err, _ := c.group.Do(key, func() (any, error) {
		// A flight that finished between the lookup above and Do may
		// already have stored the result.
		if out, ok := c.lookup(v.Path, key); ok {
			return out, nil
		}
		out, err := c.run(v)
		if err != nil {
			return "", err
		}
		c.store(v.Path, key, out)
		return out, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// CompileString renders src under name.
func (c *Compiler) CompileString(name, src string, vars map[string]any) (string, error) {
	return c.Compile(tpl.NewView(name, src, vars))
}

// Render loads name through the loader and renders it.
func (c *Compiler) Render(name string, vars map[string]any) (string, error) {
	v, err := c.View(name, vars)
	if err != nil {
		return "", err
	}
	return c.Compile(v)
}

// View loads name into a view without rendering it.
func (c *Compiler) View(name string, vars map[string]any) (*tpl.View, error) {
	start := time.Now()
	if c.loader == nil {
		err := &CompilerError{Template: name, Stage: StageLoad, Err: errors.New("no loader configured")}
		c.observer.ObserveStage(name, StageLoad, time.Since(start), err)
		return nil, err
	}
	src, err := c.loader.Load(name)
	c.observer.ObserveStage(name, StageLoad, time.Since(start), err)
	if err != nil {
		return nil, &CompilerError{Template: name, Stage: StageLoad, Err: err}
	}
	return tpl.NewView(name, src, vars), nil
}

// Transpile runs the pipeline up to code generation and returns the
// program without executing it.
func (c *Compiler) Transpile(v *tpl.View) (*transpile.Program, error) {
	src := c.preprocess(v.Contents)

	start := time.Now()
	tokens, err := tpl.Lex(src)
	if err := c.stage(v.Path, StageLex, start, err); err != nil {
		return nil, err
	}

	start = time.Now()
	ast, err := tpl.Parse(tokens, tpl.WithBlocks(c.transpiler.Registry()))
	if err := c.stage(v.Path, StageParse, start, err); err != nil {
		return nil, err
	}

	start = time.Now()
	var loader tpl.Loader
	if c.loader != nil {
		loader = preprocessed{c.loader, c.preprocess}
	}
	p, err := c.transpiler.Transpile(v.Path, ast, loader)
	if err := c.stage(v.Path, StageTranspile, start, err); err != nil {
		return nil, err
	}
	return p, nil
}

// Flush empties the cache. Templates reached through include or extends
// are part of their parent's artifact, so changing one of them requires a
// flush rather than a single delete.
func (c *Compiler) Flush() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Flush()
}

// Cache returns the configured cache, or nil.
func (c *Compiler) Cache() cache.Cache { return c.cache }

func (c *Compiler) run(v *tpl.View) (string, error) {
	p, err := c.Transpile(v)
	if err != nil {
		return "", err
	}
	start := time.Now()
	out, err := c.executor.Execute(p, v.Vars)
	if err := c.stage(v.Path, StageExecute, start, err); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Compiler) stage(name string, stage Stage, start time.Time, err error) error {
	elapsed := time.Since(start)
	c.observer.ObserveStage(name, stage, elapsed, err)
	if err != nil {
		c.logger.Debug("compile stage failed", "template", name, "stage", stage, "error", err)
		return &CompilerError{Template: name, Stage: stage, Err: err}
	}
	c.logger.Debug("compile stage", "template", name, "stage", stage, "elapsed", elapsed)
	return nil
}

func (c *Compiler) lookup(name, key string) (string, bool) {
	out, ok, err := c.cache.Get(key)
	if err != nil {
		c.logger.Warn("cache read failed", "template", name, "error", err)
		return "", false
	}
	return out, ok
}

func (c *Compiler) store(name, key, out string) {
	if c.lifetime <= 0 {
		return
	}
	if err := c.cache.Set(key, out, c.lifetime); err != nil {
		c.logger.Warn("cache write failed", "template", name, "error", err)
	}
}

type preprocessed struct {
	tpl.Loader
	fn Preprocessor
}

func (p preprocessed) Load(name string) (string, error) {
	s, err := p.Loader.Load(name)
	if err != nil {
		return "", err
	}
	return p.fn(s), nil
}
