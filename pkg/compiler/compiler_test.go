package compiler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neurodesk/viewc/pkg/cache"
	viewstar "github.com/neurodesk/viewc/pkg/starlark"
	"github.com/neurodesk/viewc/pkg/tpl"
	"github.com/neurodesk/viewc/pkg/transpile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCompiler(opts ...Option) (*Compiler, *Counters) {
	counters := NewCounters()
	opts = append([]Option{WithObserver(counters), WithLogger(quietLogger())}, opts...)
	return New(opts...), counters
}

func TestCompileOutputs(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]any
		want string
	}{
		{"literal round trip", "Hello, world!", nil, "Hello, world!"},
		{"inline script round trip", "<script>var o = {\"a\": {\"b\": 1}};</script>", nil, "<script>var o = {\"a\": {\"b\": 1}};</script>"},
		{"sanitized tag", "{{ name }}", map[string]any{"name": "<b>x</b>"}, "&lt;b&gt;x&lt;/b&gt;"},
		{"unsanitized tag", "{{! name !}}", map[string]any{"name": "<b>x</b>"}, "<b>x</b>"},
		{
			"nested same-name directives",
			"<% if a %>[<% if b %>inner<% endif %>]<% endif %>",
			map[string]any{"a": true, "b": true},
			"[inner]",
		},
		{
			"inner scope contained in outer",
			"<% if a %>[<% if b %>inner<% endif %>]<% endif %>",
			map[string]any{"a": false, "b": true},
			"",
		},
		{"comment dropped", "a{# note #}b", nil, "ab"},
		{"escaped delimiter", `\{{ x }}`, nil, "{{ x }}"},
		{"crlf normalized", "a\r\nb", nil, "a\nb"},
		{"bom stripped", "\ufeffhi", nil, "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCompiler()
			out, err := c.CompileString("page", tt.src, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCompileErrorsCarryStage(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		stage  Stage
		target any
	}{
		{"lex", "{{ x", StageLex, new(*tpl.LexError)},
		{"parse stray close", "a %> b", StageParse, new(*tpl.ParseError)},
		{"parse unclosed", "<% if x %>", StageParse, new(*tpl.ParseError)},
		{"transpile unknown directive", "<% frobnicate %>", StageTranspile, new(*transpile.TranspileError)},
		{"execute", "before {{ 1 // 0 }}", StageExecute, new(*viewstar.ExecutionError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, counters := newTestCompiler()
			out, err := c.CompileString("page", tt.src, nil)
			assert.Empty(t, out)

			var ce *CompilerError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.stage, ce.Stage)
			assert.Equal(t, "page", ce.Template)
			assert.True(t, errors.As(err, tt.target))
			assert.Contains(t, err.Error(), string(tt.stage))
			assert.Equal(t, 1, counters.Failures(tt.stage))
		})
	}
}

func TestSanitizedTagsCannotWriteRaw(t *testing.T) {
	c, _ := newTestCompiler()
	vars := map[string]any{"name": "<b>x</b>", "user": map[string]any{"echo": "<i>"}}

	for _, src := range []string{"{{ echo(name) }}", "{{ _w(name) }}", "{{ _e(name) }}"} {
		out, err := c.CompileString("page", src, vars)
		var ce *CompilerError
		require.ErrorAs(t, err, &ce, src)
		assert.Equal(t, StageTranspile, ce.Stage, src)
		assert.Empty(t, out, src)
	}

	out, err := c.CompileString("page", `<? echo(name) ?>{{ user["echo"] }}`, vars)
	require.NoError(t, err)
	assert.Equal(t, "<b>x</b>&lt;i&gt;", out)
}

func TestCompileNilView(t *testing.T) {
	c, _ := newTestCompiler()
	_, err := c.Compile(nil)
	var ce *CompilerError
	assert.True(t, errors.As(err, &ce))
}

func TestCacheIdempotence(t *testing.T) {
	c, counters := newTestCompiler(WithCache(cache.NewMemory(cache.WithGC(0, 0)), time.Minute))
	v := tpl.NewView("page", "Hi {{ name }}", map[string]any{"name": "Ada"})

	first, err := c.Compile(v)
	require.NoError(t, err)
	second, err := c.Compile(v)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for _, s := range []Stage{StageLex, StageParse, StageTranspile, StageExecute} {
		assert.Equal(t, 1, counters.Runs(s), "stage %s", s)
	}
	assert.Equal(t, 1, counters.Hits())
	assert.Equal(t, 1, counters.Misses())
}

func TestCacheKeyTracksContentsAndVars(t *testing.T) {
	c, counters := newTestCompiler(WithCache(cache.NewMemory(cache.WithGC(0, 0)), time.Minute))

	out, err := c.CompileString("page", "Hi {{ name }}", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", out)

	out, err = c.CompileString("page", "Hi {{ name }}", map[string]any{"name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Bob", out)

	out, err = c.CompileString("page", "Bye {{ name }}", map[string]any{"name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Bye Bob", out)

	assert.Equal(t, 3, counters.Runs(StageExecute))
	assert.Equal(t, 0, counters.Hits())

	// Stringers and Starlark values key by what the template sees.
	out, err = c.CompileString("page", "{{ s }}", map[string]any{"s": badge{"alice"}})
	require.NoError(t, err)
	assert.Equal(t, "alice", out)
	out, err = c.CompileString("page", "{{ s }}", map[string]any{"s": badge{"bob"}})
	require.NoError(t, err)
	assert.Equal(t, "bob", out)

	list := func(xs ...int) *starlark.List {
		var items []starlark.Value
		for _, x := range xs {
			items = append(items, starlark.MakeInt(x))
		}
		return starlark.NewList(items)
	}
	out, err = c.CompileString("page", "{{ xs }}", map[string]any{"xs": list(1)})
	require.NoError(t, err)
	assert.Equal(t, "[1]", out)
	out, err = c.CompileString("page", "{{ xs }}", map[string]any{"xs": list(2)})
	require.NoError(t, err)
	assert.Equal(t, "[2]", out)
	assert.Equal(t, 0, counters.Hits())
}

type badge struct{ name string }

func (b badge) String() string { return b.name }

func TestCacheExpiryRecompiles(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c, counters := newTestCompiler(WithCache(cache.NewMemory(cache.WithClock(clock), cache.WithGC(0, 0)), time.Second))

	_, err := c.CompileString("page", "x", nil)
	require.NoError(t, err)
	now = now.Add(time.Second)
	_, err = c.CompileString("page", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Runs(StageExecute))

	now = now.Add(time.Millisecond)
	_, err = c.CompileString("page", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Runs(StageExecute))
}

func TestZeroLifetimeNeverStores(t *testing.T) {
	mem := cache.NewMemory(cache.WithGC(0, 0))
	c, counters := newTestCompiler(WithCache(mem, 0))

	for range 3 {
		_, err := c.CompileString("page", "x", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, counters.Runs(StageExecute))
	assert.Zero(t, mem.Len())
}

func TestFailedCompileIsNotCached(t *testing.T) {
	mem := cache.NewMemory(cache.WithGC(0, 0))
	c, _ := newTestCompiler(WithCache(mem, time.Minute))

	_, err := c.CompileString("page", "a{{ fail('x') }}", nil)
	require.Error(t, err)
	assert.Zero(t, mem.Len())
}

func TestUncacheableVarsSkipCache(t *testing.T) {
	mem := cache.NewMemory(cache.WithGC(0, 0))
	c, counters := newTestCompiler(WithCache(mem, time.Minute))

	fn := starlark.NewBuiltin("f", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return starlark.None, nil
	})
	vars := map[string]any{"n": 1, "f": fn}
	_, err := c.CompileString("page", "{{ n }}", vars)
	require.NoError(t, err)
	assert.Zero(t, mem.Len())
	assert.Zero(t, counters.Misses())
}

type brokenCache struct{ gets, sets int }

func (b *brokenCache) Get(string) (string, bool, error) {
	b.gets++
	return "", false, errors.New("disk on fire")
}

func (b *brokenCache) Set(string, string, time.Duration) error {
	b.sets++
	return errors.New("disk on fire")
}
func (b *brokenCache) Has(string) (bool, error) { return false, errors.New("disk on fire") }
func (b *brokenCache) Delete(string) error      { return errors.New("disk on fire") }
func (b *brokenCache) Flush() error             { return errors.New("disk on fire") }

func TestCacheErrorsDegradeToMiss(t *testing.T) {
	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	broken := &brokenCache{}
	c := New(WithCache(broken, time.Minute), WithLogger(logger))

	out, err := c.CompileString("page", "ok", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Positive(t, broken.gets)
	assert.Equal(t, 1, broken.sets)
	assert.Contains(t, logs.String(), "cache read failed")
	assert.Contains(t, logs.String(), "cache write failed")
}

func TestConcurrentMissesRunOnce(t *testing.T) {
	gate := make(chan struct{})
	slow := tpl.MemoryLoader{"slow": "{{ 1 }}"}
	loader := gatedLoader{slow, gate}
	c, counters := newTestCompiler(
		WithCache(cache.NewMemory(cache.WithGC(0, 0)), time.Minute),
		WithLoader(loader),
	)

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.CompileString("page", `<% include "slow" %>`, nil)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, "1", results[i])
	}
	assert.Equal(t, 1, counters.Runs(StageExecute))
}

// gatedLoader blocks every load until gate is closed.
type gatedLoader struct {
	tpl.MemoryLoader
	gate chan struct{}
}

func (g gatedLoader) Load(name string) (string, error) {
	<-g.gate
	return g.MemoryLoader.Load(name)
}

func TestConcurrentDistinctViews(t *testing.T) {
	c, _ := newTestCompiler(WithCache(cache.NewMemory(), time.Minute))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			want := fmt.Sprintf("user%d", i%8)
			out, err := c.CompileString("page", "{{ name }}", map[string]any{"name": want})
			if err != nil {
				errs <- err
				return
			}
			if out != want {
				errs <- fmt.Errorf("got %q, want %q", out, want)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRender(t *testing.T) {
	loader := tpl.MemoryLoader{
		"base":  "<html><% block body %>default<% endblock %></html>",
		"page":  "<% extends \"base\" %><% block body %>{{ title }}<% endblock %>",
		"crlf":  "a\r\n<% include \"part\" %>",
		"part":  "b\r\n",
	}
	c, counters := newTestCompiler(WithLoader(loader))

	out, err := c.Render("page", map[string]any{"title": "Home"})
	require.NoError(t, err)
	assert.Equal(t, "<html>Home</html>", out)

	out, err = c.Render("crlf", nil)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)

	_, err = c.Render("missing", nil)
	var ce *CompilerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageLoad, ce.Stage)
	assert.ErrorIs(t, err, tpl.ErrTemplateNotFound)
	assert.Equal(t, 1, counters.Failures(StageLoad))
}

func TestRenderWithoutLoader(t *testing.T) {
	c, _ := newTestCompiler()
	_, err := c.Render("page", nil)
	var ce *CompilerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageLoad, ce.Stage)
}

func TestTranspileOnly(t *testing.T) {
	c, counters := newTestCompiler()
	p, err := c.Transpile(tpl.NewView("page", "hi {{ x }}", nil))
	require.NoError(t, err)
	assert.Contains(t, p.Code, `_w("hi ")`)
	assert.Zero(t, counters.Runs(StageExecute))
}

func TestPreprocessorOverride(t *testing.T) {
	c, _ := newTestCompiler(WithPreprocessor(strings.ToUpper))
	out, err := c.CompileString("page", "abc", nil)
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)

	raw, _ := newTestCompiler(WithPreprocessor(nil))
	out, err = raw.CompileString("page", "a\r\nb", nil)
	require.NoError(t, err)
	assert.Equal(t, "a\r\nb", out)
}

func TestCustomDirective(t *testing.T) {
	reg := transpile.DefaultRegistry()
	reg.Register("shout", transpile.HandlerFunc(func(e *transpile.Emitter, d *tpl.Node) error {
		e.Line("_w(%s)", `"!!!"`)
		return nil
	}))
	c, _ := newTestCompiler(WithTranspiler(transpile.New(transpile.WithRegistry(reg))))

	out, err := c.CompileString("page", "hey<% shout %>", nil)
	require.NoError(t, err)
	assert.Equal(t, "hey!!!", out)
}

func TestFlush(t *testing.T) {
	mem := cache.NewMemory(cache.WithGC(0, 0))
	c, _ := newTestCompiler(WithCache(mem, time.Minute))
	_, err := c.CompileString("page", "x", nil)
	require.NoError(t, err)
	require.Equal(t, 1, mem.Len())

	require.NoError(t, c.Flush())
	assert.Zero(t, mem.Len())

	none, _ := newTestCompiler()
	assert.NoError(t, none.Flush())
}

func TestDefaultKey(t *testing.T) {
	a, err := DefaultKey(tpl.NewView("p", "x", map[string]any{"a": 1}))
	require.NoError(t, err)
	b, err := DefaultKey(tpl.NewView("p", "x", map[string]any{"a": 1}))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "p:"))

	c, err := DefaultKey(tpl.NewView("p", "y", map[string]any{"a": 1}))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = DefaultKey(tpl.NewView("p", "x", map[string]any{"f": func() {}}))
	assert.Error(t, err)
}
