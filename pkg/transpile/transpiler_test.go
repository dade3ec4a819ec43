package transpile

import (
	"errors"
	"testing"

	"github.com/neurodesk/viewc/pkg/tpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transpile(t *testing.T, src string, loader tpl.Loader) (*Program, error) {
	t.Helper()
	tr := New()
	ast, err := tpl.ParseString(src, tpl.WithBlocks(tr.Registry()))
	require.NoError(t, err)
	return tr.Transpile("page", ast, loader)
}

func mustTranspile(t *testing.T, src string, loader tpl.Loader) *Program {
	t.Helper()
	p, err := transpile(t, src, loader)
	require.NoError(t, err)
	return p
}

func transpileError(t *testing.T, src string, loader tpl.Loader) *TranspileError {
	t.Helper()
	_, err := transpile(t, src, loader)
	var te *TranspileError
	require.True(t, errors.As(err, &te), "got %v", err)
	return te
}

func TestTranspileWordsAndTags(t *testing.T) {
	p := mustTranspile(t, "Hello {{ name }}!\n{{! raw !}}{# gone #}", nil)
	assert.Equal(t, "_w(\"Hello \")\n_e((name))\n_w(\"!\\n\")\n_w((raw))\n", p.Code)
	assert.Equal(t, []SourcePos{
		{"page", 1}, {"page", 1}, {"page", 1}, {"page", 2},
	}, p.Lines)
	assert.Equal(t, "page", p.Name)
}

func TestTranspileExpressionWithComment(t *testing.T) {
	p := mustTranspile(t, "{{ x # note }}", nil)
	assert.Equal(t, "_e((x # note\n))\n", p.Code)
	assert.Len(t, p.Lines, 2)
}

func TestTranspileNestedIf(t *testing.T) {
	p := mustTranspile(t, "<% if a %><% if b %>AB<% endif %><% elif c %>C<% else %><% endif %>", nil)
	assert.Equal(t,
		"if (a):\n"+
			"    if (b):\n"+
			"        _w(\"AB\")\n"+
			"elif (c):\n"+
			"    _w(\"C\")\n"+
			"else:\n"+
			"    pass\n",
		p.Code)
}

func TestTranspileFor(t *testing.T) {
	p := mustTranspile(t, "<% for k, v in items %>{{ k }}<% else %>none<% endfor %>", nil)
	assert.Equal(t,
		"_seq2 = _iter((items))\n"+
			"for _i1, (k, v) in enumerate(_seq2):\n"+
			"    loop = _loop(_i1, len(_seq2))\n"+
			"    _e((k))\n"+
			"if not _seq2:\n"+
			"    _w(\"none\")\n",
		p.Code)
}

func TestTranspileNestedForRestoresLoop(t *testing.T) {
	p := mustTranspile(t, "<% for a in xs %><% for b in ys %><% endfor %>{{ loop.index }}<% endfor %>", nil)
	assert.Contains(t, p.Code,
		"    for _i3, b in enumerate(_seq4):\n"+
			"        loop = _loop(_i3, len(_seq4))\n"+
			"    loop = _loop(_i1, len(_seq2))\n"+
			"    _e((loop.index))\n")
}

func TestTranspileSetWhileCapture(t *testing.T) {
	p := mustTranspile(t, "<% set n = 3 %><% while n > 0 %><% set n = n - 1 %><% endwhile %><% capture out %>x<% endcapture %>", nil)
	assert.Equal(t,
		"n = (3)\n"+
			"while (n > 0):\n"+
			"    n = (n - 1)\n"+
			"_capture_start()\n"+
			"_w(\"x\")\n"+
			"out = _capture_end()\n",
		p.Code)
}

func TestTranspileHostCode(t *testing.T) {
	p := mustTranspile(t, "<% if a %><?\n    x = 1\n    if x:\n        echo(x)\n?><% endif %>", nil)
	assert.Equal(t,
		"if (a):\n"+
			"    x = 1\n"+
			"    if x:\n"+
			"        echo(x)\n",
		p.Code)
	assert.Equal(t, SourcePos{"page", 2}, p.Source(2))
	assert.Equal(t, SourcePos{"page", 4}, p.Source(4))
}

func TestTranspileInclude(t *testing.T) {
	loader := tpl.MemoryLoader{
		"header": "<h1>{{ title }}</h1>\n",
	}
	p := mustTranspile(t, "a\n<% include \"header\" %>b", loader)
	assert.Equal(t, "_w(\"a\\n\")\n_w(\"<h1>\")\n_e((title))\n_w(\"</h1>\\n\")\n_w(\"b\")\n", p.Code)
	assert.Equal(t, SourcePos{"header", 1}, p.Source(3))
	assert.Equal(t, SourcePos{"page", 2}, p.Source(5))
}

func TestTranspileExtends(t *testing.T) {
	loader := tpl.MemoryLoader{
		"base":   "[<% block head %>H<% endblock %>|<% block content %>base<% endblock %>]",
		"middle": "<% extends \"base\" %><% block content %><% parent %>+middle<% endblock %>",
	}

	t.Run("single level", func(t *testing.T) {
		p := mustTranspile(t, "<% extends \"base\" %>ignored<% block content %>child<% endblock %>", loader)
		assert.Equal(t, "_w(\"[\")\n_w(\"H\")\n_w(\"|\")\n_w(\"child\")\n_w(\"]\")\n", p.Code)
		assert.Equal(t, "page", p.Source(4).Template)
		assert.Equal(t, "base", p.Source(1).Template)
	})

	t.Run("chain with parent", func(t *testing.T) {
		p := mustTranspile(t, "<% extends \"middle\" %><% block content %><% parent %>+page<% endblock %>", loader)
		assert.Equal(t,
			"_w(\"[\")\n_w(\"H\")\n_w(\"|\")\n_w(\"base\")\n_w(\"+middle\")\n_w(\"+page\")\n_w(\"]\")\n",
			p.Code)
	})
}

func TestTranspileErrors(t *testing.T) {
	loader := tpl.MemoryLoader{
		"self":   "<% include \"self\" %>",
		"broken": "x\n{{ unclosed",
		"loopA":  "<% extends \"loopB\" %>",
		"loopB":  "<% extends \"loopA\" %>",
	}
	tests := []struct {
		name     string
		src      string
		template string
		line     int
	}{
		{"unknown directive", "\n<% frobnicate %>", "page", 2},
		{"invalid expression", "{{ 1 + }}", "page", 1},
		{"tuple expression", "{{ a, b }}", "page", 1},
		{"reserved set target", "<% set _w = 1 %>", "page", 1},
		{"set loop", "<% set loop = 1 %>", "page", 1},
		{"set without assignment", "<% set x == 1 %>", "page", 1},
		{"bad for", "<% for x %><% endfor %>", "page", 1},
		{"elif outside if", "<% elif x %>", "page", 1},
		{"else after else", "<% if a %><% else %><% else %><% endif %>", "page", 1},
		{"include non literal", "<% include name %>", "page", 1},
		{"include missing", "<% include \"nope\" %>", "page", 1},
		{"include cycle", "<% include \"self\" %>", "self", 1},
		{"include broken", "<% include \"broken\" %>", "broken", 2},
		{"nested extends", "<% if a %><% extends \"base\" %><% endif %>", "page", 1},
		{"extends cycle", "<% extends \"loopA\" %>", "loopB", 1},
		{"parent outside block", "<% parent %>", "page", 1},
		{"bad host code", "<? x = ) ?>", "page", 1},
		{"echo in sanitized tag", "{{ echo(name) }}", "page", 1},
		{"raw writer in sanitized tag", "{{ _w(name) }}", "page", 1},
		{"echo in unsanitized tag", "{{! echo(name) !}}", "page", 1},
		{"echo in lambda", "{{ (lambda: echo(name))() }}", "page", 1},
		{"echo in directive", "\n<% if echo(x) %><% endif %>", "page", 2},
		{"echo alias", "<% set say = echo %>", "page", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := transpileError(t, tt.src, loader)
			assert.Equal(t, tt.template, te.Template)
			assert.Equal(t, tt.line, te.Line)
		})
	}
}

func TestTranspileWithoutLoader(t *testing.T) {
	te := transpileError(t, "<% include \"x\" %>", nil)
	assert.Contains(t, te.Error(), "no loader")
}

func TestIncludeDepthLimit(t *testing.T) {
	loader := tpl.MemoryLoader{
		"a": "<% include \"b\" %>",
		"b": "<% include \"c\" %>",
		"c": "leaf",
	}
	tr := New(WithMaxIncludeDepth(2))
	ast, err := tpl.ParseString("<% include \"a\" %>")
	require.NoError(t, err)
	_, err = tr.Transpile("page", ast, loader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")

	p, err := New().Transpile("page", ast, loader)
	require.NoError(t, err)
	assert.Equal(t, "_w(\"leaf\")\n", p.Code)
}

func TestCustomDirective(t *testing.T) {
	reg := DefaultRegistry()
	reg.Register("shout", HandlerFunc(func(e *Emitter, d *tpl.Node) error {
		x, err := e.Expr(d, d.DirectiveArgs())
		if err != nil {
			return err
		}
		e.Line("_w(upper(%s))", x)
		return nil
	}))
	reg.RegisterBlock("twice", HandlerFunc(func(e *Emitter, d *tpl.Node) error {
		e.Line("for _ in range(2):")
		return e.Body(d.Body())
	}))
	tr := New(WithRegistry(reg))

	ast, err := tpl.ParseString("<% twice %><% shout 'hi' %><% endtwice %>", tpl.WithBlocks(reg))
	require.NoError(t, err)
	p, err := tr.Transpile("page", ast, nil)
	require.NoError(t, err)
	assert.Equal(t, "for _ in range(2):\n    _w(upper(('hi')))\n", p.Code)

	assert.True(t, reg.IsBlock("twice"))
	assert.False(t, reg.IsBlock("shout"))
	assert.Contains(t, reg.Names(), "shout")
}

func TestProgramSourceOutOfRange(t *testing.T) {
	p := &Program{Name: "x", Lines: []SourcePos{{"x", 3}}}
	assert.Equal(t, SourcePos{"x", 3}, p.Source(1))
	assert.Equal(t, SourcePos{"x", 0}, p.Source(0))
	assert.Equal(t, SourcePos{"x", 0}, p.Source(2))
	assert.Equal(t, "x:3", p.Source(1).String())
}

func TestIsBindable(t *testing.T) {
	assert.True(t, IsBindable("name"))
	assert.False(t, IsBindable("_w"))
	assert.False(t, IsBindable("loop"))
	assert.False(t, IsBindable("for"))
	assert.False(t, IsBindable("a.b"))
	assert.False(t, IsBindable(""))
}
