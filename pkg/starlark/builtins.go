package starlark

import (
	"fmt"
	"html"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CreateBuiltins returns the functions every template program can call.
// Names with a leading underscore are emitted by the transpiler.
func CreateBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"_w":             starlark.NewBuiltin("_w", write(false)),
		"_e":             starlark.NewBuiltin("_e", write(true)),
		"_iter":          starlark.NewBuiltin("_iter", iterate),
		"_loop":          starlark.NewBuiltin("_loop", loopRecord),
		"_capture_start": starlark.NewBuiltin("_capture_start", captureStart),
		"_capture_end":   starlark.NewBuiltin("_capture_end", captureEnd),
		"echo":           starlark.NewBuiltin("echo", echo),
		"escape":         stringFunc("escape", html.EscapeString),
		"upper":          stringFunc("upper", strings.ToUpper),
		"lower":          stringFunc("lower", strings.ToLower),
		"trim":           stringFunc("trim", strings.TrimSpace),
		"title":          stringFunc("title", title),
		"default":        starlark.NewBuiltin("default", defaultValue),
		"join":           starlark.NewBuiltin("join", join),
		"length":         starlark.NewBuiltin("length", length),
	}
}

func write(escape bool) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		out, err := outputOf(thread)
		if err != nil {
			return nil, err
		}
		s := toText(v)
		if escape {
			s = html.EscapeString(s)
		}
		out.write(s)
		return starlark.None, nil
	}
}

// echo writes its arguments unescaped, for use in host code blocks.
func echo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", fn.Name())
	}
	out, err := outputOf(thread)
	if err != nil {
		return nil, err
	}
	for _, a := range args {
		out.write(toText(a))
	}
	return starlark.None, nil
}

// title upper-cases the first letter of each word. A Caser keeps state, so
// each call gets its own.
func title(s string) string {
	return cases.Title(language.Und).String(s)
}

func stringFunc(name string, f func(string) string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		return starlark.String(f(toText(v))), nil
	})
}

// defaultValue returns d when v is None or the empty string.
func defaultValue(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v, d starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &v, &d); err != nil {
		return nil, err
	}
	if v == starlark.None || v == starlark.String("") {
		return d, nil
	}
	return v, nil
}

func join(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seq starlark.Iterable
	sep := ""
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "seq", &seq, "sep?", &sep); err != nil {
		return nil, err
	}
	var parts []string
	iter := seq.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		parts = append(parts, toText(x))
	}
	return starlark.String(strings.Join(parts, sep)), nil
}

func length(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.MakeInt(0), nil
	}
	if s, ok := v.(starlark.String); ok {
		return starlark.MakeInt(len([]rune(string(s)))), nil
	}
	n := starlark.Len(v)
	if n < 0 {
		return nil, fmt.Errorf("%s: value of type %s has no length", fn.Name(), v.Type())
	}
	return starlark.MakeInt(n), nil
}

// iterate materializes the value a for directive walks: None is empty,
// strings yield characters and dicts yield keys.
func iterate(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case starlark.NoneType:
		return starlark.NewList(nil), nil
	case starlark.String:
		var items []starlark.Value
		for _, r := range string(v) {
			items = append(items, starlark.String(string(r)))
		}
		return starlark.NewList(items), nil
	case *starlark.Dict:
		return starlark.NewList(v.Keys()), nil
	case starlark.Iterable:
		var items []starlark.Value
		iter := v.Iterate()
		defer iter.Done()
		var x starlark.Value
		for iter.Next(&x) {
			items = append(items, x)
		}
		return starlark.NewList(items), nil
	}
	return nil, fmt.Errorf("cannot iterate over %s", v.Type())
}

// loopRecord builds the loop variable of a for directive.
func loopRecord(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var i, n int
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &i, &n); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlark.String("loop"), starlark.StringDict{
		"index":     starlark.MakeInt(i + 1),
		"index0":    starlark.MakeInt(i),
		"revindex":  starlark.MakeInt(n - i),
		"revindex0": starlark.MakeInt(n - i - 1),
		"first":     starlark.Bool(i == 0),
		"last":      starlark.Bool(i == n-1),
		"length":    starlark.MakeInt(n),
	}), nil
}

func captureStart(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	out, err := outputOf(thread)
	if err != nil {
		return nil, err
	}
	out.push()
	return starlark.None, nil
}

func captureEnd(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	out, err := outputOf(thread)
	if err != nil {
		return nil, err
	}
	// The outermost buffer belongs to the executor.
	if out.depth() <= 1 {
		return nil, errCaptureUnderflow
	}
	return starlark.String(out.pop()), nil
}
