package method

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-rpc/message"
)

func add(a, b int) int { return a + b }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("add", add, "a", "b"))
	require.NoError(t, reg.RegisterFunc("upper", func(s string) string { return s + "!" }, "s"))
	require.NoError(t, reg.Register("echo", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		return args, nil
	}))
	return reg
}

func call(t *testing.T, reg *Registry, name string, args []any, kwargs map[string]any) (any, error) {
	t.Helper()
	m, ok := reg.Lookup(name)
	require.True(t, ok, "method %s not registered", name)
	return m.Call(context.Background(), args, kwargs)
}

func TestRegistry(t *testing.T) {
	reg := newTestRegistry(t)

	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []string{"add", "echo", "upper"}, reg.Names())
	assert.True(t, reg.Has("add"))
	assert.False(t, reg.Has("mul"))

	_, ok := reg.Lookup("mul")
	assert.False(t, ok)

	assert.ErrorIs(t, reg.RegisterFunc("", add, "a", "b"), ErrEmptyName)
	assert.Error(t, reg.Register("nil", nil))

	reg.Seal()
	assert.True(t, reg.Sealed())
	assert.ErrorIs(t, reg.RegisterFunc("sub", add, "a", "b"), ErrSealed)
	assert.Equal(t, 3, reg.Len())
	assert.Panics(t, func() { reg.MustRegisterFunc("sub", add, "a", "b") })
}

func TestRegisterOverwrites(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegisterFunc("f", func() int { return 1 })
	reg.MustRegisterFunc("f", func() int { return 2 })

	res, err := call(t, reg, "f", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res)
	assert.Equal(t, 1, reg.Len())
}

func TestBindRejectsBadSignatures(t *testing.T) {
	cases := map[string]struct {
		fn     any
		params []string
	}{
		"not a function":   {fn: 5},
		"nil function":     {fn: (func())(nil)},
		"variadic":         {fn: func(xs ...int) int { return len(xs) }},
		"too many results": {fn: func() (int, int, error) { return 0, 0, nil }},
		"second not error": {fn: func() (int, int) { return 0, 0 }},
		"name count":       {fn: add, params: []string{"a"}},
		"duplicate names":  {fn: add, params: []string{"a", "a"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Bind(tc.fn, tc.params...)
			assert.Error(t, err)
		})
	}
}

func TestCallBinding(t *testing.T) {
	reg := newTestRegistry(t)

	res, err := call(t, reg, "add", []any{json.Number("2"), json.Number("3")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res)

	res, err = call(t, reg, "add", []any{json.Number("2")}, map[string]any{"b": json.Number("40")})
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	res, err = call(t, reg, "add", nil, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res)

	res, err = call(t, reg, "add", []any{json.Number("2.0"), 3.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res)

	res, err = call(t, reg, "echo", []any{"x", json.Number("1")}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", json.Number("1")}, res)
}

func TestCallBindingErrors(t *testing.T) {
	reg := newTestRegistry(t)

	cases := []struct {
		name   string
		method string
		args   []any
		kwargs map[string]any
		want   string
	}{
		{"too many", "add", []any{1, 2, 3}, nil, "add() takes 2 positional arguments but 3 were given"},
		{"too many single", "upper", []any{"a", "b"}, nil, "upper() takes 1 positional argument but 2 were given"},
		{"missing one", "add", []any{1}, nil, "add() missing 1 required positional argument: 'b'"},
		{"missing two", "add", nil, nil, "add() missing 2 required positional arguments: 'a' and 'b'"},
		{"duplicate", "add", []any{1, 2}, map[string]any{"a": 1}, "add() got multiple values for argument 'a'"},
		{"unexpected", "add", []any{1, 2}, map[string]any{"x": 1}, "add() got an unexpected keyword argument 'x'"},
		{"wrong type", "add", []any{"1", 2}, nil, "add() argument 'a': expected int, got string"},
		{"fraction", "add", []any{json.Number("1.5"), 2}, nil, "add() argument 'a': expected int, got float"},
		{"null", "upper", []any{nil}, nil, "upper() argument 's': expected string, got null"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := call(t, reg, tc.method, tc.args, tc.kwargs)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tc.want, err.Error())

			var execErr *message.ExecutionError
			require.True(t, errors.As(err, &execErr))
			assert.Equal(t, tc.method, execErr.Method)
		})
	}
}

func TestJoinNames(t *testing.T) {
	assert.Equal(t, "'a'", joinNames([]string{"'a'"}))
	assert.Equal(t, "'a' and 'b'", joinNames([]string{"'a'", "'b'"}))
	assert.Equal(t, "'a', 'b', and 'c'", joinNames([]string{"'a'", "'b'", "'c'"}))
}

func TestCallHandlerErrorsAndPanics(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegisterFunc("fail", func() (string, error) { return "", errors.New("boom") })
	reg.MustRegisterFunc("only_err", func() error { return errors.New("only") })
	reg.MustRegisterFunc("ok_err", func() error { return nil })
	reg.MustRegisterFunc("panic", func() int { panic("kaboom") })
	reg.MustRegister("raw", func(context.Context, []any, map[string]any) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	})

	_, err := call(t, reg, "fail", nil, nil)
	assert.EqualError(t, err, "boom")

	_, err = call(t, reg, "only_err", nil, nil)
	assert.EqualError(t, err, "only")

	res, err := call(t, reg, "ok_err", nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, res)

	_, err = call(t, reg, "panic", nil, nil)
	assert.EqualError(t, err, "kaboom")

	_, err = call(t, reg, "raw", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
}

func TestBindContextAndComposite(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	type ctxKey struct{}

	reg := NewRegistry()
	reg.MustRegisterFunc("ctx", func(ctx context.Context, s string) string {
		return s + ctx.Value(ctxKey{}).(string)
	}, "s")
	reg.MustRegisterFunc("sum", func(xs []float64) float64 {
		total := 0.0
		for _, x := range xs {
			total += x
		}
		return total
	}, "xs")
	reg.MustRegisterFunc("keys", func(m map[string]bool) int { return len(m) }, "m")
	reg.MustRegisterFunc("norm", func(p point, scale *int) int { return (p.X + p.Y) * *scale }, "p", "scale")
	reg.MustRegisterFunc("any", func(v any) any { return v }, "v")
	reg.MustRegisterFunc("small", func(v int8) int8 { return v }, "v")
	reg.MustRegisterFunc("unsigned", func(v uint) uint { return v }, "v")

	ctx := context.WithValue(context.Background(), ctxKey{}, "!")
	m, _ := reg.Lookup("ctx")
	res, err := m.Call(ctx, []any{"hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi!", res)
	assert.Equal(t, 1, m.Arity)
	assert.Equal(t, []string{"s"}, m.Params)

	res, err = call(t, reg, "sum", []any{[]any{json.Number("1.5"), json.Number("2")}}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, res, 1e-9)

	res, err = call(t, reg, "keys", nil, map[string]any{"m": map[string]any{"a": true, "b": false}})
	require.NoError(t, err)
	assert.Equal(t, 2, res)

	res, err = call(t, reg, "norm", []any{map[string]any{"x": json.Number("1"), "y": json.Number("2")}, json.Number("3")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, res)

	res, err = call(t, reg, "any", []any{[]any{json.Number("1"), json.Number("2.5")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), 2.5}, res)

	_, err = call(t, reg, "small", []any{json.Number("300")}, nil)
	assert.EqualError(t, err, "small() argument 'v': value 300 out of range for int8")

	_, err = call(t, reg, "unsigned", []any{json.Number("-1")}, nil)
	assert.EqualError(t, err, "unsigned() argument 'v': value -1 out of range for uint")

	_, err = call(t, reg, "sum", []any{[]any{"x"}}, nil)
	assert.EqualError(t, err, "sum() argument 'xs': item 0: expected float64, got string")
}
