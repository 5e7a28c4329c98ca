package method

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"tiny-rpc/message"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Method is one registered handler.
type Method struct {
	Name string
	// Params are the parameter names used to bind keyword arguments.
	Params []string
	// Arity is the number of bindable parameters, or -1 for a raw Func.
	Arity int

	fn Func
}

// Call invokes the handler. args and kwargs may be nil. Every failure, including a panic in
// the handler, comes back as a *message.ExecutionError.
func (m *Method) Call(ctx context.Context, args []any, kwargs map[string]any) (result any, err error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &message.ExecutionError{Method: m.Name, Err: errors.Errorf("%v", r)}
		}
	}()

	result, err = m.fn(ctx, args, kwargs)
	if err != nil {
		var execErr *message.ExecutionError
		if errors.As(err, &execErr) {
			return nil, err
		}
		return nil, &message.ExecutionError{Method: m.Name, Err: err}
	}
	return result, nil
}

// Bind adapts a plain Go function to Func. fn may take a leading context.Context and must
// return nothing, a value, an error, or a value and an error. params names the remaining
// parameters; when omitted they are called arg0, arg1, ...
func Bind(fn any, params ...string) (*Method, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, errors.Errorf("method: handler must be a function, got %T", fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, errors.New("method: variadic handlers are not supported, use a raw Func")
	}

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		first = 1
	}
	arity := ft.NumIn() - first

	switch {
	case len(params) == 0:
		params = make([]string, arity)
		for i := range params {
			params[i] = fmt.Sprintf("arg%d", i)
		}
	case len(params) != arity:
		return nil, errors.Errorf("method: handler takes %d parameters but %d names were given", arity, len(params))
	}
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if _, dup := seen[p]; dup || p == "" {
			return nil, errors.Errorf("method: invalid or duplicate parameter name %q", p)
		}
		seen[p] = struct{}{}
	}

	switch ft.NumOut() {
	case 0, 1:
	case 2:
		if ft.Out(1) != errorType {
			return nil, errors.Errorf("method: second return value must be error, got %s", ft.Out(1))
		}
	default:
		return nil, errors.Errorf("method: handler returns %d values, at most 2 allowed", ft.NumOut())
	}

	m := &Method{Params: params, Arity: arity}
	m.fn = func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		in := make([]reflect.Value, 0, ft.NumIn())
		if first == 1 {
			if ctx == nil {
				ctx = context.Background()
			}
			in = append(in, reflect.ValueOf(ctx))
		}
		values, err := m.bind(args, kwargs)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			rv, err := convert(v, ft.In(first+i))
			if err != nil {
				return nil, errors.Errorf("%s() argument '%s': %s", m.Name, m.Params[i], err)
			}
			in = append(in, rv)
		}
		return unpack(fv.Call(in))
	}
	return m, nil
}

// bind places positional and keyword arguments into parameter slots.
func (m *Method) bind(args []any, kwargs map[string]any) ([]any, error) {
	n := len(m.Params)
	if len(args) > n {
		return nil, errors.Errorf("%s() takes %d positional %s but %d %s given",
			m.Name, n, plural(n, "argument", "arguments"), len(args), plural(len(args), "was", "were"))
	}

	slots := make([]any, n)
	filled := make([]bool, n)
	for i, a := range args {
		slots[i] = a
		filled[i] = true
	}

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		idx := indexOf(m.Params, k)
		if idx < 0 {
			return nil, errors.Errorf("%s() got an unexpected keyword argument '%s'", m.Name, k)
		}
		if filled[idx] {
			return nil, errors.Errorf("%s() got multiple values for argument '%s'", m.Name, k)
		}
		slots[idx] = kwargs[k]
		filled[idx] = true
	}

	var missing []string
	for i, ok := range filled {
		if !ok {
			missing = append(missing, "'"+m.Params[i]+"'")
		}
	}
	if len(missing) > 0 {
		return nil, errors.Errorf("%s() missing %d required positional %s: %s",
			m.Name, len(missing), plural(len(missing), "argument", "arguments"), joinNames(missing))
	}
	return slots, nil
}

func unpack(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		if !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}
}

// convert turns a decoded JSON value into a value assignable to t.
func convert(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, mismatch(t, v)
	}

	if t.Kind() == reflect.Interface {
		nv := normalize(v)
		rv := reflect.ValueOf(nv)
		if !rv.Type().Implements(t) {
			return reflect.Value{}, mismatch(t, v)
		}
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := number(v)
		if !ok || f != math.Trunc(f) {
			return reflect.Value{}, mismatch(t, v)
		}
		i, err := integer(v)
		if err != nil {
			return reflect.Value{}, mismatch(t, v)
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(i) {
			return reflect.Value{}, errors.Errorf("value %v out of range for %s", v, t)
		}
		out.SetInt(i)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := number(v)
		if !ok || f != math.Trunc(f) {
			return reflect.Value{}, mismatch(t, v)
		}
		i, err := integer(v)
		if err != nil {
			return reflect.Value{}, mismatch(t, v)
		}
		out := reflect.New(t).Elem()
		if i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, errors.Errorf("value %v out of range for %s", v, t)
		}
		out.SetUint(uint64(i))
		return out, nil
	case reflect.Float32, reflect.Float64:
		f, ok := number(v)
		if !ok {
			return reflect.Value{}, mismatch(t, v)
		}
		out := reflect.New(t).Elem()
		out.SetFloat(f)
		return out, nil
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return reflect.Value{}, mismatch(t, v)
		}
		return reflect.ValueOf(s).Convert(t), nil
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return reflect.Value{}, mismatch(t, v)
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Slice:
		list, ok := v.([]any)
		if !ok {
			return reflect.Value{}, mismatch(t, v)
		}
		out := reflect.MakeSlice(t, len(list), len(list))
		for i, item := range list {
			ev, err := convert(item, t.Elem())
			if err != nil {
				return reflect.Value{}, errors.Wrapf(err, "item %d", i)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case reflect.Map:
		dict, ok := v.(map[string]any)
		if !ok || t.Key().Kind() != reflect.String {
			return reflect.Value{}, mismatch(t, v)
		}
		out := reflect.MakeMapWithSize(t, len(dict))
		for k, item := range dict {
			ev, err := convert(item, t.Elem())
			if err != nil {
				return reflect.Value{}, errors.Wrapf(err, "key %q", k)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		return out, nil
	case reflect.Pointer:
		ev, err := convert(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t.Elem())
		out.Elem().Set(ev)
		return out, nil
	case reflect.Struct:
		if _, ok := v.(map[string]any); !ok {
			return reflect.Value{}, mismatch(t, v)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return reflect.Value{}, mismatch(t, v)
		}
		out := reflect.New(t)
		if err := json.Unmarshal(raw, out.Interface()); err != nil {
			return reflect.Value{}, errors.Errorf("expected %s: %s", t, err)
		}
		return out.Elem(), nil
	}
	return reflect.Value{}, mismatch(t, v)
}

// normalize replaces json.Number with int64 or float64, recursively.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	}
	return v
}

// number reports v as a float64 if it is numeric.
func number(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}

// integer returns v as an int64 without going through float64 where possible.
func integer(v any) (int64, error) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, errors.Errorf("%s is not a 64-bit integer", n)
		}
		return int64(f), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int(), nil
	case rv.CanUint():
		if rv.Uint() > math.MaxInt64 {
			return 0, errors.Errorf("%d is not a 64-bit integer", rv.Uint())
		}
		return int64(rv.Uint()), nil
	case rv.CanFloat():
		return int64(rv.Float()), nil
	}
	return 0, errors.Errorf("%T is not a number", v)
}

func mismatch(t reflect.Type, v any) error {
	return errors.Errorf("expected %s, got %s", t, jsonKind(v))
}

// jsonKind names the JSON type of a decoded value.
func jsonKind(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return "int"
		}
		return "float"
	case string:
		return "string"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt(), rv.CanUint():
		return "int"
	case rv.CanFloat():
		return "float"
	}
	return fmt.Sprintf("%T", v)
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// joinNames renders 'a', 'a' and 'b', or 'a', 'b', and 'c'.
func joinNames(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
}
