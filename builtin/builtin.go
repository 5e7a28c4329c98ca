// Package builtin provides the example methods served by the tiny-rpc binary.
package builtin

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"tiny-rpc/method"
)

// ErrOverflow is returned when an integer result does not fit in 64 bits.
var ErrOverflow = errors.New("integer overflow")

// Add returns a + b.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if (sum > a) != (b > 0) {
		return 0, errors.Wrapf(ErrOverflow, "add(%d, %d)", a, b)
	}
	return sum, nil
}

// Sub returns a - b.
func Sub(a, b int64) (int64, error) {
	diff := a - b
	if (diff < a) != (b > 0) {
		return 0, errors.Wrapf(ErrOverflow, "sub(%d, %d)", a, b)
	}
	return diff, nil
}

// Upper returns s in upper case.
func Upper(s string) string {
	return strings.ToUpper(s)
}

// Echo returns its single positional argument, or all arguments as a list when there are
// several. Keyword arguments are returned as an object when no positional ones were given.
func Echo(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	switch {
	case len(args) == 1 && len(kwargs) == 0:
		return args[0], nil
	case len(args) == 0 && len(kwargs) > 0:
		return kwargs, nil
	case len(kwargs) > 0:
		return nil, errors.New("echo() takes either positional or keyword arguments, not both")
	}
	return args, nil
}

// Fail always returns an error carrying msg.
func Fail(msg string) error {
	if msg == "" {
		msg = "failed on request"
	}
	return errors.New(msg)
}

// Register adds add, sub, upper, echo and fail to reg.
func Register(reg *method.Registry) error {
	for _, b := range []struct {
		name   string
		fn     any
		params []string
	}{
		{"add", Add, []string{"a", "b"}},
		{"sub", Sub, []string{"a", "b"}},
		{"upper", Upper, []string{"s"}},
		{"fail", Fail, []string{"msg"}},
	} {
		if err := reg.RegisterFunc(b.name, b.fn, b.params...); err != nil {
			return err
		}
	}
	return reg.Register("echo", Echo)
}

// NewRegistry returns a registry holding the builtin methods.
func NewRegistry() *method.Registry {
	reg := method.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
