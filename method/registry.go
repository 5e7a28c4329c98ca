// Package method holds the table of callable handlers served by tiny-rpc.
//
// Every handler is stored behind the uniform Func type, so the dispatcher never needs to
// know a handler's Go signature:
//
//	reg := method.NewRegistry()
//	reg.MustRegisterFunc("add", func(a, b int) int { return a + b }, "a", "b")
//	reg.MustRegister("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
//		return args, nil
//	})
//
// The registry is filled once at startup and sealed when the server starts accepting
// connections. Registering while serving is unsupported: after Seal, Register returns
// ErrSealed. Lookups take no lock because nothing writes to a sealed registry.
package method

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Func is the uniform handler signature. args and kwargs are never nil.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

var (
	// ErrSealed is returned by Register once the registry is being served.
	ErrSealed = errors.New("method: registry is sealed, register methods before serving")
	// ErrEmptyName is returned for a blank method name.
	ErrEmptyName = errors.New("method: name must not be empty")
)

// Registry maps method names to handlers.
type Registry struct {
	methods map[string]*Method
	sealed  atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Method)}
}

// Register stores fn under name, replacing any previous binding. params is informational
// for raw handlers; fn receives keyword arguments as they arrived.
func (r *Registry) Register(name string, fn Func, params ...string) error {
	if fn == nil {
		return errors.Errorf("method: nil handler for %q", name)
	}
	return r.add(&Method{Name: name, Params: params, Arity: -1, fn: fn})
}

// RegisterFunc adapts a plain Go function with Bind and stores it under name.
// params names the function's parameters (excluding a leading context.Context) so that
// keyword arguments can be bound.
func (r *Registry) RegisterFunc(name string, fn any, params ...string) error {
	m, err := Bind(fn, params...)
	if err != nil {
		return errors.Wrapf(err, "register %q", name)
	}
	m.Name = name
	return r.add(m)
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(name string, fn Func, params ...string) {
	if err := r.Register(name, fn, params...); err != nil {
		panic(err)
	}
}

// MustRegisterFunc is RegisterFunc for startup code; it panics on error.
func (r *Registry) MustRegisterFunc(name string, fn any, params ...string) {
	if err := r.RegisterFunc(name, fn, params...); err != nil {
		panic(err)
	}
}

func (r *Registry) add(m *Method) error {
	if m.Name == "" {
		return ErrEmptyName
	}
	if r.sealed.Load() {
		return errors.Wrapf(ErrSealed, "register %q", m.Name)
	}
	r.methods[m.Name] = m
	return nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (*Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.methods[name]
	return ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	return len(r.methods)
}

// Seal makes the registry read-only. It is called by the server before the first accept.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}
