package gateway

import "fmt"

// Factory produces an App, for the `--call` CLI flag: the resolved
// identifier is itself invoked with no arguments to obtain the real
// application.
type Factory func() App

// Registry resolves `module:attribute` identifiers to applications or
// hooks. Go cannot dynamically import unlinked code the way the Python
// original resolves dotted import strings at runtime, so the identifier is
// instead looked up in an in-process table that the host registers at init
// time — this is the idiomatic Go analogue of the original's import
// resolver, and it is the one external collaborator this package leaves to
// the host.
type Registry struct {
	apps     map[string]App
	factories map[string]Factory
	hooks    map[string]func() error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		apps:      map[string]App{},
		factories: map[string]Factory{},
		hooks:     map[string]func() error{},
	}
}

// RegisterApp makes app resolvable under the given "module:attribute" id.
func (r *Registry) RegisterApp(id string, app App) {
	r.apps[id] = app
}

// RegisterFactory makes a zero-argument App factory resolvable under id,
// for use with the `--call` flag.
func (r *Registry) RegisterFactory(id string, f Factory) {
	r.factories[id] = f
}

// RegisterHook makes a lifecycle hook resolvable under id.
func (r *Registry) RegisterHook(id string, hook func() error) {
	r.hooks[id] = hook
}

// ResolveApp resolves id to an App, invoking the registered factory first if
// call is true.
func (r *Registry) ResolveApp(id string, call bool) (App, error) {
	if call {
		f, ok := r.factories[id]
		if !ok {
			return nil, fmt.Errorf("gateway: no app factory registered for %q", id)
		}
		return f(), nil
	}
	app, ok := r.apps[id]
	if !ok {
		return nil, fmt.Errorf("gateway: no app registered for %q", id)
	}
	return app, nil
}

// ResolveHook resolves id to a hook callable. An empty id resolves to a
// no-op hook, matching the original's `lambda: None` default.
func (r *Registry) ResolveHook(id string) (func() error, error) {
	if id == "" {
		return func() error { return nil }, nil
	}
	hook, ok := r.hooks[id]
	if !ok {
		return nil, fmt.Errorf("gateway: no hook registered for %q", id)
	}
	return hook, nil
}
