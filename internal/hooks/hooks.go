// Package hooks resolves the before_serve/before_graceful_exit/before_died
// lifecycle callables named on the CLI (as "module:attr" identifiers) into
// the zero-argument funcs worker.Hooks expects, via the same registry the
// application loader uses.
package hooks

import (
	"zibai/gateway"
	"zibai/internal/worker"
)

// Resolve builds a worker.Hooks from the three hook identifiers, looking
// each up in registry. An empty identifier yields a non-nil hook that does
// nothing and returns nil.
func Resolve(registry *gateway.Registry, beforeServe, beforeGracefulExit, beforeDied string) (worker.Hooks, error) {
	bs, err := registry.ResolveHook(beforeServe)
	if err != nil {
		return worker.Hooks{}, err
	}
	bge, err := registry.ResolveHook(beforeGracefulExit)
	if err != nil {
		return worker.Hooks{}, err
	}
	bd, err := registry.ResolveHook(beforeDied)
	if err != nil {
		return worker.Hooks{}, err
	}
	return worker.Hooks{
		BeforeServe:        bs,
		BeforeGracefulExit: bge,
		BeforeDied:         bd,
	}, nil
}
