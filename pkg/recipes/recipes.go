// Package recipes registers ready-made task sets. Recipes are applied in order,
// so a later recipe overrides the tasks of an earlier one.
package recipes

import (
	"context"
	"fmt"
	"sort"

	"github.com/andrej220/capstan/pkg/task"
)

const Namespace = "deploy"

// Recipe registers its tasks into r.
type Recipe func(r *task.Registry)

var known = map[string]Recipe{
	"default":   Default,
	"passenger": Passenger,
}

// Lookup returns the recipe registered under name.
func Lookup(name string) (Recipe, error) {
	rc, ok := known[name]
	if !ok {
		return nil, fmt.Errorf("unknown recipe %q (have %v)", name, Names())
	}
	return rc, nil
}

func Names() []string {
	names := make([]string, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply registers the named recipes in order.
func Apply(r *task.Registry, names ...string) error {
	for _, n := range names {
		rc, err := Lookup(n)
		if err != nil {
			return err
		}
		rc(r)
	}
	return nil
}

// Privileged returns a body running command, with ${fact} references expanded,
// elevated on every host of the invocation.
func Privileged(command string) task.Body {
	return func(ctx context.Context, inv *task.Invocation) error {
		inv.RunPrivileged(ctx, inv.State.Expand(command))
		return nil
	}
}

// Plain is Privileged without elevation.
func Plain(command string) task.Body {
	return func(ctx context.Context, inv *task.Invocation) error {
		inv.Run(ctx, inv.State.Expand(command))
		return nil
	}
}
