// Package task keeps the registry of named deployment tasks and dispatches them
// to the hosts they apply to.
//
// A task is identified by a namespace and a name ("deploy:restart"). Registering
// a task under a key that already exists replaces the previous definition; this
// is how a recipe for one application server overrides the generic lifecycle.
package task

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/andrej220/capstan/pkg/executor"
	"github.com/andrej220/capstan/pkg/inventory"
)

var nameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)

// Key identifies a task.
type Key struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

func NewKey(namespace, name string) Key { return Key{Namespace: namespace, Name: name} }

func (k Key) String() string { return k.Namespace + ":" + k.Name }

func (k Key) Validate() error {
	if !nameRe.MatchString(k.Namespace) {
		return fmt.Errorf("%w: namespace %q", ErrInvalidKey, k.Namespace)
	}
	if !nameRe.MatchString(k.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidKey, k.Name)
	}
	return nil
}

// ParseKey parses "namespace:name".
func ParseKey(s string) (Key, error) {
	ns, name, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q, want namespace:name", ErrInvalidKey, s)
	}
	k := Key{Namespace: ns, Name: name}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// State is the deployment state a dispatch reads.
type State interface {
	Facts() map[string]any
	Current() string
	Expand(text string) string
}

// Body is the executable part of a task. A nil Body is an empty task.
type Body func(ctx context.Context, inv *Invocation) error

// Definition is a registered task. It is never changed after registration,
// only replaced.
type Definition struct {
	Key
	Description  string
	Roles        []string
	Except       Predicate
	AllowNoHosts bool
	Body         Body
}

func (d Definition) Empty() bool { return d.Body == nil }

// zeroHostTolerant reports whether running against no hosts is acceptable.
func (d Definition) zeroHostTolerant() bool { return d.AllowNoHosts || d.Empty() }

func (d Definition) Validate() error {
	if err := d.Key.Validate(); err != nil {
		return err
	}
	for _, r := range d.Roles {
		if !inventory.ValidRole(r) {
			return fmt.Errorf("%s: invalid role %q", d.Key, r)
		}
	}
	return nil
}

// Invocation is what a body gets to work with: the hosts it was dispatched to,
// the deployment state, and the executor. Every result it produces ends up in
// the dispatch report.
type Invocation struct {
	Key    Key
	Hosts  []inventory.Host
	State  State
	runner executor.Runner

	mu      sync.Mutex
	results []executor.Result
}

// RunPrivileged runs command elevated, where possible, on every host of the invocation.
func (inv *Invocation) RunPrivileged(ctx context.Context, command string) []executor.Result {
	return inv.record(inv.runner.RunPrivileged(ctx, command, inv.Hosts))
}

// Run runs command unprivileged on every host of the invocation.
func (inv *Invocation) Run(ctx context.Context, command string) []executor.Result {
	return inv.record(inv.runner.Run(ctx, command, inv.Hosts))
}

func (inv *Invocation) record(results []executor.Result) []executor.Result {
	inv.mu.Lock()
	inv.results = append(inv.results, results...)
	inv.mu.Unlock()
	return results
}

func (inv *Invocation) Results() []executor.Result {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]executor.Result, len(inv.results))
	copy(out, inv.results)
	return out
}

var (
	ErrInvalidKey      = errors.New("invalid task key")
	ErrUnknownTask     = errors.New("unknown task")
	ErrNoMatchingHosts = errors.New("no matching hosts")
	ErrPredicate       = errors.New("exclusion predicate")
	ErrNoState         = errors.New("no deployment state")
	ErrBodyFailed      = errors.New("task body failed")
)
