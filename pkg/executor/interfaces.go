package executor

import (
	"context"

	"github.com/andrej220/capstan/pkg/inventory"
)

// Output is what a transport observed for one command on one host.
type Output struct {
	ExitStatus int
	Stdout     []string
	Stderr     []string
}

// Transport knows how to get a command string onto a host (ssh, or anything else)
// and report its exit status and output.
//
// A nil error means the command ran, whatever its exit status. A non-nil error
// means it could not be run at all.
type Transport interface {
	Exec(ctx context.Context, host inventory.Host, command string) (Output, error)
}

// Runner is the handle task bodies use to reach hosts.
type Runner interface {
	Run(ctx context.Context, command string, hosts []inventory.Host) []Result
	RunPrivileged(ctx context.Context, command string, hosts []inventory.Host) []Result
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, host inventory.Host, command string) (Output, error)

func (f TransportFunc) Exec(ctx context.Context, host inventory.Host, command string) (Output, error) {
	return f(ctx, host, command)
}
