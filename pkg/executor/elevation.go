package executor

import (
	"strings"
	"sync"

	"github.com/andrej220/capstan/pkg/inventory"
)

const DefaultElevationPrefix = "sudo -n"

// Elevator wraps commands for privileged execution.
type Elevator struct {
	Prefix string // e.g. "sudo -n"
	User   string // optional target user, sudo -u
}

// Wrap returns command as run through the elevation prefix.
func (e Elevator) Wrap(command string) string {
	prefix := e.Prefix
	if prefix == "" {
		prefix = DefaultElevationPrefix
	}
	if e.User != "" {
		prefix += " -u " + shellQuote(e.User)
	}
	return prefix + " -- sh -c " + shellQuote(command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// capabilities caches what was learned about hosts with no declared elevation.
type capabilities struct {
	mu    sync.RWMutex
	known map[string]inventory.Elevation
}

func newCapabilities() *capabilities {
	return &capabilities{known: make(map[string]inventory.Elevation)}
}

func (c *capabilities) get(h inventory.Host) inventory.Elevation {
	if h.Elevation != inventory.ElevationUnknown {
		return h.Elevation
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known[h.Endpoint()]
}

func (c *capabilities) set(h inventory.Host, e inventory.Elevation) {
	if h.Elevation != inventory.ElevationUnknown {
		return
	}
	c.mu.Lock()
	c.known[h.Endpoint()] = e
	c.mu.Unlock()
}
