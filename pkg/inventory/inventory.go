// Package inventory describes the hosts a deployment targets and the roles they hold.
package inventory

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const DefaultSSHPort = 22

// Elevation is the tri-state privilege elevation capability of a host.
type Elevation string

const (
	ElevationUnknown     Elevation = ""
	ElevationAvailable   Elevation = "available"
	ElevationUnavailable Elevation = "unavailable"
)

// Host is a deployment target.
type Host struct {
	Address   string    `yaml:"address" json:"address" bson:"address" validate:"required,hostname_rfc1123|ip"`
	Port      int       `yaml:"port,omitempty" json:"port,omitempty" bson:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User      string    `yaml:"user,omitempty" json:"user,omitempty" bson:"user,omitempty"`
	Roles     []string  `yaml:"roles" json:"roles" bson:"roles" validate:"dive,role"`
	Elevation Elevation `yaml:"elevation,omitempty" json:"elevation,omitempty" bson:"elevation,omitempty" validate:"omitempty,oneof=available unavailable"`
}

// Endpoint returns host:port, defaulting to the ssh port.
func (h Host) Endpoint() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

func (h Host) String() string { return h.Address }

// HasRole reports whether the host carries role.
func (h Host) HasRole(role string) bool {
	for _, r := range h.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the host's roles intersect roles.
// An empty roles set matches every host.
func (h Host) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if h.HasRole(role) {
			return true
		}
	}
	return false
}

// Filter returns the hosts whose roles intersect roles, preserving order.
func Filter(hosts []Host, roles []string) []Host {
	out := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if h.HasAnyRole(roles) {
			out = append(out, h)
		}
	}
	return out
}

// Addresses lists the addresses of hosts.
func Addresses(hosts []Host) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.Address
	}
	return out
}

var (
	validate = validator.New()
	roleRe   = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
)

func init() {
	_ = validate.RegisterValidation("role", validateRole)
}

func validateRole(fl validator.FieldLevel) bool {
	return roleRe.MatchString(fl.Field().String())
}

// ValidRole reports whether role is a well-formed role tag.
func ValidRole(role string) bool { return roleRe.MatchString(role) }

// Validate checks every host and rejects duplicate endpoints.
func Validate(hosts []Host) error {
	seen := make(map[string]bool, len(hosts))
	for i, h := range hosts {
		if err := validate.Struct(h); err != nil {
			return fmt.Errorf("host %d (%s): %w", i, h.Address, err)
		}
		ep := strings.ToLower(h.Endpoint())
		if seen[ep] {
			return fmt.Errorf("host %d: duplicate endpoint %s", i, ep)
		}
		seen[ep] = true
	}
	return nil
}
