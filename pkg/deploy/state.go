// Package deploy holds the read-only deployment state task bodies and
// exclusion predicates look at.
package deploy

import (
	"os"
	"path"
	"sort"
)

const (
	FactNoRelease   = "no_release"
	FactCurrentPath = "current_path"
	FactReleasePath = "release_path"
	FactDeployTo    = "deploy_to"
	FactApplication = "application"
)

// State is a snapshot of what is known about the deployment.
type State struct {
	Application    string
	DeployTo       string
	CurrentPath    string // defaults to <DeployTo>/current
	CurrentRelease string // empty when nothing has been released yet
	Flags          map[string]bool
}

// Current returns the path of the live release.
func (s State) Current() string {
	if s.CurrentPath != "" {
		return s.CurrentPath
	}
	return path.Join(s.DeployTo, "current")
}

// ReleasePath returns the directory of the current release, or "" if none.
func (s State) ReleasePath() string {
	if s.CurrentRelease == "" {
		return ""
	}
	return path.Join(s.DeployTo, "releases", s.CurrentRelease)
}

func (s State) NoRelease() bool { return s.CurrentRelease == "" }

// Fact looks up a boolean fact by name. Flags may override the computed ones.
func (s State) Fact(name string) (bool, bool) {
	if v, ok := s.Flags[name]; ok {
		return v, true
	}
	if name == FactNoRelease {
		return s.NoRelease(), true
	}
	return false, false
}

// Facts returns every fact, boolean and path valued, keyed by name.
func (s State) Facts() map[string]any {
	facts := map[string]any{
		FactNoRelease:   s.NoRelease(),
		FactCurrentPath: s.Current(),
		FactReleasePath: s.ReleasePath(),
		FactDeployTo:    s.DeployTo,
		FactApplication: s.Application,
	}
	for k, v := range s.Flags {
		facts[k] = v
	}
	return facts
}

// Expand substitutes ${fact} references in s with fact values.
func (s State) Expand(text string) string {
	facts := s.Facts()
	return os.Expand(text, func(key string) string {
		switch v := facts[key].(type) {
		case string:
			return v
		case bool:
			if v {
				return "true"
			}
			return "false"
		}
		return "${" + key + "}"
	})
}

// FlagNames lists the extra flags in sorted order.
func (s State) FlagNames() []string {
	names := make([]string, 0, len(s.Flags))
	for k := range s.Flags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
