package executor

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrElevationUnavailable is recovered locally by running unprivileged.
	ErrElevationUnavailable = errors.New("elevation unavailable")
	ErrCommandFailed        = errors.New("command failed")
	ErrHostUnreachable      = errors.New("host unreachable")
	ErrTimedOut             = errors.New("timed out")
)

type Status string

const (
	StatusOK            Status = "ok"
	StatusCommandFailed Status = "command_failed"
	StatusUnreachable   Status = "unreachable"
	StatusTimedOut      Status = "timed_out"
)

// Result is the outcome of one command on one host. It is not modified once
// returned.
type Result struct {
	Host         string        `json:"host"`
	Command      string        `json:"command"`
	Status       Status        `json:"status"`
	ExitStatus   int           `json:"exit_status"`
	Stdout       []string      `json:"stdout,omitempty"`
	Stderr       []string      `json:"stderr,omitempty"`
	Elevated     bool          `json:"elevated"`
	FallbackUsed bool          `json:"fallback_used"`
	Duration     time.Duration `json:"duration"`
	Err          error         `json:"-"`
}

func (r Result) OK() bool { return r.Status == StatusOK }

// MarshalJSON adds the error text, which encoding/json cannot render from an error value.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	var errText string
	if r.Err != nil {
		errText = r.Err.Error()
	}
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(r), errText})
}

// Failed returns the results that did not succeed.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
