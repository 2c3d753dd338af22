package datamodels

import (
	"github.com/google/uuid"
)

// Request asks for one task to be dispatched.
type Request struct {
	Task         string          `json:"task" validate:"required"`                 // namespace:name
	Release      string          `json:"release,omitempty"`                        // overrides current_release
	Roles        []string        `json:"roles,omitempty" validate:"dive,required"` // further narrows the hosts
	Facts        map[string]bool `json:"facts,omitempty"`
	ExecutionUID uuid.UUID       `json:"exuid"`
}

type Response struct {
	ExecutionUID uuid.UUID `json:"exuid"`
}
