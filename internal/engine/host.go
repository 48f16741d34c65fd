package engine

import (
	"context"
	"time"

	"github.com/colebrumley/amitrigger/internal/ami"
)

// State is the trigger state handed to the host for persistence.
type State struct {
	Trigger string    `json:"trigger"`
	LastRun time.Time `json:"last_run"`
	PassID  string    `json:"pass_id,omitempty"`
}

// Host is the job system the engine reports to.
type Host interface {
	// PersistState durably stores the trigger state before an action starts.
	PersistState(ctx context.Context, s State) error
	// StartAction schedules the downstream action. It returns false when the
	// host declined, e.g. because the action is disabled or already queued.
	StartAction(ctx context.Context, cause *ami.Cause) bool
}
