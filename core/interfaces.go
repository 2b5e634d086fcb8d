package core

import (
	"time"

	"github.com/BranchIntl/couponqueue/dispatch"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/progress"
)

// Registry resolves handler classes named by work items
type Registry = dispatch.Resolver

// Outcome is how one invocation ended
type Outcome int

const (
	// OutcomeFailed means a store failure aborted the invocation
	OutcomeFailed Outcome = iota
	// OutcomeLocked means another invocation holds the lock
	OutcomeLocked
	// OutcomeIdle means there was nothing to do
	OutcomeIdle
	// OutcomeRearmed means work remains and another invocation was requested
	OutcomeRearmed
	// OutcomeCompleted means the run finished in this invocation
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLocked:
		return "locked"
	case OutcomeIdle:
		return "idle"
	case OutcomeRearmed:
		return "rearmed"
	case OutcomeCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// BatchObserver is called after every processed item with the number of
// items left in the current batch
type BatchObserver func(identifier string, remaining int)

// Status describes the run of one identifier for operators
type Status struct {
	Identifier string            `json:"identifier"`
	Running    bool              `json:"running"`
	Locked     bool              `json:"locked"`
	Queued     int               `json:"queued"`
	Action     item.Action       `json:"action,omitempty"`
	Progress   progress.Progress `json:"progress"`
}

// Message renders the notice shown while a run is active
func (s Status) Message() string {
	if !s.Running {
		return ""
	}
	return "Coupons are being " + s.Action.Progressive() +
		" in the background. You will be notified when it is completed."
}

// HealthStatus represents the health of a processor
type HealthStatus struct {
	Healthy     bool      `json:"healthy"`
	StoreHealth error     `json:"-"`
	Running     bool      `json:"running"`
	Queued      int       `json:"queued"`
	LastCheck   time.Time `json:"last_check"`
}
