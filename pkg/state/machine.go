package state

import (
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/types"
)

// Signals carries the scan evidence driving a transition. Up and
// HasOpenPorts are tri-state: nil means the stage produced no such evidence.
type Signals struct {
	Up           *bool
	HasOpenPorts *bool
	WasFailure   bool
}

// Result is the outcome of a transition calculation.
type Result struct {
	Stage         types.Stage
	Status        types.Status
	Changed       bool
	FinishedStage bool
}

// Next calculates the next (stage, status) for a host. It is a pure
// function; callers apply the result to the host document themselves.
func Next(stage types.Stage, status types.Status, sig Signals) Result {
	// Done is done.
	if status == types.StatusDone {
		return Result{Stage: stage, Status: status}
	}

	// Failures fall back to WAITING, unless already WAITING (or DONE, above).
	if sig.WasFailure {
		return Result{
			Stage:   stage,
			Status:  types.StatusWaiting,
			Changed: status != types.StatusWaiting,
		}
	}

	// All hosts move from READY to RUNNING. Command line tools can request
	// WAITING hosts directly, so that case is handled here too.
	if status == types.StatusWaiting || status == types.StatusReady {
		return Result{Stage: stage, Status: types.StatusRunning, Changed: true}
	}

	if status == types.StatusRunning {
		switch stage {
		case types.StageNetscan1:
			if sig.Up != nil && *sig.Up {
				return Result{Stage: types.StagePortscan, Status: types.StatusWaiting, Changed: true, FinishedStage: true}
			}
			return Result{Stage: types.StageNetscan2, Status: types.StatusWaiting, Changed: true, FinishedStage: true}

		case types.StageNetscan2:
			if sig.Up != nil && *sig.Up {
				return Result{Stage: types.StagePortscan, Status: types.StatusWaiting, Changed: true, FinishedStage: true}
			}
			return Result{Stage: types.StageNetscan2, Status: types.StatusDone, Changed: true, FinishedStage: true}

		case types.StagePortscan:
			if sig.HasOpenPorts != nil && *sig.HasOpenPorts {
				return Result{Stage: types.StageVulnscan, Status: types.StatusWaiting, Changed: true, FinishedStage: true}
			}
			return Result{Stage: types.StagePortscan, Status: types.StatusDone, Changed: true, FinishedStage: true}

		case types.StageVulnscan, types.StageBasescan:
			return Result{Stage: stage, Status: types.StatusDone, Changed: true, FinishedStage: true}
		}
	}

	log.Logger.Warn().
		Str("stage", string(stage)).
		Str("status", string(status)).
		Msg("Host arrived in a state we were not prepared to handle")
	return Result{Stage: stage, Status: status}
}

// Transition applies Next to a host document in place.
// Returns (changed, finishedStage).
func Transition(h *types.Host, sig Signals) (bool, bool) {
	r := Next(h.Stage, h.Status, sig)
	if r.Changed {
		h.Stage = r.Stage
		h.Status = r.Status
	}
	return r.Changed, r.FinishedStage
}
