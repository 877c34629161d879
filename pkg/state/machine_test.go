package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vigilsec/vigil/pkg/types"
)

func boolPtr(b bool) *bool { return &b }

func TestDoneIsAbsorbing(t *testing.T) {
	signals := []Signals{
		{},
		{WasFailure: true},
		{Up: boolPtr(true)},
		{Up: boolPtr(false), HasOpenPorts: boolPtr(true)},
	}
	for _, stage := range types.AllStages {
		for _, sig := range signals {
			r := Next(stage, types.StatusDone, sig)
			assert.Equal(t, stage, r.Stage)
			assert.Equal(t, types.StatusDone, r.Status)
			assert.False(t, r.Changed)
			assert.False(t, r.FinishedStage)
		}
	}
}

func TestFailureFallsBackToWaiting(t *testing.T) {
	for _, stage := range types.AllStages {
		for _, status := range []types.Status{types.StatusReady, types.StatusRunning} {
			r := Next(stage, status, Signals{WasFailure: true})
			assert.True(t, r.Changed)
			assert.Equal(t, stage, r.Stage, "stage must not change on failure")
			assert.Equal(t, types.StatusWaiting, r.Status)
		}

		// already WAITING: no change reported
		r := Next(stage, types.StatusWaiting, Signals{WasFailure: true})
		assert.False(t, r.Changed)
		assert.Equal(t, types.StatusWaiting, r.Status)
	}
}

func TestWaitingAndReadyMoveToRunning(t *testing.T) {
	for _, stage := range types.AllStages {
		for _, status := range []types.Status{types.StatusWaiting, types.StatusReady} {
			r := Next(stage, status, Signals{})
			assert.True(t, r.Changed)
			assert.Equal(t, stage, r.Stage)
			assert.Equal(t, types.StatusRunning, r.Status)
			assert.False(t, r.FinishedStage)
		}
	}
}

func TestRunningTransitions(t *testing.T) {
	tests := []struct {
		name       string
		stage      types.Stage
		sig        Signals
		wantStage  types.Stage
		wantStatus types.Status
	}{
		{"netscan1 up", types.StageNetscan1, Signals{Up: boolPtr(true)}, types.StagePortscan, types.StatusWaiting},
		{"netscan1 down", types.StageNetscan1, Signals{Up: boolPtr(false)}, types.StageNetscan2, types.StatusWaiting},
		{"netscan1 no evidence", types.StageNetscan1, Signals{}, types.StageNetscan2, types.StatusWaiting},
		{"netscan2 up", types.StageNetscan2, Signals{Up: boolPtr(true)}, types.StagePortscan, types.StatusWaiting},
		{"netscan2 down", types.StageNetscan2, Signals{Up: boolPtr(false)}, types.StageNetscan2, types.StatusDone},
		{"portscan open ports", types.StagePortscan, Signals{HasOpenPorts: boolPtr(true)}, types.StageVulnscan, types.StatusWaiting},
		{"portscan silent", types.StagePortscan, Signals{HasOpenPorts: boolPtr(false)}, types.StagePortscan, types.StatusDone},
		{"vulnscan finishes", types.StageVulnscan, Signals{}, types.StageVulnscan, types.StatusDone},
		{"basescan finishes", types.StageBasescan, Signals{}, types.StageBasescan, types.StatusDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Next(tt.stage, types.StatusRunning, tt.sig)
			assert.True(t, r.Changed)
			assert.True(t, r.FinishedStage)
			assert.Equal(t, tt.wantStage, r.Stage)
			assert.Equal(t, tt.wantStatus, r.Status)
		})
	}
}

func TestCoverageAllInputs(t *testing.T) {
	// Every (stage, status, signal) combination must terminate and report
	// Changed consistently with whether the output differs from the input.
	tristates := []*bool{nil, boolPtr(false), boolPtr(true)}
	for _, stage := range types.AllStages {
		for _, status := range types.AllStatuses {
			for _, up := range tristates {
				for _, open := range tristates {
					for _, failed := range []bool{false, true} {
						r := Next(stage, status, Signals{Up: up, HasOpenPorts: open, WasFailure: failed})
						same := r.Stage == stage && r.Status == status
						assert.Equal(t, !same, r.Changed,
							"stage=%s status=%s -> stage=%s status=%s", stage, status, r.Stage, r.Status)
					}
				}
			}
		}
	}
}

func TestTransitionAppliesInPlace(t *testing.T) {
	h := &types.Host{Stage: types.StagePortscan, Status: types.StatusRunning}
	changed, finished := Transition(h, Signals{HasOpenPorts: boolPtr(true)})
	assert.True(t, changed)
	assert.True(t, finished)
	assert.Equal(t, types.StageVulnscan, h.Stage)
	assert.Equal(t, types.StatusWaiting, h.Status)
}

func TestSetStateEvidence(t *testing.T) {
	h := &types.Host{}

	h.SetState(nil, boolPtr(true), "")
	assert.Equal(t, types.HostState{Up: true, Reason: "open-port"}, h.State)

	h.SetState(nil, boolPtr(false), "")
	assert.Equal(t, types.HostState{Up: false, Reason: "no-open"}, h.State)

	h.SetState(boolPtr(false), nil, "no-reply")
	assert.Equal(t, types.HostState{Up: false, Reason: "no-reply"}, h.State)

	// nmap up alone is not enough to call the host up
	prev := h.State
	h.SetState(boolPtr(true), nil, "")
	assert.Equal(t, prev, h.State)
}
