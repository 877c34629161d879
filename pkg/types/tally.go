package types

import "time"

// Tally is the per-owner matrix of host counts keyed by (stage, status).
// It is eventually consistent with the hosts collection; Sync on the store
// is the reconciliation path.
type Tally struct {
	ID         string                      `bson:"_id" json:"_id"`
	Counts     map[Stage]map[Status]int    `bson:"counts" json:"counts"`
	LastChange time.Time                   `bson:"last_change" json:"last_change"`
}

// NewTally builds a zeroed tally for an owner.
func NewTally(owner string) *Tally {
	t := &Tally{
		ID:         owner,
		Counts:     make(map[Stage]map[Status]int, len(AllStages)),
		LastChange: time.Now().UTC(),
	}
	for _, stage := range AllStages {
		t.Counts[stage] = make(map[Status]int, len(AllStatuses))
		for _, status := range AllStatuses {
			t.Counts[stage][status] = 0
		}
	}
	return t
}

// ActiveHostCount returns the (waiting, ready, running) cells for a stage.
func (t *Tally) ActiveHostCount(stage Stage) (waiting, ready, running int) {
	c := t.Counts[stage]
	return c[StatusWaiting], c[StatusReady], c[StatusRunning]
}

// Transfer moves delta hosts between two cells.
func (t *Tally) Transfer(fromStage Stage, fromStatus Status, toStage Stage, toStatus Status, delta int) {
	if t.Counts[fromStage] == nil {
		t.Counts[fromStage] = map[Status]int{}
	}
	if t.Counts[toStage] == nil {
		t.Counts[toStage] = map[Status]int{}
	}
	t.Counts[fromStage][fromStatus] -= delta
	t.Counts[toStage][toStatus] += delta
}

// Total sums every cell; it should equal the owner's host count.
func (t *Tally) Total() int {
	total := 0
	for _, statuses := range t.Counts {
		for _, n := range statuses {
			total += n
		}
	}
	return total
}

// AllDone reports whether every host of the owner sits in a DONE cell.
func (t *Tally) AllDone() bool {
	for _, statuses := range t.Counts {
		for status, n := range statuses {
			if status != StatusDone && n != 0 {
				return false
			}
		}
	}
	return true
}
