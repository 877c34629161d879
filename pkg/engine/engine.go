package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/schedule"
	"github.com/vigilsec/vigil/pkg/state"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// DefaultNextScanLimit bounds how many scheduled hosts one requeue pass
// moves back into the pipeline.
const DefaultNextScanLimit = 2000

// Engine drives hosts through the scanning pipeline.
type Engine struct {
	store         storage.Store
	scheduler     *schedule.Scheduler
	logger        zerolog.Logger
	nextScanLimit int
	now           func() time.Time
}

// New creates an engine over the store.
func New(store storage.Store) *Engine {
	return &Engine{
		store:         store,
		scheduler:     schedule.NewScheduler(store),
		logger:        log.WithComponent("engine"),
		nextScanLimit: DefaultNextScanLimit,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine's notion of now. For tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.scheduler.SetClock(now)
}

// SetNextScanLimit overrides the per-pass rescan requeue bound.
func (e *Engine) SetNextScanLimit(limit int) { e.nextScanLimit = limit }

func (e *Engine) tallyUpdate(ctx context.Context, owner string, prevStage types.Stage, prevStatus types.Status, newStage types.Stage, newStatus types.Status) error {
	tally, err := e.store.GetTally(ctx, owner)
	if err != nil {
		e.logger.Warn().Str("owner", owner).Msg("Tally document not found, skipping")
		return nil
	}
	tally.Transfer(prevStage, prevStatus, newStage, newStatus, 1)
	tally.LastChange = e.now()
	return e.store.SaveTally(ctx, tally)
}

// TransitionHost moves one host through the state machine using the scan
// evidence and persists the result. Returns the host and whether its
// (stage, status) changed.
func (e *Engine) TransitionHost(ctx context.Context, ipInt int64, up *bool, reason string, hasOpenPorts *bool, wasFailure bool) (*types.Host, bool, error) {
	host, err := e.store.GetHost(ctx, ipInt)
	if err != nil {
		return nil, false, fmt.Errorf("loading host %d for transition: %w", ipInt, err)
	}

	prevStage, prevStatus := host.Stage, host.Status
	changed, finishedStage := state.Transition(host, state.Signals{
		Up:           up,
		HasOpenPorts: hasOpenPorts,
		WasFailure:   wasFailure,
	})

	host.SetState(up, hasOpenPorts, reason)

	now := e.now()
	if finishedStage {
		host.MarkStageFinished(prevStage, now)
	}
	if host.Status == types.StatusDone {
		host.MarkDone(now)
		req, err := e.store.GetRequest(ctx, host.Owner)
		if err == nil && req.UsesScheduler() {
			if err := e.scheduler.Schedule(ctx, host); err != nil {
				return nil, false, err
			}
		}
	}

	host.LastChange = now
	if err := e.store.SaveHost(ctx, host); err != nil {
		return nil, false, fmt.Errorf("saving host %s after transition: %w", host.IP, err)
	}

	if changed {
		metrics.HostTransitionsTotal.Inc()
		logger := log.WithIP(host.IP)
		logger.Debug().
			Str("from", fmt.Sprintf("%s/%s", prevStage, prevStatus)).
			Str("to", fmt.Sprintf("%s/%s", host.Stage, host.Status)).
			Msg("host transitioned")
		if err := e.tallyUpdate(ctx, host.Owner, prevStage, prevStatus, host.Stage, host.Status); err != nil {
			return nil, false, err
		}
	}
	return host, changed, nil
}

// FetchReadyHosts claims up to count hosts in the stage, transitioning each
// to RUNNING, and returns their addresses. An empty owner claims across all
// owners; waitingToo widens the claim to WAITING hosts.
func (e *Engine) FetchReadyHosts(ctx context.Context, count int, stage types.Stage, owner string, waitingToo bool) ([]string, error) {
	statuses := []types.Status{types.StatusReady}
	if waitingToo {
		statuses = append(statuses, types.StatusWaiting)
	}
	var owners []string
	if owner != "" {
		owners = []string{owner}
	}

	hosts, err := e.store.ClaimableHosts(ctx, stage, statuses, owners, count)
	if err != nil {
		return nil, err
	}

	// A concurrent claim of the same host is possible with more than one
	// orchestrator; the worst case is the host being scanned twice.
	ips := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if _, _, err := e.TransitionHost(ctx, h.ID, nil, "", nil, false); err != nil {
			return ips, err
		}
		ips = append(ips, h.IP)
	}
	return ips, nil
}

// CheckHostNextScans requeues DONE hosts whose next_scan has come due:
// previously up hosts go back to PORTSCAN, down hosts restart at NETSCAN1.
// Returns the number of hosts requeued.
func (e *Engine) CheckHostNextScans(ctx context.Context) (int, error) {
	due, err := e.store.ScheduledHosts(ctx, e.now(), e.nextScanLimit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, h := range due {
		newStage := types.StageNetscan1
		if h.State.Up {
			newStage = types.StagePortscan
		}
		if err := e.tallyUpdate(ctx, h.Owner, h.Stage, h.Status, newStage, types.StatusWaiting); err != nil {
			return processed, err
		}
		h.Stage = newStage
		h.Status = types.StatusWaiting
		h.NextScan = nil
		h.LastChange = e.now()
		if err := e.store.SaveHost(ctx, h); err != nil {
			return processed, err
		}
		processed++
	}
	if processed > 0 {
		metrics.RescansQueuedTotal.Add(float64(processed))
		e.logger.Debug().Int("hosts", processed).Msg("requeued hosts due for rescan")
	}
	return processed, nil
}

// SyncTally recomputes an owner's tally from a direct host count. The
// last_change stamp is preserved so reconciliation does not look like
// activity.
func (e *Engine) SyncTally(ctx context.Context, owner string) error {
	counts, err := e.store.CountHostsByStageStatus(ctx, owner)
	if err != nil {
		return err
	}
	tally, err := e.store.GetTally(ctx, owner)
	if err != nil {
		tally = types.NewTally(owner)
	}
	for _, stage := range types.AllStages {
		for _, status := range types.AllStatuses {
			tally.Counts[stage][status] = counts[stage][status]
		}
	}
	return e.store.SaveTally(ctx, tally)
}

// ResetStateByOwner moves every host of the owner back to the request's
// init stage in WAITING, then resynchronizes the tally.
func (e *Engine) ResetStateByOwner(ctx context.Context, owner string) (int64, error) {
	stage := types.StageNetscan1
	if req, err := e.store.GetRequest(ctx, owner); err == nil && req.InitStage != "" {
		stage = req.InitStage
	}
	n, err := e.store.ResetHostsByOwner(ctx, owner, stage)
	if err != nil {
		return 0, err
	}
	return n, e.SyncTally(ctx, owner)
}

// RequeueRunningHosts moves RUNNING hosts back to WAITING, typically after
// an orchestrator crash, and resynchronizes the affected tallies. An empty
// owner requeues across all owners.
func (e *Engine) RequeueRunningHosts(ctx context.Context, owner string) (int64, error) {
	n, err := e.store.RequeueRunningHosts(ctx, owner)
	if err != nil {
		return 0, err
	}
	owners := []string{owner}
	if owner == "" {
		owners, err = e.store.RequestIDs(ctx)
		if err != nil {
			return n, err
		}
	}
	for _, o := range owners {
		if err := e.SyncTally(ctx, o); err != nil {
			return n, err
		}
	}
	return n, nil
}

// EnsureNextScans assigns next_scan to the owner's DONE hosts that have
// none, using the rescan scheduler. Returns the number scheduled.
func (e *Engine) EnsureNextScans(ctx context.Context, owner string) (int, error) {
	hosts, err := e.store.HostsMissingNextScan(ctx, owner, 0)
	if err != nil {
		return 0, err
	}
	for i, h := range hosts {
		if err := e.scheduler.Schedule(ctx, h); err != nil {
			return i, err
		}
		h.LastChange = e.now()
		if err := e.store.SaveHost(ctx, h); err != nil {
			return i, err
		}
	}
	return len(hosts), nil
}

// ClearNextScans unsets next_scan across the owner's hosts, taking them off
// the rescan schedule.
func (e *Engine) ClearNextScans(ctx context.Context, owner string) (int64, error) {
	return e.store.ClearNextScans(ctx, owner)
}

// DoneScanning returns the owners whose every host is DONE and who need a
// fresh snapshot. Owners on a persistent scheduler never settle into DONE,
// so they are omitted. tallyChangedAfter filters out stale tallies; pass the
// zero time to consider all.
func (e *Engine) DoneScanning(ctx context.Context, tallyChangedAfter time.Time) ([]string, error) {
	tallies, err := e.store.TalliesChangedSince(ctx, tallyChangedAfter)
	if err != nil {
		return nil, err
	}

	var owners []string
	for _, tally := range tallies {
		if !tally.AllDone() {
			continue
		}
		req, err := e.store.GetRequest(ctx, tally.ID)
		if err != nil || req.UsesScheduler() {
			continue
		}
		latest, err := e.store.LatestSnapshot(ctx, tally.ID)
		if err == nil && !tally.LastChange.After(latest.LastChange) {
			continue
		}
		owners = append(owners, tally.ID)
	}
	sort.Strings(owners)
	return owners, nil
}

// Descendants returns the transitive closure of an owner's children.
func (e *Engine) Descendants(ctx context.Context, owner string) ([]string, error) {
	seen := map[string]bool{owner: true}
	var out []string
	queue := []string{owner}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		req, err := e.store.GetRequest(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("loading request for %s: %w", current, err)
		}
		for _, child := range req.Children {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}
