package balancer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/timewin"
	"github.com/vigilsec/vigil/pkg/types"
)

// DefaultConcurrency is the per-stage concurrency applied when a request
// carries no scan_limits override.
var DefaultConcurrency = map[types.Stage]int{
	types.StageNetscan1: 256,
	types.StageNetscan2: 256,
	types.StagePortscan: 32,
	types.StageVulnscan: 32,
	types.StageBasescan: 512,
}

// offConcurrency applies when an owner is outside its scan windows.
var offConcurrency = map[types.Stage]int{
	types.StageNetscan1: 0,
	types.StageNetscan2: 0,
	types.StagePortscan: 0,
	types.StageVulnscan: 0,
	types.StageBasescan: 0,
}

// Balancer reconciles per-owner ready counts against request limits.
type Balancer struct {
	store    storage.Store
	defaults map[types.Stage]int
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a balancer with the platform default concurrency.
func New(store storage.Store) *Balancer {
	return &Balancer{
		store:    store,
		defaults: DefaultConcurrency,
		logger:   log.WithComponent("balancer"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the balancer's notion of now. For tests.
func (b *Balancer) SetClock(now func() time.Time) { b.now = now }

// RequestLimits resolves every continuous-scanning owner's per-stage limits
// at the given instant. Owners whose scanning period has not started, or who
// are outside all of their scan windows, get zero limits.
func (b *Balancer) RequestLimits(ctx context.Context, when time.Time) (map[string]map[types.Stage]int, error) {
	requests, err := b.store.ListRequests(ctx)
	if err != nil {
		return nil, err
	}

	limits := map[string]map[types.Stage]int{}
	for _, r := range requests {
		if !r.HasScanType(types.ScanTypeCyhy) {
			continue
		}
		if !r.PeriodStart.After(when) && timewin.InWindows(r.Windows, when) {
			limits[r.ID] = r.StageLimits(b.defaults)
		} else {
			limits[r.ID] = offConcurrency
		}
	}
	return limits, nil
}

// IncreaseReadyHosts promotes up to count WAITING hosts to READY, most
// urgent first, and records the transfer on the owner's tally. Returns the
// number actually promoted.
func (b *Balancer) IncreaseReadyHosts(ctx context.Context, owner string, stage types.Stage, count int) (int, error) {
	hosts, err := b.store.HostsByStageStatus(ctx, owner, stage, types.StatusWaiting, false, count)
	if err != nil {
		return 0, err
	}
	for _, h := range hosts {
		h.Status = types.StatusReady
		if err := b.store.SaveHost(ctx, h); err != nil {
			return 0, err
		}
	}
	if len(hosts) > 0 {
		if err := b.transferTally(ctx, owner, stage, types.StatusWaiting, types.StatusReady, len(hosts)); err != nil {
			return 0, err
		}
	}
	return len(hosts), nil
}

// DecreaseReadyHosts demotes up to count READY hosts back to WAITING and
// records the transfer on the owner's tally. Returns the number actually
// demoted.
func (b *Balancer) DecreaseReadyHosts(ctx context.Context, owner string, stage types.Stage, count int) (int, error) {
	hosts, err := b.store.HostsByStageStatus(ctx, owner, stage, types.StatusReady, false, count)
	if err != nil {
		return 0, err
	}
	for _, h := range hosts {
		h.Status = types.StatusWaiting
		if err := b.store.SaveHost(ctx, h); err != nil {
			return 0, err
		}
	}
	if len(hosts) > 0 {
		if err := b.transferTally(ctx, owner, stage, types.StatusReady, types.StatusWaiting, len(hosts)); err != nil {
			return 0, err
		}
	}
	return len(hosts), nil
}

func (b *Balancer) transferTally(ctx context.Context, owner string, stage types.Stage, from, to types.Status, delta int) error {
	tally, err := b.store.GetTally(ctx, owner)
	if err != nil {
		return err
	}
	tally.Transfer(stage, from, stage, to, delta)
	tally.LastChange = b.now()
	return b.store.SaveTally(ctx, tally)
}

// Balance runs one reconciliation pass over every owner and stage.
func (b *Balancer) Balance(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BalanceDuration)

	limits, err := b.RequestLimits(ctx, b.now())
	if err != nil {
		return err
	}

	for owner, stageLimits := range limits {
		tally, err := b.store.GetTally(ctx, owner)
		if err != nil {
			b.logger.Warn().Str("owner", owner).Msg("No tally document found, skipping")
			continue
		}
		for stage, limit := range stageLimits {
			waiting, ready, running := tally.ActiveHostCount(stage)
			shouldBeReady := max(0, limit-running)
			switch {
			case shouldBeReady > ready && waiting > 0:
				promoted, err := b.IncreaseReadyHosts(ctx, owner, stage, shouldBeReady-ready)
				if err != nil {
					return err
				}
				if promoted > 0 {
					metrics.HostsPromotedTotal.Add(float64(promoted))
					b.logger.Debug().Str("owner", owner).Str("stage", string(stage)).
						Int("target", limit).Int("ready", ready).Int("running", running).
						Int("promoted", promoted).Msg("promoted waiting hosts")
				}
			case shouldBeReady < ready:
				demoted, err := b.DecreaseReadyHosts(ctx, owner, stage, ready-shouldBeReady)
				if err != nil {
					return err
				}
				if demoted > 0 {
					metrics.HostsDemotedTotal.Add(float64(demoted))
					b.logger.Debug().Str("owner", owner).Str("stage", string(stage)).
						Int("target", limit).Int("ready", ready).Int("running", running).
						Int("demoted", demoted).Msg("demoted ready hosts")
				}
			}
		}
	}
	return nil
}
