package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/storage/memory"
	"github.com/vigilsec/vigil/pkg/types"
)

func testRequest(owner string, limits ...types.ScanLimit) *types.Request {
	return &types.Request{
		ID:          owner,
		PeriodStart: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Windows:     []types.ScanWindow{types.DefaultScanWindow},
		ScanTypes:   []types.ScanType{types.ScanTypeCyhy},
		ScanLimits:  limits,
	}
}

func seedHosts(t *testing.T, s *memory.Store, owner string, stage types.Stage, status types.Status, startID int64, n int) {
	t.Helper()
	ctx := context.Background()
	tally, err := s.GetTally(ctx, owner)
	if err != nil {
		tally = types.NewTally(owner)
	}
	for i := 0; i < n; i++ {
		h := &types.Host{
			ID: startID + int64(i), Owner: owner,
			Stage: stage, Status: status,
			Priority: i % 3, R: float64(i) / float64(n),
		}
		require.NoError(t, s.SaveHost(ctx, h))
		tally.Counts[stage][status]++
	}
	require.NoError(t, s.SaveTally(ctx, tally))
}

func TestRequestLimits(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, testRequest("ACME",
		types.ScanLimit{ScanType: types.StagePortscan, Concurrent: 4})))

	// period has not started yet
	future := testRequest("LATER")
	future.PeriodStart = now.AddDate(0, 1, 0)
	require.NoError(t, s.SaveRequest(ctx, future))

	// period starts exactly now
	boundary := testRequest("TODAY")
	boundary.PeriodStart = now
	require.NoError(t, s.SaveRequest(ctx, boundary))

	// not a continuous-scanning request
	dns := testRequest("DNS-ONLY")
	dns.ScanTypes = []types.ScanType{types.ScanTypeDNSSEC}
	require.NoError(t, s.SaveRequest(ctx, dns))

	b := New(s)
	b.SetClock(func() time.Time { return now })

	limits, err := b.RequestLimits(ctx, now)
	require.NoError(t, err)
	require.Contains(t, limits, "ACME")
	assert.Equal(t, 4, limits["ACME"][types.StagePortscan], "scan_limits override wins")
	assert.Equal(t, 256, limits["ACME"][types.StageNetscan1], "defaults fill the rest")

	require.Contains(t, limits, "LATER")
	assert.Equal(t, 0, limits["LATER"][types.StagePortscan], "inactive period means zero limits")

	require.Contains(t, limits, "TODAY")
	assert.Equal(t, 32, limits["TODAY"][types.StagePortscan], "a period starting now is active")

	assert.NotContains(t, limits, "DNS-ONLY")
}

func TestRequestLimitsOutsideWindow(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	// Monday 12:00 UTC
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	narrow := testRequest("NIGHTLY")
	narrow.Windows = []types.ScanWindow{{Day: "Tuesday", Start: "02:00:00", Duration: 4}}
	require.NoError(t, s.SaveRequest(ctx, narrow))

	b := New(s)
	limits, err := b.RequestLimits(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, limits["NIGHTLY"][types.StageVulnscan])

	inside := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	limits, err = b.RequestLimits(ctx, inside)
	require.NoError(t, err)
	assert.Equal(t, 32, limits["NIGHTLY"][types.StageVulnscan])
}

func TestBalancePromotes(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, testRequest("ACME",
		types.ScanLimit{ScanType: types.StagePortscan, Concurrent: 4})))
	seedHosts(t, s, "ACME", types.StagePortscan, types.StatusWaiting, 100, 10)

	b := New(s)
	b.SetClock(func() time.Time { return now })
	require.NoError(t, b.Balance(ctx))

	tally, err := s.GetTally(ctx, "ACME")
	require.NoError(t, err)
	waiting, ready, running := tally.ActiveHostCount(types.StagePortscan)
	assert.Equal(t, 6, waiting)
	assert.Equal(t, 4, ready)
	assert.Equal(t, 0, running)

	hosts, err := s.HostsByStageStatus(ctx, "ACME", types.StagePortscan, types.StatusReady, false, 0)
	require.NoError(t, err)
	assert.Len(t, hosts, 4)
}

func TestBalanceAccountsForRunning(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, testRequest("ACME",
		types.ScanLimit{ScanType: types.StageVulnscan, Concurrent: 4})))
	seedHosts(t, s, "ACME", types.StageVulnscan, types.StatusRunning, 100, 3)
	seedHosts(t, s, "ACME", types.StageVulnscan, types.StatusWaiting, 200, 5)

	b := New(s)
	b.SetClock(func() time.Time { return now })
	require.NoError(t, b.Balance(ctx))

	tally, err := s.GetTally(ctx, "ACME")
	require.NoError(t, err)
	waiting, ready, running := tally.ActiveHostCount(types.StageVulnscan)
	assert.Equal(t, 4, waiting)
	assert.Equal(t, 1, ready, "running hosts count against the limit")
	assert.Equal(t, 3, running)
}

func TestBalanceDemotesOutsideWindow(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	r := testRequest("ACME")
	r.Windows = []types.ScanWindow{{Day: "Saturday", Start: "00:00:00", Duration: 1}}
	require.NoError(t, s.SaveRequest(ctx, r))
	seedHosts(t, s, "ACME", types.StagePortscan, types.StatusReady, 100, 5)

	b := New(s)
	b.SetClock(func() time.Time { return now })
	require.NoError(t, b.Balance(ctx))

	tally, err := s.GetTally(ctx, "ACME")
	require.NoError(t, err)
	waiting, ready, _ := tally.ActiveHostCount(types.StagePortscan)
	assert.Equal(t, 5, waiting, "everything demoted outside the window")
	assert.Equal(t, 0, ready)
}

func TestBalanceSkipsMissingTally(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, s.SaveRequest(ctx, testRequest("NO-TALLY")))

	b := New(s)
	assert.NoError(t, b.Balance(ctx), "a missing tally is logged and skipped")
}

func TestIncreaseReadyHostsHonorsOrdering(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	tally := types.NewTally("ACME")
	hosts := []*types.Host{
		{ID: 1, Owner: "ACME", Stage: types.StagePortscan, Status: types.StatusWaiting, Priority: 0, R: 0.2},
		{ID: 2, Owner: "ACME", Stage: types.StagePortscan, Status: types.StatusWaiting, Priority: -16, R: 0.8},
		{ID: 3, Owner: "ACME", Stage: types.StagePortscan, Status: types.StatusWaiting, Priority: -16, R: 0.1},
	}
	for _, h := range hosts {
		require.NoError(t, s.SaveHost(ctx, h))
		tally.Counts[types.StagePortscan][types.StatusWaiting]++
	}
	require.NoError(t, s.SaveTally(ctx, tally))

	b := New(s)
	n, err := b.IncreaseReadyHosts(ctx, "ACME", types.StagePortscan, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ready, err := s.HostsByStageStatus(ctx, "ACME", types.StagePortscan, types.StatusReady, false, 0)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, int64(3), ready[0].ID, "urgent priority with low r first")
	assert.Equal(t, int64(2), ready[1].ID)
}
