package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/storage/memory"
	"github.com/vigilsec/vigil/pkg/types"
)

func boolPtr(b bool) *bool { return &b }

func newEngine(s *memory.Store, now time.Time) *Engine {
	e := New(s)
	e.SetClock(func() time.Time { return now })
	return e
}

func seedHost(t *testing.T, s *memory.Store, id int64, owner string, stage types.Stage, status types.Status) *types.Host {
	t.Helper()
	ctx := context.Background()
	h := &types.Host{
		ID: id, IP: types.IntToIP(id).String(), Owner: owner,
		Stage: stage, Status: status,
		LatestScan: map[string]*time.Time{},
	}
	require.NoError(t, s.SaveHost(ctx, h))

	tally, err := s.GetTally(ctx, owner)
	if err != nil {
		tally = types.NewTally(owner)
	}
	tally.Counts[stage][status]++
	require.NoError(t, s.SaveTally(ctx, tally))
	return h
}

func TestTransitionHostThroughPipeline(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	seedHost(t, s, 10, "ACME", types.StageNetscan1, types.StatusRunning)
	e := newEngine(s, now)

	// netscan1 found the host up
	h, changed, err := e.TransitionHost(ctx, 10, boolPtr(true), "", nil, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, types.StagePortscan, h.Stage)
	assert.Equal(t, types.StatusWaiting, h.Status)
	require.NotNil(t, h.LatestScan[string(types.StageNetscan1)])
	assert.Equal(t, now, *h.LatestScan[string(types.StageNetscan1)])

	tally, err := s.GetTally(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 0, tally.Counts[types.StageNetscan1][types.StatusRunning])
	assert.Equal(t, 1, tally.Counts[types.StagePortscan][types.StatusWaiting])
}

func TestTransitionHostFailureRequeues(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	seedHost(t, s, 10, "ACME", types.StageVulnscan, types.StatusRunning)
	e := newEngine(s, now)

	h, changed, err := e.TransitionHost(ctx, 10, nil, "", nil, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, types.StageVulnscan, h.Stage)
	assert.Equal(t, types.StatusWaiting, h.Status)
}

func TestTransitionHostDoneSchedulesRescan(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	sched := "PERSISTENT1"
	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "ACME", Scheduler: &sched}))
	h := seedHost(t, s, 10, "ACME", types.StageVulnscan, types.StatusRunning)
	h.State = types.HostState{Up: true, Reason: "open-port"}
	h.Priority = -1
	require.NoError(t, s.SaveHost(ctx, h))

	e := newEngine(s, now)
	got, _, err := e.TransitionHost(ctx, 10, nil, "", nil, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, got.Status)
	require.NotNil(t, got.LatestScan[types.LatestScanKeyDone])
	require.NotNil(t, got.NextScan, "scheduler assigns next_scan on DONE")
	assert.Equal(t, now.Add(168*time.Hour), *got.NextScan, "vuln-free up host rests at a week")
}

func TestTransitionHostDoneWithoutSchedulerLeavesNextScan(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "ACME"}))
	seedHost(t, s, 10, "ACME", types.StageBasescan, types.StatusRunning)

	e := newEngine(s, now)
	got, _, err := e.TransitionHost(ctx, 10, nil, "", nil, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, got.Status)
	assert.Nil(t, got.NextScan)
}

func TestFetchReadyHosts(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	seedHost(t, s, 10, "ACME", types.StagePortscan, types.StatusReady)
	seedHost(t, s, 11, "ACME", types.StagePortscan, types.StatusReady)
	seedHost(t, s, 12, "ACME", types.StagePortscan, types.StatusWaiting)

	e := newEngine(s, now)
	ips, err := e.FetchReadyHosts(ctx, 10, types.StagePortscan, "ACME", false)
	require.NoError(t, err)
	assert.Len(t, ips, 2, "waiting hosts stay put without waitingToo")

	for _, id := range []int64{10, 11} {
		h, err := s.GetHost(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusRunning, h.Status)
	}

	tally, err := s.GetTally(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, tally.Counts[types.StagePortscan][types.StatusRunning])
}

func TestCheckHostNextScans(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)

	up := seedHost(t, s, 10, "ACME", types.StageVulnscan, types.StatusDone)
	up.State = types.HostState{Up: true}
	up.NextScan = &due
	require.NoError(t, s.SaveHost(ctx, up))

	down := seedHost(t, s, 11, "ACME", types.StageNetscan2, types.StatusDone)
	down.State = types.HostState{Up: false}
	down.NextScan = &due
	require.NoError(t, s.SaveHost(ctx, down))

	notDue := now.Add(time.Hour)
	later := seedHost(t, s, 12, "ACME", types.StageVulnscan, types.StatusDone)
	later.NextScan = &notDue
	require.NoError(t, s.SaveHost(ctx, later))

	e := newEngine(s, now)
	n, err := e.CheckHostNextScans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	h, err := s.GetHost(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, types.StagePortscan, h.Stage, "up hosts jump back to portscan")
	assert.Equal(t, types.StatusWaiting, h.Status)
	assert.Nil(t, h.NextScan)

	h, err = s.GetHost(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, types.StageNetscan1, h.Stage, "down hosts start over")

	h, err = s.GetHost(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, h.Status)
}

func TestSyncTallyRecounts(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	seedHost(t, s, 10, "ACME", types.StagePortscan, types.StatusReady)
	// corrupt the tally
	tally, err := s.GetTally(ctx, "ACME")
	require.NoError(t, err)
	tally.Counts[types.StageVulnscan][types.StatusRunning] = 7
	require.NoError(t, s.SaveTally(ctx, tally))

	e := newEngine(s, now)
	require.NoError(t, e.SyncTally(ctx, "ACME"))

	tally, err = s.GetTally(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 0, tally.Counts[types.StageVulnscan][types.StatusRunning])
	assert.Equal(t, 1, tally.Counts[types.StagePortscan][types.StatusReady])
	assert.Equal(t, 1, tally.Total())
}

func TestDoneScanning(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "DONE-ORG"}))
	doneTally := types.NewTally("DONE-ORG")
	doneTally.Counts[types.StageVulnscan][types.StatusDone] = 3
	doneTally.LastChange = now
	require.NoError(t, s.SaveTally(ctx, doneTally))

	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "BUSY-ORG"}))
	busyTally := types.NewTally("BUSY-ORG")
	busyTally.Counts[types.StagePortscan][types.StatusRunning] = 1
	busyTally.LastChange = now
	require.NoError(t, s.SaveTally(ctx, busyTally))

	sched := "PERSISTENT1"
	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "SCHED-ORG", Scheduler: &sched}))
	schedTally := types.NewTally("SCHED-ORG")
	schedTally.Counts[types.StageVulnscan][types.StatusDone] = 2
	schedTally.LastChange = now
	require.NoError(t, s.SaveTally(ctx, schedTally))

	e := newEngine(s, now)
	owners, err := e.DoneScanning(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"DONE-ORG"}, owners)
}

func TestIgnoreTicket(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tk := &types.Ticket{
		IPInt: 10, IP: "0.0.0.10", Port: 443, Protocol: "tcp",
		Source: "nessus", SourceID: 101, Owner: "ACME",
		Open: true, TimeOpened: now.Add(-time.Hour),
		Details: map[string]any{types.DetailSeverity: 3},
	}
	require.NoError(t, s.SaveTicket(ctx, tk))

	e := newEngine(s, now)
	marked, err := e.IgnoreTicket(ctx, 10, 443, "nessus", 101, "known benign", 365)
	require.NoError(t, err)
	assert.True(t, marked)

	got, err := s.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, got.FalsePositive)
	assert.True(t, got.Open)

	// already a false positive, nothing left to mark
	marked, err = e.IgnoreTicket(ctx, 10, 443, "nessus", 101, "again", 365)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestPauseControlFlow(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	e := newEngine(s, now)

	pause, err := e.ShouldCommanderPause(ctx, true)
	require.NoError(t, err)
	assert.False(t, pause)

	doc, err := e.PauseCommander(ctx, "operator", "maintenance")
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)
	assert.False(t, doc.Completed)

	pause, err = e.ShouldCommanderPause(ctx, true)
	require.NoError(t, err)
	assert.True(t, pause)

	got, err := s.GetControl(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed, "applyActions acknowledges the request")

	// acknowledged requests do not pause again
	pause, err = e.ShouldCommanderPause(ctx, true)
	require.NoError(t, err)
	assert.False(t, pause)

	require.NoError(t, e.WaitForControl(ctx, doc.ID, time.Second))
}

func TestRenameOwner(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "OLD"}))
	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "PARENT", Children: []string{"OLD"}}))
	require.NoError(t, s.SaveTally(ctx, types.NewTally("OLD")))
	seedHost(t, s, 10, "OLD", types.StagePortscan, types.StatusWaiting)

	tk := &types.Ticket{
		IPInt: 10, IP: "0.0.0.10", Port: 80, Protocol: "tcp",
		Source: "nmap", Owner: "OLD",
		Open: true, TimeOpened: now.Add(-time.Hour),
	}
	require.NoError(t, s.SaveTicket(ctx, tk))

	e := newEngine(s, now)
	counts, err := e.RenameOwner(ctx, "OLD", "NEW")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["hosts"])
	assert.Equal(t, int64(1), counts["tickets"])

	_, err = s.GetRequest(ctx, "OLD")
	assert.Error(t, err)
	_, err = s.GetRequest(ctx, "NEW")
	assert.NoError(t, err)

	h, err := s.GetHost(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "NEW", h.Owner)

	got, err := s.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "NEW", got.Owner)
	require.NotEmpty(t, got.Events)
	last := got.Events[len(got.Events)-1]
	assert.Equal(t, types.TicketChanged, last.Action)
	require.Len(t, last.Delta, 1)
	assert.Equal(t, "owner", last.Delta[0].Key)

	parent, err := s.GetRequest(ctx, "PARENT")
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW"}, parent.Children)
}

func TestRenameOwnerRefusesExistingDestination(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "OLD"}))
	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "TAKEN"}))

	e := newEngine(s, now)
	_, err := e.RenameOwner(ctx, "OLD", "TAKEN")
	assert.Error(t, err)
}

func TestChangeNetworkOwnership(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// 10.0.0.0/24 covers ids [167772160, 167772415]
	inside := int64(167772170)
	outside := int64(167772416)
	seedHost(t, s, inside, "OLD", types.StagePortscan, types.StatusWaiting)
	seedHost(t, s, outside, "OLD", types.StagePortscan, types.StatusWaiting)

	tk := &types.Ticket{
		IPInt: inside, IP: types.IntToIP(inside).String(), Port: 80, Protocol: "tcp",
		Source: "nmap", Owner: "OLD",
		Open: true, TimeOpened: now.Add(-time.Hour),
	}
	require.NoError(t, s.SaveTicket(ctx, tk))

	e := newEngine(s, now)
	counts, err := e.ChangeNetworkOwnership(ctx, "OLD", "NEW", []string{"10.0.0.0/24"}, "reassigned network")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["hosts"])
	assert.Equal(t, int64(1), counts["tickets"])

	h, err := s.GetHost(ctx, inside)
	require.NoError(t, err)
	assert.Equal(t, "NEW", h.Owner)

	h, err = s.GetHost(ctx, outside)
	require.NoError(t, err)
	assert.Equal(t, "OLD", h.Owner)
}

func TestChangeNetworkOwnershipRejectsNonIPv4(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	e := newEngine(s, now)
	for _, cidr := range []string{"2001:db8::1/128", "2001:db8::/32"} {
		_, err := e.ChangeNetworkOwnership(ctx, "OLD", "NEW", []string{cidr}, "reassigned network")
		assert.ErrorContains(t, err, "not IPv4", cidr)
	}
}

func TestLatestVulnScanMissingReference(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	e := newEngine(s, now)

	scan := &types.VulnScan{}
	require.NoError(t, s.SaveVulnScan(ctx, scan))

	tk := &types.Ticket{
		IPInt: 10, IP: "0.0.0.10", Port: 443, Protocol: "tcp",
		Source: "nessus", Owner: "ACME", Open: true, TimeOpened: now,
	}
	require.NoError(t, tk.AddEvent(types.TicketEvent{
		Time: now, Action: types.TicketOpened, Reason: "detected", Reference: &scan.ID,
	}))
	require.NoError(t, s.SaveTicket(ctx, tk))

	got, err := e.LatestVulnScan(ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, scan.ID, got.ID)

	// simulate the referenced scan being archived
	missing := &types.Ticket{
		IPInt: 11, IP: "0.0.0.11", Port: 443, Protocol: "tcp",
		Source: "nessus", Owner: "ACME", Open: true, TimeOpened: now,
	}
	fakeID := scan.ID
	fakeID[0] ^= 0xff
	require.NoError(t, missing.AddEvent(types.TicketEvent{
		Time: now, Action: types.TicketOpened, Reason: "detected", Reference: &fakeID,
	}))
	require.NoError(t, s.SaveTicket(ctx, missing))

	_, err = e.LatestVulnScan(ctx, missing)
	var notFound *storage.VulnScanNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, missing.ID, notFound.TicketID)
	assert.Equal(t, fakeID, notFound.ScanID)
	assert.Equal(t, now, notFound.ScanTime)
}
