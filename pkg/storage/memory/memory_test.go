package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

func TestHostRoundTripIsolation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	h := &types.Host{ID: 42, IP: "0.0.0.42", Owner: "ACME", Stage: types.StageNetscan1, Status: types.StatusWaiting}
	require.NoError(t, s.SaveHost(ctx, h))

	got, err := s.GetHost(ctx, 42)
	require.NoError(t, err)
	got.Owner = "MUTATED"

	again, err := s.GetHost(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "ACME", again.Owner, "store must not share state with callers")

	_, err = s.GetHost(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaimableHostsOrdering(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	hosts := []*types.Host{
		{ID: 1, Owner: "A", Stage: types.StagePortscan, Status: types.StatusReady, Priority: 0, R: 0.9},
		{ID: 2, Owner: "A", Stage: types.StagePortscan, Status: types.StatusReady, Priority: -8, R: 0.5},
		{ID: 3, Owner: "A", Stage: types.StagePortscan, Status: types.StatusWaiting, Priority: -8, R: 0.1},
		{ID: 4, Owner: "B", Stage: types.StagePortscan, Status: types.StatusReady, Priority: -16, R: 0.5},
		{ID: 5, Owner: "A", Stage: types.StageVulnscan, Status: types.StatusReady, Priority: -16, R: 0.5},
	}
	for _, h := range hosts {
		require.NoError(t, s.SaveHost(ctx, h))
	}

	got, err := s.ClaimableHosts(ctx, types.StagePortscan,
		[]types.Status{types.StatusReady}, []string{"A"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID, "most urgent priority first")
	assert.Equal(t, int64(1), got[1].ID)

	// waiting included, all owners, with limit
	got, err = s.ClaimableHosts(ctx, types.StagePortscan,
		[]types.Status{types.StatusReady, types.StatusWaiting}, nil, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID, "r breaks priority ties")
}

func TestScheduledHosts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, s.SaveHost(ctx, &types.Host{ID: 1, Status: types.StatusDone, NextScan: &past}))
	require.NoError(t, s.SaveHost(ctx, &types.Host{ID: 2, Status: types.StatusDone, NextScan: &future}))
	require.NoError(t, s.SaveHost(ctx, &types.Host{ID: 3, Status: types.StatusRunning, NextScan: &past}))
	require.NoError(t, s.SaveHost(ctx, &types.Host{ID: 4, Status: types.StatusDone}))

	due, err := s.ScheduledHosts(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1), due[0].ID)
}

func TestOpenTicketsInScope(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	mk := func(ip int64, port int, protocol string, sourceID int, open bool) *types.Ticket {
		tk := &types.Ticket{
			IPInt: ip, Port: port, Protocol: protocol,
			Source: "nessus", SourceID: sourceID, Open: open,
			TimeOpened: time.Now().UTC(),
		}
		if !open {
			closed := time.Now().UTC()
			tk.TimeClosed = &closed
		}
		require.NoError(t, s.SaveTicket(ctx, tk))
		return tk
	}

	inPort := mk(10, 443, "tcp", 1, true)
	udp := mk(10, 5353, "udp", 2, true)
	outPort := mk(10, 8080, "tcp", 3, true)
	mk(10, 443, "tcp", 4, false)
	mk(99, 443, "tcp", 5, true)

	got, err := s.OpenTicketsInScope(ctx, storage.TicketScope{
		Source:    "nessus",
		IPInts:    []int64{10},
		Ports:     []int{443},
		UDPOrPort: true,
	})
	require.NoError(t, err)
	ids := map[primitive.ObjectID]bool{}
	for _, tk := range got {
		ids[tk.ID] = true
	}
	assert.True(t, ids[inPort.ID])
	assert.True(t, ids[udp.ID], "udp tickets match regardless of port")
	assert.False(t, ids[outPort.ID])
	assert.Len(t, got, 2)
}

func TestMaxOpenSeverityExcludesFalsePositives(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.SaveTicket(ctx, &types.Ticket{
		IPInt: 7, Open: true, Details: map[string]any{types.DetailSeverity: 2},
	}))
	require.NoError(t, s.SaveTicket(ctx, &types.Ticket{
		IPInt: 7, Open: true, FalsePositive: true,
		Details: map[string]any{types.DetailSeverity: 4},
	}))

	max, err := s.MaxOpenSeverity(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, max)

	max, err = s.MaxOpenSeverity(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, max)
}

func TestExpiredFalsePositives(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	expired := &types.Ticket{IPInt: 1, Open: true, TimeOpened: time.Now().UTC()}
	expired.SetFalsePositive(true, "testing", -1)
	require.NoError(t, s.SaveTicket(ctx, expired))

	current := &types.Ticket{IPInt: 2, Open: true, TimeOpened: time.Now().UTC()}
	current.SetFalsePositive(true, "testing", 30)
	require.NoError(t, s.SaveTicket(ctx, current))

	got, err := s.ExpiredFalsePositives(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)
}

func TestTagLatestAndSeverityCounts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	oid := primitive.NewObjectID()

	require.NoError(t, s.SavePortScan(ctx, &types.PortScan{
		ScanMeta: types.ScanMeta{Owner: "ACME", Latest: true},
		Port:     443, State: types.PortStateOpen,
		Service: map[string]any{"name": "https"},
	}))
	require.NoError(t, s.SavePortScan(ctx, &types.PortScan{
		ScanMeta: types.ScanMeta{Owner: "ACME", Latest: true},
		Port:     23, State: types.PortStateSilent,
	}))
	require.NoError(t, s.SaveTicket(ctx, &types.Ticket{
		IPInt: 1, Owner: "ACME", Open: true, SourceID: 100,
		Details: map[string]any{types.DetailSeverity: 3, types.DetailCVSSScore: 7.5},
	}))
	require.NoError(t, s.SaveTicket(ctx, &types.Ticket{
		IPInt: 2, Owner: "ACME", Open: true, SourceID: 100,
		Details: map[string]any{types.DetailSeverity: 3, types.DetailCVSSScore: 9.0},
	}))
	require.NoError(t, s.SaveTicket(ctx, &types.Ticket{
		IPInt: 1, Owner: "OTHER", Open: true, SourceID: 200,
		Details: map[string]any{types.DetailSeverity: 4},
	}))

	require.NoError(t, s.TagLatest(ctx, []string{"ACME"}, oid))

	all, unique, fp, err := s.TicketSeverityCounts(ctx, oid)
	require.NoError(t, err)
	assert.Equal(t, types.SeverityCounts{High: 2, Total: 2}, all)
	assert.Equal(t, types.SeverityCounts{High: 1, Total: 1}, unique, "same (source_id, severity) counted once")
	assert.Equal(t, types.SeverityCounts{}, fp)

	vulnerable, err := s.CountVulnerableHosts(ctx, oid)
	require.NoError(t, err)
	assert.Equal(t, 2, vulnerable)

	sum, err := s.CVSSSum(ctx, oid)
	require.NoError(t, err)
	assert.InDelta(t, 16.5, sum, 1e-9)

	services, err := s.ServiceCounts(ctx, oid)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"https": 1}, services, "silent ports are not tagged")

	silent, err := s.CountSilentPorts(ctx, []string{"ACME"})
	require.NoError(t, err)
	assert.Equal(t, 1, silent)
}

func TestRemoveTagUndoesTagging(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	oid := primitive.NewObjectID()

	tk := &types.Ticket{IPInt: 1, Owner: "ACME", Open: true}
	require.NoError(t, s.SaveTicket(ctx, tk))
	require.NoError(t, s.TagLatest(ctx, []string{"ACME"}, oid))

	got, err := s.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, got.Snapshots, 1)

	require.NoError(t, s.RemoveTag(ctx, oid))
	got, err = s.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Snapshots)
}

func TestWorldStatistics(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	root := &types.Snapshot{ID: primitive.NewObjectID(), Owner: "ROOT", Latest: true,
		HostCount: 10, VulnerableHostCount: 3,
		Vulnerabilities: types.SeverityCounts{High: 3, Total: 3}}
	root.Parents = []primitive.ObjectID{root.ID}
	require.NoError(t, s.SaveSnapshot(ctx, root))

	child := &types.Snapshot{ID: primitive.NewObjectID(), Owner: "CHILD", Latest: true,
		HostCount: 99, Parents: []primitive.ObjectID{root.ID}}
	require.NoError(t, s.SaveSnapshot(ctx, child))

	excluded := &types.Snapshot{ID: primitive.NewObjectID(), Owner: "EX", Latest: true,
		HostCount: 50, ExcludeFromWorldStats: true}
	excluded.Parents = []primitive.ObjectID{excluded.ID}
	require.NoError(t, s.SaveSnapshot(ctx, excluded))

	world, err := s.WorldStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, world.HostCount, "descendant and excluded snapshots are skipped")
	assert.Equal(t, 3, world.VulnerableHostCount)
	assert.Equal(t, 3, world.Vulnerabilities.High)
}

func TestCountHostsByStageStatus(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.SaveHost(ctx, &types.Host{ID: 1, Owner: "A", Stage: types.StageNetscan1, Status: types.StatusWaiting}))
	require.NoError(t, s.SaveHost(ctx, &types.Host{ID: 2, Owner: "A", Stage: types.StageNetscan1, Status: types.StatusWaiting}))
	require.NoError(t, s.SaveHost(ctx, &types.Host{ID: 3, Owner: "A", Stage: types.StageVulnscan, Status: types.StatusDone}))
	require.NoError(t, s.SaveHost(ctx, &types.Host{ID: 4, Owner: "B", Stage: types.StageNetscan1, Status: types.StatusWaiting}))

	counts, err := s.CountHostsByStageStatus(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.StageNetscan1][types.StatusWaiting])
	assert.Equal(t, 1, counts[types.StageVulnscan][types.StatusDone])
	assert.Equal(t, 0, counts[types.StageBasescan][types.StatusRunning])
}
