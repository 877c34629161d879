package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/storage/memory"
	"github.com/vigilsec/vigil/pkg/types"
)

func seedOwner(t *testing.T, s *memory.Store, owner string, now time.Time) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveRequest(ctx, &types.Request{
		ID:       owner,
		Networks: []string{"10.0.0.0/24"},
	}))

	done := now.Add(-time.Hour)
	up := &types.Host{
		ID: 10, IP: "10.0.0.10", Owner: owner,
		LastChange: now.Add(-2 * time.Hour),
		State:      types.HostState{Up: true, Reason: "open-port"},
		Stage:      types.StageVulnscan, Status: types.StatusDone,
		LatestScan: map[string]*time.Time{types.LatestScanKeyDone: &done},
	}
	down := &types.Host{
		ID: 11, IP: "10.0.0.11", Owner: owner,
		LastChange: now.Add(-90 * time.Minute),
		State:      types.HostState{Up: false, Reason: "no-open"},
		Stage:      types.StageNetscan2, Status: types.StatusDone,
		LatestScan: map[string]*time.Time{types.LatestScanKeyDone: &done},
	}
	require.NoError(t, s.SaveHost(ctx, up))
	require.NoError(t, s.SaveHost(ctx, down))

	require.NoError(t, s.SavePortScan(ctx, &types.PortScan{
		ScanMeta: types.ScanMeta{
			Source: "nmap", Owner: owner, IP: "10.0.0.10", IPInt: 10,
			Time: now.Add(-50 * time.Minute), Latest: true,
		},
		Protocol: "tcp", Port: 443, State: types.PortStateOpen,
		Service: map[string]any{"name": "https"},
	}))

	require.NoError(t, s.SaveTicket(ctx, &types.Ticket{
		IPInt: 10, IP: "10.0.0.10", Port: 443, Protocol: "tcp",
		Source: "nessus", SourceID: 101, Owner: owner,
		Open: true, TimeOpened: now.Add(-72 * time.Hour),
		Details: map[string]any{
			types.DetailSeverity:  3,
			types.DetailCVSSScore: 7.5,
		},
	}))
}

func TestBuildSnapshot(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	seedOwner(t, s, "ACME", now)

	b := NewBuilder(s)
	b.SetClock(func() time.Time { return now })

	snap, err := b.Build(ctx, "ACME", nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, "ACME", snap.Owner)
	assert.True(t, snap.Latest)
	assert.Equal(t, []primitive.ObjectID{snap.ID}, snap.Parents, "root snapshot is its own parent")
	assert.Equal(t, []string{"10.0.0.0/24"}, snap.Networks)

	assert.Equal(t, 2, snap.AddressesScanned)
	assert.Equal(t, 1, snap.HostCount)
	assert.Equal(t, 1, snap.VulnerableHostCount)
	assert.Equal(t, 1, snap.PortCount)
	assert.Equal(t, 1, snap.UniquePortCount)
	assert.Equal(t, 1, snap.Vulnerabilities.High)
	assert.Equal(t, 1, snap.Vulnerabilities.Total)
	assert.Equal(t, map[string]int{"https": 1}, snap.Services)

	assert.InDelta(t, 7.5, snap.CVSSAverageAll, 1e-9)
	assert.InDelta(t, 7.5, snap.CVSSAverageVulnerable, 1e-9)

	assert.Equal(t, now, snap.TixMsecOpen.AsOfDate)
	require.NotNil(t, snap.TixMsecOpen.High.Median)
	assert.Equal(t, (72 * time.Hour).Milliseconds(), *snap.TixMsecOpen.High.Median)

	// timespan derives from the tagged scan documents
	assert.Equal(t, now.Add(-50*time.Minute), snap.StartTime)
	assert.Equal(t, now.Add(-50*time.Minute), snap.EndTime)

	assert.Equal(t, 1, snap.World.HostCount)
	assert.Equal(t, 1, snap.World.Vulnerabilities.High)

	stored, err := s.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.World, stored.World)
}

func TestBuildReplacesLatest(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	seedOwner(t, s, "ACME", now)

	b := NewBuilder(s)
	b.SetClock(func() time.Time { return now })

	first, err := b.Build(ctx, "ACME", nil, Options{})
	require.NoError(t, err)

	b.SetClock(func() time.Time { return now.Add(time.Hour) })
	second, err := b.Build(ctx, "ACME", nil, Options{})
	require.NoError(t, err)

	old, err := s.GetSnapshot(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.Latest)

	latest, err := s.LatestSnapshot(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestBuildCollisionAdvancesEndTime(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	seedOwner(t, s, "ACME", now)

	b := NewBuilder(s)
	b.SetClock(func() time.Time { return now })
	first, err := b.Build(ctx, "ACME", nil, Options{})
	require.NoError(t, err)

	// same document set, same derived timespan
	later := now.Add(30 * time.Minute)
	b.SetClock(func() time.Time { return later })
	second, err := b.Build(ctx, "ACME", nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, first.StartTime, second.StartTime)
	assert.Equal(t, later, second.EndTime, "collision pushes end_time to now")
}

func TestBuildEmptyOwnerFallsBackToNow(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, &types.Request{ID: "EMPTY"}))

	b := NewBuilder(s)
	b.SetClock(func() time.Time { return now })
	snap, err := b.Build(ctx, "EMPTY", nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, now, snap.StartTime)
	assert.Equal(t, now, snap.EndTime)
	assert.Zero(t, snap.HostCount)
	assert.Zero(t, snap.CVSSAverageAll, "safe division on empty owners")
}

func TestBuildWithParentAndDescendants(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	seedOwner(t, s, "PARENT", now)
	require.NoError(t, s.SaveRequest(ctx, &types.Request{
		ID: "CHILD", Networks: []string{"10.0.1.0/24"},
	}))

	b := NewBuilder(s)
	b.SetClock(func() time.Time { return now })

	parent, err := b.Build(ctx, "PARENT", []string{"CHILD"}, Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"10.0.0.0/24", "10.0.1.0/24"}, parent.Networks)
	assert.False(t, parent.IsDescendantSnapshot())

	child, err := b.Build(ctx, "CHILD", nil, Options{Parent: parent.ID})
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{parent.ID}, child.Parents)
	assert.True(t, child.IsDescendantSnapshot())

	// descendant snapshots stay out of the world rollup
	assert.Equal(t, parent.World.HostCount, child.World.HostCount)
}
