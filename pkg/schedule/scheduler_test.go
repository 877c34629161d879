package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/types"
)

type fixedSeverity int

func (f fixedSeverity) MaxOpenSeverity(ctx context.Context, ipInt int64) (int, error) {
	return int(f), nil
}

func newScheduler(t *testing.T, sev int, now time.Time) *Scheduler {
	t.Helper()
	s := NewScheduler(fixedSeverity(sev))
	s.SetClock(func() time.Time { return now })
	return s
}

func TestHoursForPriority(t *testing.T) {
	tests := []struct {
		priority int
		hours    float64
	}{
		{1, 2160},
		{0, 336},
		{-1, 168},
		{-4, 96},
		{-8, 24},
		{-16, 12},
		// interpolated
		{-2, 144},
		{-3, 120},
		{-6, 60},
		{-12, 18},
		// clamped
		{-20, 12},
		{5, 2160},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.hours, HoursForPriority(tt.priority), 1e-9, "priority %d", tt.priority)
	}
}

func TestDownHostDecaysTowardResting(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	s := newScheduler(t, 0, now)

	h := &types.Host{Priority: -3, State: types.HostState{Up: false}}
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, -2, h.Priority)

	// at resting, a down host stays put
	h.Priority = RestingDownPriority
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, RestingDownPriority, h.Priority)
	require.NotNil(t, h.NextScan)
	assert.Equal(t, now.Add(2160*time.Hour), *h.NextScan)
}

func TestVulnHostSnapsToSeverityPriority(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	s := newScheduler(t, 4, now)

	h := &types.Host{Priority: -1, State: types.HostState{Up: true}}
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, -16, h.Priority, "critical finding snaps straight to -16")
	require.NotNil(t, h.NextScan)
	assert.Equal(t, now.Add(12*time.Hour), *h.NextScan)
}

func TestVulnHostDecaysAfterRecovery(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	// worst remaining finding is low severity (target -2) but host sits at -16
	s := newScheduler(t, 1, now)

	h := &types.Host{Priority: -16, State: types.HostState{Up: true}}
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, -15, h.Priority, "relaxation is one step per scan")
}

func TestVulnHostAtTargetStays(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	s := newScheduler(t, 2, now)

	h := &types.Host{Priority: -4, State: types.HostState{Up: true}}
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, -4, h.Priority)
}

func TestVulnFreeHost(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	s := newScheduler(t, 0, now)

	// decays one step toward resting up
	h := &types.Host{Priority: -16, State: types.HostState{Up: true}}
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, -15, h.Priority)
	require.NotNil(t, h.NextScan)
	assert.Equal(t, now.Add(13*time.Hour+30*time.Minute), *h.NextScan, "interpolated hours at -15")

	// previously-down host snaps to resting up
	h = &types.Host{Priority: 1, State: types.HostState{Up: true}}
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, RestingUpPriority, h.Priority)

	// at resting, stays
	h = &types.Host{Priority: RestingUpPriority, State: types.HostState{Up: true}}
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, RestingUpPriority, h.Priority)
}

func TestSeverityClamping(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	// severity above 4 behaves like critical
	s := newScheduler(t, 9, now)
	h := &types.Host{Priority: 0, State: types.HostState{Up: true}}
	require.NoError(t, s.Schedule(context.Background(), h))
	assert.Equal(t, -16, h.Priority)
}
