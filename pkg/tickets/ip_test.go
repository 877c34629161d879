package tickets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/storage/memory"
	"github.com/vigilsec/vigil/pkg/types"
)

func TestIPCloseTicketsHostDown(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	upTicket := openPortTicket(t, s, 10, 80, now.Add(-24*time.Hour))
	downTicket := openPortTicket(t, s, 20, 80, now.Add(-24*time.Hour))

	m := NewIPTicketManager(s)
	m.SetClock(func() time.Time { return now })
	m.SetIPs([]int64{10, 20})
	m.IPUp(10)

	require.NoError(t, m.CloseTickets(ctx, now))

	got, err := s.GetTicket(ctx, upTicket.ID)
	require.NoError(t, err)
	assert.True(t, got.Open)

	got, err = s.GetTicket(ctx, downTicket.ID)
	require.NoError(t, err)
	assert.False(t, got.Open)
	assert.Equal(t, types.TicketClosed, lastAction(t, got))
	assert.Equal(t, "host down", got.Events[len(got.Events)-1].Reason)
}

func TestIPCloseTicketsAllUp(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tk := openPortTicket(t, s, 10, 80, now.Add(-24*time.Hour))

	m := NewIPTicketManager(s)
	m.SetClock(func() time.Time { return now })
	m.SetIPs([]int64{10})
	m.IPUp(10)

	require.NoError(t, m.CloseTickets(ctx, now))

	got, err := s.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, got.Open)
}

func TestIPClearVulnLatestFlags(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	up := newVulnScan(10, 443, 1, 2, now)
	down := newVulnScan(20, 443, 2, 2, now)
	require.NoError(t, s.SaveVulnScan(ctx, up))
	require.NoError(t, s.SaveVulnScan(ctx, down))

	m := NewIPTicketManager(s)
	m.SetIPs([]int64{10, 20})
	m.IPUp(10)
	require.NoError(t, m.ClearVulnLatestFlags(ctx))

	got, err := s.GetVulnScan(ctx, up.ID)
	require.NoError(t, err)
	assert.True(t, got.Latest)

	got, err = s.GetVulnScan(ctx, down.ID)
	require.NoError(t, err)
	assert.False(t, got.Latest)
}
