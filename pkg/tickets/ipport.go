package tickets

import (
	"context"
	"errors"
	"time"

	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// IPPortTicketManager reconciles one port scan run against the ticket
// collection. Report every open port through PortOpen; CloseTickets then
// closes scoped tickets whose (ip, port) was not seen open.
type IPPortTicketManager struct {
	store       storage.Store
	protocols   []string
	reopenDays  int
	ips         []int64
	ports       []int
	seen        map[int64]map[int]bool
	closingTime *time.Time
	now         func() time.Time
}

// NewIPPortTicketManager creates a manager scoped to the scanned protocols.
func NewIPPortTicketManager(store storage.Store, protocols []string) *IPPortTicketManager {
	return &IPPortTicketManager{
		store:      store,
		protocols:  append([]string(nil), protocols...),
		reopenDays: DefaultReopenDays,
		seen:       map[int64]map[int]bool{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetReopenDays overrides the reopen window.
func (m *IPPortTicketManager) SetReopenDays(days int) { m.reopenDays = days }

// SetClock overrides the manager's notion of now. For tests.
func (m *IPPortTicketManager) SetClock(now func() time.Time) { m.now = now }

// SetIPs scopes the run to these addresses.
func (m *IPPortTicketManager) SetIPs(ipInts []int64) {
	m.ips = append([]int64(nil), ipInts...)
}

// SetPorts scopes the run to these ports.
func (m *IPPortTicketManager) SetPorts(ports []int) {
	m.ports = append([]int(nil), ports...)
}

// PortOpen records that the scan saw this port open on this address.
func (m *IPPortTicketManager) PortOpen(ipInt int64, port int) {
	if m.seen[ipInt] == nil {
		m.seen[ipInt] = map[int]bool{}
	}
	m.seen[ipInt][port] = true
}

func (m *IPPortTicketManager) save(ctx context.Context, t *types.Ticket) error {
	t.LastChange = m.now()
	return m.store.SaveTicket(ctx, t)
}

func (m *IPPortTicketManager) handlePortClosed(ctx context.Context, t *types.Ticket, closingTime time.Time) error {
	expireFalsePositive(t, closingTime, false)
	closeOrUnverify(t, closingTime, "port not open", false)
	return m.save(ctx, t)
}

// OpenTicket processes one open-port observation.
func (m *IPPortTicketManager) OpenTicket(ctx context.Context, portscan *types.PortScan, reason string) error {
	if m.closingTime == nil || m.closingTime.Before(portscan.Time) {
		ct := portscan.Time
		m.closingTime = &ct
	}

	key := types.TicketKey{
		IPInt:    portscan.IPInt,
		Port:     portscan.Port,
		Protocol: portscan.Protocol,
		Source:   portscan.Source,
		SourceID: portscan.SourceID,
	}
	ref := portscan.ID

	prev, err := m.store.FindOpenTicket(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if prev != nil {
		expireFalsePositive(prev, portscan.Time, false)
		_ = prev.AddEvent(types.TicketEvent{
			Time:      portscan.Time,
			Action:    types.TicketVerified,
			Reason:    reason,
			Reference: &ref,
		})
		return m.save(ctx, prev)
	}

	cutoff := m.now().AddDate(0, 0, -m.reopenDays)
	reopen, err := m.store.FindRecentlyClosedTicket(ctx, key, cutoff)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if reopen != nil {
		_ = reopen.AddEvent(types.TicketEvent{
			Time:      portscan.Time,
			Action:    types.TicketReopened,
			Reason:    reason,
			Reference: &ref,
		})
		reopen.TimeClosed = nil
		reopen.Open = true
		return m.save(ctx, reopen)
	}

	ticket := &types.Ticket{
		IPInt:      portscan.IPInt,
		IP:         portscan.IP,
		Port:       portscan.Port,
		Protocol:   portscan.Protocol,
		Source:     portscan.Source,
		SourceID:   portscan.SourceID,
		Owner:      portscan.Owner,
		Open:       true,
		TimeOpened: portscan.Time,
		Details: map[string]any{
			types.DetailCVE:         nil,
			types.DetailScoreSource: nil,
			types.DetailCVSSScore:   nil,
			types.DetailSeverity:    0,
			types.DetailName:        portscan.Name,
			types.DetailService:     portscan.Service,
		},
	}
	if host, err := m.store.GetHost(ctx, portscan.IPInt); err == nil {
		ticket.Loc = host.Loc
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	_ = ticket.AddEvent(types.TicketEvent{
		Time:      portscan.Time,
		Action:    types.TicketOpened,
		Reason:    reason,
		Reference: &ref,
	})

	if ticket.Owner == types.UnknownOwner {
		_ = ticket.AddEvent(types.TicketEvent{
			Time:   portscan.Time,
			Action: types.TicketClosed,
			Reason: "No associated owner",
		})
		ticket.Open = false
		ticket.TimeClosed = m.closingTime
	}

	if err := m.save(ctx, ticket); err != nil {
		return err
	}

	// every new open-port ticket gets a notification
	return m.store.SaveNotification(ctx, &types.Notification{
		TicketID:     ticket.ID,
		TicketOwner:  ticket.Owner,
		GeneratedFor: []string{},
	})
}

// CloseTickets closes scoped tickets whose port was not seen open. When the
// run covered the full port space, addresses with no open ports at all get
// every open ticket closed, port 0 general findings included.
func (m *IPPortTicketManager) CloseTickets(ctx context.Context, closingTime time.Time) error {
	if closingTime.IsZero() {
		closingTime = m.now()
	}

	logger := log.WithComponent("tickets")
	allPortsScanned := len(m.ports) == MaxPortsCount

	var scoped []*types.Ticket
	var err error
	if allPortsScanned {
		var noOpenPorts []int64
		for _, ip := range m.ips {
			if len(m.seen[ip]) == 0 {
				noOpenPorts = append(noOpenPorts, ip)
			}
		}
		if len(noOpenPorts) > 0 {
			silent, err := m.store.OpenTicketsInScope(ctx, storage.TicketScope{IPInts: noOpenPorts})
			if err != nil {
				return err
			}
			for _, t := range silent {
				if err := m.handlePortClosed(ctx, t, closingTime); err != nil {
					return err
				}
			}
			logger.Debug().Int("hosts", len(noOpenPorts)).Int("closed", len(silent)).
				Msg("closed all tickets for hosts with no open ports")
		}

		scoped, err = m.store.OpenTicketsInScope(ctx, storage.TicketScope{
			IPInts:       m.ips,
			ExcludePorts: []int{0},
			Protocols:    m.protocols,
		})
	} else {
		scoped, err = m.store.OpenTicketsInScope(ctx, storage.TicketScope{
			IPInts:    m.ips,
			Ports:     m.ports,
			Protocols: m.protocols,
		})
	}
	if err != nil {
		return err
	}

	for _, t := range scoped {
		if m.seen[t.IPInt][t.Port] {
			// this ticket's ip:port was open, leave it alone
			continue
		}
		if err := m.handlePortClosed(ctx, t, closingTime); err != nil {
			return err
		}
	}
	return nil
}

// ClearVulnLatestFlags retires latest vuln documents whose port was not
// seen open on their address.
func (m *IPPortTicketManager) ClearVulnLatestFlags(ctx context.Context) error {
	for _, ip := range m.ips {
		var keep []int
		for port := range m.seen[ip] {
			keep = append(keep, port)
		}
		if _, err := m.store.RetireLatestVulnScans(ctx, ip, keep); err != nil {
			return err
		}
	}
	return nil
}
