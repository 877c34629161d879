package tickets

import (
	"context"
	"time"

	"github.com/vigilsec/vigil/pkg/storage"
)

// IPTicketManager closes tickets after a network scan: any address that was
// scanned but never reported up has its open tickets closed.
type IPTicketManager struct {
	store storage.Store
	ips   []int64
	seen  map[int64]bool
	now   func() time.Time
}

// NewIPTicketManager creates a manager for one network scan run.
func NewIPTicketManager(store storage.Store) *IPTicketManager {
	return &IPTicketManager{
		store: store,
		seen:  map[int64]bool{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the manager's notion of now. For tests.
func (m *IPTicketManager) SetClock(now func() time.Time) { m.now = now }

// SetIPs scopes the run to these addresses.
func (m *IPTicketManager) SetIPs(ipInts []int64) {
	m.ips = append([]int64(nil), ipInts...)
}

// IPUp records that the scan saw this address up.
func (m *IPTicketManager) IPUp(ipInt int64) {
	m.seen[ipInt] = true
}

func (m *IPTicketManager) notUp() []int64 {
	var out []int64
	for _, ip := range m.ips {
		if !m.seen[ip] {
			out = append(out, ip)
		}
	}
	return out
}

// CloseTickets closes every open ticket on the addresses that were scanned
// but not up.
func (m *IPTicketManager) CloseTickets(ctx context.Context, closingTime time.Time) error {
	if closingTime.IsZero() {
		closingTime = m.now()
	}
	notUp := m.notUp()
	if len(notUp) == 0 {
		return nil
	}

	scoped, err := m.store.OpenTicketsInScope(ctx, storage.TicketScope{IPInts: notUp})
	if err != nil {
		return err
	}
	for _, t := range scoped {
		expireFalsePositive(t, closingTime, false)
		closeOrUnverify(t, closingTime, "host down", false)
		t.LastChange = m.now()
		if err := m.store.SaveTicket(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// ClearVulnLatestFlags retires latest vuln documents on the addresses that
// were not up.
func (m *IPTicketManager) ClearVulnLatestFlags(ctx context.Context) error {
	notUp := m.notUp()
	if len(notUp) == 0 {
		return nil
	}
	_, err := m.store.RetireLatestVulnScansForIPs(ctx, notUp)
	return err
}
