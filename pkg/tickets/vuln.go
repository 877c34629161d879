package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// VulnTicketManager reconciles one vulnerability scan run against the ticket
// collection. Scope the run with SetIPs/SetPorts/SetSourceIDs, feed every
// observation through OpenTicket, then CloseTickets sweeps the scoped
// tickets that were not re-detected.
type VulnTicketManager struct {
	store       storage.Store
	source      string
	reopenDays  int
	manualScan  bool
	ips         []int64
	ports       []int
	sourceIDs   []int
	seen        map[primitive.ObjectID]bool
	closingTime *time.Time
	now         func() time.Time
}

// NewVulnTicketManager creates a manager for one scan source.
func NewVulnTicketManager(store storage.Store, source string) *VulnTicketManager {
	return &VulnTicketManager{
		store:      store,
		source:     source,
		reopenDays: DefaultReopenDays,
		seen:       map[primitive.ObjectID]bool{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetReopenDays overrides the reopen window.
func (m *VulnTicketManager) SetReopenDays(days int) { m.reopenDays = days }

// SetManualScan marks every event this manager writes as operator initiated.
func (m *VulnTicketManager) SetManualScan(manual bool) { m.manualScan = manual }

// SetClock overrides the manager's notion of now. For tests.
func (m *VulnTicketManager) SetClock(now func() time.Time) { m.now = now }

// SetIPs scopes the run to these addresses.
func (m *VulnTicketManager) SetIPs(ipInts []int64) {
	m.ips = append([]int64(nil), ipInts...)
}

// SetPorts scopes the run to these ports. Port 0 carries general findings
// and a scanner never reports it as open, so it is always included.
func (m *VulnTicketManager) SetPorts(ports []int) {
	m.ports = append([]int(nil), ports...)
	for _, p := range m.ports {
		if p == 0 {
			return
		}
	}
	m.ports = append(m.ports, 0)
}

// SetSourceIDs scopes the run to these plugin ids.
func (m *VulnTicketManager) SetSourceIDs(sourceIDs []int) {
	m.sourceIDs = append([]int(nil), sourceIDs...)
}

func (m *VulnTicketManager) trackClosingTime(t time.Time) {
	if m.closingTime == nil || m.closingTime.Before(t) {
		ct := t
		m.closingTime = &ct
	}
}

// generateDetails fills the ticket details from the observation, preferring
// NVD data over the scanner's score when the CVE is known. When
// checkForChanges is set, a differing detail set appends a CHANGED event.
func (m *VulnTicketManager) generateDetails(ctx context.Context, vuln *types.VulnScan, t *types.Ticket, checkForChanges bool) error {
	var cve any
	if vuln.CVE != "" {
		cve = vuln.CVE
	}
	newDetails := map[string]any{
		types.DetailCVE:         cve,
		types.DetailScoreSource: vuln.Source,
		types.DetailCVSSScore:   vuln.CVSSBaseScore,
		types.DetailSeverity:    vuln.Severity,
		types.DetailName:        vuln.PluginName,
	}

	if vuln.CVE != "" {
		cveDoc, err := m.store.GetCVE(ctx, vuln.CVE)
		switch {
		case err == nil:
			newDetails[types.DetailScoreSource] = "nvd"
			newDetails[types.DetailCVSSScore] = cveDoc.CVSSScore
			newDetails[types.DetailSeverity] = cveDoc.Severity
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("looking up %s: %w", vuln.CVE, err)
		}
	}

	if checkForChanges {
		if delta := computeDelta(t.Details, newDetails); len(delta) > 0 {
			ref := vuln.ID
			_ = t.AddEvent(types.TicketEvent{
				Time:      vuln.Time,
				Action:    types.TicketChanged,
				Reason:    "details changed",
				Reference: &ref,
				Delta:     delta,
				Manual:    m.manualScan,
			})
		}
	}
	t.Details = newDetails
	return nil
}

func (m *VulnTicketManager) createNotification(ctx context.Context, t *types.Ticket) error {
	return m.store.SaveNotification(ctx, &types.Notification{
		TicketID:     t.ID,
		TicketOwner:  t.Owner,
		GeneratedFor: []string{},
	})
}

func (m *VulnTicketManager) save(ctx context.Context, t *types.Ticket) error {
	t.LastChange = m.now()
	return m.store.SaveTicket(ctx, t)
}

// OpenTicket processes one finding: verify the matching open ticket, reopen
// a recently closed one, or open a fresh ticket.
func (m *VulnTicketManager) OpenTicket(ctx context.Context, vuln *types.VulnScan, reason string) error {
	m.trackClosingTime(vuln.Time)

	key := types.TicketKey{
		IPInt:    vuln.IPInt,
		Port:     vuln.Port,
		Protocol: vuln.Protocol,
		Source:   vuln.Source,
		SourceID: vuln.PluginID,
	}
	ref := vuln.ID

	prev, err := m.store.FindOpenTicket(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if prev != nil {
		if err := m.generateDetails(ctx, vuln, prev, true); err != nil {
			return err
		}
		expireFalsePositive(prev, vuln.Time, m.manualScan)
		_ = prev.AddEvent(types.TicketEvent{
			Time:      vuln.Time,
			Action:    types.TicketVerified,
			Reason:    reason,
			Reference: &ref,
			Manual:    m.manualScan,
		})
		if err := m.save(ctx, prev); err != nil {
			return err
		}
		m.seen[prev.ID] = true
		return nil
	}

	cutoff := m.now().AddDate(0, 0, -m.reopenDays)
	reopen, err := m.store.FindRecentlyClosedTicket(ctx, key, cutoff)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if reopen != nil {
		if err := m.generateDetails(ctx, vuln, reopen, true); err != nil {
			return err
		}
		_ = reopen.AddEvent(types.TicketEvent{
			Time:      vuln.Time,
			Action:    types.TicketReopened,
			Reason:    reason,
			Reference: &ref,
			Manual:    m.manualScan,
		})
		reopen.TimeClosed = nil
		reopen.Open = true
		if err := m.save(ctx, reopen); err != nil {
			return err
		}
		m.seen[reopen.ID] = true
		return nil
	}

	ticket := &types.Ticket{
		IPInt:      vuln.IPInt,
		IP:         vuln.IP,
		Port:       vuln.Port,
		Protocol:   vuln.Protocol,
		Source:     vuln.Source,
		SourceID:   vuln.PluginID,
		Owner:      vuln.Owner,
		Open:       true,
		TimeOpened: vuln.Time,
	}
	if err := m.generateDetails(ctx, vuln, ticket, false); err != nil {
		return err
	}
	if host, err := m.store.GetHost(ctx, vuln.IPInt); err == nil {
		ticket.Loc = host.Loc
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	_ = ticket.AddEvent(types.TicketEvent{
		Time:      vuln.Time,
		Action:    types.TicketOpened,
		Reason:    reason,
		Reference: &ref,
		Manual:    m.manualScan,
	})

	if ticket.Owner == types.UnknownOwner {
		// nothing to remediate without an owner
		_ = ticket.AddEvent(types.TicketEvent{
			Time:   vuln.Time,
			Action: types.TicketClosed,
			Reason: "No associated owner",
			Manual: m.manualScan,
		})
		ticket.Open = false
		ticket.TimeClosed = m.closingTime
	}

	if err := m.save(ctx, ticket); err != nil {
		return err
	}
	m.seen[ticket.ID] = true

	// notify on highs and criticals
	if ticket.Severity() > 2 {
		return m.createNotification(ctx, ticket)
	}
	return nil
}

// CloseTickets sweeps the scoped tickets the run did not re-detect. The
// port filter also matches UDP tickets regardless of port, since UDP
// findings frequently move between ports.
func (m *VulnTicketManager) CloseTickets(ctx context.Context) error {
	if m.closingTime == nil {
		ct := m.now()
		m.closingTime = &ct
	}

	scoped, err := m.store.OpenTicketsInScope(ctx, storage.TicketScope{
		Source:    m.source,
		IPInts:    m.ips,
		Ports:     m.ports,
		SourceIDs: m.sourceIDs,
		UDPOrPort: true,
	})
	if err != nil {
		return err
	}

	logger := log.WithComponent("tickets")
	closed := 0
	for _, t := range scoped {
		if m.seen[t.ID] {
			continue
		}
		expireFalsePositive(t, *m.closingTime, m.manualScan)
		closeOrUnverify(t, *m.closingTime, "vulnerability not detected", m.manualScan)
		if err := m.save(ctx, t); err != nil {
			return err
		}
		closed++
	}
	logger.Debug().Str("source", m.source).Int("closed", closed).Msg("vuln ticket sweep finished")
	return nil
}

// ReadyToClearVulnLatestFlags reports whether the scope is complete enough
// to retire superseded vuln documents.
func (m *VulnTicketManager) ReadyToClearVulnLatestFlags() bool {
	return len(m.ips) > 0 && len(m.ports) > 0 && len(m.sourceIDs) > 0
}

// ClearVulnLatestFlags retires the latest flag on vuln documents this run
// superseded.
func (m *VulnTicketManager) ClearVulnLatestFlags(ctx context.Context) error {
	_, err := m.store.RetireLatestVulnScansInScope(ctx, storage.TicketScope{
		Source:    m.source,
		IPInts:    m.ips,
		Ports:     m.ports,
		SourceIDs: m.sourceIDs,
	})
	return err
}
