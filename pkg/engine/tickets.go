package engine

import (
	"context"
	"errors"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// IgnoreTicket marks the matching open ticket as a false positive for
// expireDays. Reports whether a ticket was marked.
func (e *Engine) IgnoreTicket(ctx context.Context, ipInt int64, port int, source string, sourceID int, reason string, expireDays int) (bool, error) {
	tickets, err := e.store.OpenTicketsInScope(ctx, storage.TicketScope{
		Source:    source,
		IPInts:    []int64{ipInt},
		Ports:     []int{port},
		SourceIDs: []int{sourceID},
	})
	if err != nil {
		return false, err
	}
	for _, t := range tickets {
		if t.FalsePositive {
			continue
		}
		t.SetFalsePositive(true, reason, expireDays)
		t.LastChange = e.now()
		if err := e.store.SaveTicket(ctx, t); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// LatestPortScan resolves the port-scan document referenced by the ticket's
// most recent event. A missing document yields a PortScanNotFoundError
// carrying the reference time, so callers can still show when the
// observation happened.
func (e *Engine) LatestPortScan(ctx context.Context, t *types.Ticket) (*types.PortScan, error) {
	scanID, scanTime, ok := t.LastReference()
	if !ok {
		return nil, &storage.PortScanNotFoundError{TicketID: t.ID}
	}
	scan, err := e.store.GetPortScan(ctx, scanID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &storage.PortScanNotFoundError{TicketID: t.ID, ScanID: scanID, ScanTime: scanTime}
	}
	return scan, err
}

// LatestVulnScan resolves the vuln-scan document referenced by the ticket's
// most recent event, with the same archived-document behavior as
// LatestPortScan.
func (e *Engine) LatestVulnScan(ctx context.Context, t *types.Ticket) (*types.VulnScan, error) {
	scanID, scanTime, ok := t.LastReference()
	if !ok {
		return nil, &storage.VulnScanNotFoundError{TicketID: t.ID}
	}
	scan, err := e.store.GetVulnScan(ctx, scanID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &storage.VulnScanNotFoundError{TicketID: t.ID, ScanID: scanID, ScanTime: scanTime}
	}
	return scan, err
}

// ExpireFalsePositives clears the false-positive flag on tickets whose
// expiration has passed. Returns the number cleared.
func (e *Engine) ExpireFalsePositives(ctx context.Context) (int, error) {
	expired, err := e.store.ExpiredFalsePositives(ctx, e.now())
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, t := range expired {
		t.FalsePositive = false
		_ = t.AddEvent(types.TicketEvent{
			Time:   e.now(),
			Action: types.TicketChanged,
			Reason: "False positive expired",
			Delta:  []types.EventDelta{{Key: "false_positive", From: true, To: false}},
		})
		t.LastChange = e.now()
		if err := e.store.SaveTicket(ctx, t); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}
