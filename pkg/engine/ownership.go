package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// prefixRange returns the inclusive integer id range a prefix covers. Host
// ids are 32-bit IPv4 values, so only IPv4 prefixes have a range.
func prefixRange(p netip.Prefix) (int64, int64, error) {
	if !p.Addr().Is4() {
		return 0, 0, fmt.Errorf("network %s is not IPv4", p)
	}
	low := types.IPToInt(p.Masked().Addr())
	span := int64(1) << (32 - p.Bits())
	return low, low + span - 1, nil
}

// ChangeNetworkOwnership moves the given networks to a new owner: hosts,
// scan documents, and tickets inside the CIDRs are rewritten, with a CHANGED
// event recording the move on every ticket. Returns modified counts per
// collection.
func (e *Engine) ChangeNetworkOwnership(ctx context.Context, origOwner, newOwner string, cidrs []string, reason string) (map[string]int64, error) {
	totals := map[string]int64{}
	for _, c := range cidrs {
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			return totals, fmt.Errorf("invalid network %q: %w", c, err)
		}
		low, high, err := prefixRange(prefix)
		if err != nil {
			return totals, err
		}

		n, err := e.store.ReassignHostOwner(ctx, low, high, newOwner)
		if err != nil {
			return totals, err
		}
		totals[storage.CollectionHosts] += n

		scanCounts, err := e.store.ReassignScanOwner(ctx, low, high, newOwner)
		if err != nil {
			return totals, err
		}
		for collection, count := range scanCounts {
			totals[collection] += count
		}

		tickets, err := e.store.TicketsInIPRange(ctx, low, high)
		if err != nil {
			return totals, err
		}
		for _, t := range tickets {
			if t.Owner == newOwner {
				continue
			}
			t.Owner = newOwner
			_ = t.AddEvent(types.TicketEvent{
				Time:   e.now(),
				Action: types.TicketChanged,
				Reason: reason,
				Delta:  []types.EventDelta{{Key: "owner", From: origOwner, To: newOwner}},
			})
			if err := e.store.SaveTicket(ctx, t); err != nil {
				return totals, err
			}
			totals[storage.CollectionTickets]++
		}

		e.logger.Info().Str("network", prefix.String()).Str("owner", newOwner).
			Msg("changed network ownership")
	}
	return totals, nil
}

// RenameOwner renames an owner id across every collection: the request and
// tally are duplicated under the new id and the old ones deleted, owner
// fields are rewritten with a CHANGED event on each ticket, and parent
// requests' children lists are updated. It refuses when the destination
// already exists.
func (e *Engine) RenameOwner(ctx context.Context, oldOwner, newOwner string) (map[string]int64, error) {
	if _, err := e.store.GetRequest(ctx, newOwner); err == nil {
		return nil, fmt.Errorf("owner %s already exists", newOwner)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	req, err := e.store.GetRequest(ctx, oldOwner)
	if err != nil {
		return nil, fmt.Errorf("loading request for %s: %w", oldOwner, err)
	}

	counts, err := e.store.RenameOwner(ctx, oldOwner, newOwner, types.TicketEvent{
		Time:   e.now(),
		Action: types.TicketChanged,
		Reason: "owner id updated",
		Delta:  []types.EventDelta{{Key: "owner", From: oldOwner, To: newOwner}},
	})
	if err != nil {
		return counts, err
	}

	req.ID = newOwner
	if err := e.store.SaveRequest(ctx, req); err != nil {
		return counts, err
	}
	if err := e.store.DeleteRequest(ctx, oldOwner); err != nil {
		return counts, err
	}

	tally, err := e.store.GetTally(ctx, oldOwner)
	if err == nil {
		tally.ID = newOwner
		if err := e.store.SaveTally(ctx, tally); err != nil {
			return counts, err
		}
		if err := e.store.DeleteTally(ctx, oldOwner); err != nil {
			return counts, err
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return counts, err
	}

	parents, err := e.store.ParentRequests(ctx, oldOwner)
	if err != nil {
		return counts, err
	}
	for _, parent := range parents {
		for i, child := range parent.Children {
			if child == oldOwner {
				parent.Children[i] = newOwner
			}
		}
		if err := e.store.SaveRequest(ctx, parent); err != nil {
			return counts, err
		}
	}

	e.logger.Info().Str("old", oldOwner).Str("new", newOwner).Msg("renamed owner")
	return counts, nil
}
