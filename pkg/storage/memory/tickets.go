package memory

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

func (s *Store) SaveTicket(ctx context.Context, t *types.Ticket) error {
	if err := t.CheckInvariants(); err != nil {
		return err
	}
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = cloneTicket(t)
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id primitive.ObjectID) (*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneTicket(t), nil
}

func (s *Store) FindOpenTicket(ctx context.Context, key types.TicketKey) (*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if t.Open && t.Key() == key {
			return cloneTicket(t), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) FindRecentlyClosedTicket(ctx context.Context, key types.TicketKey, closedAfter time.Time) (*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if !t.Open && t.TimeClosed != nil && t.TimeClosed.After(closedAfter) && t.Key() == key {
			return cloneTicket(t), nil
		}
	}
	return nil, storage.ErrNotFound
}

func int64Set(vals []int64) map[int64]bool {
	if vals == nil {
		return nil
	}
	set := make(map[int64]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}

func intSet(vals []int) map[int]bool {
	if vals == nil {
		return nil
	}
	set := make(map[int]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}

func (s *Store) OpenTicketsInScope(ctx context.Context, scope storage.TicketScope) ([]*types.Ticket, error) {
	ips := int64Set(scope.IPInts)
	ports := intSet(scope.Ports)
	excludePorts := intSet(scope.ExcludePorts)
	sourceIDs := intSet(scope.SourceIDs)
	var protocols map[string]bool
	if scope.Protocols != nil {
		protocols = map[string]bool{}
		for _, p := range scope.Protocols {
			protocols[p] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Ticket
	for _, t := range s.tickets {
		if !t.Open {
			continue
		}
		if scope.Source != "" && t.Source != scope.Source {
			continue
		}
		if ips != nil && !ips[t.IPInt] {
			continue
		}
		if sourceIDs != nil && !sourceIDs[t.SourceID] {
			continue
		}
		if excludePorts != nil && excludePorts[t.Port] {
			continue
		}
		if protocols != nil && !protocols[t.Protocol] {
			continue
		}
		if ports != nil {
			inPorts := ports[t.Port]
			if scope.UDPOrPort {
				inPorts = inPorts || t.Protocol == "udp"
			}
			if !inPorts {
				continue
			}
		}
		out = append(out, cloneTicket(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (s *Store) MaxOpenSeverity(ctx context.Context, ipInt int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, t := range s.tickets {
		if t.Open && !t.FalsePositive && t.IPInt == ipInt {
			if sev := t.Severity(); sev > max {
				max = sev
			}
		}
	}
	return max, nil
}

func (s *Store) ExpiredFalsePositives(ctx context.Context, now time.Time) ([]*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Ticket
	for _, t := range s.tickets {
		if !t.FalsePositive {
			continue
		}
		_, expires := t.FalsePositiveDates()
		if expires != nil && !expires.After(now) {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (s *Store) TicketsInIPRange(ctx context.Context, low, high int64) ([]*types.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Ticket
	for _, t := range s.tickets {
		if t.IPInt >= low && t.IPInt <= high {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IPInt < out[j].IPInt })
	return out, nil
}
