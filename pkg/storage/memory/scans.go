package memory

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

func (s *Store) SaveHostScan(ctx context.Context, sc *types.HostScan) error {
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostScans[sc.ID] = cloneHostScan(sc)
	return nil
}

func (s *Store) SavePortScan(ctx context.Context, sc *types.PortScan) error {
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portScans[sc.ID] = clonePortScan(sc)
	return nil
}

func (s *Store) SaveVulnScan(ctx context.Context, sc *types.VulnScan) error {
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vulnScans[sc.ID] = cloneVulnScan(sc)
	return nil
}

func (s *Store) GetPortScan(ctx context.Context, id primitive.ObjectID) (*types.PortScan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.portScans[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clonePortScan(sc), nil
}

func (s *Store) GetVulnScan(ctx context.Context, id primitive.ObjectID) (*types.VulnScan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.vulnScans[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneVulnScan(sc), nil
}

func (s *Store) RetireLatestVulnScans(ctx context.Context, ipInt int64, keepPorts []int) (int64, error) {
	keep := intSet(keepPorts)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sc := range s.vulnScans {
		if sc.IPInt != ipInt || !sc.Latest {
			continue
		}
		if keep != nil && keep[sc.Port] {
			continue
		}
		sc.Latest = false
		n++
	}
	return n, nil
}

func (s *Store) RetireLatestVulnScansForIPs(ctx context.Context, ipInts []int64) (int64, error) {
	ips := int64Set(ipInts)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sc := range s.vulnScans {
		if sc.Latest && ips[sc.IPInt] {
			sc.Latest = false
			n++
		}
	}
	return n, nil
}

func (s *Store) RetireLatestVulnScansInScope(ctx context.Context, scope storage.TicketScope) (int64, error) {
	ips := int64Set(scope.IPInts)
	ports := intSet(scope.Ports)
	sourceIDs := intSet(scope.SourceIDs)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sc := range s.vulnScans {
		if !sc.Latest {
			continue
		}
		if scope.Source != "" && sc.Source != scope.Source {
			continue
		}
		if ips != nil && !ips[sc.IPInt] {
			continue
		}
		if ports != nil && !ports[sc.Port] {
			continue
		}
		if sourceIDs != nil && !sourceIDs[sc.PluginID] {
			continue
		}
		sc.Latest = false
		n++
	}
	return n, nil
}

func (s *Store) ReassignScanOwner(ctx context.Context, low, high int64, newOwner string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, sc := range s.hostScans {
		if sc.IPInt >= low && sc.IPInt <= high && sc.Owner != newOwner {
			sc.Owner = newOwner
			counts[storage.CollectionHostScans]++
		}
	}
	for _, sc := range s.portScans {
		if sc.IPInt >= low && sc.IPInt <= high && sc.Owner != newOwner {
			sc.Owner = newOwner
			counts[storage.CollectionPortScans]++
		}
	}
	for _, sc := range s.vulnScans {
		if sc.IPInt >= low && sc.IPInt <= high && sc.Owner != newOwner {
			sc.Owner = newOwner
			counts[storage.CollectionVulnScans]++
		}
	}
	return counts, nil
}

func (s *Store) RenameOwner(ctx context.Context, oldOwner, newOwner string, ticketEvent types.TicketEvent) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, h := range s.hosts {
		if h.Owner == oldOwner {
			h.Owner = newOwner
			counts[storage.CollectionHosts]++
		}
	}
	for _, sc := range s.hostScans {
		if sc.Owner == oldOwner {
			sc.Owner = newOwner
			counts[storage.CollectionHostScans]++
		}
	}
	for _, sc := range s.portScans {
		if sc.Owner == oldOwner {
			sc.Owner = newOwner
			counts[storage.CollectionPortScans]++
		}
	}
	for _, sc := range s.vulnScans {
		if sc.Owner == oldOwner {
			sc.Owner = newOwner
			counts[storage.CollectionVulnScans]++
		}
	}
	for _, snap := range s.snapshots {
		if snap.Owner == oldOwner {
			snap.Owner = newOwner
			counts[storage.CollectionSnapshots]++
		}
	}
	for _, t := range s.tickets {
		if t.Owner == oldOwner {
			t.Owner = newOwner
			t.Events = append(t.Events, ticketEvent)
			counts[storage.CollectionTickets]++
		}
	}
	return counts, nil
}
