package memory

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

func (s *Store) SaveSnapshot(ctx context.Context, snap *types.Snapshot) error {
	if snap.ID.IsZero() {
		snap.ID = primitive.NewObjectID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = cloneSnapshot(snap)
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id primitive.ObjectID) (*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.snapshots, id)
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, owner string) (*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *types.Snapshot
	for _, snap := range s.snapshots {
		if snap.Owner != owner || !snap.Latest {
			continue
		}
		if latest == nil || snap.EndTime.After(latest.EndTime) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(latest), nil
}

func (s *Store) ClearLatestSnapshot(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.snapshots {
		if snap.Owner == owner {
			snap.Latest = false
		}
	}
	return nil
}

func (s *Store) SnapshotExists(ctx context.Context, owner string, start, end time.Time, excludeID primitive.ObjectID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.snapshots {
		if snap.ID != excludeID && snap.Owner == owner && snap.StartTime.Equal(start) && snap.EndTime.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

// Tagging

func hasOID(oids []primitive.ObjectID, oid primitive.ObjectID) bool {
	for _, o := range oids {
		if o == oid {
			return true
		}
	}
	return false
}

func tag(oids []primitive.ObjectID, oid primitive.ObjectID) []primitive.ObjectID {
	if hasOID(oids, oid) {
		return oids
	}
	return append(oids, oid)
}

func stringSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}

func (s *Store) TagLatest(ctx context.Context, owners []string, oid primitive.ObjectID) error {
	ownerSet := stringSet(owners)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.hostScans {
		if sc.Latest && ownerSet[sc.Owner] {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, sc := range s.portScans {
		if sc.Latest && sc.State == types.PortStateOpen && ownerSet[sc.Owner] {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, sc := range s.vulnScans {
		if sc.Latest && ownerSet[sc.Owner] {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, t := range s.tickets {
		if t.Open && ownerSet[t.Owner] {
			t.Snapshots = tag(t.Snapshots, oid)
		}
	}
	return nil
}

func (s *Store) TagMatching(ctx context.Context, existing []primitive.ObjectID, oid primitive.ObjectID) error {
	matches := func(oids []primitive.ObjectID) bool {
		for _, e := range existing {
			if hasOID(oids, e) {
				return true
			}
		}
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.hostScans {
		if matches(sc.Snapshots) {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, sc := range s.portScans {
		if matches(sc.Snapshots) {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, sc := range s.vulnScans {
		if matches(sc.Snapshots) {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, t := range s.tickets {
		if matches(t.Snapshots) {
			t.Snapshots = tag(t.Snapshots, oid)
		}
	}
	return nil
}

func (s *Store) TagTimespan(ctx context.Context, owners []string, oid primitive.ObjectID, start, end time.Time) error {
	ownerSet := stringSet(owners)
	inSpan := func(t time.Time) bool { return !t.Before(start) && !t.After(end) }
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.hostScans {
		if ownerSet[sc.Owner] && inSpan(sc.Time) {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, sc := range s.portScans {
		if ownerSet[sc.Owner] && inSpan(sc.Time) {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, sc := range s.vulnScans {
		if ownerSet[sc.Owner] && inSpan(sc.Time) {
			sc.Snapshots = tag(sc.Snapshots, oid)
		}
	}
	for _, t := range s.tickets {
		if !ownerSet[t.Owner] || t.TimeOpened.After(end) {
			continue
		}
		if t.TimeClosed == nil || !t.TimeClosed.Before(start) {
			t.Snapshots = tag(t.Snapshots, oid)
		}
	}
	return nil
}

func (s *Store) RemoveTag(ctx context.Context, oid primitive.ObjectID) error {
	pull := func(oids []primitive.ObjectID) []primitive.ObjectID {
		kept := oids[:0]
		for _, o := range oids {
			if o != oid {
				kept = append(kept, o)
			}
		}
		return kept
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.hostScans {
		sc.Snapshots = pull(sc.Snapshots)
	}
	for _, sc := range s.portScans {
		sc.Snapshots = pull(sc.Snapshots)
	}
	for _, sc := range s.vulnScans {
		sc.Snapshots = pull(sc.Snapshots)
	}
	for _, t := range s.tickets {
		t.Snapshots = pull(t.Snapshots)
	}
	return nil
}

func (s *Store) ScanTimespan(ctx context.Context, oid primitive.ObjectID) (time.Time, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var start, end time.Time
	found := false
	observe := func(t time.Time) {
		if !found || t.Before(start) {
			start = t
		}
		if !found || t.After(end) {
			end = t
		}
		found = true
	}
	for _, sc := range s.hostScans {
		if hasOID(sc.Snapshots, oid) {
			observe(sc.Time)
		}
	}
	for _, sc := range s.portScans {
		if hasOID(sc.Snapshots, oid) {
			observe(sc.Time)
		}
	}
	for _, sc := range s.vulnScans {
		if hasOID(sc.Snapshots, oid) {
			observe(sc.Time)
		}
	}
	return start, end, found, nil
}

// Aggregations

func (s *Store) CountAddressesScanned(ctx context.Context, owners []string) (int, error) {
	ownerSet := stringSet(owners)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, h := range s.hosts {
		if ownerSet[h.Owner] && h.LatestScan[types.LatestScanKeyDone] != nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUpHosts(ctx context.Context, owners []string) (int, error) {
	ownerSet := stringSet(owners)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, h := range s.hosts {
		if ownerSet[h.Owner] && h.State.Up {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountVulnerableHosts(ctx context.Context, oid primitive.ObjectID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ips := map[int64]bool{}
	for _, t := range s.tickets {
		if !t.FalsePositive && hasOID(t.Snapshots, oid) {
			ips[t.IPInt] = true
		}
	}
	return len(ips), nil
}

func (s *Store) CountUniqueOperatingSystems(ctx context.Context, oid primitive.ObjectID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := map[string]bool{}
	for _, sc := range s.hostScans {
		if hasOID(sc.Snapshots, oid) {
			names[sc.Name] = true
		}
	}
	return len(names), nil
}

func (s *Store) PortCounts(ctx context.Context, oid primitive.ObjectID) (int, int, error) {
	type ipPort struct {
		ip   int64
		port int
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := map[ipPort]bool{}
	ports := map[int]bool{}
	for _, sc := range s.portScans {
		if hasOID(sc.Snapshots, oid) {
			pairs[ipPort{sc.IPInt, sc.Port}] = true
			ports[sc.Port] = true
		}
	}
	return len(pairs), len(ports), nil
}

func (s *Store) CountSilentPorts(ctx context.Context, owners []string) (int, error) {
	ownerSet := stringSet(owners)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sc := range s.portScans {
		if ownerSet[sc.Owner] && sc.Latest && sc.State == types.PortStateSilent {
			n++
		}
	}
	return n, nil
}

func (s *Store) TicketSeverityCounts(ctx context.Context, oid primitive.ObjectID) (types.SeverityCounts, types.SeverityCounts, types.SeverityCounts, error) {
	type sourceSev struct {
		sourceID int
		severity int
	}
	var all, unique, fp types.SeverityCounts
	uniqueSeen := map[sourceSev]bool{}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if !hasOID(t.Snapshots, oid) {
			continue
		}
		sev := t.Severity()
		if t.FalsePositive {
			fp.AddSeverity(sev)
			continue
		}
		all.AddSeverity(sev)
		key := sourceSev{t.SourceID, sev}
		if !uniqueSeen[key] {
			uniqueSeen[key] = true
			unique.AddSeverity(sev)
		}
	}
	return all, unique, fp, nil
}

func (s *Store) ServiceCounts(ctx context.Context, oid primitive.ObjectID) (map[string]int, error) {
	type svcKey struct {
		ip   int64
		port int
		name string
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[svcKey]bool{}
	counts := map[string]int{}
	for _, sc := range s.portScans {
		if !hasOID(sc.Snapshots, oid) {
			continue
		}
		name, _ := sc.Service["name"].(string)
		if name == "" || name == "unknown" {
			continue
		}
		key := svcKey{sc.IPInt, sc.Port, name}
		if !seen[key] {
			seen[key] = true
			counts[name]++
		}
	}
	return counts, nil
}

func (s *Store) CVSSSum(ctx context.Context, oid primitive.ObjectID) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxByIP := map[int64]float64{}
	for _, t := range s.tickets {
		if t.FalsePositive || !hasOID(t.Snapshots, oid) {
			continue
		}
		score := t.CVSSScore()
		if cur, ok := maxByIP[t.IPInt]; !ok || score > cur {
			maxByIP[t.IPInt] = score
		}
	}
	sum := 0.0
	for _, v := range maxByIP {
		sum += v
	}
	return sum, nil
}

func (s *Store) OpenTicketAgeStats(ctx context.Context, oid primitive.ObjectID, now time.Time) (types.TicketAgeBuckets, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySeverity := map[int][]int64{}
	for _, t := range s.tickets {
		if !t.Open || t.FalsePositive || !hasOID(t.Snapshots, oid) {
			continue
		}
		sev := t.Severity()
		bySeverity[sev] = append(bySeverity[sev], now.Sub(t.TimeOpened).Milliseconds())
	}
	return storage.BucketizeAges(bySeverity), nil
}

func (s *Store) ClosedTicketAgeStats(ctx context.Context, owners []string, closedAfter time.Time) (types.TicketAgeBuckets, error) {
	ownerSet := stringSet(owners)
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySeverity := map[int][]int64{}
	for _, t := range s.tickets {
		if t.Open || t.TimeClosed == nil || !ownerSet[t.Owner] {
			continue
		}
		if t.TimeClosed.Before(closedAfter) {
			continue
		}
		sev := t.Severity()
		bySeverity[sev] = append(bySeverity[sev], t.TimeClosed.Sub(t.TimeOpened).Milliseconds())
	}
	return storage.BucketizeAges(bySeverity), nil
}

func (s *Store) WorldStatistics(ctx context.Context) (types.WorldStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var world types.WorldStats
	for _, snap := range s.snapshots {
		if !snap.Latest || snap.ExcludeFromWorldStats || snap.IsDescendantSnapshot() {
			continue
		}
		world.HostCount += snap.HostCount
		world.VulnerableHostCount += snap.VulnerableHostCount
		world.Vulnerabilities.Add(snap.Vulnerabilities)
		world.UniqueVulnerabilities.Add(snap.UniqueVulnerabilities)
	}
	return world, nil
}
