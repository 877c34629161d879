package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// Store holds all state in maps guarded by one mutex.
type Store struct {
	mu            sync.RWMutex
	hosts         map[int64]*types.Host
	tallies       map[string]*types.Tally
	requests      map[string]*types.Request
	tickets       map[primitive.ObjectID]*types.Ticket
	hostScans     map[primitive.ObjectID]*types.HostScan
	portScans     map[primitive.ObjectID]*types.PortScan
	vulnScans     map[primitive.ObjectID]*types.VulnScan
	snapshots     map[primitive.ObjectID]*types.Snapshot
	cves          map[string]*types.CVE
	notifications map[primitive.ObjectID]*types.Notification
	controls      map[string]*types.SystemControl
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		hosts:         map[int64]*types.Host{},
		tallies:       map[string]*types.Tally{},
		requests:      map[string]*types.Request{},
		tickets:       map[primitive.ObjectID]*types.Ticket{},
		hostScans:     map[primitive.ObjectID]*types.HostScan{},
		portScans:     map[primitive.ObjectID]*types.PortScan{},
		vulnScans:     map[primitive.ObjectID]*types.VulnScan{},
		snapshots:     map[primitive.ObjectID]*types.Snapshot{},
		cves:          map[string]*types.CVE{},
		notifications: map[primitive.ObjectID]*types.Notification{},
		controls:      map[string]*types.SystemControl{},
	}
}

// EnsureIndices is a no-op; the in-memory store scans its maps.
func (s *Store) EnsureIndices(ctx context.Context, foreground bool) error { return nil }

// Close is a no-op.
func (s *Store) Close(ctx context.Context) error { return nil }

// Hosts

func (s *Store) SaveHost(ctx context.Context, h *types.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[h.ID] = cloneHost(h)
	return nil
}

func (s *Store) GetHost(ctx context.Context, id int64) (*types.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneHost(h), nil
}

func (s *Store) DeleteHost(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hosts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.hosts, id)
	return nil
}

func sortByPriority(hosts []*types.Host, descending bool) {
	sort.Slice(hosts, func(i, j int) bool {
		a, b := hosts[i], hosts[j]
		if descending {
			a, b = b, a
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.R < b.R
	})
}

func clip(hosts []*types.Host, limit int) []*types.Host {
	if limit > 0 && len(hosts) > limit {
		return hosts[:limit]
	}
	return hosts
}

func (s *Store) HostsByStageStatus(ctx context.Context, owner string, stage types.Stage, status types.Status, descending bool, limit int) ([]*types.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Host
	for _, h := range s.hosts {
		if h.Owner == owner && h.Stage == stage && h.Status == status {
			out = append(out, cloneHost(h))
		}
	}
	sortByPriority(out, descending)
	return clip(out, limit), nil
}

func (s *Store) ClaimableHosts(ctx context.Context, stage types.Stage, statuses []types.Status, owners []string, limit int) ([]*types.Host, error) {
	statusSet := map[types.Status]bool{}
	for _, st := range statuses {
		statusSet[st] = true
	}
	var ownerSet map[string]bool
	if owners != nil {
		ownerSet = map[string]bool{}
		for _, o := range owners {
			ownerSet[o] = true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Host
	for _, h := range s.hosts {
		if h.Stage != stage || !statusSet[h.Status] {
			continue
		}
		if ownerSet != nil && !ownerSet[h.Owner] {
			continue
		}
		out = append(out, cloneHost(h))
	}
	sortByPriority(out, false)
	return clip(out, limit), nil
}

func (s *Store) ScheduledHosts(ctx context.Context, due time.Time, limit int) ([]*types.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Host
	for _, h := range s.hosts {
		if h.Status == types.StatusDone && h.NextScan != nil && !h.NextScan.After(due) {
			out = append(out, cloneHost(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextScan.Before(*out[j].NextScan) })
	return clip(out, limit), nil
}

func (s *Store) HostsMissingNextScan(ctx context.Context, owner string, limit int) ([]*types.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Host
	for _, h := range s.hosts {
		if h.Owner == owner && h.Status == types.StatusDone && h.NextScan == nil {
			out = append(out, cloneHost(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return clip(out, limit), nil
}

func (s *Store) ClearNextScans(ctx context.Context, owner string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, h := range s.hosts {
		if h.Owner == owner && h.NextScan != nil {
			h.NextScan = nil
			n++
		}
	}
	return n, nil
}

func (s *Store) ResetHostsByOwner(ctx context.Context, owner string, stage types.Stage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, h := range s.hosts {
		if h.Owner != owner {
			continue
		}
		h.Stage = stage
		h.Status = types.StatusWaiting
		h.LastChange = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *Store) RequeueRunningHosts(ctx context.Context, owner string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, h := range s.hosts {
		if h.Status != types.StatusRunning {
			continue
		}
		if owner != "" && h.Owner != owner {
			continue
		}
		h.Status = types.StatusWaiting
		h.LastChange = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *Store) ReassignHostOwner(ctx context.Context, low, high int64, newOwner string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, h := range s.hosts {
		if h.ID >= low && h.ID <= high && h.Owner != newOwner {
			h.Owner = newOwner
			n++
		}
	}
	return n, nil
}

func (s *Store) CountHostsByStageStatus(ctx context.Context, owner string) (map[types.Stage]map[types.Status]int, error) {
	counts := make(map[types.Stage]map[types.Status]int, len(types.AllStages))
	for _, stage := range types.AllStages {
		counts[stage] = make(map[types.Status]int, len(types.AllStatuses))
		for _, status := range types.AllStatuses {
			counts[stage][status] = 0
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.hosts {
		if h.Owner == owner {
			counts[h.Stage][h.Status]++
		}
	}
	return counts, nil
}

func (s *Store) HostTimespan(ctx context.Context, owners []string) (time.Time, time.Time, bool, error) {
	ownerSet := map[string]bool{}
	for _, o := range owners {
		ownerSet[o] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var start, end time.Time
	found := false
	for _, h := range s.hosts {
		if !ownerSet[h.Owner] {
			continue
		}
		if !found || h.LastChange.Before(start) {
			start = h.LastChange
		}
		if !found || h.LastChange.After(end) {
			end = h.LastChange
		}
		found = true
	}
	return start, end, found, nil
}

// Tallies

func (s *Store) SaveTally(ctx context.Context, t *types.Tally) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tallies[t.ID] = cloneTally(t)
	return nil
}

func (s *Store) GetTally(ctx context.Context, owner string) (*types.Tally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tallies[owner]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneTally(t), nil
}

func (s *Store) DeleteTally(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tallies[owner]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tallies, owner)
	return nil
}

func (s *Store) TalliesChangedSince(ctx context.Context, since time.Time) ([]*types.Tally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Tally
	for _, t := range s.tallies {
		if !t.LastChange.Before(since) {
			out = append(out, cloneTally(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Requests

func (s *Store) SaveRequest(ctx context.Context, r *types.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *Store) GetRequest(ctx context.Context, owner string) (*types.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[owner]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (s *Store) DeleteRequest(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[owner]; !ok {
		return storage.ErrNotFound
	}
	delete(s.requests, owner)
	return nil
}

func (s *Store) ListRequests(ctx context.Context) ([]*types.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RequestIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.requests))
	for id := range s.requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ParentRequests(ctx context.Context, child string) ([]*types.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Request
	for _, r := range s.requests {
		for _, c := range r.Children {
			if c == child {
				out = append(out, cloneRequest(r))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CVEs

func (s *Store) SaveCVE(ctx context.Context, c *types.CVE) error {
	c.DeriveSeverity()
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := *c
	s.cves[c.ID] = &cc
	return nil
}

func (s *Store) GetCVE(ctx context.Context, id string) (*types.CVE, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cves[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

// Notifications

func (s *Store) SaveNotification(ctx context.Context, n *types.Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (s *Store) NotificationsForTicket(ctx context.Context, ticketID primitive.ObjectID) ([]*types.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Notification
	for _, n := range s.notifications {
		if n.TicketID == ticketID {
			out = append(out, cloneNotification(n))
		}
	}
	return out, nil
}

// Control

func (s *Store) SaveControl(ctx context.Context, c *types.SystemControl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := *c
	s.controls[c.ID] = &cc
	return nil
}

func (s *Store) GetControl(ctx context.Context, id string) (*types.SystemControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controls[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *Store) DeleteControl(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.controls[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.controls, id)
	return nil
}

func (s *Store) OpenControlRequests(ctx context.Context, action types.ControlAction, target types.ControlTarget) ([]*types.SystemControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.SystemControl
	for _, c := range s.controls {
		if c.Action == action && c.Target == target && !c.Completed {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
