package memory

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/types"
)

// Documents are cloned on the way in and out so callers never share
// mutable state with the store, matching database round-trip behavior.

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyOIDs(s []primitive.ObjectID) []primitive.ObjectID {
	if s == nil {
		return nil
	}
	return append([]primitive.ObjectID(nil), s...)
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func copyFloats(s []float64) []float64 {
	if s == nil {
		return nil
	}
	return append([]float64(nil), s...)
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneHost(h *types.Host) *types.Host {
	c := *h
	c.NextScan = copyTimePtr(h.NextScan)
	c.Loc = copyFloats(h.Loc)
	if h.LatestScan != nil {
		c.LatestScan = make(map[string]*time.Time, len(h.LatestScan))
		for k, v := range h.LatestScan {
			c.LatestScan[k] = copyTimePtr(v)
		}
	}
	return &c
}

func cloneTally(t *types.Tally) *types.Tally {
	c := *t
	c.Counts = make(map[types.Stage]map[types.Status]int, len(t.Counts))
	for stage, statuses := range t.Counts {
		cell := make(map[types.Status]int, len(statuses))
		for status, n := range statuses {
			cell[status] = n
		}
		c.Counts[stage] = cell
	}
	return &c
}

func cloneRequest(r *types.Request) *types.Request {
	c := *r
	c.Windows = append([]types.ScanWindow(nil), r.Windows...)
	c.Networks = copyStrings(r.Networks)
	c.ScanLimits = append([]types.ScanLimit(nil), r.ScanLimits...)
	c.ScanTypes = append([]types.ScanType(nil), r.ScanTypes...)
	c.Children = copyStrings(r.Children)
	if r.Scheduler != nil {
		s := *r.Scheduler
		c.Scheduler = &s
	}
	c.Agency.Contacts = append([]types.Contact(nil), r.Agency.Contacts...)
	if r.Agency.Location != nil {
		loc := *r.Agency.Location
		c.Agency.Location = &loc
	}
	return &c
}

func cloneEvent(ev types.TicketEvent) types.TicketEvent {
	c := ev
	if ev.Reference != nil {
		ref := *ev.Reference
		c.Reference = &ref
	}
	c.Delta = append([]types.EventDelta(nil), ev.Delta...)
	c.Expires = copyTimePtr(ev.Expires)
	return c
}

func cloneTicket(t *types.Ticket) *types.Ticket {
	c := *t
	c.TimeClosed = copyTimePtr(t.TimeClosed)
	c.Details = copyAnyMap(t.Details)
	c.Loc = copyFloats(t.Loc)
	c.Snapshots = copyOIDs(t.Snapshots)
	if t.Events != nil {
		c.Events = make([]types.TicketEvent, len(t.Events))
		for i, ev := range t.Events {
			c.Events[i] = cloneEvent(ev)
		}
	}
	return &c
}

func cloneHostScan(s *types.HostScan) *types.HostScan {
	c := *s
	c.Snapshots = copyOIDs(s.Snapshots)
	if s.Classes != nil {
		c.Classes = make([]map[string]any, len(s.Classes))
		for i, cl := range s.Classes {
			c.Classes[i] = copyAnyMap(cl)
		}
	}
	return &c
}

func clonePortScan(s *types.PortScan) *types.PortScan {
	c := *s
	c.Snapshots = copyOIDs(s.Snapshots)
	c.Service = copyAnyMap(s.Service)
	return &c
}

func cloneVulnScan(s *types.VulnScan) *types.VulnScan {
	c := *s
	c.Snapshots = copyOIDs(s.Snapshots)
	return &c
}

func cloneSnapshot(s *types.Snapshot) *types.Snapshot {
	c := *s
	c.DescendantsIncluded = copyStrings(s.DescendantsIncluded)
	c.Parents = copyOIDs(s.Parents)
	c.Networks = copyStrings(s.Networks)
	if s.Services != nil {
		c.Services = make(map[string]int, len(s.Services))
		for k, v := range s.Services {
			c.Services[k] = v
		}
	}
	return &c
}

func cloneNotification(n *types.Notification) *types.Notification {
	c := *n
	c.GeneratedFor = copyStrings(n.GeneratedFor)
	return &c
}
