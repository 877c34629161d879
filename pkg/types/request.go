package types

import (
	"fmt"
	"net/netip"
	"time"
)

// ScanWindow is a weekly recurring time window during which an owner may be
// scanned. Start is a wall-clock "HH:MM:SS" string; Duration is in hours.
type ScanWindow struct {
	Day      string `bson:"day" json:"day"`
	Start    string `bson:"start" json:"start"`
	Duration int    `bson:"duration" json:"duration"`
}

// DefaultScanWindow covers the whole week.
var DefaultScanWindow = ScanWindow{Day: "Sunday", Start: "00:00:00", Duration: 168}

// ScanLimit caps concurrency for one stage of an owner's scans.
type ScanLimit struct {
	ScanType   Stage `bson:"scanType" json:"scanType"`
	Concurrent int   `bson:"concurrent" json:"concurrent"`
}

// Contact is a point of contact for an agency.
type Contact struct {
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email" json:"email"`
	Phone string `bson:"phone,omitempty" json:"phone,omitempty"`
	Type  string `bson:"type,omitempty" json:"type,omitempty"`
}

// Location is agency place metadata (GNIS-derived).
type Location struct {
	GnisID      int64  `bson:"gnis_id" json:"gnis_id"`
	Name        string `bson:"name" json:"name"`
	State       string `bson:"state,omitempty" json:"state,omitempty"`
	StateFips   string `bson:"state_fips,omitempty" json:"state_fips,omitempty"`
	StateName   string `bson:"state_name,omitempty" json:"state_name,omitempty"`
	County      string `bson:"county,omitempty" json:"county,omitempty"`
	CountyFips  string `bson:"county_fips,omitempty" json:"county_fips,omitempty"`
	Country     string `bson:"country,omitempty" json:"country,omitempty"`
	CountryName string `bson:"country_name,omitempty" json:"country_name,omitempty"`
}

// Agency is the organization metadata on a request.
type Agency struct {
	Name     string    `bson:"name" json:"name"`
	Acronym  string    `bson:"acronym" json:"acronym"`
	Type     string    `bson:"type,omitempty" json:"type,omitempty"`
	Contacts []Contact `bson:"contacts,omitempty" json:"contacts,omitempty"`
	Location *Location `bson:"location,omitempty" json:"location,omitempty"`
}

// Request is an owner's standing scan request; the owner string is its id.
type Request struct {
	ID          string       `bson:"_id" json:"_id"`
	Agency      Agency       `bson:"agency" json:"agency"`
	PeriodStart time.Time    `bson:"period_start" json:"period_start"`
	Windows     []ScanWindow `bson:"windows" json:"windows"`
	Networks    []string     `bson:"networks" json:"networks"`
	InitStage   Stage        `bson:"init_stage" json:"init_stage"`
	ScanLimits  []ScanLimit  `bson:"scan_limits,omitempty" json:"scan_limits,omitempty"`
	Scheduler   *string      `bson:"scheduler" json:"scheduler"`
	ScanTypes   []ScanType   `bson:"scan_types,omitempty" json:"scan_types,omitempty"`
	Stakeholder bool         `bson:"stakeholder" json:"stakeholder"`
	Children    []string     `bson:"children,omitempty" json:"children,omitempty"`
	Retired     bool         `bson:"retired,omitempty" json:"retired,omitempty"`
}

// NewRequest builds a request with the platform defaults.
func NewRequest(owner string, agency Agency) *Request {
	return &Request{
		ID:          owner,
		Agency:      agency,
		PeriodStart: time.Now().UTC(),
		Windows:     []ScanWindow{DefaultScanWindow},
		InitStage:   StageNetscan1,
	}
}

// UsesScheduler reports whether completed hosts of this owner get a
// next-scan time assigned automatically.
func (r *Request) UsesScheduler() bool {
	return r.Scheduler != nil
}

// HasScanType reports whether the request covers the given product.
func (r *Request) HasScanType(st ScanType) bool {
	for _, t := range r.ScanTypes {
		if t == st {
			return true
		}
	}
	return false
}

// StageLimits resolves the request's concurrency limits per stage on top of
// the supplied defaults.
func (r *Request) StageLimits(defaults map[Stage]int) map[Stage]int {
	limits := make(map[Stage]int, len(defaults))
	for stage, limit := range defaults {
		limits[stage] = limit
	}
	for _, sl := range r.ScanLimits {
		limits[sl.ScanType] = sl.Concurrent
	}
	return limits
}

// AddNetworks merges CIDRs into the request's network list, rejecting
// unparsable prefixes. Duplicates are dropped.
func (r *Request) AddNetworks(cidrs []string) error {
	existing := make(map[string]bool, len(r.Networks))
	for _, n := range r.Networks {
		existing[n] = true
	}
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return fmt.Errorf("invalid network %q: %w", c, err)
		}
		key := p.Masked().String()
		if !existing[key] {
			r.Networks = append(r.Networks, key)
			existing[key] = true
		}
	}
	return nil
}

// RemoveNetworks drops CIDRs from the request's network list.
func (r *Request) RemoveNetworks(cidrs []string) {
	drop := make(map[string]bool, len(cidrs))
	for _, c := range cidrs {
		if p, err := netip.ParsePrefix(c); err == nil {
			drop[p.Masked().String()] = true
		} else {
			drop[c] = true
		}
	}
	kept := r.Networks[:0]
	for _, n := range r.Networks {
		if !drop[n] {
			kept = append(kept, n)
		}
	}
	r.Networks = kept
}

// ContainsIP reports whether the address is inside any of the request's
// networks.
func (r *Request) ContainsIP(addr netip.Addr) bool {
	for _, n := range r.Networks {
		if p, err := netip.ParsePrefix(n); err == nil && p.Contains(addr) {
			return true
		}
	}
	return false
}

// AddChildren appends child owner ids after validating them against the
// known owner set.
func (r *Request) AddChildren(children []string, exists func(string) bool) error {
	for _, child := range children {
		if child == r.ID {
			return fmt.Errorf("cannot add own id (%s) to list of children", child)
		}
		for _, existing := range r.Children {
			if existing == child {
				return fmt.Errorf("child (%s) is already in list of children of %s", child, r.ID)
			}
		}
		if exists != nil && !exists(child) {
			return fmt.Errorf("child (%s) was not found and cannot be added", child)
		}
	}
	r.Children = append(r.Children, children...)
	return nil
}

// RemoveChildren drops child owner ids, failing when one is not present.
func (r *Request) RemoveChildren(children []string) error {
	if len(r.Children) == 0 {
		return fmt.Errorf("%s has no children to remove", r.ID)
	}
	for _, child := range children {
		found := false
		for _, existing := range r.Children {
			if existing == child {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("child (%s) is not in list of children of %s", child, r.ID)
		}
	}
	drop := make(map[string]bool, len(children))
	for _, c := range children {
		drop[c] = true
	}
	kept := r.Children[:0]
	for _, c := range r.Children {
		if !drop[c] {
			kept = append(kept, c)
		}
	}
	r.Children = kept
	return nil
}
