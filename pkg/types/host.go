package types

import (
	"encoding/binary"
	"math/rand"
	"net/netip"
	"time"
)

// HostState is the up/down evidence for a host
type HostState struct {
	Up     bool   `bson:"up" json:"up"`
	Reason string `bson:"reason" json:"reason"`
}

// LatestScanKeyDone is the latest_scan map key recording when the host
// last reached DONE status (alongside the per-stage keys).
const LatestScanKeyDone = "DONE"

// Host is one scannable address. Its document id is the integer form of
// the IP so hosts are unique per address and range queries work.
type Host struct {
	ID         int64                 `bson:"_id" json:"_id"`
	IP         string                `bson:"ip" json:"ip"`
	Owner      string                `bson:"owner" json:"owner"`
	LastChange time.Time             `bson:"last_change" json:"last_change"`
	NextScan   *time.Time            `bson:"next_scan" json:"next_scan"`
	State      HostState             `bson:"state" json:"state"`
	Stage      Stage                 `bson:"stage" json:"stage"`
	Status     Status                `bson:"status" json:"status"`
	Loc        []float64             `bson:"loc,omitempty" json:"loc,omitempty"`
	Priority   int                   `bson:"priority" json:"priority"`
	R          float64               `bson:"r" json:"r"`
	LatestScan map[string]*time.Time `bson:"latest_scan" json:"latest_scan"`
}

// NewHost builds a host at the start of the pipeline for the given owner.
func NewHost(addr netip.Addr, owner string, loc []float64, stage Stage) *Host {
	h := &Host{
		ID:         IPToInt(addr),
		IP:         addr.String(),
		Owner:      owner,
		LastChange: time.Now().UTC(),
		State:      HostState{Up: false, Reason: "new"},
		Stage:      stage,
		Status:     StatusWaiting,
		Loc:        loc,
		Priority:   0,
		R:          rand.Float64(),
		LatestScan: map[string]*time.Time{},
	}
	for _, s := range AllStages {
		h.LatestScan[string(s)] = nil
	}
	h.LatestScan[LatestScanKeyDone] = nil
	return h
}

// Addr parses the host's IP field.
func (h *Host) Addr() netip.Addr {
	a, _ := netip.ParseAddr(h.IP)
	return a
}

// SetState recomputes state.up from scan evidence. The scanners' notion of
// "up" (got any reply) differs from ours: a host is up when it has an open
// port. Either evidence argument can be nil when the stage did not produce it.
func (h *Host) SetState(nmapSaysUp, hasOpenPorts *bool, reason string) {
	switch {
	case hasOpenPorts != nil && *hasOpenPorts:
		h.State = HostState{Up: true, Reason: "open-port"}
	case hasOpenPorts != nil && !*hasOpenPorts:
		h.State = HostState{Up: false, Reason: "no-open"}
	case nmapSaysUp != nil && !*nmapSaysUp:
		h.State = HostState{Up: false, Reason: reason}
	}
}

// MarkStageFinished records the finish time of a stage in latest_scan.
func (h *Host) MarkStageFinished(stage Stage, at time.Time) {
	if h.LatestScan == nil {
		h.LatestScan = map[string]*time.Time{}
	}
	t := at
	h.LatestScan[string(stage)] = &t
}

// MarkDone records the time the host reached DONE status.
func (h *Host) MarkDone(at time.Time) {
	if h.LatestScan == nil {
		h.LatestScan = map[string]*time.Time{}
	}
	t := at
	h.LatestScan[LatestScanKeyDone] = &t
}

// IPToInt converts an address to the integer form used as a host id.
// IPv4 maps to its 32-bit value; IPv6 uses the low 64 bits of the address.
func IPToInt(addr netip.Addr) int64 {
	if addr.Is4() {
		b := addr.As4()
		return int64(binary.BigEndian.Uint32(b[:]))
	}
	b := addr.As16()
	return int64(binary.BigEndian.Uint64(b[8:]))
}

// IntToIP is the inverse of IPToInt for IPv4 ids.
func IntToIP(id int64) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return netip.AddrFrom4(b)
}
