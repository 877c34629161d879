package tickets

import (
	"sort"
	"time"

	"github.com/vigilsec/vigil/pkg/types"
)

const (
	// DefaultReopenDays is how long a closed ticket stays eligible for
	// reopening instead of a fresh ticket being opened.
	DefaultReopenDays = 90

	// MaxPortsCount marks a port scan that covered the full port space.
	MaxPortsCount = 65535
)

// computeDelta diffs two detail maps into CHANGED event entries, ordered by
// key so event contents are stable.
func computeDelta(old, new map[string]any) []types.EventDelta {
	keySet := map[string]bool{}
	for k := range old {
		keySet[k] = true
	}
	for k := range new {
		keySet[k] = true
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var delta []types.EventDelta
	for _, k := range keys {
		from, to := old[k], new[k]
		if !detailsEqual(from, to) {
			delta = append(delta, types.EventDelta{Key: k, From: from, To: to})
		}
	}
	return delta
}

// numericValue reports a detail as float64 for any numeric type the document
// store hands back.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// detailsEqual compares two detail values. A stored ticket carries numerics
// as the store's types (int32, float64), so numerics are compared by value
// rather than by Go type.
func detailsEqual(from, to any) bool {
	a, aNum := numericValue(from)
	b, bNum := numericValue(to)
	if aNum || bNum {
		return aNum && bNum && a == b
	}
	return from == to
}

// expireFalsePositive flips an expired false-positive flag and records the
// CHANGED event. Reports whether the flag was flipped.
func expireFalsePositive(t *types.Ticket, at time.Time, manual bool) bool {
	if !t.FalsePositive {
		return false
	}
	_, expires := t.FalsePositiveDates()
	if expires == nil || !expires.Before(at) {
		return false
	}
	t.FalsePositive = false
	_ = t.AddEvent(types.TicketEvent{
		Time:   at,
		Action: types.TicketChanged,
		Reason: "False positive expired",
		Delta:  []types.EventDelta{{Key: "false_positive", From: true, To: false}},
		Manual: manual,
	})
	return true
}

// closeOrUnverify closes a ticket, or only records UNVERIFIED when the
// ticket is a false positive. False positives never close.
func closeOrUnverify(t *types.Ticket, at time.Time, reason string, manual bool) {
	if t.FalsePositive {
		_ = t.AddEvent(types.TicketEvent{
			Time:   at,
			Action: types.TicketUnverified,
			Reason: reason,
			Manual: manual,
		})
		return
	}
	t.Open = false
	closed := at
	t.TimeClosed = &closed
	_ = t.AddEvent(types.TicketEvent{
		Time:   at,
		Action: types.TicketClosed,
		Reason: reason,
		Manual: manual,
	})
}
