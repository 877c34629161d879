package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/vigilsec/vigil/pkg/types"
)

// Priorities span -16 (most urgent) to +1 (least), modeled on the Unix
// nice scale.
const (
	// RestingDownPriority is where a down host settles.
	RestingDownPriority = 1
	// RestingUpPriority is where an up, vuln-free host settles.
	RestingUpPriority = -1
	// MaxUrgency is the lowest (most urgent) priority value.
	MaxUrgency = -16
)

// severityPriority maps a vuln severity to its target priority.
var severityPriority = map[int]int{
	1: -2,
	2: -4,
	3: -8,
	4: -16,
}

// priorityHours anchors hours-until-next-scan at specific priorities;
// intermediate priorities interpolate linearly.
var priorityHours = map[int]float64{
	1:   90 * 24,
	0:   14 * 24,
	-1:  7 * 24,
	-4:  4 * 24,
	-8:  1 * 24,
	-16: 12,
}

// MaxSeverityFinder resolves the worst open finding for a host.
type MaxSeverityFinder interface {
	// MaxOpenSeverity returns the highest severity among open,
	// non-false-positive tickets for the address, 0 when there are none.
	MaxOpenSeverity(ctx context.Context, ipInt int64) (int, error)
}

// Scheduler assigns next-scan times to hosts that reached DONE, decaying or
// promoting their priority based on scan outcome and open findings.
type Scheduler struct {
	severities MaxSeverityFinder
	now        func() time.Time
}

// NewScheduler creates a scheduler backed by the given severity source.
func NewScheduler(severities MaxSeverityFinder) *Scheduler {
	return &Scheduler{severities: severities, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the scheduler's notion of now. For tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

func priorityForSeverity(severity int) int {
	if severity < 1 {
		severity = 1
	} else if severity > 4 {
		severity = 4
	}
	return severityPriority[severity]
}

// HoursForPriority returns the rescan interval in hours for a priority,
// interpolating between anchors and clamping outside them.
func HoursForPriority(priority int) float64 {
	if h, ok := priorityHours[priority]; ok {
		return h
	}
	anchors := make([]int, 0, len(priorityHours))
	for p := range priorityHours {
		anchors = append(anchors, p)
	}
	sort.Ints(anchors)

	if priority < anchors[0] {
		return priorityHours[anchors[0]]
	}
	if priority > anchors[len(anchors)-1] {
		return priorityHours[anchors[len(anchors)-1]]
	}
	for i := 1; i < len(anchors); i++ {
		lo, hi := anchors[i-1], anchors[i]
		if priority > lo && priority < hi {
			frac := float64(priority-lo) / float64(hi-lo)
			return priorityHours[lo] + frac*(priorityHours[hi]-priorityHours[lo])
		}
	}
	return priorityHours[anchors[len(anchors)-1]]
}

func (s *Scheduler) processDownHost(h *types.Host) {
	if h.Priority < RestingDownPriority {
		h.Priority++
	}
}

func (s *Scheduler) processVulnHost(h *types.Host, maxSeverity int) {
	target := priorityForSeverity(maxSeverity)
	switch {
	case target == h.Priority:
		// host is where it should be
	case target < h.Priority:
		// worthy of a higher priority (lower number)
		h.Priority = target
	default:
		// recovering from a previous more severe vuln, decay
		h.Priority++
	}
}

func (s *Scheduler) processVulnFreeHost(h *types.Host) {
	if h.Priority < RestingUpPriority {
		h.Priority++
	} else if h.Priority > RestingUpPriority {
		// host was previously down (or worse)
		h.Priority = RestingUpPriority
	}
}

// Schedule recomputes the host's priority and next_scan. The host is
// modified but not saved.
func (s *Scheduler) Schedule(ctx context.Context, h *types.Host) error {
	if !h.State.Up {
		s.processDownHost(h)
	} else {
		maxSeverity, err := s.severities.MaxOpenSeverity(ctx, h.ID)
		if err != nil {
			return err
		}
		if maxSeverity > 0 {
			s.processVulnHost(h, maxSeverity)
		} else {
			s.processVulnFreeHost(h)
		}
	}

	next := s.now().Add(time.Duration(HoursForPriority(h.Priority) * float64(time.Hour)))
	h.NextScan = &next
	return nil
}
