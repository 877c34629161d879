package storage

import (
	"sort"

	"github.com/vigilsec/vigil/pkg/types"
)

// AgeStatsFromMillis computes median and max over a millisecond population.
// Medians of databases without a native accumulator are computed client side,
// so both backends share this.
func AgeStatsFromMillis(msecs []int64) types.AgeStats {
	if len(msecs) == 0 {
		return types.AgeStats{}
	}
	sort.Slice(msecs, func(i, j int) bool { return msecs[i] < msecs[j] })
	n := len(msecs)
	var median int64
	if n%2 == 1 {
		median = msecs[n/2]
	} else {
		median = (msecs[n/2-1] + msecs[n/2]) / 2
	}
	max := msecs[n-1]
	return types.AgeStats{Median: &median, Max: &max}
}

// BucketizeAges turns per-severity millisecond populations into the ticket
// age buckets of a snapshot.
func BucketizeAges(bySeverity map[int][]int64) types.TicketAgeBuckets {
	return types.TicketAgeBuckets{
		Low:      AgeStatsFromMillis(bySeverity[1]),
		Medium:   AgeStatsFromMillis(bySeverity[2]),
		High:     AgeStatsFromMillis(bySeverity[3]),
		Critical: AgeStatsFromMillis(bySeverity[4]),
	}
}
