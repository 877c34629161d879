package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// Collector collects metrics from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectHostMetrics(ctx)
	c.collectRequestMetrics(ctx)
	c.collectTicketMetrics(ctx)
}

func (c *Collector) collectHostMetrics(ctx context.Context) {
	tallies, err := c.store.TalliesChangedSince(ctx, time.Time{})
	if err != nil {
		return
	}

	// Sum across owners
	counts := make(map[types.Stage]map[types.Status]int)
	for _, stage := range types.AllStages {
		counts[stage] = make(map[types.Status]int)
	}
	for _, tally := range tallies {
		for _, stage := range types.AllStages {
			for _, status := range types.AllStatuses {
				counts[stage][status] += tally.Counts[stage][status]
			}
		}
	}

	// Update metrics, writing zeros so stale series decay
	for _, stage := range types.AllStages {
		for _, status := range types.AllStatuses {
			HostsTotal.WithLabelValues(string(stage), string(status)).Set(float64(counts[stage][status]))
		}
	}
}

func (c *Collector) collectRequestMetrics(ctx context.Context) {
	ids, err := c.store.RequestIDs(ctx)
	if err != nil {
		return
	}

	RequestsTotal.Set(float64(len(ids)))
}

func (c *Collector) collectTicketMetrics(ctx context.Context) {
	tickets, err := c.store.OpenTicketsInScope(ctx, storage.TicketScope{})
	if err != nil {
		return
	}

	severityCounts := make(map[int]int)
	falsePositives := 0
	for _, t := range tickets {
		if t.FalsePositive {
			falsePositives++
			continue
		}
		severityCounts[t.Severity()]++
	}

	for severity := 0; severity <= 4; severity++ {
		TicketsOpenTotal.WithLabelValues(strconv.Itoa(severity)).Set(float64(severityCounts[severity]))
	}
	TicketsFalsePositiveTotal.Set(float64(falsePositives))
}
