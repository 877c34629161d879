package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// ClosedTicketHistoryDays bounds the closed-ticket age statistic.
const ClosedTicketHistoryDays = 365

// Options tune a snapshot build.
type Options struct {
	// Parent links this snapshot under a parent snapshot. Zero means the
	// snapshot is its own parent (a root snapshot).
	Parent primitive.ObjectID

	// ExcludeFromWorldStats keeps this snapshot out of the world rollup.
	ExcludeFromWorldStats bool
}

// Builder assembles snapshot documents.
type Builder struct {
	store storage.Store
	now   func() time.Time
}

// NewBuilder creates a snapshot builder.
func NewBuilder(store storage.Store) *Builder {
	return &Builder{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the builder's notion of now. For tests.
func (b *Builder) SetClock(now func() time.Time) { b.now = now }

// Build mints a snapshot id, tags the owners' current documents with it, and
// assembles the snapshot.
func (b *Builder) Build(ctx context.Context, owner string, descendants []string, opts Options) (*types.Snapshot, error) {
	oid := primitive.NewObjectID()
	owners := append([]string{owner}, descendants...)
	if err := b.store.TagLatest(ctx, owners, oid); err != nil {
		return nil, fmt.Errorf("tagging latest documents for %s: %w", owner, err)
	}
	return b.BuildFromOID(ctx, owner, descendants, oid, opts)
}

// BuildFromOID assembles a snapshot over documents already tagged with the
// oid, for callers that ran one of the alternative tagging passes first.
// On failure the tag is pulled back out of the documents.
func (b *Builder) BuildFromOID(ctx context.Context, owner string, descendants []string, oid primitive.ObjectID, opts Options) (*types.Snapshot, error) {
	timer := metrics.NewTimer()
	snap, err := b.assemble(ctx, owner, descendants, oid, opts)
	if err != nil {
		metrics.SnapshotsFailedTotal.Inc()
		if rmErr := b.store.RemoveTag(ctx, oid); rmErr != nil {
			return nil, errors.Join(err, rmErr)
		}
		return nil, err
	}
	timer.ObserveDuration(metrics.SnapshotBuildDuration)
	metrics.SnapshotsBuiltTotal.Inc()
	logger := log.WithOwner(owner)
	logger.Info().
		Str("snapshot", oid.Hex()).
		Int("hosts", snap.HostCount).
		Msg("snapshot built")
	return snap, nil
}

func (b *Builder) assemble(ctx context.Context, owner string, descendants []string, oid primitive.ObjectID, opts Options) (*types.Snapshot, error) {
	now := b.now()
	owners := append([]string{owner}, descendants...)

	snap := &types.Snapshot{
		ID:                    oid,
		Owner:                 owner,
		DescendantsIncluded:   descendants,
		Latest:                true,
		LastChange:            now,
		ExcludeFromWorldStats: opts.ExcludeFromWorldStats,
	}
	if opts.Parent.IsZero() {
		// a root snapshot is its own parent, which protects it when a
		// later parent snapshot gets deleted
		snap.Parents = []primitive.ObjectID{oid}
	} else {
		snap.Parents = []primitive.ObjectID{opts.Parent}
	}

	for _, o := range owners {
		req, err := b.store.GetRequest(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("loading request for %s: %w", o, err)
		}
		snap.Networks = append(snap.Networks, req.Networks...)
	}

	start, end, ok, err := b.store.ScanTimespan(ctx, oid)
	if err != nil {
		return nil, err
	}
	if !ok {
		start, end, ok, err = b.store.HostTimespan(ctx, owners)
		if err != nil {
			return nil, err
		}
		if !ok {
			start, end = now, now
		}
	}
	snap.StartTime, snap.EndTime = start, end

	conflict, err := b.store.SnapshotExists(ctx, owner, snap.StartTime, snap.EndTime, oid)
	if err != nil {
		return nil, err
	}
	if conflict {
		snap.EndTime = now
	}

	if err := b.aggregate(ctx, snap, owners, now); err != nil {
		return nil, err
	}

	if err := b.store.ClearLatestSnapshot(ctx, owner); err != nil {
		return nil, err
	}
	if err := b.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("saving snapshot %s for %s: %w", oid.Hex(), owner, err)
	}

	// world statistics include this snapshot, so they are computed after
	// the first save and stamped on with a second one
	world, err := b.store.WorldStatistics(ctx)
	if err != nil {
		return nil, err
	}
	snap.World = world
	if err := b.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("saving world statistics on %s: %w", oid.Hex(), err)
	}
	return snap, nil
}

func (b *Builder) aggregate(ctx context.Context, snap *types.Snapshot, owners []string, now time.Time) error {
	var err error
	if snap.AddressesScanned, err = b.store.CountAddressesScanned(ctx, owners); err != nil {
		return err
	}
	if snap.HostCount, err = b.store.CountUpHosts(ctx, owners); err != nil {
		return err
	}
	if snap.VulnerableHostCount, err = b.store.CountVulnerableHosts(ctx, snap.ID); err != nil {
		return err
	}
	if snap.UniqueOperatingSystems, err = b.store.CountUniqueOperatingSystems(ctx, snap.ID); err != nil {
		return err
	}
	if snap.PortCount, snap.UniquePortCount, err = b.store.PortCounts(ctx, snap.ID); err != nil {
		return err
	}
	if snap.SilentPortCount, err = b.store.CountSilentPorts(ctx, owners); err != nil {
		return err
	}
	if snap.Vulnerabilities, snap.UniqueVulnerabilities, snap.FalsePositives, err = b.store.TicketSeverityCounts(ctx, snap.ID); err != nil {
		return err
	}
	if snap.Services, err = b.store.ServiceCounts(ctx, snap.ID); err != nil {
		return err
	}

	cvssSum, err := b.store.CVSSSum(ctx, snap.ID)
	if err != nil {
		return err
	}
	snap.CVSSAverageAll = safeDivide(cvssSum, snap.HostCount)
	snap.CVSSAverageVulnerable = safeDivide(cvssSum, snap.VulnerableHostCount)

	openAges, err := b.store.OpenTicketAgeStats(ctx, snap.ID, now)
	if err != nil {
		return err
	}
	snap.TixMsecOpen = types.OpenTicketAge{AsOfDate: now, TicketAgeBuckets: openAges}

	closedAfter := now.AddDate(0, 0, -ClosedTicketHistoryDays)
	closedAges, err := b.store.ClosedTicketAgeStats(ctx, owners, closedAfter)
	if err != nil {
		return err
	}
	snap.TixMsecToClose = types.ClosedTicketAge{ClosedAfterDate: closedAfter, TicketAgeBuckets: closedAges}
	return nil
}

func safeDivide(sum float64, count int) float64 {
	if count == 0 {
		return 0.0
	}
	return sum / float64(count)
}
