package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// scanCollections are the document families carrying snapshot tags besides
// tickets.
var scanCollections = []string{
	storage.CollectionHostScans,
	storage.CollectionPortScans,
	storage.CollectionVulnScans,
}

func diskUse() *options.AggregateOptions {
	return options.Aggregate().SetAllowDiskUse(true)
}

func (s *Store) SaveSnapshot(ctx context.Context, snap *types.Snapshot) error {
	if snap.ID.IsZero() {
		snap.ID = primitive.NewObjectID()
	}
	return s.replaceUpsert(ctx, storage.CollectionSnapshots, snap.ID, snap)
}

func (s *Store) GetSnapshot(ctx context.Context, id primitive.ObjectID) (*types.Snapshot, error) {
	var snap types.Snapshot
	err := s.col(storage.CollectionSnapshots).FindOne(ctx, bson.M{"_id": id}).Decode(&snap)
	if err != nil {
		return nil, mapErr(err)
	}
	return &snap, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.col(storage.CollectionSnapshots).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, owner string) (*types.Snapshot, error) {
	var snap types.Snapshot
	err := s.col(storage.CollectionSnapshots).FindOne(ctx,
		bson.M{"owner": owner, "latest": true},
		options.FindOne().SetSort(bson.D{{Key: "end_time", Value: -1}})).Decode(&snap)
	if err != nil {
		return nil, mapErr(err)
	}
	return &snap, nil
}

func (s *Store) ClearLatestSnapshot(ctx context.Context, owner string) error {
	_, err := s.col(storage.CollectionSnapshots).UpdateMany(ctx,
		bson.M{"owner": owner, "latest": true},
		bson.M{"$set": bson.M{"latest": false}})
	return err
}

func (s *Store) SnapshotExists(ctx context.Context, owner string, start, end time.Time, excludeID primitive.ObjectID) (bool, error) {
	n, err := s.col(storage.CollectionSnapshots).CountDocuments(ctx, bson.M{
		"_id":        bson.M{"$ne": excludeID},
		"owner":      owner,
		"start_time": start,
		"end_time":   end,
	})
	return n > 0, err
}

// Tagging

func (s *Store) addTag(ctx context.Context, collection string, filter bson.M, oid primitive.ObjectID) error {
	_, err := s.col(collection).UpdateMany(ctx, filter,
		bson.M{"$addToSet": bson.M{"snapshots": oid}})
	return err
}

func (s *Store) TagLatest(ctx context.Context, owners []string, oid primitive.ObjectID) error {
	ownerIn := bson.M{"$in": owners}
	if err := s.addTag(ctx, storage.CollectionHostScans,
		bson.M{"owner": ownerIn, "latest": true}, oid); err != nil {
		return err
	}
	if err := s.addTag(ctx, storage.CollectionPortScans,
		bson.M{"owner": ownerIn, "latest": true, "state": types.PortStateOpen}, oid); err != nil {
		return err
	}
	if err := s.addTag(ctx, storage.CollectionVulnScans,
		bson.M{"owner": ownerIn, "latest": true}, oid); err != nil {
		return err
	}
	return s.addTag(ctx, storage.CollectionTickets,
		bson.M{"owner": ownerIn, "open": true}, oid)
}

func (s *Store) TagMatching(ctx context.Context, existing []primitive.ObjectID, oid primitive.ObjectID) error {
	filter := bson.M{"snapshots": bson.M{"$in": existing}}
	for _, collection := range scanCollections {
		if err := s.addTag(ctx, collection, filter, oid); err != nil {
			return err
		}
	}
	return s.addTag(ctx, storage.CollectionTickets, filter, oid)
}

func (s *Store) TagTimespan(ctx context.Context, owners []string, oid primitive.ObjectID, start, end time.Time) error {
	ownerIn := bson.M{"$in": owners}
	spanFilter := bson.M{"owner": ownerIn, "time": bson.M{"$gte": start, "$lte": end}}
	for _, collection := range scanCollections {
		if err := s.addTag(ctx, collection, spanFilter, oid); err != nil {
			return err
		}
	}
	// Tickets open at any point during the span.
	return s.addTag(ctx, storage.CollectionTickets, bson.M{
		"owner":       ownerIn,
		"time_opened": bson.M{"$lte": end},
		"$or": bson.A{
			bson.M{"time_closed": nil},
			bson.M{"time_closed": bson.M{"$gte": start}},
		},
	}, oid)
}

func (s *Store) RemoveTag(ctx context.Context, oid primitive.ObjectID) error {
	pull := bson.M{"$pull": bson.M{"snapshots": oid}}
	for _, collection := range scanCollections {
		if _, err := s.col(collection).UpdateMany(ctx, bson.M{"snapshots": oid}, pull); err != nil {
			return err
		}
	}
	_, err := s.col(storage.CollectionTickets).UpdateMany(ctx, bson.M{"snapshots": oid}, pull)
	return err
}

func (s *Store) ScanTimespan(ctx context.Context, oid primitive.ObjectID) (time.Time, time.Time, bool, error) {
	var start, end time.Time
	found := false
	for _, collection := range scanCollections {
		pipeline := mongo.Pipeline{
			{{Key: "$match", Value: bson.M{"snapshots": oid}}},
			{{Key: "$group", Value: bson.M{
				"_id":   nil,
				"start": bson.M{"$min": "$time"},
				"end":   bson.M{"$max": "$time"},
			}}},
		}
		cur, err := s.col(collection).Aggregate(ctx, pipeline, diskUse())
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
		if cur.Next(ctx) {
			var row struct {
				Start time.Time `bson:"start"`
				End   time.Time `bson:"end"`
			}
			if err := cur.Decode(&row); err != nil {
				cur.Close(ctx)
				return time.Time{}, time.Time{}, false, err
			}
			if !found || row.Start.Before(start) {
				start = row.Start
			}
			if !found || row.End.After(end) {
				end = row.End
			}
			found = true
		}
		if err := cur.Err(); err != nil {
			cur.Close(ctx)
			return time.Time{}, time.Time{}, false, err
		}
		cur.Close(ctx)
	}
	return start, end, found, nil
}

// Aggregations

func (s *Store) CountAddressesScanned(ctx context.Context, owners []string) (int, error) {
	n, err := s.col(storage.CollectionHosts).CountDocuments(ctx, bson.M{
		"owner": bson.M{"$in": owners},
		"latest_scan." + types.LatestScanKeyDone: bson.M{"$ne": nil},
	})
	return int(n), err
}

func (s *Store) CountUpHosts(ctx context.Context, owners []string) (int, error) {
	n, err := s.col(storage.CollectionHosts).CountDocuments(ctx, bson.M{
		"owner":    bson.M{"$in": owners},
		"state.up": true,
	})
	return int(n), err
}

func (s *Store) CountVulnerableHosts(ctx context.Context, oid primitive.ObjectID) (int, error) {
	vals, err := s.col(storage.CollectionTickets).Distinct(ctx, "ip_int",
		bson.M{"snapshots": oid, "false_positive": false})
	return len(vals), err
}

func (s *Store) CountUniqueOperatingSystems(ctx context.Context, oid primitive.ObjectID) (int, error) {
	vals, err := s.col(storage.CollectionHostScans).Distinct(ctx, "name",
		bson.M{"snapshots": oid})
	return len(vals), err
}

func (s *Store) PortCounts(ctx context.Context, oid primitive.ObjectID) (int, int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"snapshots": oid}}},
		{{Key: "$group", Value: bson.M{"_id": bson.M{"ip_int": "$ip_int", "port": "$port"}}}},
		{{Key: "$count", Value: "count"}},
	}
	cur, err := s.col(storage.CollectionPortScans).Aggregate(ctx, pipeline, diskUse())
	if err != nil {
		return 0, 0, err
	}
	portCount := 0
	if cur.Next(ctx) {
		var row struct {
			Count int `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			cur.Close(ctx)
			return 0, 0, err
		}
		portCount = row.Count
	}
	cur.Close(ctx)

	ports, err := s.col(storage.CollectionPortScans).Distinct(ctx, "port", bson.M{"snapshots": oid})
	if err != nil {
		return 0, 0, err
	}
	return portCount, len(ports), nil
}

func (s *Store) CountSilentPorts(ctx context.Context, owners []string) (int, error) {
	n, err := s.col(storage.CollectionPortScans).CountDocuments(ctx, bson.M{
		"owner":  bson.M{"$in": owners},
		"latest": true,
		"state":  types.PortStateSilent,
	})
	return int(n), err
}

func (s *Store) severityBuckets(ctx context.Context, pipeline mongo.Pipeline) (types.SeverityCounts, error) {
	var counts types.SeverityCounts
	cur, err := s.col(storage.CollectionTickets).Aggregate(ctx, pipeline, diskUse())
	if err != nil {
		return counts, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var row struct {
			ID    int `bson:"_id"`
			Count int `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return counts, err
		}
		for i := 0; i < row.Count; i++ {
			counts.AddSeverity(row.ID)
		}
	}
	return counts, cur.Err()
}

func (s *Store) TicketSeverityCounts(ctx context.Context, oid primitive.ObjectID) (types.SeverityCounts, types.SeverityCounts, types.SeverityCounts, error) {
	all, err := s.severityBuckets(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"snapshots": oid, "false_positive": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$details.severity", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return all, types.SeverityCounts{}, types.SeverityCounts{}, err
	}
	unique, err := s.severityBuckets(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"snapshots": oid, "false_positive": false}}},
		{{Key: "$group", Value: bson.M{"_id": bson.M{
			"source_id": "$source_id",
			"severity":  "$details.severity",
		}}}},
		{{Key: "$group", Value: bson.M{"_id": "$_id.severity", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return all, unique, types.SeverityCounts{}, err
	}
	fp, err := s.severityBuckets(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"snapshots": oid, "false_positive": true}}},
		{{Key: "$group", Value: bson.M{"_id": "$details.severity", "count": bson.M{"$sum": 1}}}},
	})
	return all, unique, fp, err
}

func (s *Store) ServiceCounts(ctx context.Context, oid primitive.ObjectID) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"snapshots":    oid,
			"service.name": bson.M{"$nin": bson.A{nil, "", "unknown"}},
		}}},
		{{Key: "$group", Value: bson.M{"_id": bson.M{
			"ip_int": "$ip_int",
			"port":   "$port",
			"name":   "$service.name",
		}}}},
		{{Key: "$group", Value: bson.M{"_id": "$_id.name", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := s.col(storage.CollectionPortScans).Aggregate(ctx, pipeline, diskUse())
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	counts := map[string]int{}
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.ID] = row.Count
	}
	return counts, cur.Err()
}

func (s *Store) CVSSSum(ctx context.Context, oid primitive.ObjectID) (float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"snapshots": oid, "false_positive": false}}},
		{{Key: "$group", Value: bson.M{
			"_id":      "$ip_int",
			"cvss_max": bson.M{"$max": "$details.cvss_base_score"},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"sum": bson.M{"$sum": "$cvss_max"},
		}}},
	}
	cur, err := s.col(storage.CollectionTickets).Aggregate(ctx, pipeline, diskUse())
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	if cur.Next(ctx) {
		var row struct {
			Sum float64 `bson:"sum"`
		}
		if err := cur.Decode(&row); err != nil {
			return 0, err
		}
		return row.Sum, nil
	}
	return 0, cur.Err()
}

func (s *Store) ticketAges(ctx context.Context, filter bson.M, age func(opened time.Time, closed *time.Time) int64) (types.TicketAgeBuckets, error) {
	cur, err := s.col(storage.CollectionTickets).Find(ctx, filter,
		options.Find().SetProjection(bson.M{
			"details.severity": 1,
			"time_opened":      1,
			"time_closed":      1,
		}))
	if err != nil {
		return types.TicketAgeBuckets{}, err
	}
	tickets, err := decodeAll[types.Ticket](ctx, cur)
	if err != nil {
		return types.TicketAgeBuckets{}, err
	}
	bySeverity := map[int][]int64{}
	for _, t := range tickets {
		sev := t.Severity()
		bySeverity[sev] = append(bySeverity[sev], age(t.TimeOpened, t.TimeClosed))
	}
	return storage.BucketizeAges(bySeverity), nil
}

func (s *Store) OpenTicketAgeStats(ctx context.Context, oid primitive.ObjectID, now time.Time) (types.TicketAgeBuckets, error) {
	return s.ticketAges(ctx,
		bson.M{"snapshots": oid, "open": true, "false_positive": false},
		func(opened time.Time, _ *time.Time) int64 {
			return now.Sub(opened).Milliseconds()
		})
}

func (s *Store) ClosedTicketAgeStats(ctx context.Context, owners []string, closedAfter time.Time) (types.TicketAgeBuckets, error) {
	return s.ticketAges(ctx,
		bson.M{
			"owner":       bson.M{"$in": owners},
			"open":        false,
			"time_closed": bson.M{"$gte": closedAfter},
		},
		func(opened time.Time, closed *time.Time) int64 {
			if closed == nil {
				return 0
			}
			return closed.Sub(opened).Milliseconds()
		})
}

func (s *Store) WorldStatistics(ctx context.Context) (types.WorldStats, error) {
	var world types.WorldStats
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"latest":                   true,
			"exclude_from_world_stats": bson.M{"$ne": true},
			"$expr":                    bson.M{"$in": bson.A{"$_id", "$parents"}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":                   nil,
			"host_count":            bson.M{"$sum": "$host_count"},
			"vulnerable_host_count": bson.M{"$sum": "$vulnerable_host_count"},
			"v_critical":            bson.M{"$sum": "$vulnerabilities.critical"},
			"v_high":                bson.M{"$sum": "$vulnerabilities.high"},
			"v_medium":              bson.M{"$sum": "$vulnerabilities.medium"},
			"v_low":                 bson.M{"$sum": "$vulnerabilities.low"},
			"v_total":               bson.M{"$sum": "$vulnerabilities.total"},
			"u_critical":            bson.M{"$sum": "$unique_vulnerabilities.critical"},
			"u_high":                bson.M{"$sum": "$unique_vulnerabilities.high"},
			"u_medium":              bson.M{"$sum": "$unique_vulnerabilities.medium"},
			"u_low":                 bson.M{"$sum": "$unique_vulnerabilities.low"},
			"u_total":               bson.M{"$sum": "$unique_vulnerabilities.total"},
		}}},
	}
	cur, err := s.col(storage.CollectionSnapshots).Aggregate(ctx, pipeline, diskUse())
	if err != nil {
		return world, err
	}
	defer cur.Close(ctx)
	if cur.Next(ctx) {
		var row struct {
			HostCount           int `bson:"host_count"`
			VulnerableHostCount int `bson:"vulnerable_host_count"`
			VCritical           int `bson:"v_critical"`
			VHigh               int `bson:"v_high"`
			VMedium             int `bson:"v_medium"`
			VLow                int `bson:"v_low"`
			VTotal              int `bson:"v_total"`
			UCritical           int `bson:"u_critical"`
			UHigh               int `bson:"u_high"`
			UMedium             int `bson:"u_medium"`
			ULow                int `bson:"u_low"`
			UTotal              int `bson:"u_total"`
		}
		if err := cur.Decode(&row); err != nil {
			return world, err
		}
		world.HostCount = row.HostCount
		world.VulnerableHostCount = row.VulnerableHostCount
		world.Vulnerabilities = types.SeverityCounts{
			Critical: row.VCritical, High: row.VHigh, Medium: row.VMedium,
			Low: row.VLow, Total: row.VTotal,
		}
		world.UniqueVulnerabilities = types.SeverityCounts{
			Critical: row.UCritical, High: row.UHigh, Medium: row.UMedium,
			Low: row.ULow, Total: row.UTotal,
		}
	}
	return world, cur.Err()
}
