package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

func (s *Store) SaveHostScan(ctx context.Context, sc *types.HostScan) error {
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	return s.replaceUpsert(ctx, storage.CollectionHostScans, sc.ID, sc)
}

func (s *Store) SavePortScan(ctx context.Context, sc *types.PortScan) error {
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	return s.replaceUpsert(ctx, storage.CollectionPortScans, sc.ID, sc)
}

func (s *Store) SaveVulnScan(ctx context.Context, sc *types.VulnScan) error {
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	return s.replaceUpsert(ctx, storage.CollectionVulnScans, sc.ID, sc)
}

func (s *Store) GetPortScan(ctx context.Context, id primitive.ObjectID) (*types.PortScan, error) {
	var sc types.PortScan
	err := s.col(storage.CollectionPortScans).FindOne(ctx, bson.M{"_id": id}).Decode(&sc)
	if err != nil {
		return nil, mapErr(err)
	}
	return &sc, nil
}

func (s *Store) GetVulnScan(ctx context.Context, id primitive.ObjectID) (*types.VulnScan, error) {
	var sc types.VulnScan
	err := s.col(storage.CollectionVulnScans).FindOne(ctx, bson.M{"_id": id}).Decode(&sc)
	if err != nil {
		return nil, mapErr(err)
	}
	return &sc, nil
}

func (s *Store) RetireLatestVulnScans(ctx context.Context, ipInt int64, keepPorts []int) (int64, error) {
	filter := bson.M{"ip_int": ipInt, "latest": true}
	if keepPorts != nil {
		filter["port"] = bson.M{"$nin": keepPorts}
	}
	res, err := s.col(storage.CollectionVulnScans).UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"latest": false}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) RetireLatestVulnScansForIPs(ctx context.Context, ipInts []int64) (int64, error) {
	res, err := s.col(storage.CollectionVulnScans).UpdateMany(ctx,
		bson.M{"ip_int": bson.M{"$in": ipInts}, "latest": true},
		bson.M{"$set": bson.M{"latest": false}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) RetireLatestVulnScansInScope(ctx context.Context, scope storage.TicketScope) (int64, error) {
	filter := bson.M{"latest": true}
	if scope.Source != "" {
		filter["source"] = scope.Source
	}
	if scope.IPInts != nil {
		filter["ip_int"] = bson.M{"$in": scope.IPInts}
	}
	if scope.Ports != nil {
		filter["port"] = bson.M{"$in": scope.Ports}
	}
	if scope.SourceIDs != nil {
		filter["plugin_id"] = bson.M{"$in": scope.SourceIDs}
	}
	res, err := s.col(storage.CollectionVulnScans).UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"latest": false}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) ReassignScanOwner(ctx context.Context, low, high int64, newOwner string) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, collection := range []string{
		storage.CollectionHostScans,
		storage.CollectionPortScans,
		storage.CollectionVulnScans,
	} {
		res, err := s.col(collection).UpdateMany(ctx,
			bson.M{"ip_int": bson.M{"$gte": low, "$lte": high}},
			bson.M{"$set": bson.M{"owner": newOwner}})
		if err != nil {
			return counts, err
		}
		counts[collection] = res.ModifiedCount
	}
	return counts, nil
}

func (s *Store) RenameOwner(ctx context.Context, oldOwner, newOwner string, ticketEvent types.TicketEvent) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, collection := range []string{
		storage.CollectionHosts,
		storage.CollectionHostScans,
		storage.CollectionPortScans,
		storage.CollectionVulnScans,
		storage.CollectionSnapshots,
		storage.CollectionReports,
	} {
		res, err := s.col(collection).UpdateMany(ctx,
			bson.M{"owner": oldOwner},
			bson.M{"$set": bson.M{"owner": newOwner}})
		if err != nil {
			return counts, err
		}
		counts[collection] = res.ModifiedCount
	}

	res, err := s.col(storage.CollectionTickets).UpdateMany(ctx,
		bson.M{"owner": oldOwner},
		bson.M{
			"$set":  bson.M{"owner": newOwner},
			"$push": bson.M{"events": ticketEvent},
		})
	if err != nil {
		return counts, err
	}
	counts[storage.CollectionTickets] = res.ModifiedCount
	return counts, nil
}
