package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// Store implements the storage contract on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.Store = (*Store)(nil)

// Connect dials the database and verifies it is reachable.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("unable to reach MongoDB: %w", err)
	}
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects from the database.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func mapErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	return err
}

func decodeAll[T any](ctx context.Context, cur *mongo.Cursor) ([]*T, error) {
	defer cur.Close(ctx)
	var out []*T
	for cur.Next(ctx) {
		doc := new(T)
		if err := cur.Decode(doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cur.Err()
}

func (s *Store) replaceUpsert(ctx context.Context, collection string, id, doc any) error {
	_, err := s.col(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

// Hosts

func (s *Store) SaveHost(ctx context.Context, h *types.Host) error {
	return s.replaceUpsert(ctx, storage.CollectionHosts, h.ID, h)
}

func (s *Store) GetHost(ctx context.Context, id int64) (*types.Host, error) {
	var h types.Host
	err := s.col(storage.CollectionHosts).FindOne(ctx, bson.M{"_id": id}).Decode(&h)
	if err != nil {
		return nil, mapErr(err)
	}
	return &h, nil
}

func (s *Store) DeleteHost(ctx context.Context, id int64) error {
	res, err := s.col(storage.CollectionHosts).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func prioritySort(descending bool) bson.D {
	dir := 1
	if descending {
		dir = -1
	}
	return bson.D{{Key: "priority", Value: dir}, {Key: "r", Value: dir}}
}

func (s *Store) HostsByStageStatus(ctx context.Context, owner string, stage types.Stage, status types.Status, descending bool, limit int) ([]*types.Host, error) {
	opts := options.Find().SetSort(prioritySort(descending))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.col(storage.CollectionHosts).Find(ctx,
		bson.M{"owner": owner, "stage": stage, "status": status}, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Host](ctx, cur)
}

func (s *Store) ClaimableHosts(ctx context.Context, stage types.Stage, statuses []types.Status, owners []string, limit int) ([]*types.Host, error) {
	filter := bson.M{"stage": stage, "status": bson.M{"$in": statuses}}
	if owners != nil {
		filter["owner"] = bson.M{"$in": owners}
	}
	opts := options.Find().SetSort(prioritySort(false))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.col(storage.CollectionHosts).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Host](ctx, cur)
}

func (s *Store) ScheduledHosts(ctx context.Context, due time.Time, limit int) ([]*types.Host, error) {
	filter := bson.M{
		"status":    types.StatusDone,
		"next_scan": bson.M{"$ne": nil, "$lte": due},
	}
	opts := options.Find().SetSort(bson.D{{Key: "next_scan", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.col(storage.CollectionHosts).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Host](ctx, cur)
}

func (s *Store) HostsMissingNextScan(ctx context.Context, owner string, limit int) ([]*types.Host, error) {
	filter := bson.M{"owner": owner, "status": types.StatusDone, "next_scan": nil}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.col(storage.CollectionHosts).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Host](ctx, cur)
}

func (s *Store) ClearNextScans(ctx context.Context, owner string) (int64, error) {
	res, err := s.col(storage.CollectionHosts).UpdateMany(ctx,
		bson.M{"owner": owner, "next_scan": bson.M{"$ne": nil}},
		bson.M{"$set": bson.M{"next_scan": nil}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) ResetHostsByOwner(ctx context.Context, owner string, stage types.Stage) (int64, error) {
	res, err := s.col(storage.CollectionHosts).UpdateMany(ctx,
		bson.M{"owner": owner},
		bson.M{"$set": bson.M{
			"stage":       stage,
			"status":      types.StatusWaiting,
			"last_change": time.Now().UTC(),
		}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) RequeueRunningHosts(ctx context.Context, owner string) (int64, error) {
	filter := bson.M{"status": types.StatusRunning}
	if owner != "" {
		filter["owner"] = owner
	}
	res, err := s.col(storage.CollectionHosts).UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{
			"status":      types.StatusWaiting,
			"last_change": time.Now().UTC(),
		}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) ReassignHostOwner(ctx context.Context, low, high int64, newOwner string) (int64, error) {
	res, err := s.col(storage.CollectionHosts).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$gte": low, "$lte": high}},
		bson.M{"$set": bson.M{"owner": newOwner}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) CountHostsByStageStatus(ctx context.Context, owner string) (map[types.Stage]map[types.Status]int, error) {
	counts := make(map[types.Stage]map[types.Status]int, len(types.AllStages))
	for _, stage := range types.AllStages {
		counts[stage] = make(map[types.Status]int, len(types.AllStatuses))
		for _, status := range types.AllStatuses {
			counts[stage][status] = 0
		}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"owner": owner}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"stage": "$stage", "status": "$status"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cur, err := s.col(storage.CollectionHosts).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var row struct {
			ID struct {
				Stage  types.Stage  `bson:"stage"`
				Status types.Status `bson:"status"`
			} `bson:"_id"`
			Count int `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		if counts[row.ID.Stage] == nil {
			counts[row.ID.Stage] = map[types.Status]int{}
		}
		counts[row.ID.Stage][row.ID.Status] = row.Count
	}
	return counts, cur.Err()
}

func (s *Store) HostTimespan(ctx context.Context, owners []string) (time.Time, time.Time, bool, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"owner": bson.M{"$in": owners}}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"start": bson.M{"$min": "$last_change"},
			"end":   bson.M{"$max": "$last_change"},
		}}},
	}
	cur, err := s.col(storage.CollectionHosts).Aggregate(ctx, pipeline)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	defer cur.Close(ctx)
	if cur.Next(ctx) {
		var row struct {
			Start time.Time `bson:"start"`
			End   time.Time `bson:"end"`
		}
		if err := cur.Decode(&row); err != nil {
			return time.Time{}, time.Time{}, false, err
		}
		return row.Start, row.End, true, nil
	}
	return time.Time{}, time.Time{}, false, cur.Err()
}

// Tallies

func (s *Store) SaveTally(ctx context.Context, t *types.Tally) error {
	return s.replaceUpsert(ctx, storage.CollectionTallies, t.ID, t)
}

func (s *Store) GetTally(ctx context.Context, owner string) (*types.Tally, error) {
	var t types.Tally
	err := s.col(storage.CollectionTallies).FindOne(ctx, bson.M{"_id": owner}).Decode(&t)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) DeleteTally(ctx context.Context, owner string) error {
	res, err := s.col(storage.CollectionTallies).DeleteOne(ctx, bson.M{"_id": owner})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) TalliesChangedSince(ctx context.Context, since time.Time) ([]*types.Tally, error) {
	cur, err := s.col(storage.CollectionTallies).Find(ctx,
		bson.M{"last_change": bson.M{"$gte": since}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Tally](ctx, cur)
}

// Requests

func (s *Store) SaveRequest(ctx context.Context, r *types.Request) error {
	return s.replaceUpsert(ctx, storage.CollectionRequests, r.ID, r)
}

func (s *Store) GetRequest(ctx context.Context, owner string) (*types.Request, error) {
	var r types.Request
	err := s.col(storage.CollectionRequests).FindOne(ctx, bson.M{"_id": owner}).Decode(&r)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *Store) DeleteRequest(ctx context.Context, owner string) error {
	res, err := s.col(storage.CollectionRequests).DeleteOne(ctx, bson.M{"_id": owner})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListRequests(ctx context.Context) ([]*types.Request, error) {
	cur, err := s.col(storage.CollectionRequests).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Request](ctx, cur)
}

func (s *Store) RequestIDs(ctx context.Context) ([]string, error) {
	vals, err := s.col(storage.CollectionRequests).Distinct(ctx, "_id", bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(vals))
	for _, v := range vals {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) ParentRequests(ctx context.Context, child string) ([]*types.Request, error) {
	cur, err := s.col(storage.CollectionRequests).Find(ctx, bson.M{"children": child},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Request](ctx, cur)
}

// CVEs

func (s *Store) SaveCVE(ctx context.Context, c *types.CVE) error {
	c.DeriveSeverity()
	return s.replaceUpsert(ctx, storage.CollectionCVEs, c.ID, c)
}

func (s *Store) GetCVE(ctx context.Context, id string) (*types.CVE, error) {
	var c types.CVE
	err := s.col(storage.CollectionCVEs).FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// Notifications

func (s *Store) SaveNotification(ctx context.Context, n *types.Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	return s.replaceUpsert(ctx, storage.CollectionNotifications, n.ID, n)
}

func (s *Store) NotificationsForTicket(ctx context.Context, ticketID primitive.ObjectID) ([]*types.Notification, error) {
	cur, err := s.col(storage.CollectionNotifications).Find(ctx, bson.M{"ticket_id": ticketID})
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Notification](ctx, cur)
}

// Control

func (s *Store) SaveControl(ctx context.Context, c *types.SystemControl) error {
	return s.replaceUpsert(ctx, storage.CollectionControl, c.ID, c)
}

func (s *Store) GetControl(ctx context.Context, id string) (*types.SystemControl, error) {
	var c types.SystemControl
	err := s.col(storage.CollectionControl).FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) DeleteControl(ctx context.Context, id string) error {
	res, err := s.col(storage.CollectionControl).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) OpenControlRequests(ctx context.Context, action types.ControlAction, target types.ControlTarget) ([]*types.SystemControl, error) {
	cur, err := s.col(storage.CollectionControl).Find(ctx,
		bson.M{"action": action, "target": target, "completed": false},
		options.Find().SetSort(bson.D{{Key: "time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeAll[types.SystemControl](ctx, cur)
}
