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

func (s *Store) SaveTicket(ctx context.Context, t *types.Ticket) error {
	if err := t.CheckInvariants(); err != nil {
		return err
	}
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	return s.replaceUpsert(ctx, storage.CollectionTickets, t.ID, t)
}

func (s *Store) GetTicket(ctx context.Context, id primitive.ObjectID) (*types.Ticket, error) {
	var t types.Ticket
	err := s.col(storage.CollectionTickets).FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) FindOpenTicket(ctx context.Context, key types.TicketKey) (*types.Ticket, error) {
	var t types.Ticket
	err := s.col(storage.CollectionTickets).FindOne(ctx, bson.M{
		"ip_int":    key.IPInt,
		"port":      key.Port,
		"protocol":  key.Protocol,
		"source":    key.Source,
		"source_id": key.SourceID,
		"open":      true,
	}).Decode(&t)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) FindRecentlyClosedTicket(ctx context.Context, key types.TicketKey, closedAfter time.Time) (*types.Ticket, error) {
	var t types.Ticket
	err := s.col(storage.CollectionTickets).FindOne(ctx, bson.M{
		"ip_int":      key.IPInt,
		"port":        key.Port,
		"protocol":    key.Protocol,
		"source":      key.Source,
		"source_id":   key.SourceID,
		"open":        false,
		"time_closed": bson.M{"$gt": closedAfter},
	}).Decode(&t)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) OpenTicketsInScope(ctx context.Context, scope storage.TicketScope) ([]*types.Ticket, error) {
	filter := bson.M{"open": true}
	if scope.Source != "" {
		filter["source"] = scope.Source
	}
	if scope.IPInts != nil {
		filter["ip_int"] = bson.M{"$in": scope.IPInts}
	}
	if scope.SourceIDs != nil {
		filter["source_id"] = bson.M{"$in": scope.SourceIDs}
	}
	if scope.Protocols != nil {
		filter["protocol"] = bson.M{"$in": scope.Protocols}
	}
	if scope.Ports != nil {
		if scope.UDPOrPort {
			filter["$or"] = bson.A{
				bson.M{"port": bson.M{"$in": scope.Ports}},
				bson.M{"protocol": "udp"},
			}
		} else {
			filter["port"] = bson.M{"$in": scope.Ports}
		}
	}
	if scope.ExcludePorts != nil {
		if existing, ok := filter["port"]; ok {
			filter["$and"] = bson.A{
				bson.M{"port": existing},
				bson.M{"port": bson.M{"$nin": scope.ExcludePorts}},
			}
			delete(filter, "port")
		} else {
			filter["port"] = bson.M{"$nin": scope.ExcludePorts}
		}
	}
	cur, err := s.col(storage.CollectionTickets).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Ticket](ctx, cur)
}

func (s *Store) MaxOpenSeverity(ctx context.Context, ipInt int64) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"ip_int": ipInt, "open": true, "false_positive": false}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "max": bson.M{"$max": "$details.severity"}}}},
	}
	cur, err := s.col(storage.CollectionTickets).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	if cur.Next(ctx) {
		var row struct {
			Max int `bson:"max"`
		}
		if err := cur.Decode(&row); err != nil {
			return 0, err
		}
		return row.Max, nil
	}
	return 0, cur.Err()
}

func (s *Store) ExpiredFalsePositives(ctx context.Context, now time.Time) ([]*types.Ticket, error) {
	// Candidate set by event shape; the latest-flip check happens in Go.
	filter := bson.M{
		"false_positive": true,
		"events": bson.M{"$elemMatch": bson.M{
			"action":    types.TicketChanged,
			"delta.key": "false_positive",
			"expires":   bson.M{"$lte": now},
		}},
	}
	cur, err := s.col(storage.CollectionTickets).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	candidates, err := decodeAll[types.Ticket](ctx, cur)
	if err != nil {
		return nil, err
	}
	var out []*types.Ticket
	for _, t := range candidates {
		_, expires := t.FalsePositiveDates()
		if expires != nil && !expires.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) TicketsInIPRange(ctx context.Context, low, high int64) ([]*types.Ticket, error) {
	cur, err := s.col(storage.CollectionTickets).Find(ctx,
		bson.M{"ip_int": bson.M{"$gte": low, "$lte": high}},
		options.Find().SetSort(bson.D{{Key: "ip_int", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Ticket](ctx, cur)
}
