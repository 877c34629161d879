package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vigilsec/vigil/pkg/storage"
)

func keys(pairs ...string) bson.D {
	d := make(bson.D, len(pairs))
	for i, k := range pairs {
		d[i] = bson.E{Key: k, Value: 1}
	}
	return d
}

// collectionIndices lists the index keys per collection.
var collectionIndices = map[string][]bson.D{
	storage.CollectionHosts: {
		keys("status", "stage", "owner", "priority", "r"),
		keys("next_scan", "state.up", "status"),
		keys("owner"),
	},
	storage.CollectionTickets: {
		keys("ip_int", "port", "protocol", "source", "source_id", "open", "false_positive"),
		keys("open", "owner"),
		keys("time_opened", "open"),
		keys("snapshots"),
	},
	storage.CollectionHostScans: {
		keys("owner", "latest"),
		keys("ip_int", "latest"),
		keys("snapshots"),
		keys("time"),
	},
	storage.CollectionPortScans: {
		keys("owner", "latest", "state"),
		keys("ip_int", "latest"),
		keys("snapshots"),
		keys("time"),
	},
	storage.CollectionVulnScans: {
		keys("owner", "latest"),
		keys("ip_int", "latest", "port"),
		keys("snapshots"),
		keys("time"),
	},
	storage.CollectionSnapshots: {
		keys("owner", "latest"),
		keys("latest"),
	},
	storage.CollectionReports: {
		keys("owner", "generated_time"),
	},
	storage.CollectionNotifications: {
		keys("ticket_id"),
	},
	storage.CollectionControl: {
		keys("action", "target", "completed"),
	},
}

// EnsureIndices creates every collection index, also touching the
// collections that carry no secondary index so they exist with their names.
func (s *Store) EnsureIndices(ctx context.Context, foreground bool) error {
	for collection, indices := range collectionIndices {
		models := make([]mongo.IndexModel, 0, len(indices))
		for _, k := range indices {
			opt := options.Index()
			if !foreground {
				opt.SetBackground(true)
			}
			models = append(models, mongo.IndexModel{Keys: k, Options: opt})
		}
		if _, err := s.col(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating indices on %s: %w", collection, err)
		}
	}
	for _, collection := range []string{
		storage.CollectionTallies,
		storage.CollectionRequests,
		storage.CollectionCVEs,
		storage.CollectionKEVs,
		storage.CollectionPlaces,
		storage.CollectionScorecards,
		storage.CollectionNewHire,
	} {
		if err := s.db.CreateCollection(ctx, collection); err != nil {
			// NamespaceExists means the collection is already there.
			var cmdErr mongo.CommandError
			if !errors.As(err, &cmdErr) || cmdErr.Code != 48 {
				return fmt.Errorf("creating collection %s: %w", collection, err)
			}
		}
	}
	return nil
}
