package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pmongo "github.com/pawmart/api/internal/platform/mongo"
)

type collectionIndexes struct {
	collection string
	models     []mongo.IndexModel
}

func indexPlan() []collectionIndexes {
	return []collectionIndexes{
		{
			collection: orderCollection,
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "deleted", Value: 1}, {Key: "created_at", Value: -1}}},
				{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
				{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
				{Keys: bson.D{{Key: "shipping_id", Value: 1}}},
				{Keys: bson.D{{Key: "deleted_at", Value: 1}}, Options: options.Index().SetSparse(true)},
			},
		},
		{
			collection: cartCollection,
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			},
		},
		{
			collection: notificationCollection,
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "audience", Value: 1}, {Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			},
		},
		{
			collection: consumableCollection,
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "category_id", Value: 1}}},
			},
		},
		{
			collection: durableCollection,
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "category_id", Value: 1}}},
			},
		},
	}
}

// EnsureIndexes creates the indexes used by listings and cart lookups. Existing indexes
// with the same definition are left untouched by the server.
func EnsureIndexes(ctx context.Context, provider *pmongo.Provider) error {
	for _, plan := range indexPlan() {
		if _, err := provider.Collection(plan.collection).Indexes().CreateMany(ctx, plan.models); err != nil {
			return pmongo.WrapError(plan.collection+".indexes", err)
		}
	}
	return nil
}
