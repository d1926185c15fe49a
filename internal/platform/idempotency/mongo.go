package idempotency

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pmongo "github.com/pawmart/api/internal/platform/mongo"
)

// MongoStore implements Store on a MongoDB collection. The document id is the hashed
// scoped key, so the unique _id index arbitrates concurrent reservations.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore constructs a Mongo-backed store. An empty collection uses the default.
func NewMongoStore(provider *pmongo.Provider, collection string) *MongoStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &MongoStore{coll: provider.Collection(collection)}
}

func (s *MongoStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	id := documentID(key)
	record := pendingRecord(key, fingerprint, now, ttl)

	_, err := s.coll.InsertOne(ctx, toMongoRecord(id, record))
	if err == nil {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return Reservation{}, pmongo.WrapError("idempotency.reserve", err)
	}

	existing, err := s.find(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if existing.Expired(now) {
		// Only one caller can swap out the expired record it observed.
		res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id, "expires_at": existing.ExpiresAt}, toMongoRecord(id, record))
		if err != nil {
			return Reservation{}, pmongo.WrapError("idempotency.reserve", err)
		}
		if res.MatchedCount == 1 {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}
		if existing, err = s.find(ctx, id); err != nil {
			return Reservation{}, err
		}
	}
	return reservationFor(existing, fingerprint)
}

func (s *MongoStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := documentID(key)

	record, err := s.find(ctx, id)
	var repoErr *pmongo.Error
	switch {
	case errors.As(err, &repoErr) && repoErr.IsNotFound():
		record = Record{Key: key, Fingerprint: fingerprint}
	case err != nil:
		return err
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}

	completed := completeRecord(record, resp, now, ttl)
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": id}, toMongoRecord(id, completed), options.Replace().SetUpsert(true))
	return pmongo.WrapError("idempotency.save", err)
}

func (s *MongoStore) Release(ctx context.Context, key, _ string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": documentID(key)})
	return pmongo.WrapError("idempotency.release", err)
}

// CleanupExpired deletes up to limit records whose expiry has passed.
func (s *MongoStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{"expires_at": bson.M{"$lte": now.UTC()}}
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetLimit(int64(limit)).SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, pmongo.WrapError("idempotency.cleanup", err)
	}
	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &ids); err != nil {
		return 0, pmongo.WrapError("idempotency.cleanup", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make(bson.A, 0, len(ids))
	for _, row := range ids {
		keys = append(keys, row.ID)
	}
	res, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}, "expires_at": bson.M{"$lte": now.UTC()}})
	if err != nil {
		return 0, pmongo.WrapError("idempotency.cleanup", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) find(ctx context.Context, id string) (Record, error) {
	var doc mongoRecord
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return Record{}, pmongo.WrapError("idempotency.find", err)
	}
	return doc.toRecord(), nil
}

type mongoRecord struct {
	ID              string              `bson:"_id"`
	Key             string              `bson:"key"`
	Fingerprint     string              `bson:"fingerprint"`
	Status          string              `bson:"status"`
	ResponseStatus  int                 `bson:"response_status"`
	ResponseHeaders map[string][]string `bson:"response_headers,omitempty"`
	ResponseBody    []byte              `bson:"response_body,omitempty"`
	CreatedAt       time.Time           `bson:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at"`
	ExpiresAt       time.Time           `bson:"expires_at"`
}

func toMongoRecord(id string, r Record) mongoRecord {
	return mongoRecord{
		ID:              id,
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r mongoRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
