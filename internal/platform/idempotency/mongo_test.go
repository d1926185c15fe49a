package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	pmongo "github.com/pawmart/api/internal/platform/mongo"
)

func TestMongoStoreReserve(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("new key", func(mt *mtest.T) {
		store := NewMongoStore(pmongo.NewProvider(mt.DB), "")
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		res, err := store.Reserve(context.Background(), "k|user", "fp", fixedTime, time.Hour)
		require.NoError(mt, err)
		assert.Equal(mt, ReservationStateNew, res.State)
		assert.Equal(mt, fixedTime.Add(time.Hour), res.Record.ExpiresAt)
	})

	mt.Run("completed key replays", func(mt *mtest.T) {
		store := NewMongoStore(pmongo.NewProvider(mt.DB), "")
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}),
			mtest.CreateCursorResponse(0, "db.idempotency_keys", mtest.FirstBatch, bson.D{
				{Key: "_id", Value: documentID("k|user")},
				{Key: "key", Value: "k|user"},
				{Key: "fingerprint", Value: "fp"},
				{Key: "status", Value: string(StatusCompleted)},
				{Key: "response_status", Value: http.StatusCreated},
				{Key: "expires_at", Value: fixedTime.Add(time.Hour)},
			}),
		)

		res, err := store.Reserve(context.Background(), "k|user", "fp", fixedTime, time.Hour)
		require.NoError(mt, err)
		assert.Equal(mt, ReservationStateCompleted, res.State)
		assert.Equal(mt, http.StatusCreated, res.Record.ResponseStatus)
	})

	mt.Run("different fingerprint", func(mt *mtest.T) {
		store := NewMongoStore(pmongo.NewProvider(mt.DB), "")
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}),
			mtest.CreateCursorResponse(0, "db.idempotency_keys", mtest.FirstBatch, bson.D{
				{Key: "_id", Value: documentID("k|user")},
				{Key: "fingerprint", Value: "other"},
				{Key: "status", Value: string(StatusPending)},
				{Key: "expires_at", Value: fixedTime.Add(time.Hour)},
			}),
		)

		_, err := store.Reserve(context.Background(), "k|user", "fp", fixedTime, time.Hour)
		assert.ErrorIs(mt, err, ErrFingerprintMismatch)
	})
}
