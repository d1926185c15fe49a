package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestWrapErrorClassification(t *testing.T) {
	notFound := WrapError("orders.find", mongo.ErrNoDocuments)
	var repoErr *Error
	require.ErrorAs(t, notFound, &repoErr)
	assert.True(t, repoErr.IsNotFound())
	assert.False(t, repoErr.IsConflict())

	dup := WrapError("orders.insert", mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}},
	})
	require.ErrorAs(t, dup, &repoErr)
	assert.True(t, repoErr.IsConflict())

	conflict := WrapError("orders.update", mongo.CommandError{Code: writeConflictCode, Name: "WriteConflict"})
	require.ErrorAs(t, conflict, &repoErr)
	assert.True(t, repoErr.IsConflict())

	transient := WrapError("orders.update", mongo.CommandError{
		Code:   251,
		Name:   "NoSuchTransaction",
		Labels: []string{"TransientTransactionError"},
	})
	require.ErrorAs(t, transient, &repoErr)
	assert.True(t, repoErr.IsConflict())

	disconnected := WrapError("orders.find", mongo.ErrClientDisconnected)
	require.ErrorAs(t, disconnected, &repoErr)
	assert.True(t, repoErr.IsUnavailable())
}

func TestWrapErrorPassThrough(t *testing.T) {
	assert.NoError(t, WrapError("op", nil))
	assert.ErrorIs(t, WrapError("op", context.Canceled), context.Canceled)

	original := Conflict("orders.update", errors.New("version mismatch"))
	assert.Same(t, original, WrapError("other", original))
	assert.Equal(t, "orders.update: version mismatch", original.Error())
}

func TestUnitOfWorkDisabledRunsInline(t *testing.T) {
	uow := NewUnitOfWork(nil, true)
	called := false
	err := uow.RunInTx(context.Background(), func(ctx context.Context) error {
		called = true
		assert.Nil(t, mongo.SessionFromContext(ctx))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	assert.False(t, uow.Transactional())

	boom := errors.New("boom")
	assert.ErrorIs(t, uow.RunInTx(context.Background(), func(context.Context) error { return boom }), boom)
}
