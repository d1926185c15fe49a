package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
)

// UnitOfWork implements repositories.UnitOfWork with multi-document transactions.
// Transactions need a replica set; when disabled fn runs directly and every repository
// write stays individually atomic.
type UnitOfWork struct {
	client  *mongo.Client
	enabled bool
}

// NewUnitOfWork returns a UnitOfWork. enabled should follow API_MONGO_TRANSACTIONS.
func NewUnitOfWork(client *mongo.Client, enabled bool) *UnitOfWork {
	return &UnitOfWork{client: client, enabled: enabled && client != nil}
}

// Transactional reports whether RunInTx commits all-or-nothing.
func (u *UnitOfWork) Transactional() bool {
	return u != nil && u.enabled
}

// RunInTx runs fn inside a session transaction. The session context is passed to fn, so
// repository calls made with it join the transaction. WithTransaction retries fn on
// transient errors, so fn must not have side effects outside the database.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("mongo: unit of work function is nil")
	}
	if u == nil || !u.enabled || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := u.client.StartSession()
	if err != nil {
		return WrapError("mongo.session", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().SetReadConcern(readconcern.Snapshot())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	}, txOpts)
	return err
}
