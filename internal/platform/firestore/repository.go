package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot plus its server timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository wraps typed access to one collection. Writes join the transaction carried by
// ctx when there is one; plain reads never do.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](provider *Provider, collection string) *BaseRepository[T] {
	return &BaseRepository[T]{provider: provider, collection: strings.TrimSpace(collection)}
}

// Collection returns the collection name.
func (r *BaseRepository[T]) Collection() string { return r.collection }

// Create writes a new document and fails with a conflict when the id is taken.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := r.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return WrapError(r.op("create"), tx.Create(ref, value))
	}
	_, err = ref.Create(ctx, value)
	return WrapError(r.op("create"), err)
}

// Set upserts the document.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := r.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return WrapError(r.op("set"), tx.Set(ref, value))
	}
	_, err = ref.Set(ctx, value)
	return WrapError(r.op("set"), err)
}

// Update applies field updates; a missing document is reported as not found.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) error {
	ref, err := r.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return WrapError(r.op("update"), tx.Update(ref, updates, preconds...))
	}
	_, err = ref.Update(ctx, updates, preconds...)
	return WrapError(r.op("update"), err)
}

// Delete removes the document. Deleting a missing document is not an error.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	ref, err := r.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return WrapError(r.op("delete"), tx.Delete(ref))
	}
	_, err = ref.Delete(ctx)
	return WrapError(r.op("delete"), err)
}

// Get reads and decodes the document outside of any transaction.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := r.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.decode(snap)
}

// GetForUpdate reads through the ctx transaction when present so a following write is
// conditioned on this read.
func (r *BaseRepository[T]) GetForUpdate(ctx context.Context, id string) (Document[T], error) {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return r.Get(ctx, id)
	}
	ref, err := r.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.decode(snap)
}

// Query runs build against the collection and decodes every match.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	query, err := r.query(ctx, build)
	if err != nil {
		return nil, err
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		doc, err := r.decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Count runs a server-side count aggregation over the built query.
func (r *BaseRepository[T]) Count(ctx context.Context, build QueryBuilder) (int64, error) {
	query, err := r.query(ctx, build)
	if err != nil {
		return 0, err
	}
	result, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, WrapError(r.op("count"), err)
	}
	return aggregateInt(result["total"])
}

// Ref exposes the document reference, e.g. for transforms such as firestore.Increment.
func (r *BaseRepository[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NotFound(r.op("document"), errors.New("document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) query(ctx context.Context, build QueryBuilder) (firestore.Query, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	return query, nil
}

func (r *BaseRepository[T]) decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s/%s: %w", r.collection, snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if r.collection == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return name + "." + action
}

func aggregateInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case *firestorepb.Value:
		return v.GetIntegerValue(), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("firestore: unexpected aggregation value %T", raw)
	}
}
