// Package store defines the narrow document-store surface the registrar
// engines depend on. Mongo backs it in production; Memory backs it in tests.
//
// The interface deliberately exposes only the primitives whose semantics the
// engines rely on: equality-filtered reads, filtered single/bulk updates, and
// one atomic increment. Everything that must be atomic goes through a single
// call; nothing here offers a cross-collection transaction.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrNoDocument is returned by FindOne when nothing matches the filter.
var ErrNoDocument = errors.New("store: no matching document")

// UpdateResult reports how many documents a write matched and modified.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Store is the document-store surface shared by all registrar engines.
//
// Filters support equality plus the $ne, $in, $nin and $exists operators.
// Updates support $set and $inc (plus $setOnInsert on upserting calls).
// Both implementations honor these; code must not assume more.
type Store interface {
	// FindOne returns the first document matching filter, or ErrNoDocument.
	FindOne(ctx context.Context, collection string, filter bson.M) (bson.M, error)

	// Find returns up to limit documents matching filter (limit <= 0 means no limit).
	Find(ctx context.Context, collection string, filter bson.M, limit int64) ([]bson.M, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, collection string, filter bson.M) (int64, error)

	// InsertOne inserts doc. The document must carry an _id.
	InsertOne(ctx context.Context, collection string, doc bson.M) error

	// UpdateOne applies update to the first document matching filter.
	// A filter that matches nothing yields Matched == 0, not an error;
	// conditional state flips depend on exactly this.
	UpdateOne(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error)

	// UpdateMany applies update to every document matching filter.
	UpdateMany(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error)

	// UpsertOne applies update to the first match, inserting when nothing
	// matches. $setOnInsert fields apply only on the insert path.
	UpsertOne(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error)

	// IncrementAndGet atomically increments field on the document with the
	// given _id and returns the post-increment value. The document is created
	// with field == 1 when absent; the first creator wins and concurrent
	// losers fall through to ordinary increments.
	IncrementAndGet(ctx context.Context, collection, id, field string) (int64, error)
}
