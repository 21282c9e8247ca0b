package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ucaes_registrar/internal/shared"
)

// Mongo implements Store on a *mongo.Database.
type Mongo struct {
	db *mongo.Database
}

// NewMongo wraps db as a Store.
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

func (m *Mongo) FindOne(ctx context.Context, collection string, filter bson.M) (bson.M, error) {
	var doc bson.M
	err := m.db.Collection(collection).FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("find one in %s: %w", collection, err)
	}
	return doc, nil
}

func (m *Mongo) Find(ctx context.Context, collection string, filter bson.M, limit int64) ([]bson.M, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode document from %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error in %s: %w", collection, err)
	}
	return docs, nil
}

func (m *Mongo) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	count, err := m.db.Collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", collection, err)
	}
	return count, nil
}

func (m *Mongo) InsertOne(ctx context.Context, collection string, doc bson.M) error {
	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

func (m *Mongo) UpdateOne(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error) {
	res, err := m.db.Collection(collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("update one in %s: %w", collection, err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (m *Mongo) UpdateMany(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error) {
	res, err := m.db.Collection(collection).UpdateMany(ctx, filter, update)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("update many in %s: %w", collection, err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (m *Mongo) UpsertOne(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error) {
	opts := options.Update().SetUpsert(true)
	res, err := m.db.Collection(collection).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("upsert in %s: %w", collection, err)
	}
	matched := res.MatchedCount
	if res.UpsertedCount > 0 {
		matched += res.UpsertedCount
	}
	return UpdateResult{Matched: matched, Modified: res.ModifiedCount + res.UpsertedCount}, nil
}

// IncrementAndGet is a single FindOneAndUpdate round trip: $inc with upsert
// and ReturnDocument(After). MongoDB serializes concurrent callers on the
// document, so no two callers ever observe the same value.
func (m *Mongo) IncrementAndGet(ctx context.Context, collection, id, field string) (int64, error) {
	filter := bson.M{"_id": id}
	update := bson.M{
		"$inc":         bson.M{field: int64(1)},
		"$setOnInsert": bson.M{"created_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc bson.M
	if err := m.db.Collection(collection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, fmt.Errorf("increment %s.%s: %w", collection, field, err)
	}

	value, err := shared.GetInt64(doc[field])
	if err != nil {
		return 0, fmt.Errorf("increment %s.%s: %w", collection, field, err)
	}
	return value, nil
}
