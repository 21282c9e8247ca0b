package store

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Memory is an in-memory Store. Every operation runs under one mutex, so the
// single-call atomicity the interface promises (conditional updates,
// IncrementAndGet) holds under concurrent use. Intended for tests and
// dry-runs; it implements only the filter and update operators Store
// documents.
type Memory struct {
	mu          sync.Mutex
	collections map[string][]bson.M
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]bson.M)}
}

func (m *Memory) FindOne(ctx context.Context, collection string, filter bson.M) (bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range m.collections[collection] {
		if matchFilter(doc, filter) {
			return cloneDoc(doc), nil
		}
	}
	return nil, ErrNoDocument
}

func (m *Memory) Find(ctx context.Context, collection string, filter bson.M, limit int64) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var docs []bson.M
	for _, doc := range m.collections[collection] {
		if matchFilter(doc, filter) {
			docs = append(docs, cloneDoc(doc))
			if limit > 0 && int64(len(docs)) >= limit {
				break
			}
		}
	}
	return docs, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, doc := range m.collections[collection] {
		if matchFilter(doc, filter) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) InsertOne(ctx context.Context, collection string, doc bson.M) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, ok := doc["_id"]
	if !ok {
		return fmt.Errorf("insert into %s: document has no _id", collection)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.collections[collection] {
		if valuesEqual(existing["_id"], id) {
			return fmt.Errorf("insert into %s: duplicate _id %v", collection, id)
		}
	}
	m.collections[collection] = append(m.collections[collection], cloneDoc(doc))
	return nil
}

func (m *Memory) UpdateOne(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range m.collections[collection] {
		if matchFilter(doc, filter) {
			modified, err := applyUpdate(doc, update, false)
			if err != nil {
				return UpdateResult{}, err
			}
			res := UpdateResult{Matched: 1}
			if modified {
				res.Modified = 1
			}
			return res, nil
		}
	}
	return UpdateResult{}, nil
}

func (m *Memory) UpdateMany(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var res UpdateResult
	for _, doc := range m.collections[collection] {
		if matchFilter(doc, filter) {
			modified, err := applyUpdate(doc, update, false)
			if err != nil {
				return UpdateResult{}, err
			}
			res.Matched++
			if modified {
				res.Modified++
			}
		}
	}
	return res, nil
}

func (m *Memory) UpsertOne(ctx context.Context, collection string, filter, update bson.M) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range m.collections[collection] {
		if matchFilter(doc, filter) {
			modified, err := applyUpdate(doc, update, false)
			if err != nil {
				return UpdateResult{}, err
			}
			res := UpdateResult{Matched: 1}
			if modified {
				res.Modified = 1
			}
			return res, nil
		}
	}

	// Insert path: seed the new document from the filter's equality fields,
	// then apply $set and $setOnInsert.
	doc := bson.M{}
	for field, value := range filter {
		if _, isOp := value.(bson.M); !isOp {
			doc[field] = value
		}
	}
	if _, err := applyUpdate(doc, update, true); err != nil {
		return UpdateResult{}, err
	}
	if _, ok := doc["_id"]; !ok {
		return UpdateResult{}, fmt.Errorf("upsert into %s: inserted document has no _id", collection)
	}
	m.collections[collection] = append(m.collections[collection], doc)
	return UpdateResult{Matched: 1, Modified: 1}, nil
}

func (m *Memory) IncrementAndGet(ctx context.Context, collection, id, field string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range m.collections[collection] {
		if valuesEqual(doc["_id"], id) {
			current, _ := toInt64(doc[field])
			current++
			doc[field] = current
			return current, nil
		}
	}

	m.collections[collection] = append(m.collections[collection], bson.M{
		"_id":        id,
		field:        int64(1),
		"created_at": time.Now(),
	})
	return 1, nil
}

// ============================================================================
// Filter / update evaluation
// ============================================================================

func matchFilter(doc, filter bson.M) bool {
	for field, expected := range filter {
		actual, present := doc[field]

		if op, ok := expected.(bson.M); ok {
			if !matchOperators(actual, present, op) {
				return false
			}
			continue
		}

		if !present || !valuesEqual(actual, expected) {
			return false
		}
	}
	return true
}

func matchOperators(actual interface{}, present bool, op bson.M) bool {
	for name, operand := range op {
		switch name {
		case "$ne":
			if present && valuesEqual(actual, operand) {
				return false
			}
		case "$in":
			if !present || !inList(actual, operand) {
				return false
			}
		case "$nin":
			if present && inList(actual, operand) {
				return false
			}
		case "$exists":
			want, _ := operand.(bool)
			if present != want {
				return false
			}
		default:
			// Unsupported operator: fail closed so a typo never silently
			// matches everything.
			return false
		}
	}
	return true
}

func inList(actual, operand interface{}) bool {
	rv := reflect.ValueOf(operand)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(actual, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	f, ok := toFloat64(v)
	return int64(f), ok
}

func applyUpdate(doc, update bson.M, inserting bool) (bool, error) {
	modified := false
	for name, operand := range update {
		fields, ok := operand.(bson.M)
		if !ok {
			return false, fmt.Errorf("update operator %s: expected document operand, got %T", name, operand)
		}
		switch name {
		case "$set":
			for field, value := range fields {
				if current, present := doc[field]; !present || !valuesEqual(current, value) {
					doc[field] = cloneValue(value)
					modified = true
				}
			}
		case "$inc":
			for field, value := range fields {
				delta, ok := toInt64(value)
				if !ok {
					return false, fmt.Errorf("$inc on %s: non-numeric delta %T", field, value)
				}
				current, _ := toInt64(doc[field])
				doc[field] = current + delta
				modified = true
			}
		case "$setOnInsert":
			if inserting {
				for field, value := range fields {
					doc[field] = cloneValue(value)
					modified = true
				}
			}
		default:
			return false, fmt.Errorf("unsupported update operator %s", name)
		}
	}
	return modified, nil
}

// ============================================================================
// Deep copies
// ============================================================================

func cloneDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for field, value := range doc {
		out[field] = cloneValue(value)
	}
	return out
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case bson.M:
		return cloneDoc(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}
