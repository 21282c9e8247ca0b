// Package resolver finds the canonical record for a logical student inside a
// target collection. Several independently-keyed collections each hold a
// denormalized copy of the same student with no foreign key between them, so
// lookups go through an explicit precedence list of candidate keys instead of
// "try a few queries, take the first hit".
package resolver

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

// Candidate key field names shared across the student collections.
const (
	FieldRegistrationNumber = "registration_number"
	FieldIndexNumber        = "index_number"
	FieldEmail              = "email"
	FieldDocumentID         = "document_id"
)

// CandidateKey is one field/value pair to try during resolution. Keys are
// tried in slice order; callers put immutable keys (registration number,
// assigned once) ahead of editable ones (email).
type CandidateKey struct {
	Field string
	Value string
}

// Resolver performs read-only canonical-record lookups. It never writes, so
// it is safe to call speculatively and to retry freely.
type Resolver struct {
	store store.Store
}

// New returns a Resolver backed by s.
func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve tries each candidate key in order with an exact-equality lookup and
// returns the first single match. A key matching more than one record is a
// data-integrity condition surfaced as DuplicateMatchError, never silently
// collapsed to one record; no key matching anything yields NotFoundError.
// Blank-valued keys are skipped.
func (r *Resolver) Resolve(ctx context.Context, collection string, keys []CandidateKey) (bson.M, error) {
	if collection == "" {
		return nil, &shared.ValidationError{Field: "collection", Message: "must not be empty"}
	}

	tried := make([]string, 0, len(keys))
	for _, key := range keys {
		if key.Field == "" || key.Value == "" {
			continue
		}
		tried = append(tried, key.Field)

		// Fetch two: one means canonical, two means ambiguity.
		docs, err := r.store.Find(ctx, collection, bson.M{key.Field: key.Value}, 2)
		if err != nil {
			return nil, err
		}

		switch len(docs) {
		case 0:
			continue
		case 1:
			return docs[0], nil
		default:
			count, err := r.store.Count(ctx, collection, bson.M{key.Field: key.Value})
			if err != nil {
				count = int64(len(docs))
			}
			return nil, &shared.DuplicateMatchError{
				Collection: collection,
				Key:        key.Field,
				Value:      key.Value,
				Count:      count,
			}
		}
	}

	return nil, &shared.NotFoundError{Collection: collection, Keys: tried}
}

// StudentPrecedence builds the standard candidate list for student lookups:
// registration number first (assigned once, immutable), then index number,
// email, and document id. Blank values are dropped here so callers can pass
// whatever subset they hold.
func StudentPrecedence(registrationNumber, indexNumber, email, documentID string) []CandidateKey {
	candidates := []CandidateKey{
		{Field: FieldRegistrationNumber, Value: registrationNumber},
		{Field: FieldIndexNumber, Value: indexNumber},
		{Field: FieldEmail, Value: email},
		{Field: FieldDocumentID, Value: documentID},
	}

	keys := candidates[:0]
	for _, c := range candidates {
		if c.Value != "" {
			keys = append(keys, c)
		}
	}
	return keys
}
