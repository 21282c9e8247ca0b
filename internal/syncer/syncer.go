// Package syncer propagates an identifier or attribute change from a
// canonical source into the denormalized copies held by other collections.
// There is no transaction spanning the targets, so propagation is best-effort
// with a per-target audit report: every target is attempted independently,
// every patch is idempotent, and re-invoking the same propagation converges
// instead of double-applying.
package syncer

import (
	"context"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"ucaes_registrar/internal/resolver"
	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

// Per-target outcomes.
const (
	OutcomeApplied         = "applied"
	OutcomeSkippedNotFound = "skipped-not-found"
	OutcomeFailed          = "failed"
)

// shadowPrefix marks provenance fields holding pre-overwrite values.
const shadowPrefix = "original_"

// FieldChange is one field to patch on each target. When Expected is non-nil
// and the target's current value differs from it, the current value is
// preserved under original_<field> before being overwritten.
type FieldChange struct {
	Field    string
	New      interface{}
	Expected interface{}
}

// Target names one collection to patch and the candidate keys used to find
// the matching record there (same precedence rules as any resolver lookup).
type Target struct {
	Collection string
	Keys       []resolver.CandidateKey
}

// TargetResult is the audit entry for one target.
type TargetResult struct {
	Collection    string `json:"collection"`
	Outcome       string `json:"outcome"`
	FieldsChanged int    `json:"fields_changed"`
	Reason        string `json:"reason,omitempty"`
}

// PropagationReport lists every target's outcome. It is returned even when
// some targets fail; the caller selectively retries by re-invoking Propagate.
type PropagationReport struct {
	Results []TargetResult `json:"results"`
}

// Counts returns how many targets were applied, skipped, and failed.
func (r PropagationReport) Counts() (applied, skipped, failed int) {
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeApplied:
			applied++
		case OutcomeSkippedNotFound:
			skipped++
		case OutcomeFailed:
			failed++
		}
	}
	return
}

// PartialFailure returns a PartialFailureError when any target failed, nil
// otherwise. Skipped targets are not failures.
func (r PropagationReport) PartialFailure() error {
	var failed []TargetResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartialFailureError{Failed: failed}
}

// PartialFailureError reports the targets a propagation could not patch.
// It is recoverable: re-invoking the same propagation retries exactly the
// work that did not land.
type PartialFailureError struct {
	Failed []TargetResult
}

func (e *PartialFailureError) Error() string {
	names := make([]string, len(e.Failed))
	for i, res := range e.Failed {
		names[i] = res.Collection
	}
	return fmt.Sprintf("propagation failed for %d target(s): %v", len(e.Failed), names)
}

// Syncer fans attribute changes out to denormalized collections.
type Syncer struct {
	store       store.Store
	resolver    *resolver.Resolver
	parallelism int
}

// New returns a Syncer using s for writes and r for per-target resolution.
func New(s store.Store, r *resolver.Resolver) *Syncer {
	return &Syncer{store: s, resolver: r, parallelism: 4}
}

// Propagate applies changes to every target and reports per-target outcomes.
// Targets run concurrently with a bounded limit; one target's failure never
// blocks another, and the synchronizer only patches existing records, never
// deletes. Cancellation mid-flight leaves a valid partial state that the next
// invocation completes.
func (s *Syncer) Propagate(ctx context.Context, changes []FieldChange, targets []Target) PropagationReport {
	results := make([]TargetResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = s.propagateTarget(gctx, changes, target)
			return nil
		})
	}
	g.Wait()

	return PropagationReport{Results: results}
}

func (s *Syncer) propagateTarget(ctx context.Context, changes []FieldChange, target Target) TargetResult {
	result := TargetResult{Collection: target.Collection}

	doc, err := s.resolver.Resolve(ctx, target.Collection, target.Keys)
	if err != nil {
		if shared.IsNotFound(err) {
			result.Outcome = OutcomeSkippedNotFound
			return result
		}
		// Duplicate matches land here too: patching an ambiguous target
		// could corrupt the wrong record.
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		return result
	}

	set := bson.M{}
	for _, change := range changes {
		current, present := doc[change.Field]
		if present && fieldEqual(current, change.New) {
			// Already converged; re-running the propagation is a no-op.
			continue
		}
		if change.Expected != nil && present && !fieldEqual(current, change.Expected) {
			set[shadowPrefix+change.Field] = current
		}
		set[change.Field] = change.New
		result.FieldsChanged++
	}

	if len(set) == 0 {
		result.Outcome = OutcomeApplied
		return result
	}

	_, err = s.store.UpdateOne(ctx, target.Collection, bson.M{"_id": doc["_id"]}, bson.M{"$set": set})
	if err != nil {
		result.Outcome = OutcomeFailed
		result.FieldsChanged = 0
		result.Reason = err.Error()
		return result
	}

	result.Outcome = OutcomeApplied
	return result
}

// StudentTargets builds one Target per collection with a shared candidate-key
// list, for the common case of patching the same student everywhere.
func StudentTargets(keys []resolver.CandidateKey, collections ...string) []Target {
	targets := make([]Target, len(collections))
	for i, collection := range collections {
		targets[i] = Target{Collection: collection, Keys: keys}
	}
	return targets
}

func fieldEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}
