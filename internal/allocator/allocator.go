// Package allocator issues human-readable sequential registration numbers
// scoped by an academic period key, e.g. UCAES20250001 for period UCAES2025.
package allocator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

const (
	counterField = "last_number"

	// fallbackMarker separates a timestamp-derived identifier from the
	// sequence space. Sequence IDs end in exactly four digits; fallback IDs
	// carry "-T" followed by unix milliseconds, so the two can never collide
	// and each is recognizable on sight.
	fallbackMarker = "-T"
)

// Allocator hands out collision-free sequential identifiers. Concurrency
// safety comes entirely from the store's atomic increment; the allocator
// itself holds no state beyond configuration.
type Allocator struct {
	store      store.Store
	collection string
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithRetry sets the attempt budget and base backoff for transient store
// errors before the timestamp fallback kicks in.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(a *Allocator) {
		if maxRetries > 0 {
			a.maxRetries = maxRetries
		}
		a.backoff = backoff
	}
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// New returns an Allocator backed by s, storing counters in the
// registration_counters collection.
func New(s store.Store, opts ...Option) *Allocator {
	a := &Allocator{
		store:      s,
		collection: shared.ColCounters,
		maxRetries: 5,
		backoff:    50 * time.Millisecond,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns the next identifier for periodKey. The underlying counter
// is created on first use; increments are a single atomic read-modify-write,
// so concurrent callers for the same period never receive the same sequence
// number. After the retry budget is exhausted the caller gets a timestamp
// fallback identifier instead of blocking indefinitely.
func (a *Allocator) Allocate(ctx context.Context, periodKey string) (string, error) {
	if strings.TrimSpace(periodKey) == "" {
		return "", &shared.ValidationError{Field: "periodKey", Message: "must not be empty"}
	}

	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(a.backoff * time.Duration(attempt)):
			}
		}

		seq, err := a.store.IncrementAndGet(ctx, a.collection, periodKey, counterField)
		if err == nil {
			return FormatSequenceID(periodKey, seq), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		log.Printf("allocator: increment for %s failed (attempt %d/%d): %v", periodKey, attempt+1, a.maxRetries, err)
	}

	fallback := a.fallbackID(periodKey)
	log.Printf("allocator: retries exhausted for %s, issuing fallback id %s (last error: %v)", periodKey, fallback, lastErr)
	return fallback, nil
}

// Peek returns the counter's current value without incrementing it. A period
// with no counter yet reads as zero.
func (a *Allocator) Peek(ctx context.Context, periodKey string) (int64, error) {
	doc, err := a.store.FindOne(ctx, a.collection, bson.M{"_id": periodKey})
	if err == store.ErrNoDocument {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return shared.GetInt64(doc[counterField])
}

func (a *Allocator) fallbackID(periodKey string) string {
	return fmt.Sprintf("%s%s%d", periodKey, fallbackMarker, a.now().UnixMilli())
}

// FormatSequenceID builds the canonical identifier for a sequence number:
// the period key followed by the number zero-padded to four digits.
func FormatSequenceID(periodKey string, seq int64) string {
	return fmt.Sprintf("%s%04d", periodKey, seq)
}

// IsFallbackID reports whether id was issued by the timestamp fallback path.
func IsFallbackID(id string) bool {
	return strings.Contains(id, fallbackMarker)
}
