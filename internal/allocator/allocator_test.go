package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

// flakyStore fails IncrementAndGet a configured number of times before
// delegating to the in-memory store.
type flakyStore struct {
	*store.Memory
	mu        sync.Mutex
	failures  int
	attempted int
}

func (f *flakyStore) IncrementAndGet(ctx context.Context, collection, id, field string) (int64, error) {
	f.mu.Lock()
	f.attempted++
	fail := f.attempted <= f.failures
	f.mu.Unlock()
	if fail {
		return 0, errors.New("simulated write conflict")
	}
	return f.Memory.IncrementAndGet(ctx, collection, id, field)
}

func TestAllocateSequential(t *testing.T) {
	ctx := context.Background()
	alloc := New(store.NewMemory())

	want := []string{"UCAES20250001", "UCAES20250002", "UCAES20250003"}
	for i, expected := range want {
		id, err := alloc.Allocate(ctx, "UCAES2025")
		if err != nil {
			t.Fatalf("Allocate %d failed: %v", i+1, err)
		}
		if id != expected {
			t.Errorf("call %d: expected %s, got %s", i+1, expected, id)
		}
	}
}

func TestAllocateConcurrent(t *testing.T) {
	ctx := context.Background()
	alloc := New(store.NewMemory())

	const workers = 50
	ids := make([]string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			id, err := alloc.Allocate(ctx, "UCAES2025")
			if err != nil {
				t.Errorf("Allocate failed: %v", err)
				return
			}
			ids[slot] = id
		}(i)
	}
	wg.Wait()

	unique := make(map[string]bool, workers)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if unique[id] {
			t.Fatalf("duplicate identifier issued: %s", id)
		}
		unique[id] = true
	}
	if len(unique) != workers {
		t.Errorf("expected %d distinct identifiers, got %d", workers, len(unique))
	}
}

func TestAllocatePeriodsAreIndependent(t *testing.T) {
	ctx := context.Background()
	alloc := New(store.NewMemory())

	id2025, err := alloc.Allocate(ctx, "UCAES2025")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	id2026, err := alloc.Allocate(ctx, "UCAES2026")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if id2025 != "UCAES20250001" || id2026 != "UCAES20260001" {
		t.Errorf("counters not scoped by period: %s / %s", id2025, id2026)
	}
}

func TestAllocateRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Memory: store.NewMemory(), failures: 2}
	alloc := New(flaky, WithRetry(5, time.Millisecond))

	id, err := alloc.Allocate(ctx, "UCAES2025")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if id != "UCAES20250001" {
		t.Errorf("expected sequence id after retries, got %s", id)
	}
	if IsFallbackID(id) {
		t.Error("transient failures should not produce a fallback id")
	}
}

func TestAllocateFallsBackAfterExhaustion(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Memory: store.NewMemory(), failures: 100}
	fixed := time.Date(2025, 8, 31, 12, 0, 0, 0, time.UTC)
	alloc := New(flaky, WithRetry(3, time.Millisecond), WithClock(func() time.Time { return fixed }))

	id, err := alloc.Allocate(ctx, "UCAES2025")
	if err != nil {
		t.Fatalf("Allocate should fall back, not fail: %v", err)
	}

	expected := fmt.Sprintf("UCAES2025-T%d", fixed.UnixMilli())
	if id != expected {
		t.Errorf("expected fallback id %s, got %s", expected, id)
	}
	if !IsFallbackID(id) {
		t.Error("fallback id not recognized by IsFallbackID")
	}
	if IsFallbackID(FormatSequenceID("UCAES2025", 42)) {
		t.Error("sequence id misclassified as fallback")
	}
}

func TestAllocateValidation(t *testing.T) {
	ctx := context.Background()
	alloc := New(store.NewMemory())

	_, err := alloc.Allocate(ctx, "  ")
	var verr *shared.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for blank period key, got %v", err)
	}
}

func TestPeek(t *testing.T) {
	ctx := context.Background()
	alloc := New(store.NewMemory())

	value, err := alloc.Peek(ctx, "UCAES2025")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if value != 0 {
		t.Errorf("expected 0 before first allocation, got %d", value)
	}

	if _, err := alloc.Allocate(ctx, "UCAES2025"); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if _, err := alloc.Allocate(ctx, "UCAES2025"); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	value, err = alloc.Peek(ctx, "UCAES2025")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if value != 2 {
		t.Errorf("expected 2, got %d", value)
	}
}
