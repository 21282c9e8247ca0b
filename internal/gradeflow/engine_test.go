package gradeflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

// testClock hands the engine a controllable time source so audit-stamp
// comparisons are exact.
type testClock struct {
	current time.Time
}

func (c *testClock) now() time.Time { return c.current }

func (c *testClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestEngine() (*Engine, *store.Memory, *testClock) {
	mem := store.NewMemory()
	clock := &testClock{current: time.Date(2025, 8, 31, 9, 0, 0, 0, time.UTC)}
	return NewEngine(mem, WithClock(clock.now)), mem, clock
}

func buildDraftBatch(t *testing.T, e *Engine, scores map[string]float64) *shared.GradeSubmissionBatch {
	t.Helper()
	ctx := context.Background()

	batch, err := e.CreateBatch(ctx, "AGR101_2025", "AGR-101", "UCAES2025", "lecturer-001")
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	for studentKey, score := range scores {
		if err := e.UpsertRecord(ctx, batch.ID, studentKey, score); err != nil {
			t.Fatalf("UpsertRecord failed for %s: %v", studentKey, err)
		}
	}
	return batch
}

func recordStatuses(t *testing.T, e *Engine, batchID string) map[string]string {
	t.Helper()
	records, err := e.BatchRecords(context.Background(), batchID)
	if err != nil {
		t.Fatalf("BatchRecords failed: %v", err)
	}
	statuses := make(map[string]string, len(records))
	for _, record := range records {
		statuses[record.StudentKey] = record.Status
	}
	return statuses
}

func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, _, clock := newTestEngine()
	batch := buildDraftBatch(t, engine, map[string]float64{
		"UCAES20250001": 82,
		"UCAES20250002": 61,
	})

	t.Run("submit", func(t *testing.T) {
		clock.advance(time.Minute)
		state, err := engine.Submit(ctx, batch.ID, "lecturer-001")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if state.Status != shared.StatusPendingApproval {
			t.Errorf("batch status %s, want pending_approval", state.Status)
		}
		if state.TotalStudents != 2 {
			t.Errorf("total_students %d, want 2", state.TotalStudents)
		}
		if state.MeanScore != 71.5 || state.MinScore != 61 || state.MaxScore != 82 {
			t.Errorf("score summary mean=%v min=%v max=%v", state.MeanScore, state.MinScore, state.MaxScore)
		}
	})

	t.Run("approve", func(t *testing.T) {
		clock.advance(time.Minute)
		state, err := engine.Approve(ctx, batch.ID, "director-001")
		if err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		if state.Status != shared.StatusApproved {
			t.Errorf("batch status %s, want approved", state.Status)
		}
		for key, status := range recordStatuses(t, engine, batch.ID) {
			if status != shared.StatusApproved {
				t.Errorf("record %s at %s, want approved", key, status)
			}
		}
	})

	t.Run("publish", func(t *testing.T) {
		clock.advance(time.Minute)
		state, err := engine.Publish(ctx, batch.ID, "director-001")
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if state.Status != shared.StatusPublished {
			t.Errorf("batch status %s, want published", state.Status)
		}

		records, err := engine.BatchRecords(ctx, batch.ID)
		if err != nil {
			t.Fatalf("BatchRecords failed: %v", err)
		}
		for _, record := range records {
			if record.Status != shared.StatusPublished {
				t.Errorf("record %s at %s, want published", record.StudentKey, record.Status)
			}
			if record.PublishedAt.IsZero() {
				t.Errorf("record %s has no published_at stamp", record.StudentKey)
			}
			if record.PublishedBy != "director-001" {
				t.Errorf("record %s published_by %s", record.StudentKey, record.PublishedBy)
			}
		}
	})
}

func TestApproveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, _, clock := newTestEngine()
	batch := buildDraftBatch(t, engine, map[string]float64{"UCAES20250001": 82})

	if _, err := engine.Submit(ctx, batch.ID, "lecturer-001"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := engine.Approve(ctx, batch.ID, "director-001"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	first, err := engine.BatchRecords(ctx, batch.ID)
	if err != nil {
		t.Fatalf("BatchRecords failed: %v", err)
	}

	// A duplicate retry (or double operator click) arrives later.
	clock.advance(time.Hour)
	if _, err := engine.Approve(ctx, batch.ID, "director-002"); err != nil {
		t.Fatalf("second Approve must be safe: %v", err)
	}

	second, err := engine.BatchRecords(ctx, batch.ID)
	if err != nil {
		t.Fatalf("BatchRecords failed: %v", err)
	}
	for i := range first {
		if !first[i].ApprovedAt.Equal(second[i].ApprovedAt) {
			t.Errorf("record %s approved_at re-stamped: %v -> %v",
				first[i].StudentKey, first[i].ApprovedAt, second[i].ApprovedAt)
		}
		if second[i].ApprovedBy != first[i].ApprovedBy {
			t.Errorf("record %s approved_by rewritten to %s", first[i].StudentKey, second[i].ApprovedBy)
		}
		if second[i].Status != shared.StatusApproved {
			t.Errorf("record %s status %s after re-approve", second[i].StudentKey, second[i].Status)
		}
	}
}

func TestRecordsNeverAheadOfBatch(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine()
	batch := buildDraftBatch(t, engine, map[string]float64{"UCAES20250001": 82})

	if _, err := engine.Submit(ctx, batch.ID, "lecturer-001"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Publishing a pending batch must be refused outright.
	_, err := engine.Publish(ctx, batch.ID, "director-001")
	var conflict *shared.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError publishing a pending batch, got %v", err)
	}

	state, err := engine.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	for key, status := range recordStatuses(t, engine, batch.ID) {
		if shared.StatusAhead(status, state.Status) {
			t.Errorf("record %s (%s) is ahead of batch (%s)", key, status, state.Status)
		}
	}
}

func TestDuplicateBatchConflict(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine()
	batch := buildDraftBatch(t, engine, map[string]float64{"UCAES20250001": 82})

	_, err := engine.CreateBatch(ctx, "AGR101_2025", "AGR-101", "UCAES2025", "lecturer-001")
	var conflict *shared.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ConflictingID != batch.ID {
		t.Errorf("conflict error must carry the existing batch id, got %s", conflict.ConflictingID)
	}
}

func TestRejectAndResubmit(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine()
	batch := buildDraftBatch(t, engine, map[string]float64{"UCAES20250001": 30})

	if _, err := engine.Submit(ctx, batch.ID, "lecturer-001"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	state, err := engine.Reject(ctx, batch.ID, "director-001", "scores look transposed")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if state.Status != shared.StatusRejected {
		t.Errorf("batch status %s, want rejected", state.Status)
	}
	if state.RejectionReason != "scores look transposed" {
		t.Errorf("rejection reason not recorded: %q", state.RejectionReason)
	}
	for key, status := range recordStatuses(t, engine, batch.ID) {
		if status != shared.StatusRejected {
			t.Errorf("record %s at %s, want rejected", key, status)
		}
	}

	// The rejected batch stays behind as audit trail; a fresh batch for the
	// same course/period/lecturer is allowed through.
	fresh, err := engine.CreateBatch(ctx, "AGR101_2025", "AGR-101", "UCAES2025", "lecturer-001")
	if err != nil {
		t.Fatalf("resubmission after rejection must be allowed: %v", err)
	}
	if fresh.ID == batch.ID {
		t.Error("resubmission must create a new batch, not resurrect the rejected one")
	}

	// Rejection is terminal for the old batch.
	if _, err := engine.Submit(ctx, batch.ID, "lecturer-001"); !errors.As(err, new(*shared.ConflictError)) {
		t.Errorf("submitting a rejected batch must conflict, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	engine, mem, _ := newTestEngine()

	t.Run("empty batch", func(t *testing.T) {
		batch := buildDraftBatch(t, engine, nil)
		_, err := engine.Submit(ctx, batch.ID, "lecturer-001")
		if !errors.As(err, new(*shared.ValidationError)) {
			t.Errorf("expected ValidationError for empty batch, got %v", err)
		}
	})

	t.Run("record without score", func(t *testing.T) {
		batch, err := engine.CreateBatch(ctx, "AGR102_2025", "AGR-102", "UCAES2025", "lecturer-001")
		if err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}
		// A record seeded outside the engine, with no score.
		if err := mem.InsertOne(ctx, shared.ColGradeRecords, bson.M{
			"_id": "r-bad", "submission_id": batch.ID, "student_key": "UCAES20250009",
			"status": shared.StatusDraft,
		}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		_, err = engine.Submit(ctx, batch.ID, "lecturer-001")
		if !errors.As(err, new(*shared.ValidationError)) {
			t.Errorf("expected ValidationError for missing score, got %v", err)
		}
	})

	t.Run("score out of range", func(t *testing.T) {
		batch, err := engine.CreateBatch(ctx, "AGR103_2025", "AGR-103", "UCAES2025", "lecturer-001")
		if err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}
		if err := engine.UpsertRecord(ctx, batch.ID, "UCAES20250001", 140); !errors.As(err, new(*shared.ValidationError)) {
			t.Errorf("expected ValidationError for score 140, got %v", err)
		}
	})
}

func TestStudentPublishedGradesFilterOnRecordStatus(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine()
	batch := buildDraftBatch(t, engine, map[string]float64{"UCAES20250001": 82})

	if _, err := engine.Submit(ctx, batch.ID, "lecturer-001"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := engine.Approve(ctx, batch.ID, "director-001"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// Approved but not published: invisible to the student.
	grades, err := engine.StudentPublishedGrades(ctx, "UCAES20250001", "")
	if err != nil {
		t.Fatalf("StudentPublishedGrades failed: %v", err)
	}
	if len(grades) != 0 {
		t.Fatalf("unpublished grades leaked to student view: %+v", grades)
	}

	if _, err := engine.Publish(ctx, batch.ID, "director-001"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	grades, err = engine.StudentPublishedGrades(ctx, "UCAES20250001", "UCAES2025")
	if err != nil {
		t.Fatalf("StudentPublishedGrades failed: %v", err)
	}
	if len(grades) != 1 {
		t.Fatalf("expected 1 published grade, got %d", len(grades))
	}
	if grades[0].Grade != "A" || grades[0].Score != 82 {
		t.Errorf("unexpected grade payload: %+v", grades[0])
	}
}
