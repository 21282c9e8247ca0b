// Package gradeflow advances grade-submission batches and their per-student
// records through draft → pending_approval → approved → published, with a
// rejection branch out of pending_approval.
//
// Batch-to-record fan-out is not atomic across records, so every transition
// is built to be re-invoked: the batch document flips through a guarded
// conditional update, and the fan-out filters on the records' current status
// so already-transitioned records are skipped, never re-stamped. A record's
// status can lag its batch but never lead it.
package gradeflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

// Engine is the grade workflow state machine.
type Engine struct {
	store store.Store
	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine backed by s.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ============================================================================
// Batch construction
// ============================================================================

// CreateBatch opens a draft submission for one course/period/lecturer.
// A live (non-rejected) batch for the same triple is a conflict carrying the
// existing batch's id; a rejected batch does not block resubmission, so the
// audit trail of the rejection is preserved instead of being resurrected.
func (e *Engine) CreateBatch(ctx context.Context, courseID, courseCode, periodKey, lecturerID string) (*shared.GradeSubmissionBatch, error) {
	switch {
	case courseID == "":
		return nil, &shared.ValidationError{Field: "courseID", Message: "must not be empty"}
	case periodKey == "":
		return nil, &shared.ValidationError{Field: "periodKey", Message: "must not be empty"}
	case lecturerID == "":
		return nil, &shared.ValidationError{Field: "lecturerID", Message: "must not be empty"}
	}

	existing, err := e.store.FindOne(ctx, shared.ColGradeBatches, bson.M{
		"course_id":   courseID,
		"period_key":  periodKey,
		"lecturer_id": lecturerID,
		"status":      bson.M{"$ne": shared.StatusRejected},
	})
	if err == nil {
		id, _ := shared.GetString(existing["_id"])
		return nil, &shared.ConflictError{
			Resource:      shared.ColGradeBatches,
			ConflictingID: id,
			Message:       fmt.Sprintf("duplicate submission for course %s in %s", courseID, periodKey),
		}
	}
	if err != store.ErrNoDocument {
		return nil, err
	}

	batch := &shared.GradeSubmissionBatch{
		ID:         e.newID(),
		CourseID:   courseID,
		CourseCode: courseCode,
		PeriodKey:  periodKey,
		LecturerID: lecturerID,
		Status:     shared.StatusDraft,
		CreatedAt:  e.now(),
	}

	doc := bson.M{
		"_id":         batch.ID,
		"course_id":   batch.CourseID,
		"course_code": batch.CourseCode,
		"period_key":  batch.PeriodKey,
		"lecturer_id": batch.LecturerID,
		"status":      batch.Status,
		"created_at":  batch.CreatedAt,
	}
	if err := e.store.InsertOne(ctx, shared.ColGradeBatches, doc); err != nil {
		return nil, err
	}
	return batch, nil
}

// UpsertRecord sets one student's score on a draft batch, deriving the letter
// grade. Re-entering a score before submission overwrites the previous entry.
func (e *Engine) UpsertRecord(ctx context.Context, batchID, studentKey string, score float64) error {
	if studentKey == "" {
		return &shared.ValidationError{Field: "studentKey", Message: "must not be empty"}
	}
	letter, err := LetterGrade(score)
	if err != nil {
		return err
	}

	batch, err := e.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status != shared.StatusDraft {
		return &shared.ConflictError{
			Resource:      shared.ColGradeBatches,
			ConflictingID: batchID,
			Message:       fmt.Sprintf("cannot enter scores while batch is %s", batch.Status),
		}
	}

	filter := bson.M{"submission_id": batchID, "student_key": studentKey}
	update := bson.M{
		"$set": bson.M{
			"score":      score,
			"grade":      letter,
			"status":     shared.StatusDraft,
			"course_id":  batch.CourseID,
			"period_key": batch.PeriodKey,
			"updated_at": e.now(),
		},
		"$setOnInsert": bson.M{"_id": e.newID()},
	}
	_, err = e.store.UpsertOne(ctx, shared.ColGradeRecords, filter, update)
	return err
}

// ============================================================================
// Transitions
// ============================================================================

// Submit moves a draft batch to pending_approval. Every record must carry a
// score with a derivable letter grade; the batch's total_students and score
// summary are set from the records at this point.
func (e *Engine) Submit(ctx context.Context, batchID, lecturerID string) (*shared.GradeSubmissionBatch, error) {
	records, err := e.store.Find(ctx, shared.ColGradeRecords, bson.M{"submission_id": batchID}, 0)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &shared.ValidationError{Field: "records", Message: "batch has no grade records"}
	}

	scores := make([]float64, 0, len(records))
	for _, record := range records {
		score, err := shared.GetFloat64(record["score"])
		if err != nil {
			key, _ := shared.GetString(record["student_key"])
			return nil, &shared.ValidationError{Field: "score", Message: fmt.Sprintf("student %s has no score", key)}
		}
		if _, err := LetterGrade(score); err != nil {
			key, _ := shared.GetString(record["student_key"])
			return nil, &shared.ValidationError{Field: "score", Message: fmt.Sprintf("student %s has no derivable grade", key)}
		}
		scores = append(scores, score)
	}
	mean, min, max := scoreSummary(scores)

	set := bson.M{
		"submitted_at":   e.now(),
		"total_students": int32(len(records)),
		"mean_score":     mean,
		"min_score":      min,
		"max_score":      max,
	}
	if err := e.flipBatch(ctx, batchID, shared.StatusDraft, shared.StatusPendingApproval, set); err != nil {
		return nil, err
	}

	fanout := bson.M{"$set": bson.M{
		"status":     shared.StatusPendingApproval,
		"updated_at": e.now(),
	}}
	filter := bson.M{"submission_id": batchID, "status": shared.StatusDraft}
	if _, err := e.store.UpdateMany(ctx, shared.ColGradeRecords, filter, fanout); err != nil {
		return nil, fmt.Errorf("submit fan-out for batch %s: %w", batchID, err)
	}

	return e.GetBatch(ctx, batchID)
}

// Approve moves a pending batch to approved and fans the status out to its
// records. Safe to invoke more than once: already-approved records are
// filtered out, so audit stamps are never rewritten.
func (e *Engine) Approve(ctx context.Context, batchID, approver string) (*shared.GradeSubmissionBatch, error) {
	if approver == "" {
		return nil, &shared.ValidationError{Field: "approver", Message: "must not be empty"}
	}

	set := bson.M{"approved_at": e.now(), "approved_by": approver}
	if err := e.flipBatch(ctx, batchID, shared.StatusPendingApproval, shared.StatusApproved, set); err != nil {
		return nil, err
	}

	fanout := bson.M{"$set": bson.M{
		"status":      shared.StatusApproved,
		"approved_at": e.now(),
		"approved_by": approver,
		"updated_at":  e.now(),
	}}
	filter := bson.M{
		"submission_id": batchID,
		"status":        bson.M{"$in": []string{shared.StatusDraft, shared.StatusPendingApproval}},
	}
	if _, err := e.store.UpdateMany(ctx, shared.ColGradeRecords, filter, fanout); err != nil {
		return nil, fmt.Errorf("approve fan-out for batch %s: %w", batchID, err)
	}

	return e.GetBatch(ctx, batchID)
}

// Reject moves a pending batch to rejected, returning control to the
// submitter. Resubmission happens through a fresh CreateBatch; the rejected
// batch and its records stay behind as the audit trail.
func (e *Engine) Reject(ctx context.Context, batchID, approver, reason string) (*shared.GradeSubmissionBatch, error) {
	if approver == "" {
		return nil, &shared.ValidationError{Field: "approver", Message: "must not be empty"}
	}
	if reason == "" {
		return nil, &shared.ValidationError{Field: "reason", Message: "must not be empty"}
	}

	set := bson.M{"rejected_at": e.now(), "rejected_by": approver, "rejection_reason": reason}
	if err := e.flipBatch(ctx, batchID, shared.StatusPendingApproval, shared.StatusRejected, set); err != nil {
		return nil, err
	}

	fanout := bson.M{"$set": bson.M{
		"status":           shared.StatusRejected,
		"rejection_reason": reason,
		"updated_at":       e.now(),
	}}
	filter := bson.M{
		"submission_id": batchID,
		"status":        bson.M{"$in": []string{shared.StatusDraft, shared.StatusPendingApproval}},
	}
	if _, err := e.store.UpdateMany(ctx, shared.ColGradeRecords, filter, fanout); err != nil {
		return nil, fmt.Errorf("reject fan-out for batch %s: %w", batchID, err)
	}

	return e.GetBatch(ctx, batchID)
}

// Publish is the sole release gate making records visible to students. The
// batch flips approved → published, then every record not yet published gets
// its status and published_at/published_by stamped.
func (e *Engine) Publish(ctx context.Context, batchID, publisher string) (*shared.GradeSubmissionBatch, error) {
	if publisher == "" {
		return nil, &shared.ValidationError{Field: "publisher", Message: "must not be empty"}
	}

	set := bson.M{"published_at": e.now(), "published_by": publisher}
	if err := e.flipBatch(ctx, batchID, shared.StatusApproved, shared.StatusPublished, set); err != nil {
		return nil, err
	}

	fanout := bson.M{"$set": bson.M{
		"status":       shared.StatusPublished,
		"published_at": e.now(),
		"published_by": publisher,
		"updated_at":   e.now(),
	}}
	filter := bson.M{
		"submission_id": batchID,
		"status":        bson.M{"$ne": shared.StatusPublished},
	}
	if _, err := e.store.UpdateMany(ctx, shared.ColGradeRecords, filter, fanout); err != nil {
		return nil, fmt.Errorf("publish fan-out for batch %s: %w", batchID, err)
	}

	return e.GetBatch(ctx, batchID)
}

// flipBatch is the guarded state flip: a single conditional update matching
// on the expected current status. When nothing matches, a batch already at
// the target status means a retried invocation resuming its fan-out (not an
// error); anything else is a typed conflict naming the actual status.
func (e *Engine) flipBatch(ctx context.Context, batchID, from, to string, set bson.M) error {
	set["status"] = to
	res, err := e.store.UpdateOne(ctx, shared.ColGradeBatches,
		bson.M{"_id": batchID, "status": from},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.Matched == 1 {
		return nil
	}

	doc, err := e.store.FindOne(ctx, shared.ColGradeBatches, bson.M{"_id": batchID})
	if err == store.ErrNoDocument {
		return &shared.NotFoundError{Collection: shared.ColGradeBatches, Keys: []string{batchID}}
	}
	if err != nil {
		return err
	}

	status, _ := shared.GetString(doc["status"])
	if status == to {
		return nil // already flipped; caller re-runs the idempotent fan-out
	}
	return &shared.ConflictError{
		Resource:      shared.ColGradeBatches,
		ConflictingID: batchID,
		Message:       fmt.Sprintf("cannot move batch from %s to %s: batch is %s", from, to, status),
	}
}

// ============================================================================
// Reads
// ============================================================================

// GetBatch loads one batch by id.
func (e *Engine) GetBatch(ctx context.Context, batchID string) (*shared.GradeSubmissionBatch, error) {
	doc, err := e.store.FindOne(ctx, shared.ColGradeBatches, bson.M{"_id": batchID})
	if err == store.ErrNoDocument {
		return nil, &shared.NotFoundError{Collection: shared.ColGradeBatches, Keys: []string{batchID}}
	}
	if err != nil {
		return nil, err
	}
	return documentToBatch(doc), nil
}

// BatchRecords loads every record belonging to a batch.
func (e *Engine) BatchRecords(ctx context.Context, batchID string) ([]shared.StudentGradeRecord, error) {
	docs, err := e.store.Find(ctx, shared.ColGradeRecords, bson.M{"submission_id": batchID}, 0)
	if err != nil {
		return nil, err
	}
	records := make([]shared.StudentGradeRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, documentToRecord(doc))
	}
	return records, nil
}

// StudentPublishedGrades is the student-facing read. It filters strictly on
// the per-record status, never on the batch's: publish fan-out may be
// mid-flight, and only the record's own published flag makes it visible.
func (e *Engine) StudentPublishedGrades(ctx context.Context, studentKey, periodKey string) ([]shared.StudentGradeRecord, error) {
	if studentKey == "" {
		return nil, &shared.ValidationError{Field: "studentKey", Message: "must not be empty"}
	}

	filter := bson.M{"student_key": studentKey, "status": shared.StatusPublished}
	if periodKey != "" {
		filter["period_key"] = periodKey
	}

	docs, err := e.store.Find(ctx, shared.ColGradeRecords, filter, 0)
	if err != nil {
		return nil, err
	}
	records := make([]shared.StudentGradeRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, documentToRecord(doc))
	}
	return records, nil
}

// ============================================================================
// Document mapping
// ============================================================================

func documentToBatch(doc bson.M) *shared.GradeSubmissionBatch {
	batch := &shared.GradeSubmissionBatch{}
	batch.ID, _ = shared.GetString(doc["_id"])
	batch.CourseID, _ = shared.GetString(doc["course_id"])
	batch.CourseCode, _ = shared.GetString(doc["course_code"])
	batch.PeriodKey, _ = shared.GetString(doc["period_key"])
	batch.LecturerID, _ = shared.GetString(doc["lecturer_id"])
	batch.Status, _ = shared.GetString(doc["status"])
	batch.TotalStudents, _ = shared.GetInt32(doc["total_students"])
	batch.MeanScore, _ = shared.GetFloat64(doc["mean_score"])
	batch.MinScore, _ = shared.GetFloat64(doc["min_score"])
	batch.MaxScore, _ = shared.GetFloat64(doc["max_score"])
	batch.RejectionReason, _ = shared.GetString(doc["rejection_reason"])
	batch.ApprovedBy, _ = shared.GetString(doc["approved_by"])
	batch.PublishedBy, _ = shared.GetString(doc["published_by"])
	batch.RejectedBy, _ = shared.GetString(doc["rejected_by"])

	if t, err := shared.GetTime(doc["created_at"]); err == nil {
		batch.CreatedAt = t
	}
	if t, err := shared.GetTime(doc["submitted_at"]); err == nil {
		batch.SubmittedAt = t
	}
	if t, err := shared.GetTime(doc["approved_at"]); err == nil {
		batch.ApprovedAt = t
	}
	if t, err := shared.GetTime(doc["published_at"]); err == nil {
		batch.PublishedAt = t
	}
	if t, err := shared.GetTime(doc["rejected_at"]); err == nil {
		batch.RejectedAt = t
	}
	return batch
}

func documentToRecord(doc bson.M) shared.StudentGradeRecord {
	record := shared.StudentGradeRecord{}
	record.ID, _ = shared.GetString(doc["_id"])
	record.SubmissionID, _ = shared.GetString(doc["submission_id"])
	record.StudentKey, _ = shared.GetString(doc["student_key"])
	record.CourseID, _ = shared.GetString(doc["course_id"])
	record.PeriodKey, _ = shared.GetString(doc["period_key"])
	record.Status, _ = shared.GetString(doc["status"])
	record.Score, _ = shared.GetFloat64(doc["score"])
	record.Grade, _ = shared.GetString(doc["grade"])
	record.ApprovedBy, _ = shared.GetString(doc["approved_by"])
	record.PublishedBy, _ = shared.GetString(doc["published_by"])

	if t, err := shared.GetTime(doc["approved_at"]); err == nil {
		record.ApprovedAt = t
	}
	if t, err := shared.GetTime(doc["published_at"]); err == nil {
		record.PublishedAt = t
	}
	if t, err := shared.GetTime(doc["updated_at"]); err == nil {
		record.UpdatedAt = t
	}
	return record
}
