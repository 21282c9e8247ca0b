// Package progression advances student level/year pointers at the end of an
// academic year. Planning is pure and read-only; execution applies the plan
// student by student and only touches the shared current-period pointer after
// every student update has been attempted. There is no automatic rollback, so
// operators review a dry-run plan before committing.
package progression

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

// ReasonAtMaxLevel marks students who cannot progress further.
const ReasonAtMaxLevel = "at max level"

// Policy holds the progression rules for one run.
type Policy struct {
	LevelIncrement int32
	MaxLevel       int32
}

// DefaultPolicy is the standard four-year degree ladder: levels 100..400 in
// steps of 100.
func DefaultPolicy() Policy {
	return Policy{LevelIncrement: 100, MaxLevel: 400}
}

// Plan is one student's proposed transition. Plans are ephemeral: computed
// fresh per run, reviewed, executed or discarded, never persisted as
// authoritative state.
type Plan struct {
	StudentID          string `json:"student_id"`
	RegistrationNumber string `json:"registration_number"`
	CurrentLevel       int32  `json:"current_level"`
	NewLevel           int32  `json:"new_level"`
	CurrentYear        int32  `json:"current_year"`
	NewYear            int32  `json:"new_year"`
	Eligible           bool   `json:"eligible"`
	Reason             string `json:"reason,omitempty"`
	Executed           bool   `json:"executed"`
	Error              string `json:"error,omitempty"`
}

// Result summarizes one execution run.
type Result struct {
	Planned        int
	Updated        int
	Skipped        int
	Failed         int
	PeriodAdvanced bool
	Errors         []string
}

// PlanProgression computes a plan row per student. Pure: no reads, no writes.
func PlanProgression(students []shared.StudentRecord, policy Policy) []Plan {
	plans := make([]Plan, 0, len(students))
	for _, student := range students {
		plan := Plan{
			StudentID:          student.ID,
			RegistrationNumber: student.RegistrationNumber,
			CurrentLevel:       student.CurrentLevel,
			CurrentYear:        student.CurrentYear,
		}

		if student.CurrentLevel < policy.MaxLevel {
			plan.Eligible = true
			plan.NewLevel = student.CurrentLevel + policy.LevelIncrement
			plan.NewYear = plan.NewLevel / 100
		} else {
			plan.NewLevel = student.CurrentLevel
			plan.NewYear = student.CurrentYear
			plan.Reason = ReasonAtMaxLevel
		}
		plans = append(plans, plan)
	}
	return plans
}

// Engine executes progression plans against the store.
type Engine struct {
	store store.Store
	now   func() time.Time
}

// NewEngine returns an Engine backed by s.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// LoadStudents reads every registration record, for planning.
func (e *Engine) LoadStudents(ctx context.Context) ([]shared.StudentRecord, error) {
	docs, err := e.store.Find(ctx, shared.ColStudents, bson.M{}, 0)
	if err != nil {
		return nil, err
	}
	students := make([]shared.StudentRecord, 0, len(docs))
	for _, doc := range docs {
		students = append(students, documentToStudent(doc))
	}
	return students, nil
}

// ExecuteProgression applies every eligible plan, recording per-student
// outcomes, then advances the shared current-period pointer to next. The
// pointer moves only after all student updates have been attempted, so the
// global period never runs ahead of records still mid-migration. Individual
// failures are reported, not fatal; re-running the same plans is safe because
// a student already at the target level is an idempotent update.
func (e *Engine) ExecuteProgression(ctx context.Context, plans []Plan, next shared.AcademicPeriod, actor string) (Result, []Plan, error) {
	if next.PeriodKey == "" {
		return Result{}, plans, &shared.ValidationError{Field: "next.PeriodKey", Message: "must not be empty"}
	}

	result := Result{Planned: len(plans)}
	for i := range plans {
		plan := &plans[i]
		if !plan.Eligible {
			result.Skipped++
			continue
		}

		update := bson.M{"$set": bson.M{
			"current_level": plan.NewLevel,
			"current_year":  plan.NewYear,
			"updated_at":    e.now(),
		}}
		res, err := e.store.UpdateOne(ctx, shared.ColStudents, bson.M{"_id": plan.StudentID}, update)
		if err != nil {
			plan.Error = err.Error()
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("student %s: %v", plan.StudentID, err))
			continue
		}
		if res.Matched == 0 {
			plan.Error = "student record not found"
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("student %s: record not found", plan.StudentID))
			continue
		}
		plan.Executed = true
		result.Updated++
	}

	// Every per-student update has been attempted; only now may the shared
	// period pointer move.
	periodUpdate := bson.M{"$set": bson.M{
		"period_key":    next.PeriodKey,
		"academic_year": next.AcademicYear,
		"updated_at":    e.now(),
		"updated_by":    actor,
	}}
	if _, err := e.store.UpsertOne(ctx, shared.ColConfig, bson.M{"_id": shared.CurrentPeriodDocID}, periodUpdate); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("advance current period: %v", err))
		return result, plans, fmt.Errorf("advance current period to %s: %w", next.PeriodKey, err)
	}
	result.PeriodAdvanced = true

	return result, plans, nil
}

// CurrentPeriod reads the shared current-period pointer. The centralized
// academic_config document is authoritative; the legacy settings document is
// consulted only as a migration aid, with a logged warning.
func CurrentPeriod(ctx context.Context, s store.Store) (shared.AcademicPeriod, error) {
	doc, err := s.FindOne(ctx, shared.ColConfig, bson.M{"_id": shared.CurrentPeriodDocID})
	if err == nil {
		return documentToPeriod(doc), nil
	}
	if err != store.ErrNoDocument {
		return shared.AcademicPeriod{}, err
	}

	legacy, err := s.FindOne(ctx, shared.ColLegacySettings, bson.M{"_id": "settings"})
	if err == store.ErrNoDocument {
		return shared.AcademicPeriod{}, &shared.NotFoundError{Collection: shared.ColConfig, Keys: []string{shared.CurrentPeriodDocID}}
	}
	if err != nil {
		return shared.AcademicPeriod{}, err
	}

	year, _ := shared.GetString(legacy["current_year"])
	if year == "" {
		return shared.AcademicPeriod{}, &shared.NotFoundError{Collection: shared.ColLegacySettings, Keys: []string{"current_year"}}
	}
	log.Printf("progression: current period missing from %s, falling back to legacy settings year %s", shared.ColConfig, year)

	period := shared.AcademicPeriod{
		ID:        shared.CurrentPeriodDocID,
		PeriodKey: "UCAES" + year,
	}
	if y, err := strconv.Atoi(year); err == nil {
		period.AcademicYear = fmt.Sprintf("%d/%d", y, y+1)
	}
	return period, nil
}

func documentToStudent(doc bson.M) shared.StudentRecord {
	student := shared.StudentRecord{}
	student.ID, _ = shared.GetString(doc["_id"])
	student.RegistrationNumber, _ = shared.GetString(doc["registration_number"])
	student.IndexNumber, _ = shared.GetString(doc["index_number"])
	student.Email, _ = shared.GetString(doc["email"])
	student.DocumentID, _ = shared.GetString(doc["document_id"])
	student.Surname, _ = shared.GetString(doc["surname"])
	student.OtherNames, _ = shared.GetString(doc["other_names"])
	student.Programme, _ = shared.GetString(doc["programme"])
	student.CurrentLevel, _ = shared.GetInt32(doc["current_level"])
	student.CurrentYear, _ = shared.GetInt32(doc["current_year"])
	student.EntryPeriod, _ = shared.GetString(doc["entry_period"])
	return student
}

func documentToPeriod(doc bson.M) shared.AcademicPeriod {
	period := shared.AcademicPeriod{}
	period.ID, _ = shared.GetString(doc["_id"])
	period.PeriodKey, _ = shared.GetString(doc["period_key"])
	period.AcademicYear, _ = shared.GetString(doc["academic_year"])
	period.UpdatedBy, _ = shared.GetString(doc["updated_by"])
	if t, err := shared.GetTime(doc["updated_at"]); err == nil {
		period.UpdatedAt = t
	}
	return period
}
