package progression

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

func seedStudent(t *testing.T, m *store.Memory, id string, level int32) {
	t.Helper()
	if err := m.InsertOne(context.Background(), shared.ColStudents, bson.M{
		"_id":                 id,
		"registration_number": id,
		"current_level":       level,
		"current_year":        level / 100,
		"created_at":          time.Now(),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestPlanProgression(t *testing.T) {
	students := []shared.StudentRecord{
		{ID: "s1", CurrentLevel: 100, CurrentYear: 1},
		{ID: "s2", CurrentLevel: 300, CurrentYear: 3},
		{ID: "s3", CurrentLevel: 400, CurrentYear: 4},
	}

	plans := PlanProgression(students, DefaultPolicy())
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}

	if !plans[0].Eligible || plans[0].NewLevel != 200 || plans[0].NewYear != 2 {
		t.Errorf("level 100 plan wrong: %+v", plans[0])
	}
	if !plans[1].Eligible || plans[1].NewLevel != 400 {
		t.Errorf("level 300 plan wrong: %+v", plans[1])
	}
	if plans[2].Eligible {
		t.Errorf("level 400 student must be ineligible: %+v", plans[2])
	}
	if plans[2].Reason != ReasonAtMaxLevel {
		t.Errorf("expected reason %q, got %q", ReasonAtMaxLevel, plans[2].Reason)
	}
	if plans[2].NewLevel != 400 {
		t.Errorf("ineligible plan must not propose a new level: %+v", plans[2])
	}
}

func TestExecuteProgression(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedStudent(t, mem, "UCAES20240001", 100)
	seedStudent(t, mem, "UCAES20240002", 400)
	engine := NewEngine(mem)

	students, err := engine.LoadStudents(ctx)
	if err != nil {
		t.Fatalf("LoadStudents failed: %v", err)
	}
	plans := PlanProgression(students, DefaultPolicy())

	next := shared.AcademicPeriod{ID: shared.CurrentPeriodDocID, PeriodKey: "UCAES2026", AcademicYear: "2026/2027"}
	result, plans, err := engine.ExecuteProgression(ctx, plans, next, "registrar")
	if err != nil {
		t.Fatalf("ExecuteProgression failed: %v", err)
	}

	if result.Updated != 1 || result.Skipped != 1 || result.Failed != 0 {
		t.Errorf("result %+v, want 1 updated / 1 skipped", result)
	}
	if !result.PeriodAdvanced {
		t.Error("period pointer not advanced")
	}

	doc, err := mem.FindOne(ctx, shared.ColStudents, bson.M{"_id": "UCAES20240001"})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if level, _ := shared.GetInt32(doc["current_level"]); level != 200 {
		t.Errorf("eligible student at level %d, want 200", level)
	}

	doc, _ = mem.FindOne(ctx, shared.ColStudents, bson.M{"_id": "UCAES20240002"})
	if level, _ := shared.GetInt32(doc["current_level"]); level != 400 {
		t.Errorf("ineligible student moved to level %d", level)
	}

	for _, plan := range plans {
		if plan.Eligible && !plan.Executed {
			t.Errorf("eligible plan for %s not marked executed", plan.StudentID)
		}
		if !plan.Eligible && plan.Executed {
			t.Errorf("ineligible plan for %s marked executed", plan.StudentID)
		}
	}

	period, err := CurrentPeriod(ctx, mem)
	if err != nil {
		t.Fatalf("CurrentPeriod failed: %v", err)
	}
	if period.PeriodKey != "UCAES2026" {
		t.Errorf("current period %s, want UCAES2026", period.PeriodKey)
	}
}

func TestExecuteProgressionAllIneligible(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedStudent(t, mem, "UCAES20220001", 400)
	seedStudent(t, mem, "UCAES20220002", 400)
	engine := NewEngine(mem)

	students, _ := engine.LoadStudents(ctx)
	plans := PlanProgression(students, DefaultPolicy())

	next := shared.AcademicPeriod{PeriodKey: "UCAES2026"}
	result, _, err := engine.ExecuteProgression(ctx, plans, next, "registrar")
	if err != nil {
		t.Fatalf("ExecuteProgression failed: %v", err)
	}
	if result.Updated != 0 || result.Skipped != 2 {
		t.Errorf("result %+v, want 0 updated / 2 skipped", result)
	}

	docs, _ := mem.Find(ctx, shared.ColStudents, bson.M{}, 0)
	for _, doc := range docs {
		if level, _ := shared.GetInt32(doc["current_level"]); level != 400 {
			t.Errorf("student %v changed level to %d", doc["_id"], level)
		}
	}
}

func TestExecuteProgressionReportsMissingStudents(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedStudent(t, mem, "UCAES20240001", 100)
	engine := NewEngine(mem)

	plans := PlanProgression([]shared.StudentRecord{
		{ID: "UCAES20240001", CurrentLevel: 100},
		{ID: "UCAES20249999", CurrentLevel: 100}, // deleted between plan and execute
	}, DefaultPolicy())

	result, plans, err := engine.ExecuteProgression(ctx, plans, shared.AcademicPeriod{PeriodKey: "UCAES2026"}, "registrar")
	if err != nil {
		t.Fatalf("individual failures must not be fatal: %v", err)
	}
	if result.Updated != 1 || result.Failed != 1 {
		t.Errorf("result %+v, want 1 updated / 1 failed", result)
	}
	// One student's failure never blocks the period pointer: everything was
	// attempted first.
	if !result.PeriodAdvanced {
		t.Error("period pointer must still advance after all attempts")
	}
	if plans[1].Executed || plans[1].Error == "" {
		t.Errorf("missing student's plan not reported: %+v", plans[1])
	}
}

func TestExecuteProgressionValidation(t *testing.T) {
	engine := NewEngine(store.NewMemory())
	_, _, err := engine.ExecuteProgression(context.Background(), nil, shared.AcademicPeriod{}, "registrar")
	if !errors.As(err, new(*shared.ValidationError)) {
		t.Errorf("expected ValidationError for empty period key, got %v", err)
	}
}

func TestCurrentPeriodPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("centralized document wins", func(t *testing.T) {
		mem := store.NewMemory()
		if err := mem.InsertOne(ctx, shared.ColConfig, bson.M{
			"_id": shared.CurrentPeriodDocID, "period_key": "UCAES2025", "academic_year": "2025/2026",
		}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		if err := mem.InsertOne(ctx, shared.ColLegacySettings, bson.M{
			"_id": "settings", "current_year": "2019",
		}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		period, err := CurrentPeriod(ctx, mem)
		if err != nil {
			t.Fatalf("CurrentPeriod failed: %v", err)
		}
		if period.PeriodKey != "UCAES2025" {
			t.Errorf("legacy settings overrode the centralized document: %s", period.PeriodKey)
		}
	})

	t.Run("legacy fallback when centralized missing", func(t *testing.T) {
		mem := store.NewMemory()
		if err := mem.InsertOne(ctx, shared.ColLegacySettings, bson.M{
			"_id": "settings", "current_year": "2024",
		}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		period, err := CurrentPeriod(ctx, mem)
		if err != nil {
			t.Fatalf("CurrentPeriod failed: %v", err)
		}
		if period.PeriodKey != "UCAES2024" {
			t.Errorf("expected legacy-derived period UCAES2024, got %s", period.PeriodKey)
		}
		if period.AcademicYear != "2024/2025" {
			t.Errorf("expected academic year 2024/2025, got %s", period.AcademicYear)
		}
	})

	t.Run("neither source present", func(t *testing.T) {
		_, err := CurrentPeriod(ctx, store.NewMemory())
		if !shared.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})
}
