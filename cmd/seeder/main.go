// Development database seeder. Drops the configured database and rebuilds a
// small consistent data set: the current-period document, students spread
// across the three denormalized collections, and one draft grade batch ready
// for the submit → approve → publish walk-through.
package main

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"ucaes_registrar/internal/allocator"
	"ucaes_registrar/internal/gradeflow"
	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

const (
	currentPeriodKey = "UCAES2025"
	academicYear     = "2025/2026"

	lecturerID = "lecturer-001"
	courseID   = "AGR101_2025"
	courseCode = "AGR-101"
)

type studentSeed struct {
	Surname    string
	OtherNames string
	Email      string
	IndexNo    string
	DocumentID string
	Programme  string
	Level      int32
	Score      float64
}

func main() {
	log.Println("Starting registrar database seeder...")

	shared.LoadEnv(".env")

	cfg, err := shared.LoadRegistrarConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	client, db, err := shared.ConnectMongoDB(&cfg.MongoDB)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer shared.DisconnectMongoDB(client)

	if err := db.Drop(context.Background()); err != nil {
		log.Fatalf("Failed to drop database: %v", err)
	}
	log.Println("Database cleared.")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st := store.NewMongo(db)

	// --- 1. Current period (centralized config document) ---
	if err := st.InsertOne(ctx, shared.ColConfig, bson.M{
		"_id":           shared.CurrentPeriodDocID,
		"period_key":    currentPeriodKey,
		"academic_year": academicYear,
		"updated_at":    time.Now(),
		"updated_by":    "seeder",
	}); err != nil {
		log.Fatalf("Failed to seed current period: %v", err)
	}

	// --- 2. Students across the three collections ---
	seeds := []studentSeed{
		{"Mensah", "Kofi", "kofi.mensah@example.com", "AG/2025/001", "GHA-0001", "BSc Agriculture", 100, 82},
		{"Owusu", "Ama", "ama.owusu@example.com", "AG/2025/002", "GHA-0002", "BSc Agriculture", 100, 74},
		{"Asante", "Yaw", "yaw.asante@example.com", "EV/2022/014", "GHA-0014", "BSc Environmental Science", 400, 68},
	}

	alloc := allocator.New(st,
		allocator.WithRetry(cfg.Allocator.MaxRetries, cfg.Allocator.RetryBackoff))

	engine := gradeflow.NewEngine(st)
	batch, err := engine.CreateBatch(ctx, courseID, courseCode, currentPeriodKey, lecturerID)
	if err != nil {
		log.Fatalf("Failed to create grade batch: %v", err)
	}

	for i, seed := range seeds {
		regNo, err := alloc.Allocate(ctx, currentPeriodKey)
		if err != nil {
			log.Fatalf("Failed to allocate registration number: %v", err)
		}

		studentID := regNo
		now := time.Now()

		if err := st.InsertOne(ctx, shared.ColStudents, bson.M{
			"_id":                 studentID,
			"registration_number": regNo,
			"index_number":        seed.IndexNo,
			"email":               seed.Email,
			"document_id":         seed.DocumentID,
			"surname":             seed.Surname,
			"other_names":         seed.OtherNames,
			"programme":           seed.Programme,
			"current_level":       seed.Level,
			"current_year":        seed.Level / 100,
			"entry_period":        currentPeriodKey,
			"created_at":          now,
		}); err != nil {
			log.Fatalf("Failed to seed student %s: %v", regNo, err)
		}

		// Denormalized copies: legacy intake record and auth account.
		if err := st.InsertOne(ctx, shared.ColLegacyStudents, bson.M{
			"_id":                 "legacy-" + regNo,
			"registration_number": regNo,
			"index_number":        seed.IndexNo,
			"email":               seed.Email,
			"document_id":         seed.DocumentID,
			"name":                seed.OtherNames + " " + seed.Surname,
			"level":               seed.Level,
		}); err != nil {
			log.Fatalf("Failed to seed legacy record for %s: %v", regNo, err)
		}
		if err := st.InsertOne(ctx, shared.ColUsers, bson.M{
			"_id":                 "user-" + regNo,
			"email":               seed.Email,
			"registration_number": regNo,
			"index_number":        seed.IndexNo,
			"role":                shared.RoleStudent,
			"name":                seed.OtherNames + " " + seed.Surname,
			"is_active":           true,
			"created_at":          now,
		}); err != nil {
			log.Fatalf("Failed to seed user account for %s: %v", regNo, err)
		}

		if err := engine.UpsertRecord(ctx, batch.ID, regNo, seed.Score); err != nil {
			log.Fatalf("Failed to seed grade record for %s: %v", regNo, err)
		}
		log.Printf("Seeded student %d: %s (%s %s)", i+1, regNo, seed.OtherNames, seed.Surname)
	}

	log.Printf("Seeded draft batch %s for %s with %d records.", batch.ID, courseCode, len(seeds))
	log.Println("Seeding complete.")
}
