// Operator tool for the end-of-year progression run. Dry-run by default:
// prints the per-student plan for review and writes nothing. Level
// advancement has no automatic rollback, so -execute is an explicit opt-in.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"ucaes_registrar/internal/progression"
	"ucaes_registrar/internal/shared"
	"ucaes_registrar/internal/store"
)

func main() {
	var (
		execute    = flag.Bool("execute", false, "apply the plan (default is dry-run)")
		nextPeriod = flag.String("next-period", "", "period key to advance to, e.g. UCAES2026 (required with -execute)")
		nextYear   = flag.String("next-year", "", "academic year label, e.g. 2026/2027")
		actor      = flag.String("actor", "registrar", "operator recorded on the period change")
		increment  = flag.Int("increment", 100, "level increment per progression")
		maxLevel   = flag.Int("max-level", 400, "maximum level; students at this level are ineligible")
		envFile    = flag.String("env", ".env", "path to .env file")
	)
	flag.Parse()

	shared.LoadEnv(*envFile)

	cfg, err := shared.LoadRegistrarConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	client, db, err := shared.ConnectMongoDB(&cfg.MongoDB)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer shared.DisconnectMongoDB(client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st := store.NewMongo(db)
	engine := progression.NewEngine(st)

	current, err := progression.CurrentPeriod(ctx, st)
	if err != nil {
		log.Printf("Warning: could not determine current period: %v", err)
	} else {
		log.Printf("Current period: %s (%s)", current.PeriodKey, current.AcademicYear)
	}

	students, err := engine.LoadStudents(ctx)
	if err != nil {
		log.Fatalf("Failed to load students: %v", err)
	}

	policy := progression.Policy{LevelIncrement: int32(*increment), MaxLevel: int32(*maxLevel)}
	plans := progression.PlanProgression(students, policy)
	printPlans(plans)

	if !*execute {
		log.Printf("Dry run: %d students planned, nothing written. Re-run with -execute to apply.", len(plans))
		return
	}

	if *nextPeriod == "" {
		log.Fatal("-next-period is required with -execute")
	}

	next := shared.AcademicPeriod{
		ID:           shared.CurrentPeriodDocID,
		PeriodKey:    *nextPeriod,
		AcademicYear: *nextYear,
	}
	result, plans, err := engine.ExecuteProgression(ctx, plans, next, *actor)
	if err != nil {
		log.Fatalf("Progression failed: %v", err)
	}

	printPlans(plans)
	log.Printf("Progression complete: %d updated, %d skipped, %d failed; period advanced to %s",
		result.Updated, result.Skipped, result.Failed, next.PeriodKey)
	for _, msg := range result.Errors {
		log.Printf("  error: %s", msg)
	}
}

func printPlans(plans []progression.Plan) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tREG NO\tLEVEL\tNEW LEVEL\tELIGIBLE\tEXECUTED\tNOTE")
	for _, plan := range plans {
		note := plan.Reason
		if plan.Error != "" {
			note = plan.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\t%t\t%s\n",
			plan.StudentID, plan.RegistrationNumber, plan.CurrentLevel, plan.NewLevel,
			plan.Eligible, plan.Executed, note)
	}
	w.Flush()
}
