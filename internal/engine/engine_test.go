package engine_test

import (
	"context"
	"testing"
	"time"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/plan"
)

const testPlan = `
project:
  id: proj-1
  name: Bridge retrofit
  start: 2026-01-05
activities:
  - id: A
    name: Design
    duration_days: 5
    distribution:
      type: triangular
      min: 3
      likely: 5
      max: 9
  - id: B
    name: Build
    duration_days: 3
    predecessors:
      - id: A
`

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func importTestPlan(t *testing.T, env testEnv) {
	t.Helper()
	f, err := plan.FromYAML([]byte(testPlan))
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	if _, _, err := env.Engine.ImportPlan(env.Ctx, f, "tester"); err != nil {
		t.Fatalf("import plan: %v", err)
	}
}

func TestImportPlan(t *testing.T) {
	env := newTestEnv(t)
	f, err := plan.FromYAML([]byte(testPlan))
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	p, n, err := env.Engine.ImportPlan(env.Ctx, f, "tester")
	if err != nil {
		t.Fatalf("import plan: %v", err)
	}
	if p.ID != "proj-1" || n != 2 {
		t.Fatalf("got project %s with %d activities", p.ID, n)
	}
	acts, err := env.Engine.Repo.ListActivities(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(acts) != 2 || acts[0].ID != "A" || acts[1].ID != "B" {
		t.Fatalf("stored activities wrong: %+v", acts)
	}
	if len(acts[1].Predecessors) != 1 || acts[1].Predecessors[0].PredecessorID != "A" {
		t.Fatalf("link not stored: %+v", acts[1].Predecessors)
	}
}

func TestImportPlanReplacesNetwork(t *testing.T) {
	env := newTestEnv(t)
	importTestPlan(t, env)
	importTestPlan(t, env)
	acts, err := env.Engine.Repo.ListActivities(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("re-import duplicated rows: %d", len(acts))
	}
}

func TestRunSchedulePersistsDates(t *testing.T) {
	env := newTestEnv(t)
	importTestPlan(t, env)

	net, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("run schedule: %v", err)
	}
	wantFinish := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if !net.ProjectFinish.Equal(wantFinish) {
		t.Fatalf("project finish %v, want %v", net.ProjectFinish, wantFinish)
	}

	acts, err := env.Engine.Repo.ListActivities(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	b := acts[1]
	if !b.EarlyStart.Equal(time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("B early start not persisted: %v", b.EarlyStart)
	}
	if !b.Critical || b.TotalFloat != 0 {
		t.Fatalf("B should be critical with zero float: %+v", b)
	}
}

func TestRunCheck(t *testing.T) {
	env := newTestEnv(t)
	importTestPlan(t, env)

	findings, net, err := env.Engine.RunCheck(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("run check: %v", err)
	}
	if net == nil || len(findings) == 0 {
		t.Fatalf("expected findings for the open-ended chain")
	}
	// A has no predecessor and B has no successor.
	kinds := map[string]bool{}
	for _, f := range findings {
		kinds[string(f.Kind)] = true
	}
	if !kinds["no_predecessor"] || !kinds["open_end"] {
		t.Fatalf("missing structural findings: %v", kinds)
	}
}

func TestRunSimulateDeterministic(t *testing.T) {
	env := newTestEnv(t)
	importTestPlan(t, env)

	opts := engine.SimulateOptions{Iterations: 50, Seed: 42, SeedSet: true}
	first, err := env.Engine.RunSimulate(env.Ctx, "proj-1", "tester", opts)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	second, err := env.Engine.RunSimulate(env.Ctx, "proj-1", "tester", opts)
	if err != nil {
		t.Fatalf("simulate again: %v", err)
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("each run needs a fresh id: %q vs %q", first.RunID, second.RunID)
	}
	if first.Iterations != 50 || len(first.TotalDurations) != 50 {
		t.Fatalf("iteration count: %d", first.Iterations)
	}
	for i := range first.TotalDurations {
		if first.TotalDurations[i] != second.TotalDurations[i] {
			t.Fatalf("same seed diverged at %d", i)
		}
	}
}

func TestEventLog(t *testing.T) {
	env := newTestEnv(t)
	importTestPlan(t, env)
	if _, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "tester"); err != nil {
		t.Fatalf("run schedule: %v", err)
	}
	if _, err := env.Engine.RunSimulate(env.Ctx, "proj-1", "tester", engine.SimulateOptions{Iterations: 10}); err != nil {
		t.Fatalf("run simulate: %v", err)
	}

	evs, err := env.Engine.Repo.ListEvents(env.Ctx, "proj-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []string
	for _, ev := range evs {
		types = append(types, ev.Type)
		if ev.ActorID != "tester" {
			t.Fatalf("actor not recorded: %+v", ev)
		}
	}
	// Newest first.
	want := []string{"simulate.run", "schedule.run", "plan.import"}
	if len(types) != len(want) {
		t.Fatalf("event types %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types %v, want %v", types, want)
		}
	}
}

func TestResolveProject(t *testing.T) {
	env := newTestEnv(t)
	importTestPlan(t, env)

	p, err := env.Engine.ResolveProject(env.Ctx, "proj-1")
	if err != nil || p.ID != "proj-1" {
		t.Fatalf("by id: %v", err)
	}
	// Empty id falls back to the configured project.
	p, err = env.Engine.ResolveProject(env.Ctx, "")
	if err != nil || p.ID != "proj-1" {
		t.Fatalf("config fallback: %v", err)
	}
	// Without config the single stored project wins.
	env.Engine.Config = nil
	p, err = env.Engine.ResolveProject(env.Ctx, "")
	if err != nil || p.ID != "proj-1" {
		t.Fatalf("single project fallback: %v", err)
	}
	if _, err := env.Engine.ResolveProject(env.Ctx, "missing"); err == nil {
		t.Fatalf("expected not found")
	}
}
