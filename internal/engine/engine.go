package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/check"
	"planline/internal/config"
	"planline/internal/cpm"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/plan"
	"planline/internal/repo"
	"planline/internal/risk"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ResolveProject returns the project by id, falling back to the
// configured project and then to the single stored project.
func (e Engine) ResolveProject(ctx context.Context, id string) (domain.Project, error) {
	if id == "" && e.Config != nil {
		id = e.Config.Project.ID
	}
	if id != "" {
		return e.Repo.GetProject(ctx, id)
	}
	return e.Repo.SingleProject(ctx)
}

// Thresholds maps the workspace config to checker thresholds.
func (e Engine) Thresholds() domain.ThresholdConfig {
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default("")
	}
	return domain.ThresholdConfig{
		LongLagDays:      cfg.Thresholds.LongLagDays,
		LargeFloatDays:   cfg.Thresholds.LargeFloatDays,
		LongDurationDays: cfg.Thresholds.LongDurationDays,
	}
}

// ImportPlan validates a plan file and replaces the project's network
// with its contents. Returns the project and the activity count.
func (e Engine) ImportPlan(ctx context.Context, f *plan.File, actorID string) (domain.Project, int, error) {
	if err := f.Validate(); err != nil {
		return domain.Project{}, 0, err
	}
	acts, cals, dists, err := f.Network()
	if err != nil {
		return domain.Project{}, 0, err
	}
	start, status, err := f.Dates()
	if err != nil {
		return domain.Project{}, 0, err
	}

	p := domain.Project{
		ID:           f.Project.ID,
		Name:         f.Project.Name,
		Status:       "active",
		ProjectStart: start.Format("2006-01-02"),
		StatusDate:   status.Format("2006-01-02"),
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, 0, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, 0, fmt.Errorf("upsert project: %w", err)
	}
	if err := e.Repo.ReplaceCalendarsTx(ctx, tx, p.ID, cals); err != nil {
		return domain.Project{}, 0, err
	}
	if err := e.Repo.ReplaceActivitiesTx(ctx, tx, p.ID, acts, dists); err != nil {
		return domain.Project{}, 0, err
	}
	if err := e.Events.Append(ctx, tx, "plan.import", p.ID, "project", p.ID, actorID, events.EventPayload{
		"activities": len(acts),
		"calendars":  len(cals),
	}); err != nil {
		return domain.Project{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, 0, err
	}
	return p, len(acts), nil
}

// LoadInput assembles the scheduler input for a stored project.
func (e Engine) LoadInput(ctx context.Context, projectID string) (cpm.Input, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return cpm.Input{}, err
	}
	acts, err := e.Repo.ListActivities(ctx, projectID)
	if err != nil {
		return cpm.Input{}, err
	}
	cals, err := e.Repo.ListCalendars(ctx, projectID)
	if err != nil {
		return cpm.Input{}, err
	}
	start, err := time.Parse("2006-01-02", p.ProjectStart)
	if err != nil {
		return cpm.Input{}, fmt.Errorf("project start: %w", err)
	}
	status, err := time.Parse("2006-01-02", p.StatusDate)
	if err != nil {
		return cpm.Input{}, fmt.Errorf("status date: %w", err)
	}
	return cpm.Input{
		Activities:   acts,
		Calendars:    cals,
		ProjectStart: start.UTC(),
		StatusDate:   status.UTC(),
	}, nil
}

// RunSchedule computes the CPM schedule for a project and persists the
// computed dates.
func (e Engine) RunSchedule(ctx context.Context, projectID, actorID string) (*cpm.Network, error) {
	in, err := e.LoadInput(ctx, projectID)
	if err != nil {
		return nil, err
	}
	net, err := cpm.Schedule(in)
	if err != nil {
		return nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveComputedTx(ctx, tx, projectID, net.Activities); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.run", projectID, "project", projectID, actorID, events.EventPayload{
		"project_finish": net.ProjectFinish.Format("2006-01-02"),
		"total_duration": net.TotalDuration,
		"critical":       len(net.CriticalPath()),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return net, nil
}

// RunCheck schedules the project in memory and evaluates the quality
// rules against it. Nothing is persisted.
func (e Engine) RunCheck(ctx context.Context, projectID string) ([]domain.Finding, *cpm.Network, error) {
	in, err := e.LoadInput(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	net, err := cpm.Schedule(in)
	if err != nil {
		return nil, nil, err
	}
	return check.Run(net, e.Thresholds()), net, nil
}

// SimulateOptions override the configured simulation parameters when
// non-zero.
type SimulateOptions struct {
	Iterations int
	Seed       int64
	SeedSet    bool
	Workers    int
}

// RunSimulate runs the Monte Carlo engine for a project and logs a
// summary event. The result carries a fresh run id.
func (e Engine) RunSimulate(ctx context.Context, projectID, actorID string, opts SimulateOptions) (*domain.SimulationResult, error) {
	in, err := e.LoadInput(ctx, projectID)
	if err != nil {
		return nil, err
	}
	net, err := cpm.Schedule(in)
	if err != nil {
		return nil, err
	}
	dists, err := e.Repo.ListDistributions(ctx, projectID)
	if err != nil {
		return nil, err
	}

	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(projectID)
	}
	iterations := cfg.Simulation.Iterations
	if opts.Iterations > 0 {
		iterations = opts.Iterations
	}
	seed := cfg.Simulation.Seed
	if opts.SeedSet {
		seed = opts.Seed
	}
	workers := cfg.Simulation.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	res, err := risk.Simulate(ctx, risk.Input{
		Network:       net,
		Distributions: dists,
		Iterations:    iterations,
		Seed:          seed,
		Workers:       workers,
	})
	if err != nil {
		return nil, err
	}
	res.RunID = uuid.NewString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "simulate.run", projectID, "project", projectID, actorID, events.EventPayload{
		"run_id":     res.RunID,
		"requested":  res.Requested,
		"iterations": res.Iterations,
		"canceled":   res.Canceled,
		"seed":       res.Seed,
		"p50":        res.Percentile(50),
		"p80":        res.Percentile(80),
		"p90":        res.Percentile(90),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}
