package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"planline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const dateFormat = "2006-01-02"

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,status,project_start,status_date,created_at) VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, project_start=excluded.project_start, status_date=excluded.status_date`,
		p.ID, p.Name, p.Status, p.ProjectStart, p.StatusDate, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,project_start,status_date,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Status, &p.ProjectStart, &p.StatusDate, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,project_start,status_date,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.ProjectStart, &p.StatusDate, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProject returns the only stored project, used to resolve the
// active project when the CLI gets no --project flag.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// ReplaceCalendarsTx swaps a project's calendars for the given set.
func (r Repo) ReplaceCalendarsTx(ctx context.Context, tx *sql.Tx, projectID string, cals map[string]domain.Calendar) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendars WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for _, c := range cals {
		workDays, _ := json.Marshal(c.WorkDays)
		hours, _ := json.Marshal(c.HoursPerDay)
		exceptions, _ := json.Marshal(exceptionList(c.Exceptions))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calendars(id,project_id,name,work_days,hours_per_day,exceptions,is_default) VALUES (?,?,?,?,?,?,?)`,
			c.ID, projectID, c.Name, string(workDays), string(hours), string(exceptions), boolInt(c.Default)); err != nil {
			return fmt.Errorf("insert calendar %s: %w", c.ID, err)
		}
	}
	return nil
}

func (r Repo) ListCalendars(ctx context.Context, projectID string) (map[string]domain.Calendar, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,name,work_days,hours_per_day,exceptions,is_default FROM calendars WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cals := map[string]domain.Calendar{}
	for rows.Next() {
		var c domain.Calendar
		var workDays, hours, exceptions string
		var isDefault int
		if err := rows.Scan(&c.ID, &c.Name, &workDays, &hours, &exceptions, &isDefault); err != nil {
			return nil, err
		}
		c.ProjectID = projectID
		c.Default = isDefault != 0
		if err := json.Unmarshal([]byte(workDays), &c.WorkDays); err != nil {
			return nil, fmt.Errorf("calendar %s work_days: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(hours), &c.HoursPerDay); err != nil {
			return nil, fmt.Errorf("calendar %s hours_per_day: %w", c.ID, err)
		}
		var exList []string
		if err := json.Unmarshal([]byte(exceptions), &exList); err != nil {
			return nil, fmt.Errorf("calendar %s exceptions: %w", c.ID, err)
		}
		c.Exceptions = map[string]bool{}
		for _, e := range exList {
			c.Exceptions[e] = true
		}
		cals[c.ID] = c
	}
	return cals, rows.Err()
}

// ReplaceActivitiesTx swaps a project's activities, links, and
// distributions for the given network. Sequence numbers preserve the plan
// order so schedule output stays stable.
func (r Repo) ReplaceActivitiesTx(ctx context.Context, tx *sql.Tx, projectID string, acts []domain.Activity, dists map[string]domain.DurationDistribution) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE project_id=?`, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE project_id=?`, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM distributions WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for seq, a := range acts {
		var constraintDate any
		if a.Constraint.Date != nil {
			constraintDate = a.Constraint.Date.Format(dateFormat)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO activities(
			id,project_id,name,kind,duration_days,remaining_days,calendar_id,percent_complete,
			constraint_kind,constraint_date,manual,outline_level,pinned_start,actual_start,actual_finish,seq
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			a.ID, projectID, a.Name, string(a.Kind), a.DurationDays, a.RemainingDays, a.CalendarID, a.PercentComplete,
			string(a.Constraint.Kind), constraintDate, boolInt(a.Manual), a.OutlineLevel,
			dateOrNil(a.PinnedStart), dateOrNil(a.ActualStart), dateOrNil(a.ActualFinish), seq); err != nil {
			return fmt.Errorf("insert activity %s: %w", a.ID, err)
		}
		for _, l := range a.Predecessors {
			if _, err := tx.ExecContext(ctx, `INSERT INTO links(project_id,activity_id,predecessor_id,relation,lag_days) VALUES (?,?,?,?,?)`,
				projectID, a.ID, l.PredecessorID, string(l.Relation), l.LagDays); err != nil {
				return fmt.Errorf("insert link %s -> %s: %w", l.PredecessorID, a.ID, err)
			}
		}
		if d, ok := dists[a.ID]; ok && d.Type != domain.DistNone && d.Type != "" {
			if _, err := tx.ExecContext(ctx, `INSERT INTO distributions(project_id,activity_id,type,min_days,likely_days,max_days) VALUES (?,?,?,?,?,?)`,
				projectID, a.ID, string(d.Type), d.MinDays, d.LikelyDays, d.MaxDays); err != nil {
				return fmt.Errorf("insert distribution for %s: %w", a.ID, err)
			}
		}
	}
	return nil
}

func (r Repo) ListActivities(ctx context.Context, projectID string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT
		id,name,kind,duration_days,remaining_days,calendar_id,percent_complete,
		constraint_kind,constraint_date,manual,outline_level,pinned_start,actual_start,actual_finish,
		early_start,early_finish,late_start,late_finish,total_float,critical
		FROM activities WHERE project_id=? ORDER BY seq`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var acts []domain.Activity
	byID := map[string]int{}
	for rows.Next() {
		var a domain.Activity
		var remaining sql.NullInt64
		var constraintKind string
		var constraintDate, pinned, actualStart, actualFinish sql.NullString
		var earlyStart, earlyFinish, lateStart, lateFinish sql.NullString
		var manual, critical int
		if err := rows.Scan(&a.ID, &a.Name, &a.Kind, &a.DurationDays, &remaining, &a.CalendarID, &a.PercentComplete,
			&constraintKind, &constraintDate, &manual, &a.OutlineLevel, &pinned, &actualStart, &actualFinish,
			&earlyStart, &earlyFinish, &lateStart, &lateFinish, &a.TotalFloat, &critical); err != nil {
			return nil, err
		}
		a.ProjectID = projectID
		a.Manual = manual != 0
		a.Critical = critical != 0
		if remaining.Valid {
			v := int(remaining.Int64)
			a.RemainingDays = &v
		}
		a.Constraint.Kind = domain.ConstraintKind(constraintKind)
		var perr error
		if a.Constraint.Date, perr = scanDate(constraintDate); perr != nil {
			return nil, perr
		}
		if a.PinnedStart, perr = scanDate(pinned); perr != nil {
			return nil, perr
		}
		if a.ActualStart, perr = scanDate(actualStart); perr != nil {
			return nil, perr
		}
		if a.ActualFinish, perr = scanDate(actualFinish); perr != nil {
			return nil, perr
		}
		for _, pair := range []struct {
			src sql.NullString
			dst *time.Time
		}{{earlyStart, &a.EarlyStart}, {earlyFinish, &a.EarlyFinish}, {lateStart, &a.LateStart}, {lateFinish, &a.LateFinish}} {
			if pair.src.Valid {
				t, err := time.Parse(dateFormat, pair.src.String)
				if err != nil {
					return nil, err
				}
				*pair.dst = t.UTC()
			}
		}
		byID[a.ID] = len(acts)
		acts = append(acts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	linkRows, err := r.DB.QueryContext(ctx,
		`SELECT activity_id,predecessor_id,relation,lag_days FROM links WHERE project_id=? ORDER BY activity_id,predecessor_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var actID string
		var l domain.PredecessorLink
		var rel string
		if err := linkRows.Scan(&actID, &l.PredecessorID, &rel, &l.LagDays); err != nil {
			return nil, err
		}
		l.Relation = domain.RelationKind(rel)
		if i, ok := byID[actID]; ok {
			acts[i].Predecessors = append(acts[i].Predecessors, l)
		}
	}
	return acts, linkRows.Err()
}

func (r Repo) ListDistributions(ctx context.Context, projectID string) (map[string]domain.DurationDistribution, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT activity_id,type,min_days,likely_days,max_days FROM distributions WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	dists := map[string]domain.DurationDistribution{}
	for rows.Next() {
		var id, typ string
		var d domain.DurationDistribution
		if err := rows.Scan(&id, &typ, &d.MinDays, &d.LikelyDays, &d.MaxDays); err != nil {
			return nil, err
		}
		d.Type = domain.DistributionType(typ)
		dists[id] = d
	}
	return dists, rows.Err()
}

// SaveComputedTx writes the scheduler-owned fields back after a run.
func (r Repo) SaveComputedTx(ctx context.Context, tx *sql.Tx, projectID string, acts []domain.Activity) error {
	for _, a := range acts {
		if _, err := tx.ExecContext(ctx, `UPDATE activities SET
			early_start=?, early_finish=?, late_start=?, late_finish=?, total_float=?, critical=?
			WHERE project_id=? AND id=?`,
			a.EarlyStart.Format(dateFormat), a.EarlyFinish.Format(dateFormat),
			a.LateStart.Format(dateFormat), a.LateFinish.Format(dateFormat),
			a.TotalFloat, boolInt(a.Critical), projectID, a.ID); err != nil {
			return fmt.Errorf("save computed dates for %s: %w", a.ID, err)
		}
	}
	return nil
}

func (r Repo) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
		FROM events WHERE project_id=? ORDER BY id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateFormat)
}

func scanDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateFormat, v.String)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func exceptionList(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	return out
}
