// Package plan parses and validates YAML plan files, the entry path for
// activity networks into the store. A plan file carries the project header,
// calendars, and activities with their links, constraints, and duration
// distributions as plain data.
package plan

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"planline/internal/domain"
)

const dateFormat = "2006-01-02"

// File models a plan yaml document.
type File struct {
	Project struct {
		ID         string `yaml:"id"`
		Name       string `yaml:"name"`
		Start      string `yaml:"start"`
		StatusDate string `yaml:"status_date"`
	} `yaml:"project"`
	Calendars  []CalendarSpec `yaml:"calendars"`
	Activities []ActivitySpec `yaml:"activities"`
}

type CalendarSpec struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	WorkDays    []string `yaml:"work_days"`
	HoursPerDay float64  `yaml:"hours_per_day"`
	Exceptions  []string `yaml:"exceptions"`
	Default     bool     `yaml:"default"`
}

type LinkSpec struct {
	ID       string `yaml:"id"`
	Relation string `yaml:"relation"`
	LagDays  int    `yaml:"lag_days"`
}

type ConstraintSpec struct {
	Kind string `yaml:"kind"`
	Date string `yaml:"date"`
}

type DistributionSpec struct {
	Type   string `yaml:"type"`
	Min    int    `yaml:"min"`
	Likely int    `yaml:"likely"`
	Max    int    `yaml:"max"`
}

type ActivitySpec struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Kind            string            `yaml:"kind"`
	DurationDays    int               `yaml:"duration_days"`
	RemainingDays   *int              `yaml:"remaining_days"`
	Calendar        string            `yaml:"calendar"`
	PercentComplete int               `yaml:"percent_complete"`
	Predecessors    []LinkSpec        `yaml:"predecessors"`
	Constraint      *ConstraintSpec   `yaml:"constraint"`
	Manual          bool              `yaml:"manual"`
	OutlineLevel    int               `yaml:"outline_level"`
	PinnedStart     string            `yaml:"pinned_start"`
	ActualStart     string            `yaml:"actual_start"`
	ActualFinish    string            `yaml:"actual_finish"`
	Distribution    *DistributionSpec `yaml:"distribution"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

var relationKinds = map[string]domain.RelationKind{
	"FS": domain.FinishToStart, "SS": domain.StartToStart,
	"FF": domain.FinishToFinish, "SF": domain.StartToFinish,
}

var constraintKinds = map[string]domain.ConstraintKind{
	string(domain.ConstraintNone):      domain.ConstraintNone,
	string(domain.StartNoEarlierThan):  domain.StartNoEarlierThan,
	string(domain.StartNoLaterThan):    domain.StartNoLaterThan,
	string(domain.MustStartOn):         domain.MustStartOn,
	string(domain.MustFinishOn):        domain.MustFinishOn,
	string(domain.FinishNoEarlierThan): domain.FinishNoEarlierThan,
	string(domain.FinishNoLaterThan):   domain.FinishNoLaterThan,
}

// FromFile reads and validates a plan from path.
func FromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a plan document.
func FromYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid plan yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the structural invariants a plan must satisfy before it
// may enter the store. Graph-level failures (cycles) stay with the
// scheduler, which names the offending activity.
func (f *File) Validate() error {
	if f.Project.ID == "" {
		return fmt.Errorf("plan.project.id is required")
	}
	if f.Project.Start == "" {
		return fmt.Errorf("plan.project.start is required")
	}
	if _, err := time.Parse(dateFormat, f.Project.Start); err != nil {
		return fmt.Errorf("plan.project.start: %w", err)
	}
	if f.Project.StatusDate != "" {
		if _, err := time.Parse(dateFormat, f.Project.StatusDate); err != nil {
			return fmt.Errorf("plan.project.status_date: %w", err)
		}
	}

	calIDs := map[string]bool{}
	defaults := 0
	for _, c := range f.Calendars {
		if c.ID == "" {
			return fmt.Errorf("calendar without id")
		}
		if calIDs[c.ID] {
			return fmt.Errorf("duplicate calendar id %s", c.ID)
		}
		calIDs[c.ID] = true
		if len(c.WorkDays) == 0 {
			return fmt.Errorf("calendar %s has no work days", c.ID)
		}
		for _, d := range c.WorkDays {
			if _, ok := weekdayNames[strings.ToLower(d)]; !ok {
				return fmt.Errorf("calendar %s: unknown weekday %q", c.ID, d)
			}
		}
		for _, e := range c.Exceptions {
			if _, err := time.Parse(dateFormat, e); err != nil {
				return fmt.Errorf("calendar %s exception %q: %w", c.ID, e, err)
			}
		}
		if c.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("more than one default calendar")
	}

	actIDs := map[string]bool{}
	for _, a := range f.Activities {
		if a.ID == "" {
			return fmt.Errorf("activity without id")
		}
		if actIDs[a.ID] {
			return fmt.Errorf("duplicate activity id %s", a.ID)
		}
		actIDs[a.ID] = true
	}
	for _, a := range f.Activities {
		if err := validateActivity(a, actIDs, calIDs); err != nil {
			return err
		}
	}
	return nil
}

func validateActivity(a ActivitySpec, actIDs, calIDs map[string]bool) error {
	switch a.Kind {
	case "", string(domain.KindTask), string(domain.KindSummary):
	case string(domain.KindMilestone):
		if a.DurationDays != 0 {
			return fmt.Errorf("milestone %s must have duration 0", a.ID)
		}
	default:
		return fmt.Errorf("activity %s: unknown kind %q", a.ID, a.Kind)
	}
	if a.DurationDays < 0 {
		return fmt.Errorf("activity %s: negative duration", a.ID)
	}
	if a.RemainingDays != nil && (*a.RemainingDays < 0 || *a.RemainingDays > a.DurationDays) {
		return fmt.Errorf("activity %s: remaining duration out of range", a.ID)
	}
	if a.PercentComplete < 0 || a.PercentComplete > 100 {
		return fmt.Errorf("activity %s: percent_complete out of range", a.ID)
	}
	if a.Calendar != "" && !calIDs[a.Calendar] {
		return fmt.Errorf("activity %s references unknown calendar %s", a.ID, a.Calendar)
	}
	for _, l := range a.Predecessors {
		if !actIDs[l.ID] {
			return fmt.Errorf("activity %s references unknown predecessor %s", a.ID, l.ID)
		}
		if l.Relation != "" {
			if _, ok := relationKinds[l.Relation]; !ok {
				return fmt.Errorf("activity %s: unknown relation %q", a.ID, l.Relation)
			}
		}
	}
	if a.Constraint != nil {
		kind, ok := constraintKinds[a.Constraint.Kind]
		if !ok {
			return fmt.Errorf("activity %s: unknown constraint kind %q", a.ID, a.Constraint.Kind)
		}
		if kind != domain.ConstraintNone {
			if a.Constraint.Date == "" {
				return fmt.Errorf("activity %s: constraint %s requires a date", a.ID, kind)
			}
			if _, err := time.Parse(dateFormat, a.Constraint.Date); err != nil {
				return fmt.Errorf("activity %s constraint date: %w", a.ID, err)
			}
		}
	}
	for _, field := range []struct{ name, v string }{
		{"pinned_start", a.PinnedStart}, {"actual_start", a.ActualStart}, {"actual_finish", a.ActualFinish},
	} {
		if field.v != "" {
			if _, err := time.Parse(dateFormat, field.v); err != nil {
				return fmt.Errorf("activity %s %s: %w", a.ID, field.name, err)
			}
		}
	}
	if d := a.Distribution; d != nil {
		switch domain.DistributionType(d.Type) {
		case domain.DistNone:
		case domain.DistUniform:
			if d.Min < 0 || d.Min > d.Max {
				return fmt.Errorf("activity %s: uniform distribution requires 0 <= min <= max", a.ID)
			}
		case domain.DistTriangular, domain.DistPERT:
			if d.Min < 0 || d.Min > d.Likely || d.Likely > d.Max {
				return fmt.Errorf("activity %s: %s distribution requires 0 <= min <= likely <= max", a.ID, d.Type)
			}
		default:
			return fmt.Errorf("activity %s: unknown distribution type %q", a.ID, d.Type)
		}
	}
	return nil
}

// Network converts the validated plan into domain values ready for the
// store and the scheduler.
func (f *File) Network() ([]domain.Activity, map[string]domain.Calendar, map[string]domain.DurationDistribution, error) {
	cals := make(map[string]domain.Calendar, len(f.Calendars))
	for _, c := range f.Calendars {
		cal := domain.Calendar{
			ID:         c.ID,
			ProjectID:  f.Project.ID,
			Name:       c.Name,
			Default:    c.Default,
			Exceptions: map[string]bool{},
		}
		hours := c.HoursPerDay
		if hours == 0 {
			hours = 8
		}
		for _, d := range c.WorkDays {
			wd := weekdayNames[strings.ToLower(d)]
			cal.WorkDays[wd] = true
			cal.HoursPerDay[wd] = hours
		}
		for _, e := range c.Exceptions {
			cal.Exceptions[e] = true
		}
		cals[c.ID] = cal
	}

	acts := make([]domain.Activity, 0, len(f.Activities))
	dists := make(map[string]domain.DurationDistribution, len(f.Activities))
	for _, s := range f.Activities {
		a := domain.Activity{
			ID:              s.ID,
			ProjectID:       f.Project.ID,
			Name:            s.Name,
			Kind:            domain.ActivityKind(s.Kind),
			DurationDays:    s.DurationDays,
			RemainingDays:   s.RemainingDays,
			CalendarID:      s.Calendar,
			PercentComplete: s.PercentComplete,
			Manual:          s.Manual,
			OutlineLevel:    s.OutlineLevel,
			Constraint:      domain.Constraint{Kind: domain.ConstraintNone},
		}
		if a.Kind == "" {
			a.Kind = domain.KindTask
		}
		for _, l := range s.Predecessors {
			rel := domain.FinishToStart
			if l.Relation != "" {
				rel = relationKinds[l.Relation]
			}
			a.Predecessors = append(a.Predecessors, domain.PredecessorLink{
				PredecessorID: l.ID,
				Relation:      rel,
				LagDays:       l.LagDays,
			})
		}
		if s.Constraint != nil && s.Constraint.Kind != string(domain.ConstraintNone) {
			t, err := time.Parse(dateFormat, s.Constraint.Date)
			if err != nil {
				return nil, nil, nil, err
			}
			a.Constraint = domain.Constraint{Kind: constraintKinds[s.Constraint.Kind], Date: &t}
		}
		var err error
		if a.PinnedStart, err = parseDate(s.PinnedStart); err != nil {
			return nil, nil, nil, err
		}
		if a.ActualStart, err = parseDate(s.ActualStart); err != nil {
			return nil, nil, nil, err
		}
		if a.ActualFinish, err = parseDate(s.ActualFinish); err != nil {
			return nil, nil, nil, err
		}
		acts = append(acts, a)

		dist := domain.DurationDistribution{Type: domain.DistNone}
		if s.Distribution != nil {
			dist = domain.DurationDistribution{
				Type:       domain.DistributionType(s.Distribution.Type),
				MinDays:    s.Distribution.Min,
				LikelyDays: s.Distribution.Likely,
				MaxDays:    s.Distribution.Max,
			}
		}
		dists[s.ID] = dist
	}
	return acts, cals, dists, nil
}

// Dates returns the parsed project start and status date; the status date
// falls back to the project start when omitted.
func (f *File) Dates() (time.Time, time.Time, error) {
	start, err := time.Parse(dateFormat, f.Project.Start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	status := start
	if f.Project.StatusDate != "" {
		if status, err = time.Parse(dateFormat, f.Project.StatusDate); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start.UTC(), status.UTC(), nil
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateFormat, v)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
