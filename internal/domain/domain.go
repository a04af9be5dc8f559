package domain

import "time"

// ActivityKind distinguishes schedulable units.
type ActivityKind string

const (
	KindTask      ActivityKind = "task"
	KindMilestone ActivityKind = "milestone"
	KindSummary   ActivityKind = "summary"
)

// RelationKind is the precedence relation of a link.
type RelationKind string

const (
	FinishToStart  RelationKind = "FS"
	StartToStart   RelationKind = "SS"
	FinishToFinish RelationKind = "FF"
	StartToFinish  RelationKind = "SF"
)

// ConstraintKind restricts where the scheduler may place an activity.
type ConstraintKind string

const (
	ConstraintNone      ConstraintKind = "none"
	StartNoEarlierThan  ConstraintKind = "start-no-earlier-than"
	StartNoLaterThan    ConstraintKind = "start-no-later-than"
	MustStartOn         ConstraintKind = "must-start-on"
	MustFinishOn        ConstraintKind = "must-finish-on"
	FinishNoEarlierThan ConstraintKind = "finish-no-earlier-than"
	FinishNoLaterThan   ConstraintKind = "finish-no-later-than"
)

// Mandatory reports whether the constraint pins or caps a date (the
// must-on and no-later-than family).
func (k ConstraintKind) Mandatory() bool {
	switch k {
	case MustStartOn, MustFinishOn, StartNoLaterThan, FinishNoLaterThan:
		return true
	}
	return false
}

// Flexible reports whether the constraint only delays a date (the
// no-earlier-than family).
func (k ConstraintKind) Flexible() bool {
	return k == StartNoEarlierThan || k == FinishNoEarlierThan
}

// Constraint pairs a constraint kind with its anchor date.
type Constraint struct {
	Kind ConstraintKind `json:"kind"`
	Date *time.Time     `json:"date,omitempty"`
}

// PredecessorLink is one edge of the activity network.
type PredecessorLink struct {
	PredecessorID string       `json:"predecessor_id"`
	Relation      RelationKind `json:"relation" enum:"FS,SS,FF,SF"`
	LagDays       int          `json:"lag_days"`
}

// Activity is a schedulable unit. The Early/Late/Float/Critical fields are
// owned by the scheduler and overwritten on every run.
type Activity struct {
	ID              string            `json:"id"`
	ProjectID       string            `json:"project_id"`
	Name            string            `json:"name"`
	Kind            ActivityKind      `json:"kind" enum:"task,milestone,summary"`
	DurationDays    int               `json:"duration_days"`
	RemainingDays   *int              `json:"remaining_days,omitempty"`
	CalendarID      string            `json:"calendar_id"`
	PercentComplete int               `json:"percent_complete"`
	Predecessors    []PredecessorLink `json:"predecessors,omitempty"`
	Constraint      Constraint        `json:"constraint"`
	Manual          bool              `json:"manual"`
	OutlineLevel    int               `json:"outline_level"`
	PinnedStart     *time.Time        `json:"pinned_start,omitempty"`
	ActualStart     *time.Time        `json:"actual_start,omitempty"`
	ActualFinish    *time.Time        `json:"actual_finish,omitempty"`

	EarlyStart  time.Time `json:"early_start"`
	EarlyFinish time.Time `json:"early_finish"`
	LateStart   time.Time `json:"late_start"`
	LateFinish  time.Time `json:"late_finish"`
	TotalFloat  int       `json:"total_float"`
	Critical    bool      `json:"critical"`
}

// EffectiveDuration is the duration the scheduler works with: remaining
// duration when recorded on an incomplete activity, nominal otherwise.
func (a Activity) EffectiveDuration() int {
	if a.RemainingDays != nil && a.PercentComplete < 100 {
		return *a.RemainingDays
	}
	return a.DurationDays
}

// Completed reports whether the activity is done as of the status date.
func (a Activity) Completed(statusDate time.Time) bool {
	return a.PercentComplete >= 100 && a.ActualFinish != nil && !a.ActualFinish.After(statusDate)
}

// Calendar defines work time. Weekday arrays are indexed by time.Weekday
// (Sunday = 0). Exceptions hold explicit non-work dates keyed yyyy-mm-dd.
type Calendar struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Name        string          `json:"name"`
	WorkDays    [7]bool         `json:"work_days"`
	HoursPerDay [7]float64      `json:"hours_per_day"`
	Exceptions  map[string]bool `json:"exceptions,omitempty"`
	Default     bool            `json:"default"`
}

// DistributionType selects the duration-sampling model for risk analysis.
type DistributionType string

const (
	DistNone       DistributionType = "none"
	DistTriangular DistributionType = "triangular"
	DistPERT       DistributionType = "pert"
	DistUniform    DistributionType = "uniform"
)

// DurationDistribution is the per-activity risk input. Uniform uses only
// Min/Max; none leaves the nominal duration unperturbed.
type DurationDistribution struct {
	Type       DistributionType `json:"type" enum:"none,triangular,pert,uniform"`
	MinDays    int              `json:"min_days"`
	LikelyDays int              `json:"likely_days"`
	MaxDays    int              `json:"max_days"`
}

// Severity grades checker findings.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// CheckKind enumerates the schedule-quality rules.
type CheckKind string

const (
	CheckOpenEnd             CheckKind = "open_end"
	CheckNoPredecessor       CheckKind = "no_predecessor"
	CheckInvalidDates        CheckKind = "invalid_dates"
	CheckNonFSRelation       CheckKind = "non_fs_relation"
	CheckNegativeLag         CheckKind = "negative_lag"
	CheckLongLag             CheckKind = "long_lag"
	CheckLongDuration        CheckKind = "long_duration"
	CheckLargeFloat          CheckKind = "large_float"
	CheckMandatoryConstraint CheckKind = "mandatory_constraint"
	CheckFlexibleConstraint  CheckKind = "flexible_constraint"
	CheckBrokenLogic         CheckKind = "broken_logic"
	CheckProgressAfterStatus CheckKind = "progress_after_status"
	CheckMissingActualStart  CheckKind = "missing_actual_start"
)

// Finding is one diagnostic from the checker. Findings are data, never
// errors; a run recomputes the full list.
type Finding struct {
	ActivityID string    `json:"activity_id"`
	Kind       CheckKind `json:"kind"`
	Severity   Severity  `json:"severity" enum:"info,warning,error"`
	Message    string    `json:"message"`
}

// ThresholdConfig carries the checker's tunable limits. Supplied by the
// caller; the core applies no defaulting of its own.
type ThresholdConfig struct {
	LongLagDays      int `json:"long_lag_days"`
	LargeFloatDays   int `json:"large_float_days"`
	LongDurationDays int `json:"long_duration_days"`
}

// SimulationResult aggregates one full Monte Carlo run. Immutable once
// returned; Iterations is the completed count, which is lower than
// Requested only after cancellation.
type SimulationResult struct {
	RunID          string                          `json:"run_id"`
	Requested      int                             `json:"requested"`
	Iterations     int                             `json:"iterations"`
	Canceled       bool                            `json:"canceled"`
	Seed           int64                           `json:"seed"`
	Criticality    map[string]float64              `json:"criticality"`
	Sensitivity    map[string]float64              `json:"sensitivity"`
	Distributions  map[string]DurationDistribution `json:"distributions"`
	TotalDurations []int                           `json:"total_durations"`
}

// Percentile returns the empirical p-quantile (0 < p <= 100) of the total
// project duration in work days. Zero completed iterations yield 0.
func (r *SimulationResult) Percentile(p float64) int {
	n := len(r.TotalDurations)
	if n == 0 {
		return 0
	}
	idx := int(p/100*float64(n)+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return r.TotalDurations[idx]
}

// Project is the container row for a stored network.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	ProjectStart string `json:"project_start"`
	StatusDate   string `json:"status_date"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates a server principal by hashed key.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
