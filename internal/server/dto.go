package server

import (
	"time"

	"planline/internal/cpm"
	"planline/internal/domain"
)

type ProjectResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	ProjectStart string `json:"project_start"`
	StatusDate   string `json:"status_date"`
	CreatedAt    string `json:"created_at"`
}

type ActivityResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	DurationDays    int    `json:"duration_days"`
	CalendarID      string `json:"calendar_id,omitempty"`
	PercentComplete int    `json:"percent_complete"`
	EarlyStart      string `json:"early_start"`
	EarlyFinish     string `json:"early_finish"`
	LateStart       string `json:"late_start"`
	LateFinish      string `json:"late_finish"`
	TotalFloat      int    `json:"total_float"`
	Critical        bool   `json:"critical"`
}

type ScheduleResponse struct {
	ProjectID     string             `json:"project_id"`
	ProjectFinish string             `json:"project_finish"`
	TotalDuration int                `json:"total_duration"`
	CriticalPath  []string           `json:"critical_path"`
	Activities    []ActivityResponse `json:"activities"`
}

type FindingResponse struct {
	ActivityID string `json:"activity_id"`
	Kind       string `json:"kind"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
}

type CheckResponse struct {
	ProjectID string            `json:"project_id"`
	Findings  []FindingResponse `json:"findings"`
	Counts    map[string]int    `json:"counts"`
}

type SimulationResponse struct {
	RunID       string             `json:"run_id"`
	Requested   int                `json:"requested"`
	Iterations  int                `json:"iterations"`
	Canceled    bool               `json:"canceled"`
	Seed        int64              `json:"seed"`
	Percentiles map[string]int     `json:"percentiles"`
	Criticality map[string]float64 `json:"criticality"`
	Sensitivity map[string]float64 `json:"sensitivity"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type ImportPlanRequest struct {
	YAML string `json:"yaml" doc:"Plan file contents in the pln plan YAML format"`
}

type ImportPlanResponse struct {
	ProjectID  string `json:"project_id"`
	Activities int    `json:"activities"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:           p.ID,
		Name:         p.Name,
		Status:       p.Status,
		ProjectStart: p.ProjectStart,
		StatusDate:   p.StatusDate,
		CreatedAt:    p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func activityResponse(a domain.Activity) ActivityResponse {
	return ActivityResponse{
		ID:              a.ID,
		Name:            a.Name,
		Kind:            string(a.Kind),
		DurationDays:    a.DurationDays,
		CalendarID:      a.CalendarID,
		PercentComplete: a.PercentComplete,
		EarlyStart:      fmtDate(a.EarlyStart),
		EarlyFinish:     fmtDate(a.EarlyFinish),
		LateStart:       fmtDate(a.LateStart),
		LateFinish:      fmtDate(a.LateFinish),
		TotalFloat:      a.TotalFloat,
		Critical:        a.Critical,
	}
}

func scheduleResponse(projectID string, net *cpm.Network) ScheduleResponse {
	acts := make([]ActivityResponse, 0, len(net.Activities))
	for _, a := range net.Activities {
		acts = append(acts, activityResponse(a))
	}
	critical := net.CriticalPath()
	if critical == nil {
		critical = []string{}
	}
	return ScheduleResponse{
		ProjectID:     projectID,
		ProjectFinish: fmtDate(net.ProjectFinish),
		TotalDuration: net.TotalDuration,
		CriticalPath:  critical,
		Activities:    acts,
	}
}

func checkResponse(projectID string, findings []domain.Finding) CheckResponse {
	res := CheckResponse{
		ProjectID: projectID,
		Findings:  []FindingResponse{},
		Counts:    map[string]int{},
	}
	for _, f := range findings {
		res.Findings = append(res.Findings, FindingResponse{
			ActivityID: f.ActivityID,
			Kind:       string(f.Kind),
			Severity:   string(f.Severity),
			Message:    f.Message,
		})
		res.Counts[string(f.Severity)]++
	}
	return res
}

func simulationResponse(r *domain.SimulationResult) SimulationResponse {
	return SimulationResponse{
		RunID:      r.RunID,
		Requested:  r.Requested,
		Iterations: r.Iterations,
		Canceled:   r.Canceled,
		Seed:       r.Seed,
		Percentiles: map[string]int{
			"p10": r.Percentile(10),
			"p50": r.Percentile(50),
			"p80": r.Percentile(80),
			"p90": r.Percentile(90),
		},
		Criticality: r.Criticality,
		Sensitivity: r.Sensitivity,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}
