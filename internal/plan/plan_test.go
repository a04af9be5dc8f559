package plan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"planline/internal/domain"
	"planline/internal/plan"
)

const samplePlan = `
project:
  id: bridge
  name: Bridge retrofit
  start: 2026-01-05
  status_date: 2026-01-05
calendars:
  - id: wk
    name: Weekdays
    work_days: [mon, tue, wed, thu, fri]
    hours_per_day: 8
    exceptions: ["2026-01-14"]
    default: true
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
    calendar: wk
    predecessors:
      - id: A
        relation: FS
        lag_days: 0
  - id: M
    name: Handover
    kind: milestone
    predecessors:
      - id: B
`

func TestFromYAML(t *testing.T) {
	f, err := plan.FromYAML([]byte(samplePlan))
	require.NoError(t, err)
	require.Equal(t, "bridge", f.Project.ID)
	require.Len(t, f.Calendars, 1)
	require.Len(t, f.Activities, 3)
}

func TestNetworkConversion(t *testing.T) {
	f, err := plan.FromYAML([]byte(samplePlan))
	require.NoError(t, err)

	acts, cals, dists, err := f.Network()
	require.NoError(t, err)
	require.Len(t, acts, 3)

	wk := cals["wk"]
	require.True(t, wk.Default)
	require.True(t, wk.WorkDays[time.Monday])
	require.False(t, wk.WorkDays[time.Saturday])
	require.Equal(t, 8.0, wk.HoursPerDay[time.Friday])
	require.True(t, wk.Exceptions["2026-01-14"])

	require.Equal(t, domain.KindTask, acts[0].Kind, "kind defaults to task")
	require.Equal(t, domain.KindMilestone, acts[2].Kind)
	require.Equal(t, domain.FinishToStart, acts[1].Predecessors[0].Relation)
	require.Equal(t, domain.FinishToStart, acts[2].Predecessors[0].Relation, "relation defaults to FS")

	require.Equal(t, domain.DistTriangular, dists["A"].Type)
	require.Equal(t, 9, dists["A"].MaxDays)
	require.Equal(t, domain.DistNone, dists["B"].Type)
}

func TestDatesStatusFallback(t *testing.T) {
	f, err := plan.FromYAML([]byte(`
project:
  id: p
  start: 2026-01-05
activities:
  - id: A
    duration_days: 1
`))
	require.NoError(t, err)
	start, status, err := f.Dates()
	require.NoError(t, err)
	require.Equal(t, start, status)
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing project id",
			yaml: "project:\n  start: 2026-01-05\n",
			want: "project.id",
		},
		{
			name: "bad start date",
			yaml: "project:\n  id: p\n  start: Jan 5\n",
			want: "project.start",
		},
		{
			name: "milestone with duration",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: M\n    kind: milestone\n    duration_days: 2\n",
			want: "duration 0",
		},
		{
			name: "unknown predecessor",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: A\n    predecessors:\n      - id: ghost\n",
			want: "unknown predecessor",
		},
		{
			name: "unknown calendar",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: A\n    calendar: nope\n",
			want: "unknown calendar",
		},
		{
			name: "duplicate activity",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: A\n  - id: A\n",
			want: "duplicate activity",
		},
		{
			name: "remaining exceeds duration",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: A\n    duration_days: 3\n    remaining_days: 5\n",
			want: "remaining duration",
		},
		{
			name: "percent out of range",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: A\n    percent_complete: 120\n",
			want: "percent_complete",
		},
		{
			name: "constraint without date",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: A\n    constraint:\n      kind: must-start-on\n",
			want: "requires a date",
		},
		{
			name: "bad distribution order",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: A\n    distribution:\n      type: triangular\n      min: 9\n      likely: 5\n      max: 3\n",
			want: "distribution",
		},
		{
			name: "unknown relation",
			yaml: "project:\n  id: p\n  start: 2026-01-05\nactivities:\n  - id: A\n  - id: B\n    predecessors:\n      - id: A\n        relation: XX\n",
			want: "unknown relation",
		},
		{
			name: "two default calendars",
			yaml: "project:\n  id: p\n  start: 2026-01-05\ncalendars:\n  - id: a\n    work_days: [mon]\n    default: true\n  - id: b\n    work_days: [tue]\n    default: true\n",
			want: "default calendar",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := plan.FromYAML([]byte(tc.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
