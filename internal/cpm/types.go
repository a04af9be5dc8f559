package cpm

import (
	"errors"
	"time"

	"planline/internal/domain"
)

// Scheduling failures abort the whole run; no partial dates are returned.
var (
	ErrCircularDependency  = errors.New("circular dependency")
	ErrDanglingPredecessor = errors.New("dangling predecessor")
)

// Input is an immutable snapshot of everything one scheduling run needs.
// The scheduler never reads state from anywhere else.
type Input struct {
	Activities   []domain.Activity
	Calendars    map[string]domain.Calendar
	ProjectStart time.Time
	StatusDate   time.Time
	// TargetFinish seeds the backward pass instead of the computed project
	// finish when set. Earlier targets produce negative float.
	TargetFinish *time.Time
}

// Network is a fully scheduled activity network.
type Network struct {
	// Activities carries the scheduled copies in input order.
	Activities []domain.Activity
	// Order lists activity ids in topological order.
	Order []string
	// Successors maps an activity id to the ids that depend on it.
	Successors map[string][]string

	Calendars       map[string]domain.Calendar
	DefaultCalendar domain.Calendar
	ProjectStart    time.Time
	StatusDate      time.Time
	ProjectFinish   time.Time
	// TotalDuration is the project span in work days under the default
	// calendar, the quantity the risk engine aggregates.
	TotalDuration int
	// FloatTolerance is the critical-flag cutoff: activities with total
	// float at or below it are critical. It is 1 work day when the network
	// mixes calendars, to absorb rounding across calendar boundaries.
	FloatTolerance int
}

// ByID returns the scheduled activity with the given id, or nil.
func (n *Network) ByID(id string) *domain.Activity {
	for i := range n.Activities {
		if n.Activities[i].ID == id {
			return &n.Activities[i]
		}
	}
	return nil
}

// CriticalPath returns the ids of critical activities in topological order.
func (n *Network) CriticalPath() []string {
	var path []string
	for _, id := range n.Order {
		if a := n.ByID(id); a != nil && a.Critical {
			path = append(path, id)
		}
	}
	return path
}

// edge is one dependency in the index arena: activity from precedes
// activity to under the given relation and lag.
type edge struct {
	from, to int
	relation domain.RelationKind
	lagDays  int
}
