// Package cpm schedules an activity network with the Critical Path Method:
// a calendar-aware forward and backward pass over the topologically ordered
// dependency graph, yielding early/late dates, total float, and critical
// flags.
package cpm

import (
	"fmt"
	"sort"
	"time"

	"planline/internal/calendar"
	"planline/internal/domain"
)

// Schedule runs a full forward and backward pass over the input network.
// It fails with ErrCircularDependency, ErrDanglingPredecessor, or
// calendar.ErrInvalidCalendar; on failure no activity dates are returned.
func Schedule(in Input) (*Network, error) {
	acts := make([]domain.Activity, len(in.Activities))
	copy(acts, in.Activities)

	idx := make(map[string]int, len(acts))
	for i := range acts {
		if _, dup := idx[acts[i].ID]; dup {
			return nil, fmt.Errorf("duplicate activity id %s", acts[i].ID)
		}
		idx[acts[i].ID] = i
	}

	defaultCal, err := resolveDefaultCalendar(in.Calendars)
	if err != nil {
		return nil, err
	}
	cals := make([]domain.Calendar, len(acts))
	for i := range acts {
		cals[i] = defaultCal
		if c, ok := in.Calendars[acts[i].CalendarID]; ok {
			cals[i] = c
		}
		if err := calendar.Validate(cals[i]); err != nil {
			return nil, err
		}
	}

	edges, preds, succs, err := buildEdges(acts, idx)
	if err != nil {
		return nil, err
	}
	order, err := topoSort(acts, edges, succs)
	if err != nil {
		return nil, err
	}

	start, err := calendar.NextWorkDay(defaultCal, in.ProjectStart)
	if err != nil {
		return nil, err
	}
	statusDate := calendar.Normalize(in.StatusDate)

	if err := forwardPass(acts, cals, edges, preds, order, start, statusDate); err != nil {
		return nil, err
	}

	projectFinish := start
	for i := range acts {
		if acts[i].EarlyFinish.After(projectFinish) {
			projectFinish = acts[i].EarlyFinish
		}
	}
	seed := projectFinish
	if in.TargetFinish != nil {
		seed = calendar.Normalize(*in.TargetFinish)
	}

	if err := backwardPass(acts, cals, edges, succs, order, seed); err != nil {
		return nil, err
	}

	tolerance := 0
	if mixedCalendars(acts, cals) {
		tolerance = 1
	}
	for i := range acts {
		f, err := calendar.WorkDaysBetween(cals[i], acts[i].EarlyStart, acts[i].LateStart)
		if err != nil {
			return nil, err
		}
		acts[i].TotalFloat = f
		acts[i].Critical = f <= tolerance
	}

	totalDuration, err := calendar.WorkDaysBetween(defaultCal, start, projectFinish)
	if err != nil {
		return nil, err
	}

	net := &Network{
		Activities:      acts,
		Order:           make([]string, len(order)),
		Successors:      make(map[string][]string),
		Calendars:       in.Calendars,
		DefaultCalendar: defaultCal,
		ProjectStart:    start,
		StatusDate:      statusDate,
		ProjectFinish:   projectFinish,
		TotalDuration:   totalDuration,
		FloatTolerance:  tolerance,
	}
	for i, ai := range order {
		net.Order[i] = acts[ai].ID
	}
	for _, e := range edges {
		net.Successors[acts[e.from].ID] = append(net.Successors[acts[e.from].ID], acts[e.to].ID)
	}
	return net, nil
}

func resolveDefaultCalendar(cals map[string]domain.Calendar) (domain.Calendar, error) {
	var fallback domain.Calendar
	var haveFallback bool
	ids := make([]string, 0, len(cals))
	for id := range cals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := cals[id]
		if c.Default {
			return c, calendar.Validate(c)
		}
		if !haveFallback {
			fallback, haveFallback = c, true
		}
	}
	if haveFallback {
		return fallback, calendar.Validate(fallback)
	}
	return StandardCalendar(), nil
}

// StandardCalendar is the built-in Monday-Friday, 8-hour calendar used when
// a network carries no calendar of its own.
func StandardCalendar() domain.Calendar {
	return domain.Calendar{
		ID:   "standard",
		Name: "Standard 5x8",
		WorkDays: [7]bool{
			false, true, true, true, true, true, false,
		},
		HoursPerDay: [7]float64{0, 8, 8, 8, 8, 8, 0},
		Default:     true,
	}
}

func buildEdges(acts []domain.Activity, idx map[string]int) ([]edge, [][]int, [][]int, error) {
	var edges []edge
	preds := make([][]int, len(acts))
	succs := make([][]int, len(acts))
	for i := range acts {
		for _, link := range acts[i].Predecessors {
			from, ok := idx[link.PredecessorID]
			if !ok {
				return nil, nil, nil, fmt.Errorf("%w: activity %s references unknown activity %s",
					ErrDanglingPredecessor, acts[i].ID, link.PredecessorID)
			}
			e := len(edges)
			edges = append(edges, edge{from: from, to: i, relation: link.Relation, lagDays: link.LagDays})
			preds[i] = append(preds[i], e)
			succs[from] = append(succs[from], e)
		}
	}
	return edges, preds, succs, nil
}

// topoSort is Kahn's algorithm over the index arena; iterative, so deep
// networks cannot overflow the stack. The ready queue is kept sorted by
// index for deterministic output.
func topoSort(acts []domain.Activity, edges []edge, succs [][]int) ([]int, error) {
	inDegree := make([]int, len(acts))
	for i := range acts {
		inDegree[i] = len(acts[i].Predecessors)
	}
	var queue []int
	for i := range acts {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, len(acts))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		var ready []int
		for _, ei := range succs[node] {
			to := edges[ei].to
			inDegree[to]--
			if inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
		sort.Ints(ready)
		queue = append(queue, ready...)
	}
	if len(order) != len(acts) {
		return nil, fmt.Errorf("%w: activity %s is on a cycle", ErrCircularDependency, acts[cycleMember(acts, edges, inDegree)].ID)
	}
	return order, nil
}

// cycleMember picks an unresolved node that actually sits on a cycle.
// Nodes merely downstream of a cycle also keep a positive in-degree, so
// the first leftover node is not good enough: instead walk unresolved
// predecessor edges len(acts) times. Every unresolved node has at least
// one unresolved predecessor, and a deterministic walk over a finite set
// must end up inside a loop of real edges.
func cycleMember(acts []domain.Activity, edges []edge, inDegree []int) int {
	preds := make([][]int, len(acts))
	for _, e := range edges {
		preds[e.to] = append(preds[e.to], e.from)
	}
	node := 0
	for i := range acts {
		if inDegree[i] > 0 {
			node = i
			break
		}
	}
	for range acts {
		for _, p := range preds[node] {
			if inDegree[p] > 0 {
				node = p
				break
			}
		}
	}
	return node
}

func forwardPass(acts []domain.Activity, cals []domain.Calendar, edges []edge, preds [][]int, order []int, start, statusDate time.Time) error {
	for _, i := range order {
		a := &acts[i]
		cal := cals[i]
		dur := a.EffectiveDuration()
		if a.Kind == domain.KindMilestone {
			dur = 0
		}

		// Completed work keeps its recorded dates; it still feeds
		// successors and the float computation below.
		if a.Completed(statusDate) {
			a.EarlyFinish = calendar.Normalize(*a.ActualFinish)
			a.EarlyStart = a.EarlyFinish
			if a.ActualStart != nil {
				a.EarlyStart = calendar.Normalize(*a.ActualStart)
			}
			continue
		}

		if a.Manual && a.PinnedStart != nil {
			es, err := calendar.NextWorkDay(cal, *a.PinnedStart)
			if err != nil {
				return err
			}
			ef, err := calendar.AddWorkDays(cal, es, dur)
			if err != nil {
				return err
			}
			a.EarlyStart, a.EarlyFinish = es, ef
			continue
		}

		es := start
		if a.ActualStart != nil && a.PercentComplete > 0 {
			es = calendar.Normalize(*a.ActualStart)
		}
		for _, ei := range preds[i] {
			e := edges[ei]
			pred := acts[e.from]
			var cand time.Time
			var err error
			switch e.relation {
			case domain.StartToStart:
				cand, err = calendar.AddWorkDays(cal, pred.EarlyStart, e.lagDays)
			case domain.FinishToFinish:
				cand, err = calendar.AddWorkDays(cal, pred.EarlyFinish, e.lagDays-dur)
			case domain.StartToFinish:
				cand, err = calendar.AddWorkDays(cal, pred.EarlyStart, e.lagDays-dur)
			default: // finish-to-start
				cand, err = calendar.AddWorkDays(cal, pred.EarlyFinish, e.lagDays)
			}
			if err != nil {
				return err
			}
			if cand.After(es) {
				es = cand
			}
		}

		es, ef, err := applyForwardConstraint(cal, a.Constraint, es, dur)
		if err != nil {
			return err
		}
		a.EarlyStart, a.EarlyFinish = es, ef
	}
	return nil
}

// applyForwardConstraint resolves the early dates once per activity:
// must-on constraints override the raw date, no-earlier-than constraints
// only push it later. No-later-than constraints belong to the backward
// pass.
func applyForwardConstraint(cal domain.Calendar, c domain.Constraint, es time.Time, dur int) (time.Time, time.Time, error) {
	if c.Date != nil {
		anchor := calendar.Normalize(*c.Date)
		switch c.Kind {
		case domain.MustStartOn:
			es = anchor
		case domain.StartNoEarlierThan:
			if anchor.After(es) {
				es = anchor
			}
		case domain.MustFinishOn, domain.FinishNoEarlierThan:
			ef, err := calendar.NextWorkDay(cal, anchor)
			if err != nil {
				return es, es, err
			}
			rawEF, err := calendar.AddWorkDays(cal, es, dur)
			if err != nil {
				return es, es, err
			}
			if c.Kind == domain.MustFinishOn || ef.After(rawEF) {
				start, err := calendar.AddWorkDays(cal, ef, -dur)
				if err != nil {
					return es, es, err
				}
				return start, ef, nil
			}
		}
	}
	es, err := calendar.NextWorkDay(cal, es)
	if err != nil {
		return es, es, err
	}
	ef, err := calendar.AddWorkDays(cal, es, dur)
	if err != nil {
		return es, es, err
	}
	return es, ef, nil
}

func backwardPass(acts []domain.Activity, cals []domain.Calendar, edges []edge, succs [][]int, order []int, seed time.Time) error {
	for oi := len(order) - 1; oi >= 0; oi-- {
		i := order[oi]
		a := &acts[i]
		cal := cals[i]
		dur := a.EffectiveDuration()
		if a.Kind == domain.KindMilestone {
			dur = 0
		}

		// The seed caps every late finish; successor requirements only pull
		// it earlier.
		lf := seed
		for _, ei := range succs[i] {
			e := edges[ei]
			succ := acts[e.to]
			var cand time.Time
			var err error
			switch e.relation {
			case domain.StartToStart:
				cand, err = calendar.AddWorkDays(cal, succ.LateStart, dur-e.lagDays)
			case domain.FinishToFinish:
				cand, err = calendar.AddWorkDays(cal, succ.LateFinish, -e.lagDays)
			case domain.StartToFinish:
				cand, err = calendar.AddWorkDays(cal, succ.LateFinish, dur-e.lagDays)
			default: // finish-to-start
				cand, err = calendar.AddWorkDays(cal, succ.LateStart, -e.lagDays)
			}
			if err != nil {
				return err
			}
			if cand.Before(lf) {
				lf = cand
			}
		}

		ls, lf, err := applyBackwardConstraint(cal, a, lf, dur)
		if err != nil {
			return err
		}
		a.LateStart, a.LateFinish = ls, lf
	}
	return nil
}

// applyBackwardConstraint clamps late dates: no-later-than constraints cap
// them, must-on constraints pin them to the early dates (zero float, the
// P6 treatment of mandatory dates).
func applyBackwardConstraint(cal domain.Calendar, a *domain.Activity, lf time.Time, dur int) (time.Time, time.Time, error) {
	switch a.Constraint.Kind {
	case domain.MustStartOn:
		ef, err := calendar.AddWorkDays(cal, a.EarlyStart, dur)
		if err != nil {
			return lf, lf, err
		}
		return a.EarlyStart, ef, nil
	case domain.MustFinishOn:
		ls, err := calendar.AddWorkDays(cal, a.EarlyFinish, -dur)
		if err != nil {
			return lf, lf, err
		}
		return ls, a.EarlyFinish, nil
	}

	if a.Constraint.Date != nil && a.Constraint.Kind == domain.FinishNoLaterThan {
		if anchor := calendar.Normalize(*a.Constraint.Date); anchor.Before(lf) {
			lf = anchor
		}
	}
	lf, err := calendar.PrevWorkDay(cal, lf)
	if err != nil {
		return lf, lf, err
	}
	ls, err := calendar.AddWorkDays(cal, lf, -dur)
	if err != nil {
		return lf, lf, err
	}
	if a.Constraint.Date != nil && a.Constraint.Kind == domain.StartNoLaterThan {
		if anchor := calendar.Normalize(*a.Constraint.Date); anchor.Before(ls) {
			ls, err = calendar.PrevWorkDay(cal, anchor)
			if err != nil {
				return ls, lf, err
			}
			lf, err = calendar.AddWorkDays(cal, ls, dur)
			if err != nil {
				return ls, lf, err
			}
		}
	}
	return ls, lf, nil
}

func mixedCalendars(acts []domain.Activity, cals []domain.Calendar) bool {
	if len(acts) == 0 {
		return false
	}
	first := cals[0].ID
	for _, c := range cals[1:] {
		if c.ID != first {
			return true
		}
	}
	return false
}
