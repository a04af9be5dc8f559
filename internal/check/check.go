// Package check runs the schedule-quality rules over a scheduled network.
// Every rule is an independent, stateless predicate over one activity;
// findings are data for the caller to display, never errors, and the full
// list is recomputed on every run.
package check

import (
	"fmt"

	"planline/internal/calendar"
	"planline/internal/cpm"
	"planline/internal/domain"
)

type ruleContext struct {
	net *cpm.Network
	cfg domain.ThresholdConfig
}

// rule evaluates one check kind for one activity and appends any findings.
type rule func(ctx ruleContext, a *domain.Activity) []domain.Finding

// rules is the closed rule table; table order is output order within an
// activity.
var rules = []rule{
	checkOpenEnd,
	checkNoPredecessor,
	checkInvalidDates,
	checkNonFSRelation,
	checkNegativeLag,
	checkLongLag,
	checkLongDuration,
	checkLargeFloat,
	checkMandatoryConstraint,
	checkFlexibleConstraint,
	checkBrokenLogic,
	checkProgressAfterStatus,
	checkMissingActualStart,
}

// Run evaluates all rules over every activity in topological order.
func Run(net *cpm.Network, cfg domain.ThresholdConfig) []domain.Finding {
	ctx := ruleContext{net: net, cfg: cfg}
	var findings []domain.Finding
	for _, id := range net.Order {
		a := net.ByID(id)
		if a == nil {
			continue
		}
		for _, r := range rules {
			findings = append(findings, r(ctx, a)...)
		}
	}
	return findings
}

func finding(a *domain.Activity, kind domain.CheckKind, sev domain.Severity, format string, args ...any) domain.Finding {
	return domain.Finding{
		ActivityID: a.ID,
		Kind:       kind,
		Severity:   sev,
		Message:    fmt.Sprintf(format, args...),
	}
}

func checkOpenEnd(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if len(ctx.net.Successors[a.ID]) == 0 && a.PercentComplete < 100 {
		return []domain.Finding{finding(a, domain.CheckOpenEnd, domain.SeverityWarning,
			"activity %s has no successor and is not complete", a.ID)}
	}
	return nil
}

func checkNoPredecessor(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if len(a.Predecessors) == 0 && a.PercentComplete < 100 {
		return []domain.Finding{finding(a, domain.CheckNoPredecessor, domain.SeverityWarning,
			"activity %s has no predecessor and is not complete", a.ID)}
	}
	return nil
}

func checkInvalidDates(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if a.PercentComplete < 100 && (a.EarlyStart.Before(ctx.net.StatusDate) || a.EarlyFinish.Before(ctx.net.StatusDate)) {
		return []domain.Finding{finding(a, domain.CheckInvalidDates, domain.SeverityError,
			"activity %s is scheduled before the status date %s", a.ID, ctx.net.StatusDate.Format("2006-01-02"))}
	}
	return nil
}

func checkNonFSRelation(ctx ruleContext, a *domain.Activity) []domain.Finding {
	var out []domain.Finding
	for _, link := range a.Predecessors {
		if link.Relation != domain.FinishToStart {
			out = append(out, finding(a, domain.CheckNonFSRelation, domain.SeverityInfo,
				"link %s -> %s uses a %s relation", link.PredecessorID, a.ID, link.Relation))
		}
	}
	return out
}

func checkNegativeLag(ctx ruleContext, a *domain.Activity) []domain.Finding {
	var out []domain.Finding
	for _, link := range a.Predecessors {
		if link.LagDays < 0 {
			out = append(out, finding(a, domain.CheckNegativeLag, domain.SeverityWarning,
				"link %s -> %s has negative lag %d", link.PredecessorID, a.ID, link.LagDays))
		}
	}
	return out
}

func checkLongLag(ctx ruleContext, a *domain.Activity) []domain.Finding {
	var out []domain.Finding
	for _, link := range a.Predecessors {
		if ctx.cfg.LongLagDays > 0 && link.LagDays >= ctx.cfg.LongLagDays {
			out = append(out, finding(a, domain.CheckLongLag, domain.SeverityInfo,
				"link %s -> %s has lag %d >= %d", link.PredecessorID, a.ID, link.LagDays, ctx.cfg.LongLagDays))
		}
	}
	return out
}

func checkLongDuration(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if ctx.cfg.LongDurationDays > 0 && a.DurationDays > ctx.cfg.LongDurationDays {
		return []domain.Finding{finding(a, domain.CheckLongDuration, domain.SeverityInfo,
			"activity %s duration %d exceeds %d work days", a.ID, a.DurationDays, ctx.cfg.LongDurationDays)}
	}
	return nil
}

func checkLargeFloat(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if ctx.cfg.LargeFloatDays > 0 && a.TotalFloat > ctx.cfg.LargeFloatDays {
		return []domain.Finding{finding(a, domain.CheckLargeFloat, domain.SeverityInfo,
			"activity %s total float %d exceeds %d work days", a.ID, a.TotalFloat, ctx.cfg.LargeFloatDays)}
	}
	return nil
}

func checkMandatoryConstraint(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if a.Constraint.Kind.Mandatory() {
		return []domain.Finding{finding(a, domain.CheckMandatoryConstraint, domain.SeverityWarning,
			"activity %s carries mandatory constraint %s", a.ID, a.Constraint.Kind)}
	}
	return nil
}

func checkFlexibleConstraint(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if a.Constraint.Kind.Flexible() {
		return []domain.Finding{finding(a, domain.CheckFlexibleConstraint, domain.SeverityInfo,
			"activity %s carries constraint %s", a.ID, a.Constraint.Kind)}
	}
	return nil
}

// checkBrokenLogic reports links whose temporal requirement the computed
// dates do not satisfy. The scheduler always honors links for
// auto-scheduled activities, so a violation can only come from a manual
// pin; the tolerance is zero work days.
func checkBrokenLogic(ctx ruleContext, a *domain.Activity) []domain.Finding {
	cal, ok := ctx.net.Calendars[a.CalendarID]
	if !ok {
		cal = ctx.net.DefaultCalendar
	}
	var out []domain.Finding
	for _, link := range a.Predecessors {
		pred := ctx.net.ByID(link.PredecessorID)
		if pred == nil {
			continue
		}
		var required, actual = a.EarlyStart, a.EarlyStart
		var err error
		switch link.Relation {
		case domain.StartToStart:
			required, err = calendar.AddWorkDays(cal, pred.EarlyStart, link.LagDays)
		case domain.FinishToFinish:
			required, err = calendar.AddWorkDays(cal, pred.EarlyFinish, link.LagDays)
			actual = a.EarlyFinish
		case domain.StartToFinish:
			required, err = calendar.AddWorkDays(cal, pred.EarlyStart, link.LagDays)
			actual = a.EarlyFinish
		default:
			required, err = calendar.AddWorkDays(cal, pred.EarlyFinish, link.LagDays)
		}
		if err != nil {
			continue
		}
		if actual.Before(required) {
			out = append(out, finding(a, domain.CheckBrokenLogic, domain.SeverityError,
				"activity %s violates its %s link from %s", a.ID, link.Relation, link.PredecessorID))
		}
	}
	return out
}

func checkProgressAfterStatus(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if a.ActualStart != nil && a.ActualStart.After(ctx.net.StatusDate) {
		return []domain.Finding{finding(a, domain.CheckProgressAfterStatus, domain.SeverityError,
			"activity %s records an actual start after the status date", a.ID)}
	}
	return nil
}

func checkMissingActualStart(ctx ruleContext, a *domain.Activity) []domain.Finding {
	if a.PercentComplete > 0 && a.ActualStart == nil {
		return []domain.Finding{finding(a, domain.CheckMissingActualStart, domain.SeverityError,
			"activity %s has progress but no recorded actual start", a.ID)}
	}
	return nil
}
