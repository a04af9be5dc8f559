// Package risk quantifies schedule risk by Monte Carlo simulation: each
// iteration redraws activity durations from their distributions, re-runs
// the CPM scheduler, and the aggregate yields criticality and sensitivity
// indices plus the empirical distribution of total project duration.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"planline/internal/cpm"
	"planline/internal/domain"
)

// ErrInvalidDistribution rejects a malformed duration distribution before
// any iteration runs; sampling from it could not be trusted.
var ErrInvalidDistribution = errors.New("invalid distribution parameters")

// Input describes one simulation run over an already scheduled network.
type Input struct {
	Network       *cpm.Network
	Distributions map[string]domain.DurationDistribution
	Iterations    int
	Seed          int64
	// Workers caps the iteration pool; zero means one per CPU.
	Workers int
}

// iterOutcome is one iteration's private accumulator slot. Workers write
// disjoint slots, so the pool needs no locking before the final merge.
type iterOutcome struct {
	done     bool
	total    int
	critical []bool
	samples  []int
}

// Simulate runs the Monte Carlo engine. Cancellation via ctx is not an
// error: the result is merged from completed iterations only and labeled
// with the actual count. Identical inputs and seed reproduce identical
// results regardless of worker count.
func Simulate(ctx context.Context, in Input) (*domain.SimulationResult, error) {
	if in.Iterations < 1 {
		return nil, fmt.Errorf("iterations must be >= 1, got %d", in.Iterations)
	}
	if in.Network == nil {
		return nil, errors.New("network is required")
	}
	if err := validateDistributions(in.Network, in.Distributions); err != nil {
		return nil, err
	}

	base := cpm.Input{
		Activities:   in.Network.Activities,
		Calendars:    in.Network.Calendars,
		ProjectStart: in.Network.ProjectStart,
		StatusDate:   in.Network.StatusDate,
	}

	workers := in.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > in.Iterations {
		workers = in.Iterations
	}

	outcomes := make([]iterOutcome, in.Iterations)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * in.Iterations / workers
		hi := (w + 1) * in.Iterations / workers
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for it := lo; it < hi; it++ {
				if ctx.Err() != nil {
					return
				}
				if err := runIteration(base, in.Distributions, in.Seed, it, &outcomes[it]); err != nil {
					errs[w] = err
					return
				}
			}
		}(w, lo, hi)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return merge(in, outcomes), nil
}

func validateDistributions(net *cpm.Network, dists map[string]domain.DurationDistribution) error {
	for _, a := range net.Activities {
		d, ok := dists[a.ID]
		if !ok || d.Type == domain.DistNone || d.Type == "" {
			continue
		}
		switch d.Type {
		case domain.DistUniform:
			if d.MinDays < 0 || d.MinDays > d.MaxDays {
				return fmt.Errorf("%w: activity %s uniform requires 0 <= min <= max", ErrInvalidDistribution, a.ID)
			}
		case domain.DistTriangular, domain.DistPERT:
			if d.MinDays < 0 || d.MinDays > d.LikelyDays || d.LikelyDays > d.MaxDays {
				return fmt.Errorf("%w: activity %s %s requires 0 <= min <= likely <= max", ErrInvalidDistribution, a.ID, d.Type)
			}
		default:
			return fmt.Errorf("%w: activity %s has unknown distribution type %q", ErrInvalidDistribution, a.ID, d.Type)
		}
	}
	return nil
}

// runIteration samples durations in activity order from the iteration's own
// derived random stream, reschedules, and records the outcome.
func runIteration(base cpm.Input, dists map[string]domain.DurationDistribution, seed int64, it int, out *iterOutcome) error {
	rng := rand.New(rand.NewSource(iterationSeed(seed, it)))

	acts := make([]domain.Activity, len(base.Activities))
	copy(acts, base.Activities)
	samples := make([]int, len(acts))
	for i := range acts {
		d := dists[acts[i].ID]
		s := sampleDuration(rng, d, acts[i].DurationDays)
		samples[i] = s
		if d.Type != domain.DistNone && d.Type != "" {
			acts[i].DurationDays = s
			acts[i].RemainingDays = nil
		}
	}

	net, err := cpm.Schedule(cpm.Input{
		Activities:   acts,
		Calendars:    base.Calendars,
		ProjectStart: base.ProjectStart,
		StatusDate:   base.StatusDate,
	})
	if err != nil {
		return err
	}

	critical := make([]bool, len(acts))
	for i := range net.Activities {
		critical[i] = net.Activities[i].Critical
	}
	out.total = net.TotalDuration
	out.critical = critical
	out.samples = samples
	out.done = true
	return nil
}

// iterationSeed derives iteration it's stream from the run seed with a
// splitmix64 step, so streams are independent of worker partitioning.
func iterationSeed(seed int64, it int) int64 {
	z := uint64(seed) + uint64(it+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

func merge(in Input, outcomes []iterOutcome) *domain.SimulationResult {
	acts := in.Network.Activities
	completed := 0
	critCount := make([]int, len(acts))
	sampleSeries := make([][]float64, len(acts))
	var totals []int
	var totalSeries []float64

	for _, o := range outcomes {
		if !o.done {
			continue
		}
		completed++
		totals = append(totals, o.total)
		totalSeries = append(totalSeries, float64(o.total))
		for i := range acts {
			if o.critical[i] {
				critCount[i]++
			}
			sampleSeries[i] = append(sampleSeries[i], float64(o.samples[i]))
		}
	}

	res := &domain.SimulationResult{
		Requested:      in.Iterations,
		Iterations:     completed,
		Canceled:       completed < in.Iterations,
		Seed:           in.Seed,
		Criticality:    make(map[string]float64, len(acts)),
		Sensitivity:    make(map[string]float64, len(acts)),
		Distributions:  make(map[string]domain.DurationDistribution, len(acts)),
		TotalDurations: totals,
	}
	for i := range acts {
		id := acts[i].ID
		d := in.Distributions[id]
		if d.Type == "" {
			d.Type = domain.DistNone
		}
		res.Distributions[id] = d
		if completed > 0 {
			res.Criticality[id] = math.Round(float64(critCount[i]) / float64(completed) * 100)
			res.Sensitivity[id] = Spearman(sampleSeries[i], totalSeries)
		} else {
			res.Criticality[id] = 0
			res.Sensitivity[id] = 0
		}
	}
	sort.Ints(res.TotalDurations)
	return res
}
