package risk

import (
	"math"
	"math/rand"

	"planline/internal/domain"
)

// sampleDuration draws one duration in whole work days. The draw order per
// iteration is fixed: activities in input order, one logical draw each.
func sampleDuration(rng *rand.Rand, d domain.DurationDistribution, nominal int) int {
	var x float64
	switch d.Type {
	case domain.DistTriangular:
		x = sampleTriangular(rng, float64(d.MinDays), float64(d.LikelyDays), float64(d.MaxDays))
	case domain.DistPERT:
		x = samplePERT(rng, float64(d.MinDays), float64(d.LikelyDays), float64(d.MaxDays))
	case domain.DistUniform:
		x = float64(d.MinDays) + rng.Float64()*float64(d.MaxDays-d.MinDays)
	default:
		return nominal
	}
	days := int(math.Round(x))
	if days < d.MinDays {
		days = d.MinDays
	}
	if days > d.MaxDays {
		days = d.MaxDays
	}
	return days
}

// sampleTriangular inverts the triangular CDF on (min, mode, max).
func sampleTriangular(rng *rand.Rand, min, mode, max float64) float64 {
	if max <= min {
		return min
	}
	u := rng.Float64()
	split := (mode - min) / (max - min)
	if u < split {
		return min + math.Sqrt(u*(max-min)*(mode-min))
	}
	return max - math.Sqrt((1-u)*(max-min)*(max-mode))
}

// samplePERT draws from the four-parameter Beta approximation of the PERT
// distribution, which concentrates mass around the most-likely value more
// than the plain triangle does.
func samplePERT(rng *rand.Rand, min, mode, max float64) float64 {
	if max <= min {
		return min
	}
	alpha := 1 + 4*(mode-min)/(max-min)
	beta := 1 + 4*(max-mode)/(max-min)
	g1 := sampleGamma(rng, alpha)
	g2 := sampleGamma(rng, beta)
	if g1+g2 == 0 {
		return mode
	}
	return min + g1/(g1+g2)*(max-min)
}

// sampleGamma draws from Gamma(shape, 1) with the Marsaglia-Tsang method.
// Shapes below one are boosted through the standard power transform.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		return sampleGamma(rng, shape+1) * math.Pow(rng.Float64(), 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
