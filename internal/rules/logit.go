package rules

import (
	"math"
	"math/rand"

	"nichegarp/internal/model"
)

// coefficientThreshold separates relevant logit coefficients from
// negligible ones when comparing rules.
const coefficientThreshold = 0.05

// CoefficientSource supplies the per-layer linear and quadratic terms used
// to seed logit rules.
type CoefficientSource interface {
	Linear(layer int) float64
	Quadratic(layer int) float64
}

// InitializeLogit copies regression coefficients into randomly chosen
// layers. Coefficients outside [-1, +1] are clamped.
func (r *Rule) InitializeLogit(rng *rand.Rand, coefficients CoefficientSource) {
	layers := r.Layers()
	for i := 0; i < layers; i++ {
		j := rng.Intn(layers)
		r.chrom1[j] = clamp(coefficients.Linear(j))
		r.chrom2[j] = clamp(coefficients.Quadratic(j))
	}
	r.needsEvaluation = true
	r.origin = OriginColonization
}

func (r *Rule) logitStrength(sample model.Sample) int {
	sum := 0.0
	for i, x := range sample {
		if equalEps(r.chrom1[i], -1.0) {
			continue
		}
		c2 := r.chrom2[i]
		sum += x*r.chrom1[i] + x*c2*c2
	}
	prob := 1.0 / (1.0 + math.Exp(-sum))
	if prob >= 0.5 {
		return 1
	}
	return 0
}

func (r *Rule) logitSimilar(other *Rule) bool {
	for k := range r.chrom1 {
		a := math.Abs(r.chrom1[k])
		b := math.Abs(other.chrom1[k])
		if (a < coefficientThreshold && b > coefficientThreshold) ||
			(a > coefficientThreshold && b < coefficientThreshold) {
			return false
		}
	}
	return true
}
