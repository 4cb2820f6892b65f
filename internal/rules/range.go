package rules

import (
	"math"
	"math/rand"

	"nichegarp/internal/model"
)

const geneEpsilon = 1e-6

func equalEps(a, b float64) bool {
	return math.Abs(a-b) <= geneEpsilon
}

func isWildcard(lo, hi float64) bool {
	return equalEps(lo, -1.0) && equalEps(hi, +1.0)
}

// RangeSeeder supplies class-conditional envelopes for range rule genes.
type RangeSeeder interface {
	BioclimRange(rng *rand.Rand, prediction float64, layer int) (float64, float64)
}

// InitializeRange seeds randomly chosen layers of a range or negated range
// rule from the class envelope of its prediction. Layers may be picked
// more than once; unpicked layers stay wildcards.
func (r *Rule) InitializeRange(rng *rand.Rand, seeder RangeSeeder) {
	layers := r.Layers()
	for i := 0; i < layers; i++ {
		j := rng.Intn(layers)
		lo, hi := seeder.BioclimRange(rng, r.prediction, j)
		r.SetGene(j, lo, hi)
	}
	r.origin = OriginColonization
}

func (r *Rule) rangeApplies(sample model.Sample) bool {
	for i := range r.chrom1 {
		lo, hi := r.chrom1[i], r.chrom2[i]
		if isWildcard(lo, hi) {
			continue
		}
		if sample[i] < lo || sample[i] > hi {
			return false
		}
	}
	return true
}

func (r *Rule) rangeStrength(sample model.Sample) int {
	if r.rangeApplies(sample) {
		return 1
	}
	return 0
}
