package rules

import "math/rand"

// Similar reports whether two rules cover redundant domains: same kind,
// same prediction, and overlapping intervals on every layer for range
// kinds or the same relevant coefficients for logit rules.
func (r *Rule) Similar(other *Rule) bool {
	if other == nil || r.kind != other.kind || r.prediction != other.prediction {
		return false
	}
	if len(r.chrom1) != len(other.chrom1) {
		return false
	}
	if r.kind == Logit {
		return r.logitSimilar(other)
	}
	for i := range r.chrom1 {
		if isWildcard(r.chrom1[i], r.chrom2[i]) || isWildcard(other.chrom1[i], other.chrom2[i]) {
			continue
		}
		if r.chrom2[i] < other.chrom1[i] || other.chrom2[i] < r.chrom1[i] {
			return false
		}
	}
	return true
}

// Mutate perturbs one random layer. The lower gene moves down and the upper
// gene moves up by independent draws from U(-temperature, +temperature).
func (r *Rule) Mutate(rng *rand.Rand, temperature float64) {
	if r.Layers() == 0 {
		return
	}
	j := rng.Intn(r.Layers())
	d1 := (rng.Float64()*2 - 1) * temperature
	d2 := (rng.Float64()*2 - 1) * temperature
	r.chrom1[j], r.chrom2[j] = adjustRange(r.chrom1[j]-d1, r.chrom2[j]+d2)
	r.needsEvaluation = true
	r.origin = OriginMutation
}

// Crossover exchanges layers [min(cut1,cut2), max(cut1,cut2)] with other.
// Rules of different kinds and equal cut points are left untouched. Both
// rules are marked for evaluation when any gene changed.
func (r *Rule) Crossover(other *Rule, cut1, cut2 int) bool {
	if other == nil || other == r || r.kind != other.kind || cut1 == cut2 {
		return false
	}
	if cut1 > cut2 {
		cut1, cut2 = cut2, cut1
	}
	if cut1 < 0 {
		cut1 = 0
	}
	if last := min(r.Layers(), other.Layers()) - 1; cut2 > last {
		cut2 = last
	}

	changed := false
	for i := cut1; i <= cut2; i++ {
		if r.chrom1[i] != other.chrom1[i] || r.chrom2[i] != other.chrom2[i] {
			changed = true
		}
		r.chrom1[i], other.chrom1[i] = other.chrom1[i], r.chrom1[i]
		r.chrom2[i], other.chrom2[i] = other.chrom2[i], r.chrom2[i]
	}
	if !changed {
		return false
	}
	for _, rule := range []*Rule{r, other} {
		rule.origin = OriginCrossover
		rule.needsEvaluation = true
	}
	return true
}
