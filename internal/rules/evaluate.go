package rules

import (
	"fmt"
	"math"

	"nichegarp/internal/model"
)

// minSignificanceSamples is the smallest match count for which the
// significance statistic is computed.
const minSignificanceSamples = 10

// Evaluate scores the rule against the cached occurrences and clears the
// evaluation flag. Utility is the posterior probability times the
// significance.
func (r *Rule) Evaluate(cache []model.Occurrence) error {
	n := len(cache)
	if n == 0 {
		return fmt.Errorf("evaluate %s rule: empty cache", r.kind)
	}

	var (
		pXs, pYs, pXYs, no int
		pYcs, pYcXs        float64
	)
	for _, occ := range cache {
		y := occ.Class()
		strength := r.Strength(occ.Env)
		certainty := 0
		if r.prediction == y {
			certainty = 1
		}
		errValue := math.Abs(0 - y)

		pXs += strength
		pYs += certainty
		pYcs += errValue
		if strength > 0 {
			no++
			pXYs += certainty
			pYcXs += math.Abs(errValue - y)
		}
	}
	if no != pXs {
		return fmt.Errorf("%w: matched %d, strength sum %d", ErrEvaluationMismatch, no, pXs)
	}

	var u [NumPerformance]float64
	u[PerfUtility] = 1.0
	u[PerfPriorStrength] = float64(pXs) / float64(n)
	u[PerfPriorProb] = float64(pYs) / float64(n)
	u[PerfPriorDist] = pYcs / float64(n)
	prior := u[PerfPriorProb]

	if no > 0 {
		u[PerfPostStrength] = float64(no) / float64(n)
		u[PerfPostProb] = float64(pXYs) / float64(no)
		u[PerfPostDist] = pYcXs / float64(no)
		u[PerfCoverage] = float64(no) / float64(n)
	}
	if no >= minSignificanceSamples && prior > 0 && prior < 1 {
		u[PerfSignificance] = (float64(pXYs) - prior*float64(no)) /
			math.Sqrt(float64(no)*prior*(1.0-prior))
	}
	u[PerfUtility] *= u[PerfPostProb]
	u[PerfUtility] *= u[PerfSignificance]

	r.performance = u
	r.needsEvaluation = false
	return nil
}
