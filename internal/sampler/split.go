package sampler

import (
	"fmt"
	"math/rand"

	"nichegarp/internal/model"
)

// Split partitions presences and absences into train and test samplers.
// int(n*proportion) points of each group go to train; background is shared.
func (m *Memory) Split(rng *rand.Rand, proportion float64) (*Memory, *Memory, error) {
	if proportion < 0 || proportion > 1 {
		return nil, nil, fmt.Errorf("training proportion must be in [0, 1], got %f", proportion)
	}
	trainP, testP := splitOccurrences(rng, m.presences, proportion)
	trainA, testA := splitOccurrences(rng, m.absences, proportion)
	train := &Memory{presences: trainP, absences: trainA, background: m.background, layers: m.layers}
	test := &Memory{presences: testP, absences: testA, background: m.background, layers: m.layers}
	return train, test, nil
}

func splitOccurrences(rng *rand.Rand, occs []model.Occurrence, proportion float64) ([]model.Occurrence, []model.Occurrence) {
	n := len(occs)
	k := int(float64(n) * proportion)
	toTrain := make([]bool, n)
	for i := 0; i < k; i++ {
		toTrain[i] = true
	}
	rng.Shuffle(n, func(i, j int) { toTrain[i], toTrain[j] = toTrain[j], toTrain[i] })

	var train, test []model.Occurrence
	for i, occ := range occs {
		occ.Env = occ.Env.Clone()
		if toTrain[i] {
			train = append(train, occ)
		} else {
			test = append(test, occ)
		}
	}
	return train, test
}
