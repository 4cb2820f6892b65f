package sampler

import (
	"errors"
	"fmt"
	"math/rand"

	"nichegarp/internal/model"
)

var (
	// ErrNoPresences is returned when sampling from a set without presences.
	ErrNoPresences = errors.New("no presence points available for sampling")
	// ErrNoBackground is returned when a pseudo-absence is needed but no
	// background points were loaded.
	ErrNoBackground = errors.New("cannot generate pseudo-absences without background points")
)

// Sampler draws training occurrences with replacement.
type Sampler interface {
	Sample(rng *rand.Rand) (model.Occurrence, error)
	NumIndependent() int
	NumPresence() int
	NumAbsence() int
}

// Memory is an in-memory sampler over presences, real absences and
// background points used as pseudo-absences.
type Memory struct {
	presences  []model.Occurrence
	absences   []model.Occurrence
	background []model.Occurrence
	layers     int
}

// NewMemory validates that every point carries the same layer count.
func NewMemory(presences, absences, background []model.Occurrence) (*Memory, error) {
	layers := -1
	for _, group := range [][]model.Occurrence{presences, absences, background} {
		for _, occ := range group {
			if layers < 0 {
				layers = len(occ.Env)
				continue
			}
			if len(occ.Env) != layers {
				return nil, fmt.Errorf("occurrence %q has %d layers, want %d", occ.ID, len(occ.Env), layers)
			}
		}
	}
	if layers < 0 {
		layers = 0
	}
	return &Memory{
		presences:  cloneOccurrences(presences, 1),
		absences:   cloneOccurrences(absences, 0),
		background: cloneOccurrences(background, 0),
		layers:     layers,
	}, nil
}

// Sample returns a presence with probability one half, otherwise a real
// absence when any exist, else a pseudo-absence drawn from background.
func (m *Memory) Sample(rng *rand.Rand) (model.Occurrence, error) {
	if len(m.presences) == 0 {
		return model.Occurrence{}, ErrNoPresences
	}
	if rng.Float64() < 0.5 {
		return pick(rng, m.presences), nil
	}
	if len(m.absences) > 0 {
		return pick(rng, m.absences), nil
	}
	return m.PseudoAbsence(rng)
}

// Absence draws a real absence, falling back to a pseudo-absence when the
// sampler holds none.
func (m *Memory) Absence(rng *rand.Rand) (model.Occurrence, error) {
	if len(m.absences) > 0 {
		return pick(rng, m.absences), nil
	}
	return m.PseudoAbsence(rng)
}

// PseudoAbsence draws one background point labeled as absence.
func (m *Memory) PseudoAbsence(rng *rand.Rand) (model.Occurrence, error) {
	if len(m.background) == 0 {
		return model.Occurrence{}, ErrNoBackground
	}
	occ := pick(rng, m.background)
	occ.Abundance = 0
	return occ, nil
}

// PseudoAbsences draws n background points.
func (m *Memory) PseudoAbsences(rng *rand.Rand, n int) ([]model.Occurrence, error) {
	out := make([]model.Occurrence, 0, n)
	for i := 0; i < n; i++ {
		occ, err := m.PseudoAbsence(rng)
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
	}
	return out, nil
}

func (m *Memory) NumIndependent() int { return m.layers }
func (m *Memory) NumPresence() int { return len(m.presences) }
func (m *Memory) NumAbsence() int { return len(m.absences) }
func (m *Memory) NumBackground() int { return len(m.background) }

// Presences returns copies of the presence points.
func (m *Memory) Presences() []model.Occurrence {
	return cloneOccurrences(m.presences, 1)
}

func (m *Memory) Absences() []model.Occurrence {
	return cloneOccurrences(m.absences, 0)
}

func (m *Memory) Background() []model.Occurrence {
	return cloneOccurrences(m.background, 0)
}

func pick(rng *rand.Rand, occs []model.Occurrence) model.Occurrence {
	occ := occs[rng.Intn(len(occs))]
	occ.Env = occ.Env.Clone()
	return occ
}

// cloneOccurrences deep copies occs. Presences without a positive abundance
// are given abundance 1 and absences are forced to 0.
func cloneOccurrences(occs []model.Occurrence, class float64) []model.Occurrence {
	if occs == nil {
		return nil
	}
	out := make([]model.Occurrence, len(occs))
	for i, occ := range occs {
		occ.Env = occ.Env.Clone()
		switch {
		case class == 0:
			occ.Abundance = 0
		case occ.Abundance <= 0:
			occ.Abundance = 1
		}
		out[i] = occ
	}
	return out
}
