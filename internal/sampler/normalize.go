package sampler

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"nichegarp/internal/model"
)

// Normalizer linearly maps each layer from its observed [min, max] onto
// [-1, +1].
type Normalizer struct {
	Min model.Sample
	Max model.Sample
}

// FitNormalizer computes per-layer bounds over every point of the sampler.
func FitNormalizer(m *Memory) (*Normalizer, error) {
	if m.layers == 0 {
		return nil, fmt.Errorf("cannot normalize a sampler without layers")
	}
	columns := make([][]float64, m.layers)
	for _, group := range [][]model.Occurrence{m.presences, m.absences, m.background} {
		for _, occ := range group {
			for layer, v := range occ.Env {
				columns[layer] = append(columns[layer], v)
			}
		}
	}
	n := &Normalizer{Min: model.NewSample(m.layers), Max: model.NewSample(m.layers)}
	for layer, col := range columns {
		if len(col) == 0 {
			return nil, fmt.Errorf("layer %d has no values", layer)
		}
		n.Min[layer] = floats.Min(col)
		n.Max[layer] = floats.Max(col)
	}
	return n, nil
}

// NormalizerFromRecord rebuilds a normalizer from persisted bounds.
func NormalizerFromRecord(rec *model.Normalization) (*Normalizer, error) {
	if rec == nil {
		return nil, nil
	}
	if len(rec.Min) != len(rec.Max) {
		return nil, fmt.Errorf("normalization bounds length mismatch: %d != %d", len(rec.Min), len(rec.Max))
	}
	return &Normalizer{Min: model.Sample(rec.Min).Clone(), Max: model.Sample(rec.Max).Clone()}, nil
}

func (n *Normalizer) Record() *model.Normalization {
	return &model.Normalization{Min: n.Min.Clone(), Max: n.Max.Clone()}
}

// Apply scales one raw environment vector. Constant layers map to 0.
func (n *Normalizer) Apply(raw model.Sample) model.Sample {
	out := model.NewSample(len(raw))
	for i, v := range raw {
		span := n.Max[i] - n.Min[i]
		if span == 0 {
			continue
		}
		out[i] = (v-n.Min[i])/span*2 - 1
	}
	return out
}

// Normalize returns a sampler whose points are all scaled by n.
func (n *Normalizer) Normalize(m *Memory) *Memory {
	scale := func(occs []model.Occurrence) []model.Occurrence {
		if occs == nil {
			return nil
		}
		out := make([]model.Occurrence, len(occs))
		for i, occ := range occs {
			occ.Env = n.Apply(occ.Env)
			out[i] = occ
		}
		return out
	}
	return &Memory{
		presences:  scale(m.presences),
		absences:   scale(m.absences),
		background: scale(m.background),
		layers:     m.layers,
	}
}
