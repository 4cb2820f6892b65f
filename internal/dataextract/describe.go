package dataextract

import (
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"nichegarp/internal/sampler"
)

type LayerStats struct {
	Index int     `json:"index"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	Std   float64 `json:"std"`
}

type Description struct {
	Rows      int          `json:"rows"`
	Presences int          `json:"presences"`
	Layers    []LayerStats `json:"layers"`
}

// DescribeOccurrencesCSV summarizes every environment layer of an
// occurrence file in the sampler's layout.
func DescribeOccurrencesCSV(in io.Reader) (Description, error) {
	occs, err := sampler.ReadOccurrencesCSV(in, 1)
	if err != nil {
		return Description{}, err
	}
	if len(occs) == 0 {
		return Description{}, nil
	}

	width := len(occs[0].Env)
	if width == 0 {
		return Description{}, fmt.Errorf("occurrence file has no layer columns")
	}
	columns := make([][]float64, width)
	desc := Description{Rows: len(occs), Layers: make([]LayerStats, width)}
	for row, occ := range occs {
		if len(occ.Env) != width {
			return Description{}, fmt.Errorf("inconsistent layer count at row %d: got=%d want=%d", row+1, len(occ.Env), width)
		}
		if occ.Abundance > 0 {
			desc.Presences++
		}
		for i, v := range occ.Env {
			columns[i] = append(columns[i], v)
		}
	}
	for i, values := range columns {
		mean, std := stat.MeanStdDev(values, nil)
		desc.Layers[i] = LayerStats{
			Index: i,
			Min:   floats.Min(values),
			Mean:  mean,
			Max:   floats.Max(values),
			Std:   std,
		}
	}
	return desc, nil
}

// FormatDescription renders one line per layer.
func FormatDescription(desc Description) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rows=%d presences=%d layers=%d\n", desc.Rows, desc.Presences, len(desc.Layers))
	for _, l := range desc.Layers {
		fmt.Fprintf(&b, "layer=%d min=%.4f mean=%.4f max=%.4f std=%.4f\n", l.Index, l.Min, l.Mean, l.Max, l.Std)
	}
	return b.String()
}
