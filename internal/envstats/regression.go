package envstats

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"nichegarp/internal/model"
)

// Regression holds per-layer least-squares fits of the presence class
// against each environment layer: y = a + b*x for the linear term and the
// slope c of y against x².
type Regression struct {
	A       []float64
	B       []float64
	C       []float64
	Samples int
}

// NewRegression fits every layer independently. Layers with no variance get
// zero coefficients.
func NewRegression(cache []model.Occurrence) (*Regression, error) {
	if len(cache) == 0 {
		return nil, fmt.Errorf("regression requires at least one occurrence")
	}
	layers := len(cache[0].Env)
	y := make([]float64, len(cache))
	columns := make([][]float64, layers)
	squares := make([][]float64, layers)
	for layer := range columns {
		columns[layer] = make([]float64, len(cache))
		squares[layer] = make([]float64, len(cache))
	}
	for i, occ := range cache {
		if len(occ.Env) != layers {
			return nil, fmt.Errorf("occurrence %d has %d layers, want %d", i, len(occ.Env), layers)
		}
		y[i] = occ.Class()
		for layer, v := range occ.Env {
			columns[layer][i] = v
			squares[layer][i] = v * v
		}
	}

	reg := &Regression{
		A:       make([]float64, layers),
		B:       make([]float64, layers),
		C:       make([]float64, layers),
		Samples: len(cache),
	}
	for layer := 0; layer < layers; layer++ {
		reg.A[layer], reg.B[layer] = fit(columns[layer], y)
		_, reg.C[layer] = fit(squares[layer], y)
	}
	return reg, nil
}

func (r *Regression) Layers() int {
	return len(r.B)
}

// Linear returns the slope of the class against the layer.
func (r *Regression) Linear(layer int) float64 {
	return r.B[layer]
}

// Quadratic returns the slope of the class against the squared layer.
func (r *Regression) Quadratic(layer int) float64 {
	return r.C[layer]
}

// minVariance treats near-constant layers as constant.
const minVariance = 1e-12

func fit(x, y []float64) (float64, float64) {
	if len(x) < 2 || stat.Variance(x, nil) < minVariance {
		return 0, 0
	}
	return stat.LinearRegression(x, y, nil, false)
}
