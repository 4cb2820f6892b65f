package stats

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"nichegarp/internal/model"
)

// WriteConvergencePlot renders convergence and the best archived
// significance by generation as a PNG inside runDir.
func WriteConvergencePlot(runDir, title string, diagnostics []model.GenerationDiagnostics) (string, error) {
	if len(diagnostics) == 0 {
		return "", fmt.Errorf("no diagnostics to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Value"

	convergence := make(plotter.XYs, len(diagnostics))
	best := make(plotter.XYs, len(diagnostics))
	for i, d := range diagnostics {
		convergence[i].X = float64(d.Generation)
		convergence[i].Y = d.Convergence
		best[i].X = float64(d.Generation)
		best[i].Y = d.Best
	}

	convergenceLine, err := plotter.NewLine(convergence)
	if err != nil {
		return "", err
	}
	bestLine, err := plotter.NewLine(best)
	if err != nil {
		return "", err
	}
	bestLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(convergenceLine, bestLine)
	p.Legend.Add("convergence", convergenceLine)
	p.Legend.Add("best significance", bestLine)
	p.Legend.Top = true

	path := filepath.Join(runDir, plotFile)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return "", err
	}
	return path, nil
}
