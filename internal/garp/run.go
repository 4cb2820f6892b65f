package garp

import (
	"context"

	"nichegarp/internal/model"
)

// Observer receives diagnostics after every generation.
type Observer func(model.GenerationDiagnostics)

// Run initializes the algorithm when needed and iterates until done or
// until ctx is cancelled. Cancellation is checked between generations.
func (a *Algorithm) Run(ctx context.Context, observe Observer) error {
	if a.state == StateUninitialized {
		if err := a.Initialize(); err != nil {
			return err
		}
	}
	for !a.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		evictedBefore := a.evicted
		if err := a.Iterate(); err != nil {
			return err
		}
		if observe != nil {
			observe(a.diagnostics(a.evicted - evictedBefore))
		}
	}
	// A run that converged before its first Iterate still needs the final
	// filter.
	return a.Iterate()
}

// Diagnostics describes the archive as of the last generation.
func (a *Algorithm) Diagnostics() model.GenerationDiagnostics {
	return a.diagnostics(0)
}

func (a *Algorithm) diagnostics(evicted int) model.GenerationDiagnostics {
	diag := model.GenerationDiagnostics{
		Generation:  a.generation,
		Convergence: a.convergence,
		Evicted:     evicted,
	}
	if a.fittest == nil {
		return diag
	}
	diag.Rules = a.fittest.Len()
	diag.Best, diag.Worst, diag.Mean = a.fittest.PerformanceSummary(DefaultPerfIndex)
	diag.Kinds = a.fittest.KindStats(DefaultPerfIndex)
	return diag
}
