package statutory

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// BATCH - A payroll run computes many employees concurrently
// =============================================================================

// BatchCalculator fans a payroll run out over a bounded worker pool.
// Results keep the order of the inputs.
type BatchCalculator struct {
	Calculator *Calculator
	Workers    int // <= 0 means GOMAXPROCS
}

func (b *BatchCalculator) workers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// ComputeBatch computes every input and fails the whole run on the first
// error. A payroll run is all-or-nothing.
func (b *BatchCalculator) ComputeBatch(ctx context.Context, inputs []CalculationInput) ([]Results, error) {
	out := make([]Results, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers())
	for i := range inputs {
		g.Go(func() error {
			res, err := b.Calculator.Compute(gctx, inputs[i])
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Outcome is one employee's result within ComputeEach.
type Outcome struct {
	Input   CalculationInput
	Results Results
	Err     error
}

// ComputeEach computes every input independently and reports each outcome,
// for previews where one bad employee should not hide the rest.
func (b *BatchCalculator) ComputeEach(ctx context.Context, inputs []CalculationInput) []Outcome {
	out := make([]Outcome, len(inputs))
	var g errgroup.Group
	g.SetLimit(b.workers())
	for i := range inputs {
		g.Go(func() error {
			res, err := b.Calculator.Compute(ctx, inputs[i])
			out[i] = Outcome{Input: inputs[i], Results: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
