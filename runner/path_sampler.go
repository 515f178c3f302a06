package runner

import (
	"fmt"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// PathSampler accumulates a path sampling estimate of a log normalizing
// constant. Each Eval runs a Path dispatch, records the grid value returned
// by EvalGrid and the weighted mean of the per-particle integrand, and
// Integrate applies the trapezoidal rule over the recorded grid.
type PathSampler struct {
	path      *Path
	values    []float64
	grid      []float64
	integrand []float64
}

func NewPathSampler(path *Path) *PathSampler {
	if path == nil {
		panic("NewPathSampler: path is nil")
	}
	return &PathSampler{path: path}
}

// Eval evaluates iteration iter. weights are the normalized particle
// weights, nil for equal weights. A skipped dispatch records nothing.
func (ps *PathSampler) Eval(iter int, s *State, weights []float64) error {
	if weights != nil && len(weights) != s.Size() {
		panic(fmt.Sprintf("PathSampler.Eval: %d weights for %d particles", len(weights), s.Size()))
	}
	if len(ps.values) != s.Size() {
		ps.values = make([]float64, s.Size())
	}
	ran, err := ps.path.run(iter, s, ps.values)
	if err != nil || !ran {
		return err
	}
	grid := ps.path.hooks.EvalGrid(iter, s)
	if n := len(ps.grid); n > 0 && grid <= ps.grid[n-1] {
		return fmt.Errorf("path grid must increase: iteration %d has %g after %g", iter, grid, ps.grid[n-1])
	}
	ps.grid = append(ps.grid, grid)
	ps.integrand = append(ps.integrand, stat.Mean(ps.values, weights))
	return nil
}

// Integrate returns the trapezoidal integral of the recorded integrand, 0
// with fewer than two grid points
func (ps *PathSampler) Integrate() float64 {
	if len(ps.grid) < 2 {
		return 0
	}
	return integrate.Trapezoidal(ps.grid, ps.integrand)
}

// Grid returns the recorded grid values
func (ps *PathSampler) Grid() []float64 { return ps.grid }

// Integrand returns the recorded weighted means
func (ps *PathSampler) Integrand() []float64 { return ps.integrand }

// Reset discards the recorded points
func (ps *PathSampler) Reset() {
	ps.grid = ps.grid[:0]
	ps.integrand = ps.integrand[:0]
}
