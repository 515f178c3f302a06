package runner

import (
	"fmt"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/runner/builder"
)

// PathHooks customize a Path dispatch. The kernel is
// kern(iter, state, out, user args...) and writes one value per particle.
type PathHooks interface {
	KernelName(iter int) string
	EvalPre(l *Launch) error
	EvalPost(l *Launch) error
	// EvalGrid returns the grid value of iteration iter
	EvalGrid(iter int, s *State) float64
}

// PathBase implements PathHooks with a fixed name, no-op hooks and a zero
// grid
type PathBase struct {
	hookBase
	Name string
}

func (b PathBase) KernelName(int) string { return b.Name }

func (PathBase) EvalGrid(int, *State) float64 { return 0 }

// Path evaluates the per-particle integrand of a path sampling estimate
type Path struct {
	hooks PathHooks
	cache kernelCache
	out   scratch
}

func NewPath(hooks PathHooks) *Path {
	if hooks == nil {
		panic("NewPath: hooks are nil")
	}
	return &Path{hooks: hooks, cache: kernelCache{kind: builder.KindPath}}
}

// Run evaluates one value per particle into out, which must hold N values,
// and returns EvalGrid. A skipped dispatch leaves out untouched and returns 0.
func (d *Path) Run(iter int, s *State, out []float64) (float64, error) {
	ran, err := d.run(iter, s, out)
	if err != nil || !ran {
		return 0, err
	}
	return d.hooks.EvalGrid(iter, s), nil
}

func (d *Path) run(iter int, s *State, out []float64) (bool, error) {
	ok, err := d.cache.bind(s, d.hooks.KernelName(iter))
	if err != nil || !ok {
		return false, err
	}
	n := s.Size()
	if len(out) < n {
		panic(fmt.Sprintf("Path.Run: output holds %d values, need %d", len(out), n))
	}
	if err := resizeOutput(&d.out, s, n); err != nil {
		return false, err
	}
	if err := SetKernelArgs(d.cache.kernel, 0, uint64(iter), s.StateBuffer(), d.out.buf); err != nil {
		return false, err
	}

	l := d.cache.launchContext(s, iter, 0, d.out.buf)
	if err := d.hooks.EvalPre(l); err != nil {
		return false, err
	}
	if err := s.launch(d.cache.kernel, d.cache.configure); err != nil {
		return false, err
	}
	if err := readOutput(&d.out, s, out, n); err != nil {
		return false, err
	}
	if err := d.hooks.EvalPost(l); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Path) Configure() *Configure { return &d.cache.configure }

func (d *Path) Kernel() compute.Kernel { return d.cache.kernel }

func (d *Path) KernelName() string { return d.cache.name }

func (d *Path) Free() {
	d.cache.free()
	d.out.free()
}
