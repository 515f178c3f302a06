package runner

import (
	"fmt"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/runner/builder"
	"gonum.org/v1/gonum/mat"
)

// MonitorHooks customize a Monitor dispatch. The kernel is
// kern(iter, dim, state, out, user args...) and writes dim values per
// particle, particle i at out[i*dim : (i+1)*dim].
type MonitorHooks interface {
	KernelName(iter int) string
	EvalPre(l *Launch) error
	EvalPost(l *Launch) error
}

// MonitorBase implements MonitorHooks with a fixed name and no-op hooks
type MonitorBase struct {
	hookBase
	Name string
}

func (b MonitorBase) KernelName(int) string { return b.Name }

// Monitor evaluates a per-particle statistic on the device
type Monitor struct {
	hooks MonitorHooks
	cache kernelCache
	out   scratch
}

func NewMonitor(hooks MonitorHooks) *Monitor {
	if hooks == nil {
		panic("NewMonitor: hooks are nil")
	}
	return &Monitor{hooks: hooks, cache: kernelCache{kind: builder.KindMonitor}}
}

// Run evaluates dim values per particle into out, which must hold N*dim
// values. A skipped dispatch leaves out untouched.
func (d *Monitor) Run(iter, dim int, s *State, out []float64) error {
	_, err := d.run(iter, dim, s, out)
	return err
}

// RunDense is Run into a new N x dim matrix. It returns nil when the
// dispatch is skipped.
func (d *Monitor) RunDense(iter, dim int, s *State) (*mat.Dense, error) {
	out := make([]float64, s.Size()*dim)
	ran, err := d.run(iter, dim, s, out)
	if err != nil || !ran {
		return nil, err
	}
	return mat.NewDense(s.Size(), dim, out), nil
}

func (d *Monitor) run(iter, dim int, s *State, out []float64) (bool, error) {
	if dim < 1 {
		panic(fmt.Sprintf("Monitor.Run: dimension must be at least 1, got %d", dim))
	}
	ok, err := d.cache.bind(s, d.hooks.KernelName(iter))
	if err != nil || !ok {
		return false, err
	}
	n := s.Size() * dim
	if len(out) < n {
		panic(fmt.Sprintf("Monitor.Run: output holds %d values, need %d", len(out), n))
	}
	if err := resizeOutput(&d.out, s, n); err != nil {
		return false, err
	}
	if err := SetKernelArgs(d.cache.kernel, 0, uint64(iter), uint64(dim), s.StateBuffer(), d.out.buf); err != nil {
		return false, err
	}

	l := d.cache.launchContext(s, iter, dim, d.out.buf)
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

func (d *Monitor) Configure() *Configure { return &d.cache.configure }

func (d *Monitor) Kernel() compute.Kernel { return d.cache.kernel }

func (d *Monitor) KernelName() string { return d.cache.name }

func (d *Monitor) Free() {
	d.cache.free()
	d.out.free()
}
