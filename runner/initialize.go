package runner

import (
	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/runner/builder"
)

// InitializeHooks customize an Initialize dispatch. The kernel is
// kern(state, accept, user args...).
type InitializeHooks interface {
	// KernelName selects the kernel; empty skips the dispatch
	KernelName() string
	// EvalParam receives the parameter passed to Run
	EvalParam(l *Launch, param interface{}) error
	EvalPre(l *Launch) error
	EvalPost(l *Launch) error
}

// InitializeBase implements InitializeHooks with a fixed name and no-op hooks
type InitializeBase struct {
	hookBase
	Name string
}

func (b InitializeBase) KernelName() string { return b.Name }

func (InitializeBase) EvalParam(*Launch, interface{}) error { return nil }

// Initialize runs the initialization kernel and counts accepted particles
type Initialize struct {
	hooks  InitializeHooks
	cache  kernelCache
	accept scratch
}

func NewInitialize(hooks InitializeHooks) *Initialize {
	if hooks == nil {
		panic("NewInitialize: hooks are nil")
	}
	return &Initialize{hooks: hooks, cache: kernelCache{kind: builder.KindInitialize}}
}

// Run initializes every particle of s and returns the number accepted
func (d *Initialize) Run(s *State, param interface{}) (int, error) {
	ok, err := d.cache.bind(s, d.hooks.KernelName())
	if err != nil || !ok {
		return 0, err
	}
	if err := resizeAccept(&d.accept, s); err != nil {
		return 0, err
	}
	if err := SetKernelArgs(d.cache.kernel, 0, s.StateBuffer(), d.accept.buf); err != nil {
		return 0, err
	}

	l := d.cache.launchContext(s, 0, 0, d.accept.buf)
	if err := d.hooks.EvalParam(l, param); err != nil {
		return 0, err
	}
	if err := d.hooks.EvalPre(l); err != nil {
		return 0, err
	}
	if err := s.launch(d.cache.kernel, d.cache.configure); err != nil {
		return 0, err
	}
	if err := d.hooks.EvalPost(l); err != nil {
		return 0, err
	}
	return countAccept(d.hooks, l, &d.accept)
}

// Configure is the launch geometry of the bound kernel
func (d *Initialize) Configure() *Configure { return &d.cache.configure }

// Kernel is the bound kernel, nil before the first dispatch
func (d *Initialize) Kernel() compute.Kernel { return d.cache.kernel }

// KernelName is the bound kernel name, empty when unbound or skipped
func (d *Initialize) KernelName() string { return d.cache.name }

func (d *Initialize) Free() {
	d.cache.free()
	d.accept.free()
}
