package runner

import (
	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/runner/builder"
)

// MoveHooks customize a Move dispatch. The kernel is
// kern(iter, state, accept, user args...).
type MoveHooks interface {
	KernelName(iter int) string
	EvalPre(l *Launch) error
	EvalPost(l *Launch) error
}

// MoveBase implements MoveHooks with a fixed name and no-op hooks
type MoveBase struct {
	hookBase
	Name string
}

func (b MoveBase) KernelName(int) string { return b.Name }

// Move runs the per-iteration move kernel and counts accepted proposals
type Move struct {
	hooks  MoveHooks
	cache  kernelCache
	accept scratch
}

func NewMove(hooks MoveHooks) *Move {
	if hooks == nil {
		panic("NewMove: hooks are nil")
	}
	return &Move{hooks: hooks, cache: kernelCache{kind: builder.KindMove}}
}

// Run moves every particle of s at iteration iter and returns the number
// of accepted moves
func (d *Move) Run(iter int, s *State) (int, error) {
	ok, err := d.cache.bind(s, d.hooks.KernelName(iter))
	if err != nil || !ok {
		return 0, err
	}
	if err := resizeAccept(&d.accept, s); err != nil {
		return 0, err
	}
	if err := SetKernelArgs(d.cache.kernel, 0, uint64(iter), s.StateBuffer(), d.accept.buf); err != nil {
		return 0, err
	}

	l := d.cache.launchContext(s, iter, 0, d.accept.buf)
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

func (d *Move) Configure() *Configure { return &d.cache.configure }

func (d *Move) Kernel() compute.Kernel { return d.cache.kernel }

func (d *Move) KernelName() string { return d.cache.name }

func (d *Move) Free() {
	d.cache.free()
	d.accept.free()
}
