package runner

import (
	"fmt"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/runner/builder"
)

// AcceptCounter may be implemented by initialize and move hooks to replace
// the default host-side sum of the accept flags
type AcceptCounter interface {
	AcceptCount(l *Launch, accept compute.Buffer) (int, error)
}

// kernelCache holds the kernel a dispatcher is bound to. It is rebound when
// the resolved name, the state or the state's build id changes.
type kernelCache struct {
	kind      builder.KernelKind
	name      string
	state     *State
	buildID   int
	kernel    compute.Kernel
	configure Configure
}

// bind resolves name against s. It reports false when name is empty, which
// skips the dispatch.
func (kc *kernelCache) bind(s *State, name string) (bool, error) {
	if s == nil {
		panic(fmt.Sprintf("%s dispatch: state is nil", kc.kind))
	}
	if name == "" {
		kc.name = ""
		return false, nil
	}
	if kc.kernel != nil && kc.name == name && kc.state == s && kc.buildID == s.BuildID() {
		return true, nil
	}

	// 1. Fresh kernel from the current program
	k, err := s.CreateKernel(name)
	if err != nil {
		return false, err
	}

	// 2. Launch geometry for the new kernel/device pair
	var cfg Configure
	if err := cfg.Compute(s.Size(), k, s.Device()); err != nil {
		k.Free()
		return false, err
	}

	kc.release()
	kc.kernel = k
	kc.configure = cfg
	kc.name = name
	kc.state = s
	kc.buildID = s.BuildID()
	s.log.Debug("bound kernel", "kind", kc.kind.String(), "name", name,
		"build_id", kc.buildID, "global", cfg.Global, "local", cfg.Local, "padding", cfg.Padding)
	return true, nil
}

func (kc *kernelCache) launchContext(s *State, iter, dim int, scratch compute.Buffer) *Launch {
	return &Launch{
		Kernel:    kc.kernel,
		Offset:    kc.kind.ArgsOffset(),
		Iter:      iter,
		Dim:       dim,
		State:     s,
		Configure: &kc.configure,
		Scratch:   scratch,
	}
}

func (kc *kernelCache) release() {
	if kc.kernel != nil {
		kc.kernel.Free()
		kc.kernel = nil
	}
}

// free drops the kernel; the next call rebinds
func (kc *kernelCache) free() {
	kc.release()
	kc.name = ""
	kc.state = nil
}

// resizeAccept sizes the accept flags to one uint64 per particle
func resizeAccept(sc *scratch, s *State) error {
	flags := compute.MemReadWrite | compute.MemHostReadOnly | compute.MemUseHostPtr
	if err := sc.resize(s.Device(), int64(s.Size())*8, flags); err != nil {
		return fmt.Errorf("accept buffer: %w", err)
	}
	return nil
}

// resizeOutput sizes a floating point output of n values
func resizeOutput(sc *scratch, s *State, n int) error {
	flags := compute.MemReadWrite | compute.MemHostReadOnly
	if err := sc.resize(s.Device(), int64(n)*s.FloatType().Size(), flags); err != nil {
		return fmt.Errorf("output buffer: %w", err)
	}
	return nil
}

// countAccept sums the accept flags unless hooks count them
func countAccept(hooks interface{}, l *Launch, sc *scratch) (int, error) {
	if c, ok := hooks.(AcceptCounter); ok {
		return c.AcceptCount(l, sc.buf)
	}
	if err := sc.read(); err != nil {
		return 0, err
	}
	var total uint64
	for _, v := range viewOf[uint64](sc.host)[:l.State.Size()] {
		total += v
	}
	return int(total), nil
}

// readOutput reads n device floats into out
func readOutput(sc *scratch, s *State, out []float64, n int) error {
	if err := sc.read(); err != nil {
		return err
	}
	convertFloats(s.FloatType(), sc.host, out[:n])
	return nil
}

// hookBase is the no-op pre and post hooks shared by the dispatch bases
type hookBase struct{}

func (hookBase) EvalPre(*Launch) error { return nil }

func (hookBase) EvalPost(*Launch) error { return nil }
