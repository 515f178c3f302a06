package runner

import (
	"fmt"

	"github.com/notargets/SMCKernel/compute"
)

// SetKernelArgs binds args to consecutive positions starting at offset
func SetKernelArgs(k compute.Kernel, offset int, args ...interface{}) error {
	for i, arg := range args {
		if err := k.SetArg(offset+i, arg); err != nil {
			return fmt.Errorf("bind argument %d of %s: %w", offset+i, k.Name(), err)
		}
	}
	return nil
}

// Launch is handed to dispatch hooks just before and after a kernel runs.
// User arguments start at Offset.
type Launch struct {
	Kernel    compute.Kernel
	Offset    int
	Iter      int
	Dim       int
	State     *State
	Configure *Configure
	// Scratch is the accept flags of initialize and move kernels, or the
	// output of monitor and path kernels
	Scratch compute.Buffer
}

// SetArgs binds user arguments from Offset on
func (l *Launch) SetArgs(args ...interface{}) error {
	return SetKernelArgs(l.Kernel, l.Offset, args...)
}

// SetArg binds one user argument at Offset+i
func (l *Launch) SetArg(i int, arg interface{}) error {
	return SetKernelArgs(l.Kernel, l.Offset+i, arg)
}
