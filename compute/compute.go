// Package compute defines the device abstraction the particle runner is
// written against: devices, buffers, programs and kernels. Concrete backends
// live in the host, occa and opencl sub-packages.
package compute

import (
	"fmt"
	"strings"
)

// MemFlags describes how a device buffer is accessed by kernels and the host
type MemFlags uint64

const (
	MemReadWrite MemFlags = 1 << iota
	MemWriteOnly
	MemReadOnly
	MemUseHostPtr
	MemAllocHostPtr
	MemCopyHostPtr
	MemHostWriteOnly
	MemHostReadOnly
	MemHostNoAccess
)

var memFlagNames = []string{
	"READ_WRITE", "WRITE_ONLY", "READ_ONLY", "USE_HOST_PTR",
	"ALLOC_HOST_PTR", "COPY_HOST_PTR", "HOST_WRITE_ONLY",
	"HOST_READ_ONLY", "HOST_NO_ACCESS",
}

// Has reports whether all bits of f2 are set in f
func (f MemFlags) Has(f2 MemFlags) bool {
	return f&f2 == f2
}

// HostAccess returns only the host access qualifiers of f
func (f MemFlags) HostAccess() MemFlags {
	return f & (MemHostWriteOnly | MemHostReadOnly | MemHostNoAccess)
}

// WithoutHostAccess strips the host access qualifiers, for devices that do
// not understand them
func (f MemFlags) WithoutHostAccess() MemFlags {
	return f &^ (MemHostWriteOnly | MemHostReadOnly | MemHostNoAccess)
}

func (f MemFlags) String() string {
	if f == 0 {
		return "NONE"
	}
	var parts []string
	for i, name := range memFlagNames {
		if f&(1<<uint(i)) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Dialect is the kernel language a device compiles
type Dialect int

const (
	DialectOpenCL Dialect = iota // OpenCL C, __kernel entry points
	DialectOKL                   // OCCA kernel language, @kernel entry points
)

// Capabilities reports the feature tier of a device.
// Version follows the OpenCL convention, e.g. 120 for 1.2.
type Capabilities struct {
	Dialect         Dialect
	Version         int
	DoublePrecision bool
	HostAccessFlags bool
	// HostAliasing is set when a MemUseHostPtr buffer is backed by the
	// caller's host memory
	HostAliasing bool
}

// WorkGroupInfo is what a kernel reports about its launch geometry on a device
type WorkGroupInfo struct {
	PreferredMultiple int
	MaxSize           int
	Required          [3]int // compile-time work-group size, zeros if none
}

// BuildReport is the per-device outcome of a program build
type BuildReport struct {
	Device  string
	Success bool
	Log     string
}

// Buffer is a block of device memory
type Buffer interface {
	Size() int64
	Flags() MemFlags
	Free()
}

// Kernel is one entry point of a built program. Arguments are bound by
// position and persist between launches.
type Kernel interface {
	Name() string
	SetArg(index int, value interface{}) error
	WorkGroup(dev Device) (WorkGroupInfo, error)
	Free()
}

// Program is device source that is compiled with Build
type Program interface {
	Source() string
	// Build compiles the program. A compile failure returns an error
	// wrapping ErrBuildFailure, and Reports holds the compiler output.
	Build(flags string) error
	Reports() []BuildReport
	CreateKernel(name string) (Kernel, error)
	Free()
}

// Device is one logical compute device with a single in-order queue.
// Read, Write and Launch block until the device has finished the work.
type Device interface {
	Name() string
	Capabilities() Capabilities
	// NewBuffer allocates size bytes. When flags has MemUseHostPtr the
	// buffer is backed by host, which must be at least size bytes long;
	// with MemCopyHostPtr the contents of host are copied in.
	NewBuffer(size int64, flags MemFlags, host []byte) (Buffer, error)
	Read(buf Buffer, offset int64, dst []byte) error
	Write(buf Buffer, offset int64, src []byte) error
	NewProgram(source string) (Program, error)
	Launch(k Kernel, global, local int) error
	Free()
}

// CheckRange validates a transfer of n bytes at offset against a buffer
func CheckRange(buf Buffer, offset int64, n int) error {
	if buf == nil {
		return fmt.Errorf("transfer on nil buffer")
	}
	if offset < 0 || offset+int64(n) > buf.Size() {
		return fmt.Errorf("transfer of %d bytes at offset %d exceeds buffer size %d",
			n, offset, buf.Size())
	}
	return nil
}
