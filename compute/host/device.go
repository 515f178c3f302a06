// Package host is an in-process serial compute device. Kernels are Go
// functions registered by name; programs are preprocessed like device
// source so preamble macros and #error diagnostics behave as on a real
// device compiler.
package host

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/notargets/SMCKernel/compute"
)

// DeviceName is the name reported by devices created without WithName
const DeviceName = "Host Serial Device"

// KernelFunc is the body of a kernel, called once per work item
type KernelFunc func(inv *Invocation)

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[string]KernelFunc)
)

// RegisterKernel makes fn available to every host device under name.
// Registering the same name twice panics.
func RegisterKernel(name string, fn KernelFunc) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	if fn == nil {
		panic("host: RegisterKernel function is nil")
	}
	if _, dup := kernels[name]; dup {
		panic(fmt.Sprintf("host: RegisterKernel called twice for %q", name))
	}
	kernels[name] = fn
}

func lookupKernel(name string) (KernelFunc, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	fn, ok := kernels[name]
	return fn, ok
}

func init() {
	compute.Register("host", func(opts compute.Options) (compute.Device, error) {
		return New(optionsFromProperties(opts.Properties)...), nil
	})
}

// Device implements compute.Device on the calling goroutine
type Device struct {
	name      string
	caps      compute.Capabilities
	preferred int
	maxSize   int
	kernels   map[string]KernelFunc
	required  map[string][3]int
	launches  int
	transfers int
	freed     bool
}

// Option configures a host Device
type Option func(*Device)

// WithName sets the reported device name
func WithName(name string) Option {
	return func(d *Device) { d.name = name }
}

// WithCapabilities sets the reported capability tier
func WithCapabilities(caps compute.Capabilities) Option {
	return func(d *Device) { d.caps = caps }
}

// WithWorkGroup sets the preferred work-group multiple and maximum
// work-group size reported for every kernel. Zeros report no preference.
func WithWorkGroup(preferredMultiple, maxSize int) Option {
	return func(d *Device) {
		d.preferred = preferredMultiple
		d.maxSize = maxSize
	}
}

// New creates a host device. The default is an OpenCL 1.2 class device with
// double precision, preferred multiple 32 and maximum work-group size 256.
func New(opts ...Option) *Device {
	d := &Device{
		name: DeviceName,
		caps: compute.Capabilities{
			Version:         120,
			DoublePrecision: true,
			HostAccessFlags: true,
			HostAliasing:    true,
		},
		preferred: 32,
		maxSize:   256,
		kernels:   make(map[string]KernelFunc),
		required:  make(map[string][3]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func optionsFromProperties(props map[string]interface{}) []Option {
	var opts []Option
	if name, ok := props["name"].(string); ok {
		opts = append(opts, WithName(name))
	}
	pref, hasPref := intProperty(props, "preferred_multiple")
	maxSize, hasMax := intProperty(props, "max_work_group_size")
	if hasPref || hasMax {
		if !hasPref {
			pref = 32
		}
		if !hasMax {
			maxSize = 256
		}
		opts = append(opts, WithWorkGroup(pref, maxSize))
	}
	if version, ok := intProperty(props, "version"); ok {
		double, _ := props["double_precision"].(bool)
		opts = append(opts, WithCapabilities(compute.Capabilities{
			Version:         version,
			DoublePrecision: double,
			HostAccessFlags: version >= 120,
			HostAliasing:    true,
		}))
	}
	return opts
}

func intProperty(props map[string]interface{}, key string) (int, bool) {
	switch v := props[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// RegisterKernel binds fn to name for this device only, taking precedence
// over the package registry
func (d *Device) RegisterKernel(name string, fn KernelFunc) {
	d.kernels[name] = fn
}

// RequireWorkGroupSize makes the named kernel report a compile-time
// work-group size, as reqd_work_group_size does on OpenCL
func (d *Device) RequireWorkGroupSize(name string, x, y, z int) {
	d.required[name] = [3]int{x, y, z}
}

// Launches returns the number of kernel launches performed
func (d *Device) Launches() int { return d.launches }

// Transfers returns the number of Read and Write calls performed
func (d *Device) Transfers() int { return d.transfers }

func (d *Device) Name() string { return d.name }

func (d *Device) Capabilities() compute.Capabilities { return d.caps }

func (d *Device) NewBuffer(size int64, flags compute.MemFlags, host []byte) (compute.Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	if flags.HostAccess() != 0 && !d.caps.HostAccessFlags {
		return nil, fmt.Errorf("host access flags %v need an OpenCL 1.2 class device", flags)
	}
	buf := &Buffer{flags: flags}
	switch {
	case flags.Has(compute.MemUseHostPtr) && d.caps.HostAliasing:
		if int64(len(host)) < size {
			return nil, fmt.Errorf("host pointer of %d bytes is smaller than buffer size %d",
				len(host), size)
		}
		buf.data = host[:size:size]
	default:
		buf.data = alignedBytes(size)
		if flags.Has(compute.MemCopyHostPtr) || flags.Has(compute.MemUseHostPtr) {
			if int64(len(host)) < size {
				return nil, fmt.Errorf("host pointer of %d bytes is smaller than buffer size %d",
					len(host), size)
			}
			copy(buf.data, host)
		}
	}
	return buf, nil
}

// alignedBytes allocates through a []uint64 so 8 byte views are aligned
func alignedBytes(size int64) []byte {
	if size == 0 {
		return []byte{}
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

func (d *Device) buffer(buf compute.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("buffer %T does not belong to a host device", buf)
	}
	if b.freed {
		return nil, fmt.Errorf("use of freed buffer")
	}
	return b, nil
}

func (d *Device) Read(buf compute.Buffer, offset int64, dst []byte) error {
	b, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if err := compute.CheckRange(b, offset, len(dst)); err != nil {
		return err
	}
	d.transfers++
	copy(dst, b.data[offset:])
	return nil
}

func (d *Device) Write(buf compute.Buffer, offset int64, src []byte) error {
	b, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if err := compute.CheckRange(b, offset, len(src)); err != nil {
		return err
	}
	d.transfers++
	copy(b.data[offset:], src)
	return nil
}

func (d *Device) NewProgram(source string) (compute.Program, error) {
	return &Program{device: d, source: source}, nil
}

func (d *Device) Launch(k compute.Kernel, global, local int) error {
	kern, ok := k.(*Kernel)
	if !ok || kern == nil {
		return fmt.Errorf("kernel %T does not belong to a host device", k)
	}
	if kern.device != d {
		return fmt.Errorf("kernel %s was created on another device", kern.name)
	}
	if global < 0 {
		return fmt.Errorf("invalid global size %d", global)
	}
	if local > 0 {
		if global%local != 0 {
			return fmt.Errorf("global size %d is not a multiple of local size %d", global, local)
		}
		if d.maxSize > 0 && local > d.maxSize {
			return fmt.Errorf("local size %d exceeds device maximum %d", local, d.maxSize)
		}
		if req, ok := d.required[kern.name]; ok && req[0] != 0 && req[0] != local {
			return fmt.Errorf("kernel %s requires local size %d, got %d", kern.name, req[0], local)
		}
	}
	for i, arg := range kern.args {
		if arg == nil {
			return fmt.Errorf("kernel %s argument %d not set", kern.name, i)
		}
	}

	inv := &Invocation{
		GlobalSize: global,
		LocalSize:  local,
		args:       kern.args,
		macros:     kern.program.macros,
	}
	for gid := 0; gid < global; gid++ {
		inv.GlobalID = gid
		kern.fn(inv)
	}
	d.launches++
	return nil
}

func (d *Device) Free() { d.freed = true }

// Buffer is host memory standing in for device memory
type Buffer struct {
	data  []byte
	flags compute.MemFlags
	freed bool
}

func (b *Buffer) Size() int64             { return int64(len(b.data)) }
func (b *Buffer) Flags() compute.MemFlags { return b.flags }
func (b *Buffer) Free()                   { b.freed = true }

// Bytes exposes the backing memory, for tests and zero-copy inspection
func (b *Buffer) Bytes() []byte { return b.data }
