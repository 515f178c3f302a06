//go:build opencl

package opencl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
	"github.com/notargets/SMCKernel/compute"
)

func init() {
	compute.Register("opencl", func(opts compute.Options) (compute.Device, error) {
		return Open(opts)
	})
}

// Device is one OpenCL device with its own context and in-order queue
type Device struct {
	device  *cl.Device
	context *cl.Context
	queue   *cl.CommandQueue
	caps    compute.Capabilities
}

// Open selects opts.DeviceID on platform opts.Platform. Mode may be "GPU",
// "CPU", "Accelerator" or empty for all device types.
func Open(opts compute.Options) (*Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("query OpenCL platforms: %w", err)
	}
	if opts.Platform < 0 || opts.Platform >= len(platforms) {
		return nil, fmt.Errorf("OpenCL platform %d not found (%d available)", opts.Platform, len(platforms))
	}
	devType := cl.DeviceTypeAll
	switch strings.ToUpper(opts.Mode) {
	case "GPU":
		devType = cl.DeviceTypeGPU
	case "CPU":
		devType = cl.DeviceTypeCPU
	case "ACCELERATOR":
		devType = cl.DeviceTypeAccelerator
	}
	devices, err := platforms[opts.Platform].GetDevices(devType)
	if err != nil {
		return nil, fmt.Errorf("query OpenCL devices: %w", err)
	}
	if opts.DeviceID < 0 || opts.DeviceID >= len(devices) {
		return nil, fmt.Errorf("OpenCL device %d not found (%d available)", opts.DeviceID, len(devices))
	}
	device := devices[opts.DeviceID]

	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("create OpenCL context: %w", err)
	}
	queue, err := context.CreateCommandQueue(device, 0)
	if err != nil {
		context.Release()
		return nil, fmt.Errorf("create OpenCL command queue: %w", err)
	}

	ext := device.Extensions()
	fp64 := strings.Contains(ext, "cl_khr_fp64") || strings.Contains(ext, "cl_amd_fp64")
	// go-opencl does not expose CL_MEM_HOST_* flags, so HostAccessFlags
	// stays false
	return &Device{
		device:  device,
		context: context,
		queue:   queue,
		caps: compute.Capabilities{
			Dialect:         compute.DialectOpenCL,
			Version:         parseVersion(device.Version()),
			DoublePrecision: fp64,
			HostAliasing:    true,
		},
	}, nil
}

// parseVersion turns "OpenCL 1.2 CUDA" into 120
func parseVersion(s string) int {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return 0
	}
	parts := strings.SplitN(fields[1], ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	minor := 0
	if len(parts) == 2 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major*100 + minor*10
}

func (d *Device) Name() string { return d.device.Name() }

func (d *Device) Capabilities() compute.Capabilities { return d.caps }

func memFlags(flags compute.MemFlags) cl.MemFlag {
	var f cl.MemFlag
	if flags.Has(compute.MemReadWrite) {
		f |= cl.MemReadWrite
	}
	if flags.Has(compute.MemReadOnly) {
		f |= cl.MemReadOnly
	}
	if flags.Has(compute.MemWriteOnly) {
		f |= cl.MemWriteOnly
	}
	if flags.Has(compute.MemUseHostPtr) {
		f |= cl.MemUseHostPtr
	}
	if flags.Has(compute.MemAllocHostPtr) {
		f |= cl.MemAllocHostPtr
	}
	if flags.Has(compute.MemCopyHostPtr) {
		f |= cl.MemCopyHostPtr
	}
	return f
}

func (d *Device) NewBuffer(size int64, flags compute.MemFlags, host []byte) (compute.Buffer, error) {
	if size <= 0 {
		// zero sized cl_mem objects are invalid
		size = 1
	}
	var (
		mem *cl.MemObject
		err error
	)
	if flags.Has(compute.MemUseHostPtr) || flags.Has(compute.MemCopyHostPtr) {
		if int64(len(host)) < size {
			return nil, fmt.Errorf("host pointer of %d bytes is smaller than buffer size %d", len(host), size)
		}
		mem, err = d.context.CreateBufferUnsafe(memFlags(flags), int(size), unsafe.Pointer(&host[0]))
	} else {
		mem, err = d.context.CreateEmptyBuffer(memFlags(flags), int(size))
	}
	if err != nil {
		return nil, fmt.Errorf("create OpenCL buffer of %d bytes (%v): %w", size, flags, err)
	}
	return &Buffer{mem: mem, size: size, flags: flags}, nil
}

func (d *Device) buffer(buf compute.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("buffer %T does not belong to an OpenCL device", buf)
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
	if len(dst) == 0 {
		return nil
	}
	if _, err := d.queue.EnqueueReadBuffer(b.mem, true, int(offset), len(dst), unsafe.Pointer(&dst[0]), nil); err != nil {
		return fmt.Errorf("read OpenCL buffer: %w", err)
	}
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
	if len(src) == 0 {
		return nil
	}
	if _, err := d.queue.EnqueueWriteBuffer(b.mem, true, int(offset), len(src), unsafe.Pointer(&src[0]), nil); err != nil {
		return fmt.Errorf("write OpenCL buffer: %w", err)
	}
	return nil
}

func (d *Device) NewProgram(source string) (compute.Program, error) {
	program, err := d.context.CreateProgramWithSource([]string{source})
	if err != nil {
		return nil, fmt.Errorf("create OpenCL program: %w", err)
	}
	return &Program{device: d, source: source, program: program}, nil
}

func (d *Device) Launch(k compute.Kernel, global, local int) error {
	kern, ok := k.(*Kernel)
	if !ok || kern == nil {
		return fmt.Errorf("kernel %T does not belong to an OpenCL device", k)
	}
	var localSize []int
	if local > 0 {
		localSize = []int{local}
	}
	if _, err := d.queue.EnqueueNDRangeKernel(kern.kernel, nil, []int{global}, localSize, nil); err != nil {
		return fmt.Errorf("enqueue OpenCL kernel %s (global %d, local %d): %w", kern.name, global, local, err)
	}
	if err := d.queue.Finish(); err != nil {
		return fmt.Errorf("finish OpenCL queue: %w", err)
	}
	return nil
}

func (d *Device) Free() {
	d.queue.Release()
	d.context.Release()
}

// Buffer wraps a cl_mem
type Buffer struct {
	mem   *cl.MemObject
	size  int64
	flags compute.MemFlags
}

func (b *Buffer) Size() int64             { return b.size }
func (b *Buffer) Flags() compute.MemFlags { return b.flags }
func (b *Buffer) Free()                   { b.mem.Release() }

// Program wraps a cl_program built for the device of its context
type Program struct {
	device  *Device
	source  string
	program *cl.Program
	built   bool
	reports []compute.BuildReport
}

func (p *Program) Source() string { return p.source }

func (p *Program) Reports() []compute.BuildReport { return p.reports }

func (p *Program) Free() { p.program.Release() }

func (p *Program) Build(flags string) error {
	p.built = false
	name := p.device.Name()
	err := p.program.BuildProgram([]*cl.Device{p.device.device}, flags)
	if err != nil {
		var log string
		var buildErr cl.BuildError
		if errors.As(err, &buildErr) {
			log = string(buildErr)
		} else {
			log = err.Error()
		}
		p.reports = []compute.BuildReport{{Device: name, Log: log}}
		return fmt.Errorf("%w on %s: %v", compute.ErrBuildFailure, name, err)
	}
	p.built = true
	p.reports = []compute.BuildReport{{Device: name, Success: true}}
	return nil
}

func (p *Program) CreateKernel(name string) (compute.Kernel, error) {
	if !p.built {
		return nil, fmt.Errorf("create kernel %s: %w", name, compute.ErrNotBuilt)
	}
	kernel, err := p.program.CreateKernel(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", compute.ErrKernelNotFound, name, err)
	}
	return &Kernel{name: name, kernel: kernel}, nil
}

// Kernel wraps a cl_kernel
type Kernel struct {
	name   string
	kernel *cl.Kernel
}

func (k *Kernel) Name() string { return k.name }

func (k *Kernel) Free() { k.kernel.Release() }

func (k *Kernel) SetArg(index int, value interface{}) error {
	var err error
	switch v := value.(type) {
	case *Buffer:
		err = k.kernel.SetArgBuffer(index, v.mem)
	case int:
		err = k.kernel.SetArg(index, int64(v))
	case uint:
		err = k.kernel.SetArg(index, uint64(v))
	default:
		err = k.kernel.SetArg(index, value)
	}
	if err != nil {
		return fmt.Errorf("set OpenCL kernel %s argument %d (%T): %w", k.name, index, value, err)
	}
	return nil
}

func (k *Kernel) WorkGroup(dev compute.Device) (compute.WorkGroupInfo, error) {
	d, ok := dev.(*Device)
	if !ok {
		return compute.WorkGroupInfo{}, fmt.Errorf("device %T is not an OpenCL device", dev)
	}
	factor, err := k.kernel.PreferredWorkGroupSizeMultiple(d.device)
	if err != nil {
		return compute.WorkGroupInfo{}, fmt.Errorf("query preferred work-group multiple of %s: %w", k.name, err)
	}
	lmax, err := k.kernel.WorkGroupSize(d.device)
	if err != nil {
		return compute.WorkGroupInfo{}, fmt.Errorf("query work-group size of %s: %w", k.name, err)
	}
	// go-opencl has no CL_KERNEL_COMPILE_WORK_GROUP_SIZE query; Required
	// stays zero and reqd_work_group_size attributes are not honored
	return compute.WorkGroupInfo{PreferredMultiple: factor, MaxSize: lmax}, nil
}
