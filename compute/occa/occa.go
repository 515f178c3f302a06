// Package occa adapts gocca devices to the compute interfaces. OKL kernels
// carry their own @outer/@inner loop geometry, so kernels report no
// work-group preference and launches ignore the requested sizes.
package occa

import (
	"fmt"
	"regexp"
	"strings"
	"unsafe"

	"github.com/goccy/go-json"
	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/gocca"
)

func init() {
	compute.Register("occa", func(opts compute.Options) (compute.Device, error) {
		return Open(opts)
	})
}

// DeviceProperties renders backend options as an OCCA device property
// document, e.g. {"device_id":0,"mode":"CUDA"}
func DeviceProperties(opts compute.Options) (string, error) {
	props := make(map[string]interface{}, len(opts.Properties)+3)
	mode := opts.Mode
	if mode == "" {
		mode = "Serial"
	}
	props["mode"] = mode
	switch mode {
	case "CUDA", "HIP":
		props["device_id"] = opts.DeviceID
	case "OpenCL":
		props["platform_id"] = opts.Platform
		props["device_id"] = opts.DeviceID
	}
	for k, v := range opts.Properties {
		props[k] = v
	}
	doc, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode OCCA device properties: %w", err)
	}
	return string(doc), nil
}

// KernelProperties renders compiler flags as an OCCA kernel property document
func KernelProperties(mode, flags string) (string, error) {
	flags = strings.TrimSpace(flags)
	if mode == "OpenMP" && !strings.Contains(flags, "-O") {
		// OpenMP does not get the default -O3
		flags = strings.TrimSpace("-O3 " + flags)
	}
	if flags == "" {
		return "", nil
	}
	doc, err := json.Marshal(map[string]string{"compiler_flags": flags})
	if err != nil {
		return "", fmt.Errorf("encode OCCA kernel properties: %w", err)
	}
	return string(doc), nil
}

// Device wraps a gocca device
type Device struct {
	dev *gocca.OCCADevice
}

// Open creates an OCCA device from backend options
func Open(opts compute.Options) (*Device, error) {
	props, err := DeviceProperties(opts)
	if err != nil {
		return nil, err
	}
	dev, err := gocca.NewDevice(props)
	if err != nil {
		return nil, fmt.Errorf("create OCCA device %s: %w", props, err)
	}
	return &Device{dev: dev}, nil
}

// Wrap adapts an existing gocca device
func Wrap(dev *gocca.OCCADevice) *Device {
	return &Device{dev: dev}
}

// OCCA returns the underlying gocca device
func (d *Device) OCCA() *gocca.OCCADevice { return d.dev }

func (d *Device) Name() string { return "OCCA " + d.dev.Mode() }

func (d *Device) Capabilities() compute.Capabilities {
	// no HostAliasing: host memory only seeds an allocation
	return compute.Capabilities{Dialect: compute.DialectOKL, DoublePrecision: true}
}

func (d *Device) NewBuffer(size int64, flags compute.MemFlags, host []byte) (compute.Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	// OCCA has no host pointer aliasing; host memory seeds the allocation
	// and later transfers are explicit.
	var src unsafe.Pointer
	if flags.Has(compute.MemUseHostPtr) || flags.Has(compute.MemCopyHostPtr) {
		if int64(len(host)) < size {
			return nil, fmt.Errorf("host pointer of %d bytes is smaller than buffer size %d",
				len(host), size)
		}
		if size > 0 {
			src = unsafe.Pointer(&host[0])
		}
	}
	mem := d.dev.Malloc(size, src, nil)
	if mem == nil {
		return nil, fmt.Errorf("OCCA malloc of %d bytes failed", size)
	}
	return &Buffer{mem: mem, size: size, flags: flags}, nil
}

func (d *Device) buffer(buf compute.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("buffer %T does not belong to an OCCA device", buf)
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
	b.mem.CopyToWithOffset(unsafe.Pointer(&dst[0]), int64(len(dst)), offset)
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
	b.mem.CopyFromWithOffset(unsafe.Pointer(&src[0]), int64(len(src)), offset)
	return nil
}

func (d *Device) NewProgram(source string) (compute.Program, error) {
	return &Program{device: d, source: source, kernels: make(map[string]*gocca.OCCAKernel)}, nil
}

func (d *Device) Launch(k compute.Kernel, global, local int) error {
	kern, ok := k.(*Kernel)
	if !ok || kern == nil {
		return fmt.Errorf("kernel %T does not belong to an OCCA device", k)
	}
	args := make([]interface{}, len(kern.args))
	for i, a := range kern.args {
		if a == nil {
			return fmt.Errorf("kernel %s argument %d not set", kern.name, i)
		}
		args[i] = a
	}
	if err := kern.kernel.RunWithArgs(args...); err != nil {
		return fmt.Errorf("run OCCA kernel %s: %w", kern.name, err)
	}
	d.dev.Finish()
	return nil
}

func (d *Device) Free() { d.dev.Free() }

// Buffer wraps OCCA memory
type Buffer struct {
	mem   *gocca.OCCAMemory
	size  int64
	flags compute.MemFlags
}

func (b *Buffer) Size() int64             { return b.size }
func (b *Buffer) Flags() compute.MemFlags { return b.flags }
func (b *Buffer) Free()                   { b.mem.Free() }

var oklKernel = regexp.MustCompile(`@kernel\s+void\s+([A-Za-z_]\w*)\s*\(`)

// Program compiles every @kernel of its source on Build, because OCCA builds
// kernels one name at a time
type Program struct {
	device  *Device
	source  string
	built   bool
	kernels map[string]*gocca.OCCAKernel
	reports []compute.BuildReport
}

func (p *Program) Source() string { return p.source }

func (p *Program) Reports() []compute.BuildReport { return p.reports }

func (p *Program) Build(flags string) error {
	p.Free()
	p.built = false

	propsDoc, err := KernelProperties(p.device.dev.Mode(), flags)
	if err != nil {
		return err
	}
	var props *gocca.OCCAJson
	if propsDoc != "" {
		props = gocca.JsonParse(propsDoc)
		defer props.Free()
	}

	var logs []string
	for _, m := range oklKernel.FindAllStringSubmatch(p.source, -1) {
		name := m[1]
		if _, done := p.kernels[name]; done {
			continue
		}
		kernel, err := p.device.dev.BuildKernelFromString(p.source, name, props)
		if err != nil || kernel == nil {
			logs = append(logs, fmt.Sprintf("kernel %s: %v", name, err))
			continue
		}
		p.kernels[name] = kernel
	}

	name := p.device.Name()
	if len(logs) > 0 {
		p.reports = []compute.BuildReport{{Device: name, Log: strings.Join(logs, "\n")}}
		return fmt.Errorf("%w: %d kernel(s) failed on %s", compute.ErrBuildFailure, len(logs), name)
	}
	p.built = true
	p.reports = []compute.BuildReport{{Device: name, Success: true}}
	return nil
}

func (p *Program) CreateKernel(name string) (compute.Kernel, error) {
	if !p.built {
		return nil, fmt.Errorf("create kernel %s: %w", name, compute.ErrNotBuilt)
	}
	kernel, ok := p.kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", compute.ErrKernelNotFound, name)
	}
	return &Kernel{name: name, kernel: kernel}, nil
}

func (p *Program) Free() {
	for name, kernel := range p.kernels {
		kernel.Free()
		delete(p.kernels, name)
	}
}

// Kernel records positional arguments until launch, since OCCA takes the
// whole argument list at run time
type Kernel struct {
	name   string
	kernel *gocca.OCCAKernel
	args   []interface{}
}

func (k *Kernel) Name() string { return k.name }

// Free is a no-op; the compiled kernel is owned by its Program
func (k *Kernel) Free() {}

func (k *Kernel) SetArg(index int, value interface{}) error {
	if index < 0 {
		return fmt.Errorf("kernel %s: invalid argument index %d", k.name, index)
	}
	var arg interface{}
	switch v := value.(type) {
	case *Buffer:
		if v == nil {
			return fmt.Errorf("kernel %s argument %d: nil buffer", k.name, index)
		}
		arg = v.mem
	case uint64:
		arg = int64(v)
	case uint32:
		arg = int32(v)
	case uint:
		arg = int64(v)
	case int, int32, int64, float32, float64:
		arg = v
	default:
		return fmt.Errorf("kernel %s argument %d: unsupported type %T", k.name, index, value)
	}
	for len(k.args) <= index {
		k.args = append(k.args, nil)
	}
	k.args[index] = arg
	return nil
}

func (k *Kernel) WorkGroup(compute.Device) (compute.WorkGroupInfo, error) {
	return compute.WorkGroupInfo{}, nil
}
