package host

import (
	"fmt"
	"unsafe"

	"github.com/notargets/SMCKernel/compute"
)

// Kernel is a registered Go function bound to a built host Program
type Kernel struct {
	name    string
	fn      KernelFunc
	args    []interface{}
	program *Program
	device  *Device
}

func (k *Kernel) Name() string { return k.name }

func (k *Kernel) Free() {}

func (k *Kernel) SetArg(index int, value interface{}) error {
	if index < 0 {
		return fmt.Errorf("kernel %s: invalid argument index %d", k.name, index)
	}
	switch v := value.(type) {
	case *Buffer:
		if v == nil || v.freed {
			return fmt.Errorf("kernel %s argument %d: invalid buffer", k.name, index)
		}
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64, int, uint, float32, float64:
	default:
		return fmt.Errorf("kernel %s argument %d: unsupported type %T", k.name, index, value)
	}
	for len(k.args) <= index {
		k.args = append(k.args, nil)
	}
	k.args[index] = value
	return nil
}

func (k *Kernel) WorkGroup(dev compute.Device) (compute.WorkGroupInfo, error) {
	d, ok := dev.(*Device)
	if !ok || d != k.device {
		return compute.WorkGroupInfo{}, fmt.Errorf("kernel %s was not created on device %s", k.name, dev.Name())
	}
	return compute.WorkGroupInfo{
		PreferredMultiple: d.preferred,
		MaxSize:           d.maxSize,
		Required:          d.required[k.name],
	}, nil
}

// Invocation is the view a KernelFunc has of one work item
type Invocation struct {
	GlobalID   int
	GlobalSize int
	LocalSize  int
	args       []interface{}
	macros     map[string]string
}

// NumArgs returns the number of bound arguments
func (inv *Invocation) NumArgs() int { return len(inv.args) }

// Arg returns the raw argument at index i
func (inv *Invocation) Arg(i int) interface{} { return inv.args[i] }

// Bytes returns the memory of the buffer argument at index i
func (inv *Invocation) Bytes(i int) []byte {
	b, ok := inv.args[i].(*Buffer)
	if !ok {
		panic(fmt.Sprintf("host kernel argument %d is %T, not a buffer", i, inv.args[i]))
	}
	return b.data
}

// Uint64s views the buffer argument at index i as a []uint64
func (inv *Invocation) Uint64s(i int) []uint64 {
	return view[uint64](inv.Bytes(i))
}

// Float32s views the buffer argument at index i as a []float32
func (inv *Invocation) Float32s(i int) []float32 {
	return view[float32](inv.Bytes(i))
}

// Float64s views the buffer argument at index i as a []float64
func (inv *Invocation) Float64s(i int) []float64 {
	return view[float64](inv.Bytes(i))
}

func view[T any](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/size)
}

// Uint64 returns the scalar argument at index i
func (inv *Invocation) Uint64(i int) uint64 {
	switch v := inv.args[i].(type) {
	case uint64:
		return v
	case uint32:
		return uint64(v)
	case uint:
		return uint64(v)
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	case int32:
		return uint64(v)
	}
	panic(fmt.Sprintf("host kernel argument %d is %T, not an integer", i, inv.args[i]))
}

// Macro returns the value of a macro defined when the program was built
func (inv *Invocation) Macro(name string) (string, bool) {
	v, ok := inv.macros[name]
	return v, ok
}

// MacroUint returns an integer macro such as SIZE or STATE_SIZE. A missing
// or malformed macro panics, as it would fail to compile on a device.
func (inv *Invocation) MacroUint(name string) uint64 {
	v, ok := inv.macros[name]
	if !ok {
		panic(fmt.Sprintf("host kernel: macro %s is not defined", name))
	}
	n, err := ParseInteger(v)
	if err != nil {
		panic(fmt.Sprintf("host kernel: macro %s=%q is not an integer", name, v))
	}
	return n
}
