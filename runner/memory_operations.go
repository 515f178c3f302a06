package runner

import (
	"fmt"
	"unsafe"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/runner/builder"
)

// deviceFlags drops host access qualifiers on devices below OpenCL 1.2
func deviceFlags(dev compute.Device, flags compute.MemFlags) compute.MemFlags {
	if dev.Capabilities().HostAccessFlags {
		return flags
	}
	return flags.WithoutHostAccess()
}

// scratch is a device buffer with a host mirror of the same size. With
// MemUseHostPtr on an aliasing device the mirror backs the device buffer;
// transfers stay explicit either way.
type scratch struct {
	dev   compute.Device
	host  []byte
	buf   compute.Buffer
	flags compute.MemFlags
}

// resize reallocates only when the device, size or flags changed
func (sc *scratch) resize(dev compute.Device, size int64, flags compute.MemFlags) error {
	flags = deviceFlags(dev, flags)
	if sc.buf != nil && sc.dev == dev && int64(len(sc.host)) == size && sc.flags == flags {
		return nil
	}
	sc.free()

	host := alignedBytes(size)
	var backing []byte
	if flags.Has(compute.MemUseHostPtr) {
		backing = host
	}
	buf, err := dev.NewBuffer(size, flags, backing)
	if err != nil {
		return fmt.Errorf("allocate %d byte scratch buffer (%v): %w", size, flags, err)
	}
	sc.dev, sc.host, sc.buf, sc.flags = dev, host, buf, flags
	return nil
}

func (sc *scratch) size() int64 { return int64(len(sc.host)) }

// read copies the device buffer into the host mirror
func (sc *scratch) read() error {
	if err := sc.dev.Read(sc.buf, 0, sc.host); err != nil {
		return fmt.Errorf("read scratch buffer: %w", err)
	}
	return nil
}

// write copies the host mirror into the device buffer
func (sc *scratch) write() error {
	if err := sc.dev.Write(sc.buf, 0, sc.host); err != nil {
		return fmt.Errorf("write scratch buffer: %w", err)
	}
	return nil
}

func (sc *scratch) free() {
	if sc.buf != nil {
		sc.buf.Free()
	}
	sc.dev, sc.host, sc.buf, sc.flags = nil, nil, nil, 0
}

// alignedBytes allocates through a []uint64 so typed views are aligned
func alignedBytes(size int64) []byte {
	if size <= 0 {
		return []byte{}
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

func viewOf[T any](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/size)
}

func bytesOf[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// convertFloats widens device floats of type fp into dst
func convertFloats(fp builder.DataType, src []byte, dst []float64) {
	if fp == builder.Float32 {
		for i, v := range viewOf[float32](src) {
			dst[i] = float64(v)
		}
		return
	}
	copy(dst, viewOf[float64](src))
}
