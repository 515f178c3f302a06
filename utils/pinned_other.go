//go:build !linux && !darwin && !freebsd

package utils

import (
	"fmt"
	"unsafe"
)

// Pinned is host memory for MemUseHostPtr state buffers. Without mmap it is
// ordinary 8 byte aligned heap memory and never locked.
type Pinned struct {
	Bytes  []byte
	Locked bool
}

// AllocPinned allocates size bytes on the Go heap
func AllocPinned(size int) (*Pinned, error) {
	if size < 1 {
		return nil, fmt.Errorf("pinned allocation of %d bytes", size)
	}
	words := make([]uint64, (size+7)/8)
	return &Pinned{Bytes: unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)}, nil
}

func (p *Pinned) Free() error {
	p.Bytes = nil
	return nil
}
