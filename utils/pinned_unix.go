//go:build linux || darwin || freebsd

package utils

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Pinned is page aligned host memory outside the Go heap, locked into RAM
// when the process is allowed to. It backs state buffers created with
// MemUseHostPtr so the device can transfer without staging.
type Pinned struct {
	Bytes  []byte
	Locked bool
	mapped []byte
}

// AllocPinned maps size bytes of anonymous memory and tries to mlock it.
// A failed mlock (e.g. RLIMIT_MEMLOCK) leaves Locked false.
func AllocPinned(size int) (*Pinned, error) {
	if size < 1 {
		return nil, fmt.Errorf("pinned allocation of %d bytes", size)
	}
	pageSize := unix.Getpagesize()
	length := (size + pageSize - 1) / pageSize * pageSize
	mapped, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", length, err)
	}
	p := &Pinned{Bytes: mapped[:size:size], mapped: mapped}
	if err := unix.Mlock(mapped); err == nil {
		p.Locked = true
	}
	return p, nil
}

// Free unlocks and unmaps the memory. Bytes must not be used afterwards.
func (p *Pinned) Free() error {
	if p.mapped == nil {
		return nil
	}
	if p.Locked {
		if err := unix.Munlock(p.mapped); err != nil {
			return fmt.Errorf("munlock: %w", err)
		}
	}
	if err := unix.Munmap(p.mapped); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	p.Bytes, p.mapped, p.Locked = nil, nil, false
	return nil
}
