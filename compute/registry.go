package compute

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownBackend = errors.New("unknown compute backend")
	ErrBuildFailure   = errors.New("program build failed")
	ErrKernelNotFound = errors.New("kernel not found")
	ErrNotBuilt       = errors.New("program not built")
)

// Options selects a device within a backend
type Options struct {
	Mode     string // backend specific, e.g. OCCA "CUDA", "OpenMP", "Serial"
	Platform int
	DeviceID int
	// Properties are passed through to backends that accept free-form
	// device properties
	Properties map[string]interface{}
}

// Opener creates a device for a backend
type Opener func(opts Options) (Device, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Opener)
)

// Register makes a backend available by name. Registering the same name
// twice panics.
func Register(name string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if open == nil {
		panic("compute: Register opener is nil")
	}
	if _, dup := backends[name]; dup {
		panic(fmt.Sprintf("compute: Register called twice for backend %q", name))
	}
	backends[name] = open
}

// Open creates a device from the named backend
func Open(name string, opts Options) (Device, error) {
	backendsMu.RLock()
	open, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownBackend, name, Backends())
	}
	dev, err := open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s device: %w", name, err)
	}
	return dev, nil
}

// Backends returns the sorted names of the registered backends
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
