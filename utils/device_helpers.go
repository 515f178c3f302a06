package utils

import (
	"fmt"
	"io"
	"os"

	"github.com/notargets/SMCKernel/compute"
	_ "github.com/notargets/SMCKernel/compute/host"
	_ "github.com/notargets/SMCKernel/compute/occa"
	_ "github.com/notargets/SMCKernel/compute/opencl"
	"github.com/notargets/SMCKernel/config"
	"github.com/notargets/SMCKernel/runner"
)

// OpenDevice opens the device selected by cfg
func OpenDevice(cfg *config.Config) (compute.Device, error) {
	return compute.Open(cfg.Backend, cfg.Options())
}

// NewSeedFromConfig starts a generator at cfg.Seed, partitioned by
// cfg.SeedPartition when its divisor is set
func NewSeedFromConfig(cfg *config.Config) *Seed {
	seed := NewSeed(cfg.Seed)
	if p := cfg.SeedPartition; p.Divisor > 0 {
		seed.Modulo(p.Divisor, p.Remainder)
	}
	return seed
}

// StateHandle is a State together with the pinned host memory backing it,
// if any, and the seed generator and flags its builds use
type StateHandle struct {
	*runner.State
	pinned *Pinned
	seed   *Seed
	flags  string
}

// Build builds source with the configured flags and the generator's current
// value as SEED, then skips the generator past the draws the build reports.
// It returns that draw count.
func (h *StateHandle) Build(source string, diag io.Writer) int {
	draws := h.State.Build(source, h.flags, h.seed.Get(), diag)
	h.seed.Skip(uint64(draws))
	return draws
}

// Seed is the generator feeding Build
func (h *StateHandle) Seed() *Seed { return h.seed }

// Free releases the State and then its pinned memory
func (h *StateHandle) Free() error {
	h.State.Free()
	if h.pinned != nil {
		return h.pinned.Free()
	}
	return nil
}

// NewStateFromConfig sizes a State from cfg.State on dev. With pinned set
// the state buffer is rebound to locked host memory.
func NewStateFromConfig(dev compute.Device, cfg *config.Config) (*StateHandle, error) {
	log := cfg.Logger(os.Stderr)
	s, err := runner.NewState(dev, runner.Config{
		Size:      cfg.State.Size,
		StateSize: cfg.State.StateSize,
		Dynamic:   cfg.State.Dynamic,
		FloatType: cfg.FloatType(),
	}, runner.WithLogger(log))
	if err != nil {
		return nil, err
	}
	h := &StateHandle{State: s, seed: NewSeedFromConfig(cfg), flags: cfg.Build.Flags}
	if !cfg.State.Pinned {
		return h, nil
	}
	p, err := AllocPinned(s.Size() * s.StateSize())
	if err != nil {
		s.Free()
		return nil, err
	}
	if !p.Locked {
		log.Warn("pinned state memory could not be locked", "bytes", len(p.Bytes))
	}
	if err := s.UpdateStateBuffer(compute.MemReadWrite|compute.MemUseHostPtr, p.Bytes); err != nil {
		s.Free()
		_ = p.Free()
		return nil, err
	}
	h.pinned = p
	return h, nil
}

// CreateTestDevice opens the first available device, preferring parallel
// backends and falling back to the host device
func CreateTestDevice() compute.Device {
	candidates := []struct {
		backend string
		opts    compute.Options
	}{
		{"opencl", compute.Options{}},
		{"occa", compute.Options{Mode: "OpenMP"}},
		{"occa", compute.Options{Mode: "CUDA", DeviceID: 0}},
		{"occa", compute.Options{Mode: "Serial"}},
		{"host", compute.Options{}},
	}

	for _, c := range candidates {
		dev, err := compute.Open(c.backend, c.opts)
		if err == nil {
			fmt.Printf("Created %s Device\n", dev.Name())
			return dev
		}
	}

	// host never fails to open
	panic("Failed to create any Device")
}
