package runner

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/logger"
	"github.com/notargets/SMCKernel/runner/builder"
)

// Config sizes a State
type Config struct {
	Size      int  // number of particles N
	StateSize int  // bytes per particle record S
	Dynamic   bool // allow ResizeStateSize
	FloatType builder.DataType
}

// Option configures a State
type Option func(*State)

// WithLogger sets the logger, Nop by default
func WithLogger(l logger.Logger) Option {
	return func(s *State) { s.log = l }
}

// WithStateFlags sets the memory flags of the initial state buffer
func WithStateFlags(flags compute.MemFlags) Option {
	return func(s *State) { s.stateFlags = flags }
}

type copyPhase int

const (
	phaseIdle copyPhase = iota
	phaseCaptured
	phaseApplied
)

func (p copyPhase) String() string {
	switch p {
	case phaseCaptured:
		return "snapshot-captured"
	case phaseApplied:
		return "reorder-applied"
	}
	return "idle"
}

// State owns N particle records of S bytes in one device buffer, the
// program built against them and the buffers used to reorder them.
// A State is not safe for concurrent use.
type State struct {
	id        uuid.UUID
	device    compute.Device
	log       logger.Logger
	size      int
	stateSize int
	dynamic   bool
	floatType builder.DataType

	stateFlags  compute.MemFlags
	stateHost   []byte
	stateBuffer compute.Buffer

	program compute.Program
	built   bool
	buildID int

	// reorder kernels, built for (copySize, copyStateSize)
	copyProgram    compute.Program
	copyKernel     compute.Kernel
	copySnapKernel compute.Kernel
	copyConfig     Configure
	copySnapConfig Configure
	copySize       int
	copyStateSize  int

	srcIdx   scratch
	touched  scratch
	snapshot scratch
	phase    copyPhase
}

// NewState allocates the state buffer for cfg on dev
func NewState(dev compute.Device, cfg Config, opts ...Option) (*State, error) {
	if dev == nil {
		panic("NewState: device is nil")
	}
	if cfg.Size < 1 {
		panic(fmt.Sprintf("NewState: population size must be at least 1, got %d", cfg.Size))
	}
	if cfg.StateSize < 1 {
		panic(fmt.Sprintf("NewState: state size must be at least 1, got %d", cfg.StateSize))
	}
	floatType := cfg.FloatType
	if floatType == 0 {
		floatType = builder.Float64
	}
	if floatType == builder.Float64 && !dev.Capabilities().DoublePrecision {
		return nil, fmt.Errorf("device %s has no double precision support", dev.Name())
	}

	s := &State{
		id:         uuid.New(),
		device:     dev,
		log:        logger.Nop(),
		size:       cfg.Size,
		stateSize:  cfg.StateSize,
		dynamic:    cfg.Dynamic,
		floatType:  floatType,
		stateFlags: compute.MemReadWrite,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("state", s.id.String(), "device", dev.Name())

	if err := s.allocateState(s.stateFlags, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// ID identifies the State in logs
func (s *State) ID() uuid.UUID { return s.id }

// Size is the number of particles N
func (s *State) Size() int { return s.size }

// StateSize is the record size S in bytes
func (s *State) StateSize() int { return s.stateSize }

func (s *State) Device() compute.Device { return s.device }

func (s *State) FloatType() builder.DataType { return s.floatType }

// StateBuffer is the device buffer of N*S bytes
func (s *State) StateBuffer() compute.Buffer { return s.stateBuffer }

// StateFlags are the memory flags of the state buffer
func (s *State) StateFlags() compute.MemFlags { return s.stateFlags }

// HostState is the host memory backing the state buffer. It is nil when the
// buffer was not allocated with MemUseHostPtr or the device copies host
// memory instead of aliasing it.
func (s *State) HostState() []byte { return s.stateHost }

// Program is the program of the last build attempt
func (s *State) Program() compute.Program { return s.program }

// ResizeStateSize changes the record size of a dynamic State. The buffer is
// reallocated and its contents are not preserved. It panics between CopyPre
// and CopyPost.
func (s *State) ResizeStateSize(stateSize int) error {
	if !s.dynamic {
		panic("State.ResizeStateSize: state size is fixed")
	}
	if stateSize < 1 {
		panic(fmt.Sprintf("State.ResizeStateSize: state size must be at least 1, got %d", stateSize))
	}
	s.checkNotCaptured("State.ResizeStateSize")
	s.stateSize = stateSize
	return s.allocateState(s.stateFlags, nil)
}

// UpdateStateBuffer reallocates the state buffer with new flags. host, when
// given with MemUseHostPtr or MemCopyHostPtr, must hold at least N*S bytes.
// The contents are not preserved unless copied in from host. It panics
// between CopyPre and CopyPost.
func (s *State) UpdateStateBuffer(flags compute.MemFlags, host []byte) error {
	s.checkNotCaptured("State.UpdateStateBuffer")
	need := s.size * s.stateSize
	if host != nil && len(host) < need {
		panic(fmt.Sprintf("State.UpdateStateBuffer: host memory of %d bytes is smaller than %d", len(host), need))
	}
	return s.allocateState(flags, host)
}

func (s *State) allocateState(flags compute.MemFlags, host []byte) error {
	flags = deviceFlags(s.device, flags)
	size := int64(s.size) * int64(s.stateSize)
	if host == nil && (flags.Has(compute.MemUseHostPtr) || flags.Has(compute.MemCopyHostPtr)) {
		host = alignedBytes(size)
	}
	buf, err := s.device.NewBuffer(size, flags, host)
	if err != nil {
		return fmt.Errorf("allocate state buffer of %d bytes: %w", size, err)
	}
	if s.stateBuffer != nil {
		s.stateBuffer.Free()
	}
	s.stateBuffer = buf
	s.stateFlags = flags
	s.stateHost = nil
	if flags.Has(compute.MemUseHostPtr) && s.device.Capabilities().HostAliasing {
		s.stateHost = host
	}
	s.invalidateMirror()
	s.log.Debug("allocated state buffer", "bytes", size, "flags", flags.String())
	return nil
}

// ReadState copies the whole device state into dst, which must hold N*S bytes
func (s *State) ReadState(dst []byte) error {
	if err := s.device.Read(s.stateBuffer, 0, dst); err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	return nil
}

// WriteState overwrites the device state from src
func (s *State) WriteState(src []byte) error {
	if err := s.device.Write(s.stateBuffer, 0, src); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	s.invalidateMirror()
	return nil
}

// launch runs k over the population. The host mirror no longer reflects the
// device after any launch.
func (s *State) launch(k compute.Kernel, cfg Configure) error {
	s.invalidateMirror()
	global := cfg.Global
	if global == 0 {
		global = MinGlobalSize(s.size, cfg.Local)
	}
	if err := s.device.Launch(k, global, cfg.Local); err != nil {
		return fmt.Errorf("launch %s: %w", k.Name(), err)
	}
	return nil
}

// checkNotCaptured panics while a snapshot is pending
func (s *State) checkNotCaptured(op string) {
	if s.phase == phaseCaptured {
		panic(op + ": called between CopyPre and CopyPost")
	}
}

func (s *State) invalidateMirror() {
	if s.phase == phaseApplied {
		s.phase = phaseIdle
	}
}

// Free releases every device resource of the State
func (s *State) Free() {
	s.freeCopyKernels()
	if s.program != nil {
		s.program.Free()
		s.program = nil
	}
	s.srcIdx.free()
	s.touched.free()
	s.snapshot.free()
	if s.stateBuffer != nil {
		s.stateBuffer.Free()
		s.stateBuffer = nil
	}
	s.built = false
}
