package builder

import (
	"fmt"
	"strings"
)

// DataType represents the precision of the particle floating point data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
)

// Size returns the size in bytes of one value
func (dt DataType) Size() int64 {
	if dt == Float32 {
		return 4
	}
	return 8
}

// TypeName returns the C type name
func (dt DataType) TypeName() string {
	if dt == Float32 {
		return "float"
	}
	return "double"
}

func (dt DataType) String() string { return dt.TypeName() }

// Builder generates the source preamble that sizes device programs for one
// particle population
type Builder struct {
	Size      int // number of particles
	StateSize int // bytes per particle record
	FloatType DataType
	Seed      uint64

	// Generated code
	KernelPreamble string
}

// Config holds configuration for creating a Builder
type Config struct {
	Size      int
	StateSize int
	FloatType DataType
	Seed      uint64
}

// NewBuilder creates a new Builder instance
func NewBuilder(cfg Config) *Builder {
	if cfg.Size < 1 {
		panic(fmt.Sprintf("builder: population size must be at least 1, got %d", cfg.Size))
	}
	if cfg.StateSize < 1 {
		panic(fmt.Sprintf("builder: state size must be at least 1, got %d", cfg.StateSize))
	}
	floatType := cfg.FloatType
	if floatType == 0 {
		floatType = Float64
	}
	return &Builder{
		Size:      cfg.Size,
		StateSize: cfg.StateSize,
		FloatType: floatType,
		Seed:      cfg.Seed,
	}
}

// GeneratePreamble generates the macros prepended to every program. Each
// macro is guarded so an earlier definition, e.g. from -D, wins.
func (kb *Builder) GeneratePreamble() string {
	var sb strings.Builder

	// 1. Floating point type
	sb.WriteString(kb.generateTypeDefinitions())

	// 2. Population constants
	sb.WriteString(kb.generateSizeMacros())

	kb.KernelPreamble = sb.String()
	return kb.KernelPreamble
}

// Source returns the preamble followed by the user source
func (kb *Builder) Source(user string) string {
	return kb.GeneratePreamble() + user
}

func (kb *Builder) generateTypeDefinitions() string {
	var sb strings.Builder

	hasDouble := 0
	if kb.FloatType == Float64 {
		hasDouble = 1
		sb.WriteString("#if defined(cl_khr_fp64)\n")
		sb.WriteString("#pragma OPENCL EXTENSION cl_khr_fp64 : enable\n")
		sb.WriteString("#elif defined(cl_amd_fp64)\n")
		sb.WriteString("#pragma OPENCL EXTENSION cl_amd_fp64 : enable\n")
		sb.WriteString("#endif\n")
	}

	typeName := kb.FloatType.TypeName()
	sb.WriteString("#ifndef FP_TYPE\n")
	sb.WriteString(fmt.Sprintf("#define FP_TYPE %s\n", typeName))
	sb.WriteString(fmt.Sprintf("typedef %s fp_type;\n", typeName))
	sb.WriteString("#endif\n")

	sb.WriteString(guarded("SMC_HAS_DOUBLE", fmt.Sprintf("%d", hasDouble)))
	return sb.String()
}

func (kb *Builder) generateSizeMacros() string {
	var sb strings.Builder
	sb.WriteString(guarded("SIZE", fmt.Sprintf("%dUL", kb.Size)))
	sb.WriteString(guarded("STATE_SIZE", fmt.Sprintf("%dUL", kb.StateSize)))
	sb.WriteString(guarded("SEED", fmt.Sprintf("%dUL", kb.Seed)))
	return sb.String()
}

func guarded(name, value string) string {
	return fmt.Sprintf("#ifndef %s\n#define %s %s\n#endif\n", name, name, value)
}
