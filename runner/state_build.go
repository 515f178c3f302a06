package runner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/runner/builder"
)

// Build compiles source behind the preamble for this population. seed is
// the SEED macro; the return value is the number of seed values the program
// may draw, which the caller skips on its generator. A failed compile does
// not panic: Built reports false and the compiler output goes to diag
// (os.Stdout when nil).
func (s *State) Build(source, flags string, seed uint64, diag io.Writer) int {
	kb := builder.NewBuilder(builder.Config{
		Size:      s.size,
		StateSize: s.stateSize,
		FloatType: s.floatType,
		Seed:      seed,
	})
	src := kb.Source(source)

	program, err := s.device.NewProgram(src)
	if err != nil {
		s.buildID++
		s.built = false
		s.log.Warn("create program failed", "build_id", s.buildID, "error", err)
		fmt.Fprintf(diagWriter(diag), "%s\nBuild failure for %s\n%s\n%v\n%s\n",
			strings.Repeat("=", 75), s.device.Name(), strings.Repeat("-", 75), err, strings.Repeat("=", 75))
		return s.size
	}
	s.BuildProgram(program, flags, diag)
	return s.size
}

// BuildProgram builds an existing program without a preamble
func (s *State) BuildProgram(program compute.Program, flags string, diag io.Writer) {
	if program == nil {
		panic("State.BuildProgram: program is nil")
	}
	if s.program != nil && s.program != program {
		s.program.Free()
	}
	s.program = program
	s.buildID++
	s.built = false
	s.log.Debug("building program", "build_id", s.buildID, "flags", flags)

	if err := program.Build(flags); err != nil {
		s.log.Warn("build failed", "build_id", s.buildID, "error", err)
		writeReports(diagWriter(diag), program.Reports())
		return
	}
	if err := s.buildCopyKernels(); err != nil {
		// the user program is fine; Copy retries the reorder kernels
		s.log.Error("build reorder kernels", "error", err)
	}
	s.built = true
	s.log.Debug("build succeeded", "build_id", s.buildID)
}

func diagWriter(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

func writeReports(w io.Writer, reports []compute.BuildReport) {
	equal := strings.Repeat("=", 75)
	dash := strings.Repeat("-", 75)
	for _, r := range reports {
		fmt.Fprintln(w, equal)
		if r.Success {
			fmt.Fprintf(w, "Build success for %s\n", r.Device)
		} else {
			fmt.Fprintf(w, "Build failure for %s\n", r.Device)
		}
		fmt.Fprintln(w, dash)
		fmt.Fprintln(w, r.Log)
	}
	fmt.Fprintln(w, equal)
}

// Built reports whether the last build attempt succeeded
func (s *State) Built() bool { return s.built }

// BuildID counts build attempts, failed ones included
func (s *State) BuildID() int { return s.buildID }

// CreateKernel creates a kernel from the current program. Calling it after
// a failed build panics.
func (s *State) CreateKernel(name string) (compute.Kernel, error) {
	if !s.built {
		panic(fmt.Sprintf("State.CreateKernel(%q): the last build (id %d) did not succeed", name, s.buildID))
	}
	k, err := s.program.CreateKernel(name)
	if err != nil {
		return nil, fmt.Errorf("create kernel %s: %w", name, err)
	}
	return k, nil
}

// CopyConfigure returns the geometry of the in-place reorder kernel; the
// local size may be overridden with SetLocalSize
func (s *State) CopyConfigure() *Configure { return &s.copyConfig }

// CopySnapshotConfigure returns the geometry of the snapshot reorder kernel
func (s *State) CopySnapshotConfigure() *Configure { return &s.copySnapConfig }

// buildCopyKernels compiles the reorder program for the current N and S
func (s *State) buildCopyKernels() error {
	s.freeCopyKernels()

	kb := builder.NewBuilder(builder.Config{
		Size:      s.size,
		StateSize: s.stateSize,
		FloatType: s.floatType,
	})
	program, err := s.device.NewProgram(kb.GenerateCopyProgram(s.device.Capabilities().Dialect))
	if err != nil {
		return fmt.Errorf("create reorder program: %w", err)
	}
	if err := program.Build(""); err != nil {
		var sb strings.Builder
		writeReports(&sb, program.Reports())
		program.Free()
		return fmt.Errorf("build reorder program: %w\n%s", err, sb.String())
	}

	copyKernel, err := program.CreateKernel(builder.CopyKernelName)
	if err != nil {
		program.Free()
		return fmt.Errorf("create reorder kernel: %w", err)
	}
	snapKernel, err := program.CreateKernel(builder.CopySnapshotKernelName)
	if err != nil {
		copyKernel.Free()
		program.Free()
		return fmt.Errorf("create reorder kernel: %w", err)
	}
	if err := s.copyConfig.Compute(s.size, copyKernel, s.device); err != nil {
		copyKernel.Free()
		snapKernel.Free()
		program.Free()
		return err
	}
	if err := s.copySnapConfig.Compute(s.size, snapKernel, s.device); err != nil {
		copyKernel.Free()
		snapKernel.Free()
		program.Free()
		return err
	}

	s.copyProgram = program
	s.copyKernel = copyKernel
	s.copySnapKernel = snapKernel
	s.copySize = s.size
	s.copyStateSize = s.stateSize
	return nil
}

// ensureCopyKernels rebuilds the reorder program when the record size
// changed since it was built
func (s *State) ensureCopyKernels() error {
	if s.copyProgram != nil && s.copySize == s.size && s.copyStateSize == s.stateSize {
		return nil
	}
	return s.buildCopyKernels()
}

func (s *State) freeCopyKernels() {
	if s.copyKernel != nil {
		s.copyKernel.Free()
		s.copyKernel = nil
	}
	if s.copySnapKernel != nil {
		s.copySnapKernel.Free()
		s.copySnapKernel = nil
	}
	if s.copyProgram != nil {
		s.copyProgram.Free()
		s.copyProgram = nil
	}
}
