package builder

import (
	"fmt"
	"strings"

	"github.com/notargets/SMCKernel/compute"
)

// KernelKind identifies a dispatch signature
type KernelKind int

const (
	KindInitialize KernelKind = iota
	KindMove
	KindMonitor
	KindPath
	KindCopy
	KindCopySnapshot
)

func (k KernelKind) String() string {
	switch k {
	case KindInitialize:
		return "initialize"
	case KindMove:
		return "move"
	case KindMonitor:
		return "monitor"
	case KindPath:
		return "path"
	case KindCopy:
		return "copy"
	case KindCopySnapshot:
		return "copy_snapshot"
	}
	return fmt.Sprintf("KernelKind(%d)", int(k))
}

// Names of the reorder kernels compiled into every state's copy program
const (
	CopyKernelName         = "smc_copy"
	CopySnapshotKernelName = "smc_copy_snapshot"
)

// KernelParameter describes one fixed leading kernel argument
type KernelParameter struct {
	Name     string
	Category string // "scalar", "state", "scratch" or "index"
	Element  string // element type of a buffer, empty for scalars
	IsConst  bool
}

var (
	iterParam     = KernelParameter{Name: "iter", Category: "scalar"}
	dimParam      = KernelParameter{Name: "dim", Category: "scalar"}
	stateParam    = KernelParameter{Name: "state", Category: "state", Element: "char"}
	acceptParam   = KernelParameter{Name: "accept", Category: "scratch", Element: "ulong"}
	outParam      = KernelParameter{Name: "out", Category: "scratch", Element: "fp_type"}
	srcIdxParam   = KernelParameter{Name: "src_idx", Category: "index", Element: "ulong", IsConst: true}
	snapshotParam = KernelParameter{Name: "snapshot", Category: "state", Element: "char", IsConst: true}
)

// Parameters returns the fixed arguments of a kind, in binding order. This is
// the single source of truth for argument positions.
func (k KernelKind) Parameters() []KernelParameter {
	switch k {
	case KindInitialize:
		return []KernelParameter{stateParam, acceptParam}
	case KindMove:
		return []KernelParameter{iterParam, stateParam, acceptParam}
	case KindMonitor:
		return []KernelParameter{iterParam, dimParam, stateParam, outParam}
	case KindPath:
		return []KernelParameter{iterParam, stateParam, outParam}
	case KindCopy:
		return []KernelParameter{srcIdxParam, stateParam}
	case KindCopySnapshot:
		return []KernelParameter{srcIdxParam, snapshotParam, stateParam}
	}
	panic(fmt.Sprintf("builder: unknown kernel kind %d", int(k)))
}

// ArgsOffset is the index of the first user argument
func (k KernelKind) ArgsOffset() int {
	return len(k.Parameters())
}

func (p KernelParameter) declare(dialect compute.Dialect) string {
	if p.Category == "scalar" {
		if dialect == compute.DialectOKL {
			return "const unsigned long " + p.Name
		}
		return "ulong " + p.Name
	}
	elem := p.Element
	if dialect == compute.DialectOKL && elem == "ulong" {
		elem = "unsigned long"
	}
	if p.IsConst {
		elem = "const " + elem
	}
	if dialect == compute.DialectOKL {
		return fmt.Sprintf("%s *%s", elem, p.Name)
	}
	return fmt.Sprintf("__global %s *%s", elem, p.Name)
}

// GenerateKernelSignature generates the fixed parameter list of a kind
func GenerateKernelSignature(kind KernelKind, dialect compute.Dialect) string {
	var params []string
	for _, p := range kind.Parameters() {
		params = append(params, p.declare(dialect))
	}
	return strings.Join(params, ",\n\t")
}

// GenerateKernelDeclaration generates a kernel declaration with the fixed
// parameters of kind followed by extra user parameters
func GenerateKernelDeclaration(kind KernelKind, dialect compute.Dialect, name string, extra ...string) string {
	qualifier := "__kernel"
	if dialect == compute.DialectOKL {
		qualifier = "@kernel"
	}
	sig := GenerateKernelSignature(kind, dialect)
	for _, e := range extra {
		sig += ",\n\t" + e
	}
	return fmt.Sprintf("%s void %s(\n\t%s)", qualifier, name, sig)
}

// GenerateCopyProgram generates the preamble and the two reorder kernels.
// Slot i receives record src_idx[i], read from state in place or from the
// snapshot.
func (kb *Builder) GenerateCopyProgram(dialect compute.Dialect) string {
	var sb strings.Builder
	sb.WriteString(kb.GeneratePreamble())
	sb.WriteString("\n")
	if dialect == compute.DialectOKL {
		sb.WriteString(kb.oklCopyKernel(KindCopy, CopyKernelName, "state"))
		sb.WriteString("\n")
		sb.WriteString(kb.oklCopyKernel(KindCopySnapshot, CopySnapshotKernelName, "snapshot"))
		return sb.String()
	}
	sb.WriteString(kb.clCopyKernel(KindCopy, CopyKernelName, "state"))
	sb.WriteString("\n")
	sb.WriteString(kb.clCopyKernel(KindCopySnapshot, CopySnapshotKernelName, "snapshot"))
	return sb.String()
}

func (kb *Builder) clCopyKernel(kind KernelKind, name, from string) string {
	var sb strings.Builder
	sb.WriteString(GenerateKernelDeclaration(kind, compute.DialectOpenCL, name))
	sb.WriteString("\n{\n")
	sb.WriteString("\tulong to = get_global_id(0);\n")
	sb.WriteString("\tif (to >= SIZE)\n\t\treturn;\n")
	sb.WriteString("\tulong from = src_idx[to];\n")
	if kind == KindCopy {
		sb.WriteString("\tif (from == to)\n\t\treturn;\n")
	}
	sb.WriteString("\t__global char *dst = state + to * STATE_SIZE;\n")
	sb.WriteString(fmt.Sprintf("\t__global const char *src = %s + from * STATE_SIZE;\n", from))
	sb.WriteString("\tfor (ulong k = 0; k != STATE_SIZE; ++k)\n\t\tdst[k] = src[k];\n")
	sb.WriteString("}\n")
	return sb.String()
}

func (kb *Builder) oklCopyKernel(kind KernelKind, name, from string) string {
	var sb strings.Builder
	sb.WriteString(GenerateKernelDeclaration(kind, compute.DialectOKL, name))
	sb.WriteString("\n{\n")
	sb.WriteString("\tfor (long to = 0; to < SIZE; ++to; @tile(64, @outer, @inner)) {\n")
	sb.WriteString("\t\tconst long from = src_idx[to];\n")
	if kind == KindCopy {
		sb.WriteString("\t\tif (from != to) {\n")
	} else {
		sb.WriteString("\t\t{\n")
	}
	sb.WriteString("\t\t\tfor (long k = 0; k < STATE_SIZE; ++k)\n")
	sb.WriteString(fmt.Sprintf("\t\t\t\tstate[to * STATE_SIZE + k] = %s[from * STATE_SIZE + k];\n", from))
	sb.WriteString("\t\t}\n")
	sb.WriteString("\t}\n")
	sb.WriteString("}\n")
	return sb.String()
}
