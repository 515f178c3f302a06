package host

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/notargets/SMCKernel/compute"
)

var kernelDecl = regexp.MustCompile(`(?:__kernel|@kernel|\bkernel)\s+void\s+([A-Za-z_]\w*)\s*\(`)

// Program is preprocessed device source. Build evaluates the conditional
// directives, records #define values and kernel declarations and fails on
// #error.
type Program struct {
	device   *Device
	source   string
	built    bool
	macros   map[string]string
	declared map[string]bool
	reports  []compute.BuildReport
}

func (p *Program) Source() string { return p.source }

func (p *Program) Reports() []compute.BuildReport { return p.reports }

func (p *Program) Free() {}

// Macros returns the macro table of the last successful build
func (p *Program) Macros() map[string]string { return p.macros }

func (p *Program) Build(flags string) error {
	p.built = false
	pp := newPreprocessor()
	var diags []string
	diags = append(diags, pp.applyFlags(flags)...)
	diags = append(diags, pp.run(p.source)...)

	if len(diags) > 0 {
		p.reports = []compute.BuildReport{{
			Device:  p.device.name,
			Success: false,
			Log:     strings.Join(diags, "\n"),
		}}
		return fmt.Errorf("%w: %d error(s) on %s", compute.ErrBuildFailure, len(diags), p.device.name)
	}

	p.macros = pp.macros
	p.declared = pp.declared
	p.built = true
	p.reports = []compute.BuildReport{{Device: p.device.name, Success: true}}
	return nil
}

func (p *Program) CreateKernel(name string) (compute.Kernel, error) {
	if !p.built {
		return nil, fmt.Errorf("create kernel %s: %w", name, compute.ErrNotBuilt)
	}
	if !p.declared[name] {
		return nil, fmt.Errorf("%w: %s is not declared in the program source", compute.ErrKernelNotFound, name)
	}
	fn, ok := p.device.kernels[name]
	if !ok {
		fn, ok = lookupKernel(name)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no host implementation registered for %s", compute.ErrKernelNotFound, name)
	}
	return &Kernel{name: name, fn: fn, program: p, device: p.device}, nil
}

type condFrame struct {
	parentActive bool
	active       bool
	taken        bool
}

type preprocessor struct {
	macros   map[string]string
	declared map[string]bool
	stack    []condFrame
}

func newPreprocessor() *preprocessor {
	return &preprocessor{
		macros:   make(map[string]string),
		declared: make(map[string]bool),
	}
}

func (pp *preprocessor) active() bool {
	if len(pp.stack) == 0 {
		return true
	}
	return pp.stack[len(pp.stack)-1].active
}

// applyFlags handles -D and -U; other compiler flags are accepted as is
func (pp *preprocessor) applyFlags(flags string) (diags []string) {
	fields := strings.Fields(flags)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		var def string
		switch {
		case f == "-D" || f == "-U":
			if i+1 >= len(fields) {
				diags = append(diags, fmt.Sprintf("error: missing macro name after %s", f))
				continue
			}
			i++
			def = fields[i]
			if f == "-U" {
				delete(pp.macros, def)
				continue
			}
		case strings.HasPrefix(f, "-D"):
			def = f[2:]
		case strings.HasPrefix(f, "-U"):
			delete(pp.macros, f[2:])
			continue
		case strings.HasPrefix(f, "-"):
			continue
		default:
			diags = append(diags, fmt.Sprintf("error: invalid build option '%s'", f))
			continue
		}
		name, value := def, "1"
		if eq := strings.IndexByte(def, '='); eq >= 0 {
			name, value = def[:eq], def[eq+1:]
		}
		pp.macros[name] = value
	}
	return diags
}

func (pp *preprocessor) run(source string) (diags []string) {
	for n, line := range strings.Split(source, "\n") {
		lineNo := n + 1
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if pp.active() {
				for _, m := range kernelDecl.FindAllStringSubmatch(line, -1) {
					pp.declared[m[1]] = true
				}
			}
			continue
		}
		directive, rest := splitDirective(trimmed[1:])
		if msg := pp.directive(directive, rest); msg != "" {
			diags = append(diags, fmt.Sprintf("<source>:%d: error: %s", lineNo, msg))
		}
	}
	if len(pp.stack) > 0 {
		diags = append(diags, "<source>: error: unterminated conditional directive")
	}
	return diags
}

func splitDirective(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t(")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func (pp *preprocessor) directive(name, rest string) string {
	switch name {
	case "ifdef", "ifndef":
		_, defined := pp.macros[rest]
		cond := defined == (name == "ifdef")
		pp.push(cond)
	case "if":
		cond, err := pp.eval(rest)
		if err != "" {
			pp.push(false)
			return err
		}
		pp.push(cond)
	case "elif":
		if len(pp.stack) == 0 {
			return "#elif without #if"
		}
		top := &pp.stack[len(pp.stack)-1]
		if top.taken {
			top.active = false
			return ""
		}
		cond, err := pp.eval(rest)
		if err != "" {
			return err
		}
		top.active = top.parentActive && cond
		top.taken = cond
	case "else":
		if len(pp.stack) == 0 {
			return "#else without #if"
		}
		top := &pp.stack[len(pp.stack)-1]
		top.active = top.parentActive && !top.taken
		top.taken = true
	case "endif":
		if len(pp.stack) == 0 {
			return "#endif without #if"
		}
		pp.stack = pp.stack[:len(pp.stack)-1]
	case "define":
		if !pp.active() {
			return ""
		}
		if rest == "" {
			return "macro name missing"
		}
		mname, value := splitDirective(rest)
		pp.macros[mname] = value
	case "undef":
		if pp.active() {
			delete(pp.macros, rest)
		}
	case "error":
		if pp.active() {
			return rest
		}
	case "pragma", "include", "line", "":
	default:
		if pp.active() {
			return fmt.Sprintf("invalid preprocessing directive #%s", name)
		}
	}
	return ""
}

func (pp *preprocessor) push(cond bool) {
	parent := pp.active()
	pp.stack = append(pp.stack, condFrame{
		parentActive: parent,
		active:       parent && cond,
		taken:        cond,
	})
}

// eval supports the #if forms device preambles use: defined(X), !defined(X),
// integer literals and object-like macros with integer values
func (pp *preprocessor) eval(expr string) (bool, string) {
	expr = strings.TrimSpace(expr)
	negate := false
	if strings.HasPrefix(expr, "!") {
		negate = true
		expr = strings.TrimSpace(expr[1:])
	}
	var result bool
	switch {
	case strings.HasPrefix(expr, "defined"):
		arg := strings.TrimSpace(strings.TrimPrefix(expr, "defined"))
		arg = strings.TrimSuffix(strings.TrimPrefix(arg, "("), ")")
		_, result = pp.macros[strings.TrimSpace(arg)]
	default:
		if v, ok := pp.macros[expr]; ok {
			expr = v
		}
		n, err := ParseInteger(expr)
		if err != nil {
			return false, fmt.Sprintf("unsupported #if expression '%s'", expr)
		}
		result = n != 0
	}
	return result != negate, ""
}

// ParseInteger parses a C integer literal, accepting U and L suffixes
func ParseInteger(s string) (uint64, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "uUlL")
	return strconv.ParseUint(s, 0, 64)
}
