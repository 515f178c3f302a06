package runner

import (
	"fmt"

	"github.com/notargets/SMCKernel/compute"
)

// Configure is the launch geometry of one kernel over Size work items.
// Local zero lets the device choose the work-group size.
type Configure struct {
	Size    int
	Global  int
	Local   int
	Padding int
}

// SetLocalSize fixes the local size and recomputes Global and Padding
func (c *Configure) SetLocalSize(local int) {
	if local < 0 {
		panic(fmt.Sprintf("Configure.SetLocalSize: negative local size %d", local))
	}
	c.Local = local
	c.Global = MinGlobalSize(c.Size, local)
	c.Padding = c.Global - c.Size
}

// Compute picks the preferred geometry of k on dev for n work items
func (c *Configure) Compute(n int, k compute.Kernel, dev compute.Device) error {
	global, local, padding, err := PreferredWorkSize(n, k, dev)
	if err != nil {
		return err
	}
	*c = Configure{Size: n, Global: global, Local: local, Padding: padding}
	return nil
}

// MinMaxLocalSize returns the preferred local size multiple of k on dev, the
// maximum local size and the largest multiple of factor not above lmax. All
// three are zero when the device reports no usable preference.
func MinMaxLocalSize(k compute.Kernel, dev compute.Device) (factor, lmax, mmax int, err error) {
	info, err := k.WorkGroup(dev)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("query work-group info of %s: %w", k.Name(), err)
	}
	factor = info.PreferredMultiple
	if factor <= 0 {
		return 0, 0, 0, nil
	}
	lmax = info.MaxSize
	if lmax <= 0 {
		return 0, 0, 0, nil
	}
	if factor > lmax {
		return 0, 0, 0, nil
	}
	return factor, lmax, lmax / factor, nil
}

// MinGlobalSize is the smallest multiple of local that is at least n
func MinGlobalSize(n, local int) int {
	if local == 0 || n%local == 0 {
		return n
	}
	return (n/local + 1) * local
}

// PreferredWorkSize returns the global and local size to launch n work items
// of k on dev, and the padding global-n. A compile-time work-group size is
// used as is. Otherwise the multiple of the preferred factor with the least
// padding wins, the larger local size on ties.
func PreferredWorkSize(n int, k compute.Kernel, dev compute.Device) (global, local, padding int, err error) {
	info, err := k.WorkGroup(dev)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("query work-group info of %s: %w", k.Name(), err)
	}
	if info.Required[0] != 0 {
		local = info.Required[0]
		global = MinGlobalSize(n, local)
		return global, local, global - n, nil
	}

	factor, lmax, mmax, err := MinMaxLocalSize(k, dev)
	if err != nil {
		return 0, 0, 0, err
	}
	if lmax == 0 {
		return n, 0, 0, nil
	}

	local = lmax
	global = MinGlobalSize(n, local)
	padding = global - n
	for m := mmax; m >= 1; m-- {
		l := m * factor
		g := MinGlobalSize(n, l)
		if d := g - n; d < padding {
			local, global, padding = l, g, d
		}
	}
	return global, local, padding, nil
}
