package runner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/compute/host"
	"github.com/notargets/SMCKernel/runner/builder"
	"github.com/stretchr/testify/require"
)

// testSource declares the host test kernels the way a device program would
var testSource = strings.Join([]string{
	builder.GenerateKernelDeclaration(builder.KindInitialize, compute.DialectOpenCL, "init_fill") + " {}",
	builder.GenerateKernelDeclaration(builder.KindInitialize, compute.DialectOpenCL, "init_param", "ulong v") + " {}",
	builder.GenerateKernelDeclaration(builder.KindMove, compute.DialectOpenCL, "move_add") + " {}",
	builder.GenerateKernelDeclaration(builder.KindMonitor, compute.DialectOpenCL, "monitor_first") + " {}",
	builder.GenerateKernelDeclaration(builder.KindPath, compute.DialectOpenCL, "path_scaled") + " {}",
	"",
}, "\n")

func registerTestKernels(dev *host.Device) {
	// init_fill(state, accept): every byte of record i is i+1, odd slots accept
	dev.RegisterKernel("init_fill", func(inv *host.Invocation) {
		n, ss := inv.MacroUint("SIZE"), inv.MacroUint("STATE_SIZE")
		i := uint64(inv.GlobalID)
		if i >= n {
			return
		}
		state := inv.Bytes(0)
		for k := uint64(0); k < ss; k++ {
			state[i*ss+k] = byte(i + 1)
		}
		inv.Uint64s(1)[i] = i % 2
	})
	// init_param(state, accept, v): every byte is v, all accept
	dev.RegisterKernel("init_param", func(inv *host.Invocation) {
		n, ss := inv.MacroUint("SIZE"), inv.MacroUint("STATE_SIZE")
		i := uint64(inv.GlobalID)
		if i >= n {
			return
		}
		v := inv.Uint64(2)
		state := inv.Bytes(0)
		for k := uint64(0); k < ss; k++ {
			state[i*ss+k] = byte(v)
		}
		inv.Uint64s(1)[i] = 1
	})
	// move_add(iter, state, accept): first byte += iter, all accept
	dev.RegisterKernel("move_add", func(inv *host.Invocation) {
		n, ss := inv.MacroUint("SIZE"), inv.MacroUint("STATE_SIZE")
		i := uint64(inv.GlobalID)
		if i >= n {
			return
		}
		inv.Bytes(1)[i*ss] += byte(inv.Uint64(0))
		inv.Uint64s(2)[i] = 1
	})
	// monitor_first(iter, dim, state, out): out[i*dim+d] = state[i][0] + d
	dev.RegisterKernel("monitor_first", func(inv *host.Invocation) {
		n, ss := inv.MacroUint("SIZE"), inv.MacroUint("STATE_SIZE")
		i := uint64(inv.GlobalID)
		if i >= n {
			return
		}
		dim := inv.Uint64(1)
		first := float64(inv.Bytes(2)[i*ss])
		for d := uint64(0); d < dim; d++ {
			if inv.MacroUint("SMC_HAS_DOUBLE") == 1 {
				inv.Float64s(3)[i*dim+d] = first + float64(d)
			} else {
				inv.Float32s(3)[i*dim+d] = float32(first + float64(d))
			}
		}
	})
	// path_scaled(iter, state, out): out[i] = iter * (i+1)
	dev.RegisterKernel("path_scaled", func(inv *host.Invocation) {
		n := inv.MacroUint("SIZE")
		i := uint64(inv.GlobalID)
		if i >= n {
			return
		}
		inv.Float64s(2)[i] = float64(inv.Uint64(0)) * float64(i+1)
	})
}

func newTestDevice(opts ...host.Option) *host.Device {
	dev := host.New(opts...)
	registerTestKernels(dev)
	return dev
}

func newTestState(t *testing.T, dev *host.Device, cfg Config) *State {
	t.Helper()
	s, err := NewState(dev, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Free)
	return s
}

func buildTestState(t *testing.T, s *State) {
	t.Helper()
	var diag bytes.Buffer
	s.Build(testSource, "", 0, &diag)
	require.True(t, s.Built(), diag.String())
}

// fillRecords writes record i as StateSize bytes of value i+1
func fillRecords(t *testing.T, s *State) {
	t.Helper()
	data := make([]byte, s.Size()*s.StateSize())
	for i := 0; i < s.Size(); i++ {
		for k := 0; k < s.StateSize(); k++ {
			data[i*s.StateSize()+k] = byte(i + 1)
		}
	}
	require.NoError(t, s.WriteState(data))
}

// records reads the device state and returns the first byte of each record,
// checking that every record is uniform
func records(t *testing.T, s *State) []byte {
	t.Helper()
	data := make([]byte, s.Size()*s.StateSize())
	require.NoError(t, s.ReadState(data))
	out := make([]byte, s.Size())
	for i := range out {
		rec := data[i*s.StateSize() : (i+1)*s.StateSize()]
		require.Equal(t, bytes.Repeat(rec[:1], s.StateSize()), rec, "record %d is not uniform", i)
		out[i] = rec[0]
	}
	return out
}
