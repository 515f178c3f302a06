//go:build occa

package occa

import (
	"testing"

	"github.com/notargets/SMCKernel/compute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceProperties(t *testing.T) {
	testCases := []struct {
		name string
		opts compute.Options
		want string
	}{
		{"DefaultSerial", compute.Options{}, `{"mode":"Serial"}`},
		{"CUDA", compute.Options{Mode: "CUDA", DeviceID: 1}, `{"device_id":1,"mode":"CUDA"}`},
		{"OpenCL", compute.Options{Mode: "OpenCL", Platform: 2}, `{"device_id":0,"mode":"OpenCL","platform_id":2}`},
		{"Properties", compute.Options{Mode: "OpenMP", Properties: map[string]interface{}{"verbose": true}},
			`{"mode":"OpenMP","verbose":true}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DeviceProperties(tc.opts)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, got)
		})
	}
}

func TestKernelProperties(t *testing.T) {
	got, err := KernelProperties("Serial", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = KernelProperties("OpenMP", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"compiler_flags":"-O3"}`, got)

	got, err = KernelProperties("OpenMP", "-O1 -g")
	require.NoError(t, err)
	assert.JSONEq(t, `{"compiler_flags":"-O1 -g"}`, got)

	got, err = KernelProperties("CUDA", " --use_fast_math ")
	require.NoError(t, err)
	assert.JSONEq(t, `{"compiler_flags":"--use_fast_math"}`, got)
}

const scaleOKL = `
@kernel void scale(const long n, double *x) {
	for (long i = 0; i < n; ++i; @tile(16, @outer, @inner)) {
		x[i] *= SCALE;
	}
}
`

func TestSerialDevice(t *testing.T) {
	dev, err := Open(compute.Options{Mode: "Serial"})
	if err != nil {
		t.Skipf("OCCA Serial device unavailable: %v", err)
	}
	defer dev.Free()

	assert.Contains(t, dev.Name(), "Serial")
	assert.Equal(t, compute.DialectOKL, dev.Capabilities().Dialect)

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf, err := dev.NewBuffer(8, compute.MemReadWrite|compute.MemCopyHostPtr, src)
	require.NoError(t, err)
	defer buf.Free()

	require.NoError(t, dev.Write(buf, 2, []byte{9, 9}))
	got := make([]byte, 4)
	require.NoError(t, dev.Read(buf, 1, got))
	assert.Equal(t, []byte{2, 9, 9, 5}, got)

	prog, err := dev.NewProgram("#define SCALE 2\n" + scaleOKL)
	require.NoError(t, err)
	defer prog.Free()
	require.NoError(t, prog.Build(""))

	k, err := prog.CreateKernel("scale")
	require.NoError(t, err)
	info, err := k.WorkGroup(dev)
	require.NoError(t, err)
	assert.Zero(t, info.MaxSize)

	_, err = prog.CreateKernel("missing")
	assert.ErrorIs(t, err, compute.ErrKernelNotFound)
}
