package runner

import (
	"errors"
	"io"
	"testing"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/compute/host"
	"github.com/notargets/SMCKernel/runner/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paramInit binds the Run parameter as the first user argument of init_param
type paramInit struct {
	InitializeBase
	calls  []string
	offset int
}

func (h *paramInit) EvalParam(l *Launch, param interface{}) error {
	h.calls = append(h.calls, "param")
	h.offset = l.Offset
	return l.SetArg(0, uint64(param.(int)))
}

func (h *paramInit) EvalPre(*Launch) error {
	h.calls = append(h.calls, "pre")
	return nil
}

func (h *paramInit) EvalPost(l *Launch) error {
	h.calls = append(h.calls, "post")
	return nil
}

// evenMove skips odd iterations
type evenMove struct {
	MoveBase
}

func (h evenMove) KernelName(iter int) string {
	if iter%2 == 1 {
		return ""
	}
	return h.Name
}

// fixedCount replaces the accept count
type fixedCount struct {
	MoveBase
	accept compute.Buffer
}

func (h *fixedCount) AcceptCount(l *Launch, accept compute.Buffer) (int, error) {
	h.accept = accept
	return 42, nil
}

// failingPre aborts the dispatch before launch
type failingPre struct {
	MoveBase
	err error
}

func (h failingPre) EvalPre(*Launch) error { return h.err }

func TestInitialize(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 5, StateSize: 4})
	buildTestState(t, s)

	t.Run("AcceptCount", func(t *testing.T) {
		dispatch := NewInitialize(InitializeBase{Name: "init_fill"})
		defer dispatch.Free()

		accepted, err := dispatch.Run(s, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, accepted, "slots 1 and 3 accept")
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, records(t, s))
		assert.Equal(t, "init_fill", dispatch.KernelName())
		assert.NotNil(t, dispatch.Kernel())
		assert.Equal(t, 5, dispatch.Configure().Size)
	})

	t.Run("ParamAndHookOrder", func(t *testing.T) {
		hooks := &paramInit{InitializeBase: InitializeBase{Name: "init_param"}}
		dispatch := NewInitialize(hooks)
		defer dispatch.Free()

		accepted, err := dispatch.Run(s, 7)
		require.NoError(t, err)
		assert.Equal(t, 5, accepted)
		assert.Equal(t, []string{"param", "pre", "post"}, hooks.calls)
		assert.Equal(t, builder.KindInitialize.ArgsOffset(), hooks.offset)
		assert.Equal(t, []byte{7, 7, 7, 7, 7}, records(t, s))
	})

	t.Run("Skip", func(t *testing.T) {
		dispatch := NewInitialize(InitializeBase{})
		before := dev.Launches()
		accepted, err := dispatch.Run(s, nil)
		require.NoError(t, err)
		assert.Zero(t, accepted)
		assert.Equal(t, before, dev.Launches())
		assert.Nil(t, dispatch.Kernel())
	})

	t.Run("UnknownKernel", func(t *testing.T) {
		dispatch := NewInitialize(InitializeBase{Name: "not_declared"})
		_, err := dispatch.Run(s, nil)
		assert.ErrorIs(t, err, compute.ErrKernelNotFound)
	})

	assert.Panics(t, func() { NewInitialize(nil) })
	assert.Panics(t, func() { _, _ = NewInitialize(InitializeBase{Name: "init_fill"}).Run(nil, nil) })
}

func TestMove(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 4, StateSize: 2})
	buildTestState(t, s)

	t.Run("AcceptAll", func(t *testing.T) {
		fillRecords(t, s)
		move := NewMove(MoveBase{Name: "move_add"})
		defer move.Free()

		accepted, err := move.Run(3, s)
		require.NoError(t, err)
		assert.Equal(t, 4, accepted)

		data := make([]byte, 8)
		require.NoError(t, s.ReadState(data))
		assert.Equal(t, []byte{4, 1, 5, 2, 6, 3, 7, 4}, data)
	})

	t.Run("SkipOddIterations", func(t *testing.T) {
		move := NewMove(evenMove{MoveBase{Name: "move_add"}})
		defer move.Free()

		for iter := 0; iter < 4; iter++ {
			before := dev.Launches()
			accepted, err := move.Run(iter, s)
			require.NoError(t, err)
			if iter%2 == 1 {
				assert.Zero(t, accepted)
				assert.Equal(t, before, dev.Launches())
				assert.Empty(t, move.KernelName())
			} else {
				assert.Equal(t, 4, accepted)
				assert.Equal(t, before+1, dev.Launches())
				assert.Equal(t, "move_add", move.KernelName())
			}
		}
	})

	t.Run("AcceptCounter", func(t *testing.T) {
		hooks := &fixedCount{MoveBase: MoveBase{Name: "move_add"}}
		move := NewMove(hooks)
		defer move.Free()

		accepted, err := move.Run(1, s)
		require.NoError(t, err)
		assert.Equal(t, 42, accepted)
		require.NotNil(t, hooks.accept)
		assert.Equal(t, int64(4*8), hooks.accept.Size())
	})

	t.Run("HookError", func(t *testing.T) {
		hookErr := errors.New("proposal scale not set")
		move := NewMove(failingPre{MoveBase: MoveBase{Name: "move_add"}, err: hookErr})
		before := dev.Launches()
		_, err := move.Run(0, s)
		assert.ErrorIs(t, err, hookErr)
		assert.Equal(t, before, dev.Launches())
	})
}

func TestMove_Rebind(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 4, StateSize: 2})
	buildTestState(t, s)

	move := NewMove(MoveBase{Name: "move_add"})
	defer move.Free()

	_, err := move.Run(0, s)
	require.NoError(t, err)
	first := move.Kernel()

	_, err = move.Run(1, s)
	require.NoError(t, err)
	assert.Same(t, first.(*host.Kernel), move.Kernel().(*host.Kernel), "same build keeps the kernel")

	buildTestState(t, s)
	_, err = move.Run(2, s)
	require.NoError(t, err)
	assert.NotSame(t, first.(*host.Kernel), move.Kernel().(*host.Kernel), "a rebuild rebinds")

	other := newTestState(t, dev, Config{Size: 6, StateSize: 2})
	buildTestState(t, other)
	accepted, err := move.Run(2, other)
	require.NoError(t, err)
	assert.Equal(t, 6, accepted)
	assert.Equal(t, 6, move.Configure().Size, "another state rebinds")

	// a failed build leaves nothing to bind to
	other.Build("#error broken\n", "", 0, io.Discard)
	assert.Panics(t, func() { _, _ = move.Run(3, other) })
}

func TestMonitor(t *testing.T) {
	for _, fp := range []builder.DataType{builder.Float64, builder.Float32} {
		t.Run(fp.String(), func(t *testing.T) {
			dev := newTestDevice()
			s := newTestState(t, dev, Config{Size: 3, StateSize: 4, FloatType: fp})
			buildTestState(t, s)
			fillRecords(t, s)

			monitor := NewMonitor(MonitorBase{Name: "monitor_first"})
			defer monitor.Free()

			out := make([]float64, 6)
			require.NoError(t, monitor.Run(0, 2, s, out))
			assert.Equal(t, []float64{1, 2, 2, 3, 3, 4}, out)

			m, err := monitor.RunDense(1, 3, s)
			require.NoError(t, err)
			r, c := m.Dims()
			assert.Equal(t, 3, r)
			assert.Equal(t, 3, c)
			assert.Equal(t, 5.0, m.At(2, 2))
			assert.Equal(t, 1.0, m.At(0, 0))
		})
	}

	t.Run("Invalid", func(t *testing.T) {
		dev := newTestDevice()
		s := newTestState(t, dev, Config{Size: 3, StateSize: 4})
		buildTestState(t, s)
		monitor := NewMonitor(MonitorBase{Name: "monitor_first"})

		assert.Panics(t, func() { _ = monitor.Run(0, 0, s, make([]float64, 3)) })
		assert.Panics(t, func() { _ = monitor.Run(0, 2, s, make([]float64, 5)) })
	})

	t.Run("Skip", func(t *testing.T) {
		dev := newTestDevice()
		s := newTestState(t, dev, Config{Size: 3, StateSize: 4})
		monitor := NewMonitor(MonitorBase{})

		out := []float64{-1, -1, -1}
		require.NoError(t, monitor.Run(0, 1, s, out))
		assert.Equal(t, []float64{-1, -1, -1}, out)

		m, err := monitor.RunDense(0, 1, s)
		require.NoError(t, err)
		assert.Nil(t, m)
	})
}

// gridPath uses the iteration number as the grid value
type gridPath struct {
	PathBase
}

func (gridPath) EvalGrid(iter int, _ *State) float64 { return float64(iter) }

func TestPath(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 4, StateSize: 1})
	buildTestState(t, s)

	path := NewPath(gridPath{PathBase{Name: "path_scaled"}})
	defer path.Free()

	out := make([]float64, 4)
	grid, err := path.Run(3, s, out)
	require.NoError(t, err)
	assert.Equal(t, 3.0, grid)
	assert.Equal(t, []float64{3, 6, 9, 12}, out)

	assert.Panics(t, func() { _, _ = path.Run(3, s, make([]float64, 3)) })

	skipped := NewPath(PathBase{})
	grid, err = skipped.Run(3, s, out)
	require.NoError(t, err)
	assert.Zero(t, grid)
}
