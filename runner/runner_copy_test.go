package runner

import (
	"testing"

	"github.com/notargets/SMCKernel/compute"
	"github.com/notargets/SMCKernel/compute/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Reordering
// ============================================================================

func TestState_Copy(t *testing.T) {
	testCases := []struct {
		name     string
		size     int
		indexMap []int
		want     []byte
		inPlace  bool
	}{
		{"Reversal", 4, []int{3, 2, 1, 0}, []byte{4, 3, 2, 1}, false},
		{"Collapse", 5, []int{0, 0, 0, 0, 0}, []byte{1, 1, 1, 1, 1}, true},
		{"CollapseMiddle", 5, []int{2, 2, 2, 2, 2}, []byte{3, 3, 3, 3, 3}, true},
		{"Identity", 4, []int{0, 1, 2, 3}, []byte{1, 2, 3, 4}, true},
		{"Resample", 6, []int{0, 0, 2, 2, 2, 5}, []byte{1, 1, 3, 3, 3, 6}, true},
		{"Chain", 3, []int{0, 0, 1}, []byte{1, 1, 2}, false},
		{"Rotate", 5, []int{1, 2, 3, 4, 0}, []byte{2, 3, 4, 5, 1}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := newTestDevice()
			s := newTestState(t, dev, Config{Size: tc.size, StateSize: 8})
			fillRecords(t, s)

			assert.Equal(t, tc.inPlace, inPlaceSafe(tc.indexMap))
			require.NoError(t, s.Copy(tc.indexMap))
			assert.Equal(t, tc.want, records(t, s))

			if tc.inPlace {
				assert.Nil(t, s.TouchedBuffer(), "in-place copy must not allocate a snapshot")
			} else {
				assert.NotNil(t, s.TouchedBuffer())
			}
		})
	}
}

func TestState_CopyLaunchGeometry(t *testing.T) {
	dev := newTestDevice(host.WithWorkGroup(16, 64))
	s := newTestState(t, dev, Config{Size: 100, StateSize: 3})
	fillRecords(t, s)

	before := dev.Launches()
	m := make([]int, 100)
	for i := range m {
		m[i] = i - i%2
	}
	require.NoError(t, s.Copy(m))
	assert.Equal(t, before+1, dev.Launches())

	cfg := s.CopyConfigure()
	assert.Equal(t, 100, cfg.Size)
	assert.Zero(t, cfg.Global%cfg.Local)
	assert.Equal(t, cfg.Global-cfg.Size, cfg.Padding)

	got := records(t, s)
	for i, v := range got {
		assert.Equal(t, byte(i-i%2+1), v)
	}

	// a fixed local size survives until the next rebuild of the copy kernels
	cfg.SetLocalSize(48)
	assert.Equal(t, 144, cfg.Global)
	require.NoError(t, s.Copy(m))
}

func TestState_CopyInvalid(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 4, StateSize: 2})

	assert.Panics(t, func() { _ = s.Copy([]int{0, 1, 2}) }, "short map")
	assert.Panics(t, func() { _ = s.Copy([]int{0, 1, 2, 4}) }, "out of range")
	assert.Panics(t, func() { _ = s.Copy([]int{0, -1, 2, 3}) }, "negative")

	_, err := s.CopyPre()
	require.NoError(t, err)
	assert.Panics(t, func() { _ = s.Copy([]int{0, 1, 2, 3}) }, "copy between CopyPre and CopyPost")
	assert.Panics(t, func() { _, _ = s.CopyPre() }, "second CopyPre")
	require.NoError(t, s.CopyPost(nil))
	assert.Panics(t, func() { _ = s.CopyPost(nil) }, "CopyPost without CopyPre")
}

// ============================================================================
// Snapshot, pack and unpack
// ============================================================================

func TestState_PackUnpack(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 4, StateSize: 8})
	buildTestState(t, s)
	fillRecords(t, s)

	assert.Panics(t, func() { s.StatePack(0) }, "pack before CopyPre")

	snap, err := s.CopyPre()
	require.NoError(t, err)
	assert.Len(t, snap.Bytes(), 32)
	assert.Equal(t, []byte{2, 2, 2, 2, 2, 2, 2, 2}, snap.Record(1))

	pack := s.StatePack(2)
	assert.Equal(t, []byte{3, 3, 3, 3, 3, 3, 3, 3}, pack)
	pack[0] = 99
	assert.Equal(t, byte(3), s.StatePack(2)[0], "pack is a copy")

	s.StateUnpack(1, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	assert.True(t, snap.Touched(1))
	assert.False(t, snap.Touched(0))
	assert.Equal(t, []byte{1, 2, 3, 4}, records(t, s), "device is unchanged before CopyPost")

	// slot i gathers record 3-i of the snapshot, including the unpacked one
	require.NoError(t, s.CopyPost([]int{3, 2, 1, 0}))
	assert.Equal(t, []byte{4, 3, 9, 1}, records(t, s))

	touched := s.TouchedBuffer().(*host.Buffer).Bytes()
	assert.Equal(t, []byte{0, 1, 0, 0}, touched)

	// the mirror follows the device until the next launch
	assert.Equal(t, byte(9), s.StatePack(2)[0])
	assert.Panics(t, func() { s.StateUnpack(0, make([]byte, 8)) }, "unpack after CopyPost")

	_, err = NewMove(MoveBase{Name: "move_add"}).Run(1, s)
	require.NoError(t, err)
	assert.Panics(t, func() { s.StatePack(0) }, "pack after a launch")
}

func TestState_UnpackIdentity(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 3, StateSize: 4})
	fillRecords(t, s)

	_, err := s.CopyPre()
	require.NoError(t, err)
	s.StateUnpack(2, []byte{7, 7, 7, 7, 0xff})
	require.NoError(t, s.CopyPost(nil))
	assert.Equal(t, []byte{1, 2, 7}, records(t, s))

	// a new capture starts with clean touched flags
	snap, err := s.CopyPre()
	require.NoError(t, err)
	assert.False(t, snap.Touched(2))
	require.NoError(t, s.CopyPost(nil))
}

func TestState_PackUnpackInvalid(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 3, StateSize: 4, Dynamic: true})

	assert.Panics(t, func() { s.StateUnpack(0, make([]byte, 4)) }, "unpack before CopyPre")

	_, err := s.CopyPre()
	require.NoError(t, err)
	assert.Panics(t, func() { s.StatePack(3) }, "id out of range")
	assert.Panics(t, func() { s.StatePack(-1) }, "negative id")
	assert.Panics(t, func() { s.StateUnpack(0, make([]byte, 3)) }, "short pack")

	require.NoError(t, s.CopyPost(nil))
}

func TestState_ReallocateWhileCaptured(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 4, StateSize: 2, Dynamic: true})
	fillRecords(t, s)

	_, err := s.CopyPre()
	require.NoError(t, err)
	assert.Panics(t, func() { _ = s.ResizeStateSize(3) })
	assert.Panics(t, func() { _ = s.UpdateStateBuffer(compute.MemReadWrite, nil) })

	// the pending snapshot is still usable
	assert.Equal(t, 2, s.StateSize())
	require.NoError(t, s.CopyPost([]int{3, 2, 1, 0}))
	assert.Equal(t, []byte{4, 3, 2, 1}, records(t, s))

	require.NoError(t, s.ResizeStateSize(3))
	fillRecords(t, s)
	require.NoError(t, s.Copy([]int{3, 2, 1, 0}))
	assert.Equal(t, []byte{4, 3, 2, 1}, records(t, s))
}

func TestState_PackUnpackSameSlot(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 5, StateSize: 4})
	fillRecords(t, s)

	before := make([]byte, 20)
	require.NoError(t, s.ReadState(before))

	_, err := s.CopyPre()
	require.NoError(t, err)
	s.StateUnpack(3, s.StatePack(3))
	require.NoError(t, s.CopyPost(nil))

	after := make([]byte, 20)
	require.NoError(t, s.ReadState(after))
	assert.Equal(t, before, after)
	assert.Equal(t, []byte{0, 0, 0, 1, 0}, s.TouchedBuffer().(*host.Buffer).Bytes())
}

func TestState_CopyAfterResize(t *testing.T) {
	dev := newTestDevice()
	s := newTestState(t, dev, Config{Size: 4, StateSize: 2, Dynamic: true})
	fillRecords(t, s)
	require.NoError(t, s.Copy([]int{1, 0, 3, 2}))
	assert.Equal(t, []byte{2, 1, 4, 3}, records(t, s))

	require.NoError(t, s.ResizeStateSize(5))
	fillRecords(t, s)
	require.NoError(t, s.Copy([]int{1, 0, 3, 2}))
	assert.Equal(t, []byte{2, 1, 4, 3}, records(t, s), "reorder kernels follow the new record size")
}
