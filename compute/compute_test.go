package compute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemFlags(t *testing.T) {
	f := MemReadOnly | MemHostWriteOnly | MemUseHostPtr
	assert.True(t, f.Has(MemReadOnly))
	assert.True(t, f.Has(MemReadOnly|MemUseHostPtr))
	assert.False(t, f.Has(MemReadWrite))
	assert.Equal(t, MemHostWriteOnly, f.HostAccess())
	assert.Equal(t, MemReadOnly|MemUseHostPtr, f.WithoutHostAccess())
	assert.Equal(t, "READ_ONLY|USE_HOST_PTR|HOST_WRITE_ONLY", f.String())
	assert.Equal(t, "NONE", MemFlags(0).String())
}

type sizedBuffer int64

func (b sizedBuffer) Size() int64     { return int64(b) }
func (b sizedBuffer) Flags() MemFlags { return MemReadWrite }
func (b sizedBuffer) Free()           {}

func TestCheckRange(t *testing.T) {
	buf := sizedBuffer(16)
	assert.NoError(t, CheckRange(buf, 0, 16))
	assert.NoError(t, CheckRange(buf, 8, 8))
	assert.Error(t, CheckRange(buf, 8, 9))
	assert.Error(t, CheckRange(buf, -1, 1))
	assert.Error(t, CheckRange(nil, 0, 0))
}

func TestRegistry(t *testing.T) {
	openErr := errors.New("no platform")
	Register("test-failing", func(Options) (Device, error) { return nil, openErr })

	assert.Contains(t, Backends(), "test-failing")

	_, err := Open("test-failing", Options{})
	assert.ErrorIs(t, err, openErr)

	_, err = Open("test-missing", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	assert.Panics(t, func() { Register("test-failing", func(Options) (Device, error) { return nil, nil }) })
	assert.Panics(t, func() { Register("test-nil", nil) })
}
