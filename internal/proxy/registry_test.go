package proxy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/block"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

type fakeMount struct {
	index   uint32
	openErr error

	opened atomic.Int32
	closed atomic.Int32
}

func (m *fakeMount) Open(context.Context) (uint32, error) {
	if m.openErr != nil {
		return 0, m.openErr
	}

	m.opened.Add(1)

	return m.index, nil
}

func (m *fakeMount) Close(context.Context) error {
	m.closed.Add(1)

	return nil
}

func newTestRegistry(t *testing.T, mounts MountFactory) (*Registry, *[]*block.MockDevice) {
	t.Helper()

	var devices []*block.MockDevice

	opener := WithOpener(func(string, block.Mode) (block.Device, error) {
		dev := block.NewMockDevice(make([]byte, 8192))
		devices = append(devices, dev)

		return dev, nil
	})

	return NewRegistry(stats.NewStore(), zap.NewNop(), mounts, opener), &devices
}

func TestRegistry_CreateRemove(t *testing.T) {
	t.Parallel()

	r, devices := newTestRegistry(t, nil)

	target, err := r.Create(t.Context(), "proxy0", []string{"/dev/loop0"})
	require.NoError(t, err)
	assert.Equal(t, "proxy0", target.Name)

	got, ok := r.Get("proxy0")
	require.True(t, ok)
	assert.Same(t, target, got)

	info := target.Info()
	assert.Equal(t, "proxy0", info.Name)
	assert.Equal(t, "/dev/loop0", info.Backing)
	assert.Equal(t, int64(8192), info.Size)
	assert.Nil(t, info.NBDIndex)

	require.NoError(t, r.Remove(t.Context(), "proxy0"))
	assert.True(t, (*devices)[0].Closed())

	_, ok = r.Get("proxy0")
	assert.False(t, ok)
}

func TestRegistry_Duplicate(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, nil)

	_, err := r.Create(t.Context(), "proxy0", []string{"/dev/loop0"})
	require.NoError(t, err)

	_, err = r.Create(t.Context(), "proxy0", []string{"/dev/loop1"})
	require.ErrorIs(t, err, ErrTargetExists)
}

func TestRegistry_InvalidName(t *testing.T) {
	t.Parallel()

	r, devices := newTestRegistry(t, nil)

	for _, name := range []string{"", "a/b", "with space"} {
		_, err := r.Create(t.Context(), name, []string{"/dev/loop0"})
		require.ErrorIs(t, err, ErrInvalidName)
	}

	assert.Empty(t, *devices)
}

func TestRegistry_ConstructionError(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, nil)

	_, err := r.Create(t.Context(), "proxy0", []string{"a", "b"})

	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ReasonArguments, cerr.Reason)
	assert.Empty(t, r.List())
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, nil)

	require.ErrorIs(t, r.Remove(t.Context(), "missing"), ErrTargetNotFound)
}

func TestRegistry_Mounts(t *testing.T) {
	t.Parallel()

	mount := &fakeMount{index: 3}
	r, _ := newTestRegistry(t, func(*Device) Mount { return mount })

	target, err := r.Create(t.Context(), "proxy0", []string{"/dev/loop0"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), mount.opened.Load())

	info := target.Info()
	require.NotNil(t, info.NBDIndex)
	assert.Equal(t, uint32(3), *info.NBDIndex)

	require.NoError(t, r.Remove(t.Context(), "proxy0"))
	assert.Equal(t, int32(1), mount.closed.Load())
}

func TestRegistry_MountFailureClosesDevice(t *testing.T) {
	t.Parallel()

	mount := &fakeMount{openErr: errors.New("no free slots")}
	r, devices := newTestRegistry(t, func(*Device) Mount { return mount })

	_, err := r.Create(t.Context(), "proxy0", []string{"/dev/loop0"})
	require.Error(t, err)

	require.Len(t, *devices, 1)
	assert.True(t, (*devices)[0].Closed())
	assert.Empty(t, r.List())
}

func TestRegistry_ListAndClose(t *testing.T) {
	t.Parallel()

	r, devices := newTestRegistry(t, nil)

	for _, name := range []string{"c", "a", "b"} {
		_, err := r.Create(t.Context(), name, []string{"/dev/" + name})
		require.NoError(t, err)
	}

	names := make([]string, 0, 3)
	for _, target := range r.List() {
		names = append(names, target.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	require.NoError(t, r.Close(t.Context()))
	assert.Empty(t, r.List())

	for _, dev := range *devices {
		assert.True(t, dev.Closed())
	}
}
