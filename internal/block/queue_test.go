package block

import (
	"bytes"
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(op Op, off int64, length uint32) (*Request, <-chan error) {
	done := make(chan error, 1)

	req := NewRequest(1, op, off, length, func(_ *Request, err error) {
		done <- err
	})

	return req, done
}

func waitEnd(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("request was not completed")
	}

	return nil
}

func newTestQueue(t *testing.T, data []byte, maxInflight int64) (*Queue, *MockDevice) {
	t.Helper()

	dev := NewMockDevice(data)
	q, err := NewQueue(dev, maxInflight)
	require.NoError(t, err)

	return q, dev
}

func TestQueue_Read(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xab}, 8192)
	q, _ := newTestQueue(t, data, 4)

	req, done := newTestRequest(OpRead, 4096, 4096)
	q.Submit(req)

	require.NoError(t, waitEnd(t, done))
	assert.Equal(t, data[4096:], req.Data)
}

func TestQueue_Write(t *testing.T) {
	t.Parallel()

	q, dev := newTestQueue(t, make([]byte, 8192), 4)

	payload := bytes.Repeat([]byte{0x11}, 512)
	req, done := newTestRequest(OpWrite, 1024, uint32(len(payload)))
	req.Data = payload
	req.Flags |= FlagFUA
	q.Submit(req)

	require.NoError(t, waitEnd(t, done))

	got := make([]byte, 512)
	_, err := dev.ReadAt(got, 1024)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 1, dev.Syncs())
}

func TestQueue_ShortWritePayload(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, make([]byte, 8192), 4)

	req, done := newTestRequest(OpWrite, 0, 4096)
	req.Data = make([]byte, 10)
	q.Submit(req)

	require.Error(t, waitEnd(t, done))
}

func TestQueue_Discard(t *testing.T) {
	t.Parallel()

	q, dev := newTestQueue(t, bytes.Repeat([]byte{0xff}, 8192), 4)

	req, done := newTestRequest(OpDiscard, 0, 4096)
	q.Submit(req)

	require.NoError(t, waitEnd(t, done))
	assert.Equal(t, [][2]int64{{0, 4096}}, dev.Discarded())

	got := make([]byte, 4096)
	_, err := dev.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4096), got)
}

func TestQueue_OtherNotSupported(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, make([]byte, 4096), 4)

	req, done := newTestRequest(OpOther, 0, 0)
	q.Submit(req)

	require.ErrorIs(t, waitEnd(t, done), ErrNotSupported)
}

func TestQueue_OutOfRange(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, make([]byte, 4096), 4)

	req, done := newTestRequest(OpRead, 2048, 4096)
	q.Submit(req)

	err := waitEnd(t, done)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.ErrorIs(t, err, syscall.EIO)
}

func TestQueue_Backpressure(t *testing.T) {
	t.Parallel()

	q, dev := newTestQueue(t, make([]byte, 8192), 1)
	dev.Hold = make(chan struct{})

	first, firstDone := newTestRequest(OpRead, 0, 4096)
	q.Submit(first)

	second, secondDone := newTestRequest(OpRead, 4096, 4096)
	q.Submit(second)

	// The saturated queue ends the second request without waiting.
	select {
	case err := <-secondDone:
		require.ErrorIs(t, err, ErrAgain)
	default:
		t.Fatal("saturated queue did not end the request immediately")
	}

	close(dev.Hold)
	require.NoError(t, waitEnd(t, firstDone))

	third, thirdDone := newTestRequest(OpRead, 4096, 4096)
	q.Submit(third)
	require.NoError(t, waitEnd(t, thirdDone))
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()

	q, dev := newTestQueue(t, make([]byte, 8192), 2)
	dev.Hold = make(chan struct{})

	inflight, inflightDone := newTestRequest(OpWrite, 0, 4)
	inflight.Data = []byte{1, 2, 3, 4}
	q.Submit(inflight)

	closed := make(chan error, 1)
	go func() {
		closed <- q.Close(context.Background())
	}()

	// Close waits for the running write.
	select {
	case <-closed:
		t.Fatal("close returned before the inflight request finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(dev.Hold)
	require.NoError(t, waitEnd(t, inflightDone))
	require.NoError(t, <-closed)
	assert.True(t, dev.Closed())

	late, lateDone := newTestRequest(OpRead, 0, 4096)
	q.Submit(late)
	require.ErrorIs(t, waitEnd(t, lateDone), ErrClosed)

	require.ErrorIs(t, q.Close(context.Background()), ErrClosed)
}

func TestNewQueue_InvalidInflight(t *testing.T) {
	t.Parallel()

	_, err := NewQueue(NewMockDevice(nil), 0)
	require.Error(t, err)
}

func TestRequest_EndOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	req := NewRequest(7, OpRead, 0, 0, func(r *Request, _ error) {
		calls++
		assert.Equal(t, uint64(7), r.ID)
	})

	req.End(nil)
	req.End(ErrAgain)

	assert.Equal(t, 1, calls)
}

func TestOp_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "read", OpRead.String())
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "discard", OpDiscard.String())
	assert.Equal(t, "other", OpOther.String())
	assert.Equal(t, "other", Op(99).String())
}
