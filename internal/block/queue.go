package block

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Queue is the submission path of a backing device. Every submitted request
// runs on its own goroutine and is completed through Request.End; Submit
// itself never waits. When maxInflight requests are already running the new
// one is ended with ErrAgain.
type Queue struct {
	dev  Device
	size int64

	maxInflight int64
	inflight    *semaphore.Weighted
	closed      atomic.Bool
}

var _ Submitter = (*Queue)(nil)

func NewQueue(dev Device, maxInflight int64) (*Queue, error) {
	if maxInflight <= 0 {
		return nil, fmt.Errorf("max inflight must be positive, got %d", maxInflight)
	}

	size, err := dev.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to get device size: %w", err)
	}

	return &Queue{
		dev:         dev,
		size:        size,
		maxInflight: maxInflight,
		inflight:    semaphore.NewWeighted(maxInflight),
	}, nil
}

func (q *Queue) Device() Device {
	return q.dev
}

func (q *Queue) Size() int64 {
	return q.size
}

func (q *Queue) Submit(req *Request) {
	if !q.inflight.TryAcquire(1) {
		if q.closed.Load() {
			req.End(ErrClosed)
		} else {
			req.End(ErrAgain)
		}

		return
	}

	if q.closed.Load() {
		q.inflight.Release(1)
		req.End(ErrClosed)

		return
	}

	go func() {
		defer q.inflight.Release(1)

		req.End(q.do(req))
	}()
}

func (q *Queue) do(req *Request) error {
	if req.Offset < 0 || req.Offset+int64(req.Length) > q.size {
		return ErrOutOfRange
	}

	switch req.Op {
	case OpRead:
		if uint32(len(req.Data)) < req.Length {
			req.Data = make([]byte, req.Length)
		}

		n, err := q.dev.ReadAt(req.Data[:req.Length], req.Offset)
		if err != nil && !(errors.Is(err, io.EOF) && n == int(req.Length)) {
			return fmt.Errorf("failed to read %d bytes at %d: %w", req.Length, req.Offset, err)
		}

		return nil
	case OpWrite:
		if uint32(len(req.Data)) < req.Length {
			return fmt.Errorf("write payload of %d bytes is shorter than length %d", len(req.Data), req.Length)
		}

		_, err := q.dev.WriteAt(req.Data[:req.Length], req.Offset)
		if err != nil {
			return fmt.Errorf("failed to write %d bytes at %d: %w", req.Length, req.Offset, err)
		}

		if req.Flags&FlagFUA != 0 {
			if s, ok := q.dev.(Syncer); ok {
				err = s.Sync()
				if err != nil {
					return fmt.Errorf("failed to sync: %w", err)
				}
			}
		}

		return nil
	case OpDiscard:
		d, ok := q.dev.(Discarder)
		if !ok {
			return ErrNotSupported
		}

		return d.Discard(req.Offset, int64(req.Length))
	}

	return ErrNotSupported
}

// Close waits for running requests to finish and closes the device.
// Requests submitted afterwards end with ErrClosed.
func (q *Queue) Close(ctx context.Context) error {
	if !q.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	err := q.inflight.Acquire(ctx, q.maxInflight)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to wait for inflight requests: %w", err), q.dev.Close())
	}

	return q.dev.Close()
}
