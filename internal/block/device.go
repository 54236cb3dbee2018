package block

import (
	"errors"
	"fmt"
	"io"
	"syscall"
)

var (
	// ErrRejected terminates a request the proxy refuses to forward. It wraps
	// EIO so the issuer cannot tell it apart from a failed I/O.
	ErrRejected = fmt.Errorf("request rejected: %w", syscall.EIO)

	// ErrAgain is returned when the backing queue is saturated.
	ErrAgain = fmt.Errorf("backing device busy: %w", syscall.EAGAIN)

	ErrNotSupported = fmt.Errorf("operation not supported: %w", syscall.EOPNOTSUPP)
	ErrOutOfRange   = fmt.Errorf("request beyond end of device: %w", syscall.EIO)
	ErrReadOnly     = fmt.Errorf("device is read-only: %w", syscall.EROFS)
	ErrClosed       = errors.New("device closed")
)

type Device interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Size() (int64, error)
}

// Discarder is implemented by devices that can release a byte range.
type Discarder interface {
	Discard(off, length int64) error
}

// Syncer is implemented by devices with a volatile write cache.
type Syncer interface {
	Sync() error
}
