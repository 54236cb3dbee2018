package block

import (
	"errors"
	"fmt"
	"io"
	"os"
)

type Mode uint8

const (
	ReadWrite Mode = iota
	ReadOnly
)

func (m Mode) String() string {
	if m == ReadOnly {
		return "r"
	}

	return "rw"
}

// File is a backing device opened by path: either a regular file or a block
// device node.
type File struct {
	f    *os.File
	path string
	size int64
	mode Mode

	blockDevice bool
}

var (
	_ Device    = (*File)(nil)
	_ Discarder = (*File)(nil)
	_ Syncer    = (*File)(nil)
)

func Open(path string, mode Mode) (*File, error) {
	flag := os.O_RDWR
	if mode == ReadOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		err = errors.Join(err, f.Close())

		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	blockDevice := info.Mode()&os.ModeDevice != 0 && info.Mode()&os.ModeCharDevice == 0
	if !info.Mode().IsRegular() && !blockDevice {
		err = errors.Join(fmt.Errorf("%s is neither a regular file nor a block device", path), f.Close())

		return nil, err
	}

	// Seeking to the end works for block device nodes too, where Stat reports 0.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		err = errors.Join(err, f.Close())

		return nil, fmt.Errorf("failed to get device size: %w", err)
	}

	return &File{
		f:           f,
		path:        path,
		size:        size,
		mode:        mode,
		blockDevice: blockDevice,
	}, nil
}

func (d *File) Path() string {
	return d.path
}

func (d *File) Mode() Mode {
	return d.mode
}

func (d *File) ReadAt(p []byte, off int64) (int, error) {
	return d.f.ReadAt(p, off)
}

func (d *File) WriteAt(p []byte, off int64) (int, error) {
	if d.mode == ReadOnly {
		return 0, ErrReadOnly
	}

	return d.f.WriteAt(p, off)
}

func (d *File) Discard(off, length int64) error {
	if d.mode == ReadOnly {
		return ErrReadOnly
	}

	if length == 0 {
		return nil
	}

	return discard(d.f, d.blockDevice, off, length)
}

func (d *File) Sync() error {
	return d.f.Sync()
}

func (d *File) Size() (int64, error) {
	return d.size, nil
}

func (d *File) Close() error {
	err := d.f.Close()
	if err != nil {
		return fmt.Errorf("error closing file: %w", err)
	}

	return nil
}
