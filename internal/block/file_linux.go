//go:build linux

package block

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BLKDISCARD from <linux/fs.h>.
const blkDiscard = 0x1277

func discard(f *os.File, blockDevice bool, off, length int64) error {
	if blockDevice {
		rng := [2]uint64{uint64(off), uint64(length)}

		_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), blkDiscard, uintptr(unsafe.Pointer(&rng[0])))
		if errno != 0 {
			return fmt.Errorf("failed to discard %d bytes at %d: %w", length, off, errno)
		}

		return nil
	}

	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)
	if err != nil {
		return fmt.Errorf("failed to punch hole of %d bytes at %d: %w", length, off, err)
	}

	return nil
}
