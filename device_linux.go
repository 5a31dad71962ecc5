//go:build linux

package fatfs

import (
	"os"

	"golang.org/x/sys/unix"
)

func deviceGeometry(f *os.File) (uint64, int, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, 0, &DeviceError{Op: "ioctl BLKGETSIZE64", Err: err}
	}
	blockSize, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, 0, &DeviceError{Op: "ioctl BLKSSZGET", Err: err}
	}
	return uint64(size), blockSize, nil
}
