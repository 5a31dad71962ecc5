//go:build !linux

package fatfs

import (
	"fmt"
	"os"
)

func deviceGeometry(f *os.File) (uint64, int, error) {
	return 0, 0, fmt.Errorf("%w: raw device %s is only supported on linux", ErrInvalidOperation, f.Name())
}
