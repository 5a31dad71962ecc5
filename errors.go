package fatfs

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrInvalidStructure reports on-disk metadata that failed
	// validation: a bad signature, impossible geometry or a broken
	// cluster chain. It indicates format damage, not a transient fault.
	ErrInvalidStructure = errors.New("invalid structure")

	ErrNotDirectory     = errors.New("not a directory")
	ErrIsDirectory      = errors.New("is a directory")
	ErrExist            = fs.ErrExist
	ErrNotExist         = fs.ErrNotExist
	ErrNoSpace          = errors.New("no space left on device")
	ErrReadOnly         = errors.New("read-only filesystem")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrCrossDevice      = errors.New("cross-device move")
	ErrDeleted          = errors.New("entry has been deleted")
	ErrClosed           = fs.ErrClosed
	ErrOutOfRange       = errors.New("offset out of range")
	ErrUnaligned        = errors.New("transfer not aligned to device block size")
)

// DeviceError reports a failed block device transfer.
type DeviceError struct {
	Op     string
	Offset uint64
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err originated in a block device
// transfer.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// IsInvalidStructure reports whether err was caused by on-disk
// metadata that failed validation.
func IsInvalidStructure(err error) bool {
	return errors.Is(err, ErrInvalidStructure)
}
