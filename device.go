package fatfs

import (
	"io"
	"os"

	"github.com/spf13/afero"
)

// DefaultBlockSize is the sector size assumed for image files.
const DefaultBlockSize = 512

// BlockDevice is a sector-addressable store. Offsets are in bytes and
// both the offset and the buffer length must be multiples of
// BlockSize. Calls block until the transfer completes or fails; a
// failure is reported as a *DeviceError.
type BlockDevice interface {
	Read(offset uint64, b []byte) error
	Write(offset uint64, b []byte) error
	BlockSize() int
	Size() uint64
}

// Syncer is implemented by devices that buffer writes.
type Syncer interface {
	Sync() error
}

// FileDisk is a BlockDevice backed by a disk image or a device node.
type FileDisk struct {
	f         afero.File
	size      uint64
	blockSize int
}

var _ BlockDevice = (*FileDisk)(nil)

// NewFileDisk wraps an open file. Regular files are sized by Stat;
// block device nodes are queried for their size and logical sector
// size.
func NewFileDisk(f afero.File) (*FileDisk, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, Fatal(&DeviceError{Op: "stat", Err: err})
	}
	disk := &FileDisk{
		f:         f,
		size:      uint64(info.Size()),
		blockSize: DefaultBlockSize,
	}
	if info.Mode()&os.ModeDevice != 0 {
		osFile, ok := f.(*os.File)
		if !ok {
			return nil, Fatalf("%w: device node %s has no descriptor", ErrInvalidOperation, f.Name())
		}
		disk.size, disk.blockSize, err = deviceGeometry(osFile)
		if err != nil {
			return nil, Fatal(err)
		}
	}
	return disk, nil
}

// OpenDevice opens an image file or a raw device node by path.
func OpenDevice(pathname string, readOnly bool) (*FileDisk, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(pathname, flag, 0)
	if err != nil {
		return nil, Fatal(&DeviceError{Op: "open", Err: err})
	}
	disk, err := NewFileDisk(f)
	if err != nil {
		f.Close()
		return nil, Fatal(err)
	}
	return disk, nil
}

func (d *FileDisk) BlockSize() int {
	return d.blockSize
}

func (d *FileDisk) Size() uint64 {
	return d.size
}

func (d *FileDisk) check(op string, offset uint64, length int) error {
	bs := uint64(d.blockSize)
	if offset%bs != 0 || uint64(length)%bs != 0 {
		return &DeviceError{Op: op, Offset: offset, Err: ErrUnaligned}
	}
	if offset+uint64(length) > d.size {
		return &DeviceError{Op: op, Offset: offset, Err: ErrOutOfRange}
	}
	return nil
}

func (d *FileDisk) Read(offset uint64, b []byte) error {
	if err := d.check("read", offset, len(b)); err != nil {
		return Fatal(err)
	}
	n, err := d.f.ReadAt(b, int64(offset))
	if n == len(b) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return Fatal(&DeviceError{Op: "read", Offset: offset, Err: err})
}

func (d *FileDisk) Write(offset uint64, b []byte) error {
	if err := d.check("write", offset, len(b)); err != nil {
		return Fatal(err)
	}
	n, err := d.f.WriteAt(b, int64(offset))
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return Fatal(&DeviceError{Op: "write", Offset: offset, Err: err})
	}
	return nil
}

func (d *FileDisk) Sync() error {
	if err := d.f.Sync(); err != nil {
		return Fatal(&DeviceError{Op: "sync", Err: err})
	}
	return nil
}

func (d *FileDisk) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	if err != nil {
		return Fatal(&DeviceError{Op: "close", Err: err})
	}
	return nil
}
