package fat

import (
	"math"
	"time"

	"github.com/rstms/fatfs"
)

// File is a regular file of a mounted FAT32 volume. Length and
// modification time changes reach the device on Flush.
type File struct {
	node
	closed bool
}

// ensure File implements fatfs.Entry
var _ fatfs.Entry = (*File)(nil)
var _ fatfs.Attributed = (*File)(nil)
var _ fatfs.Identity = (*File)(nil)

func (f *File) IsDirectory() bool {
	return false
}

func (f *File) open() error {
	if err := f.usable(); err != nil {
		return err
	}
	if f.closed {
		return Fatalf("%w: %s", fatfs.ErrClosed, f.entry.name)
	}
	return nil
}

func (f *File) List() ([]string, error) {
	return nil, Fatalf("%w: %s", fatfs.ErrNotDirectory, f.Name())
}

func (f *File) ListFiles() ([]fatfs.Entry, error) {
	return nil, Fatalf("%w: %s", fatfs.ErrNotDirectory, f.Name())
}

func (f *File) CreateDirectory(name string) (fatfs.Entry, error) {
	return nil, Fatalf("%w: %s", fatfs.ErrNotDirectory, f.Name())
}

func (f *File) CreateFile(name string) (fatfs.Entry, error) {
	return nil, Fatalf("%w: %s", fatfs.ErrNotDirectory, f.Name())
}

func (f *File) Length() (uint64, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if err := f.open(); err != nil {
		return 0, err
	}
	return uint64(f.entry.size), nil
}

func (f *File) chain() ([]uint32, error) {
	d := f.entry
	if d.chain == nil {
		chain, err := f.fs.fat.Chain(d.cluster)
		if err != nil {
			return nil, Fatal(err)
		}
		d.chain = chain
	}
	return d.chain, nil
}

func (f *File) setChain(chain []uint32) {
	d := f.entry
	d.chain = chain
	if len(chain) == 0 {
		d.cluster = 0
	} else {
		d.cluster = chain[0]
	}
}

func (f *File) touch(size uint64) {
	d := f.entry
	d.size = uint32(size)
	d.modified = time.Now()
	d.attr |= fatfs.AttrArchive
	d.dir.dirty = true
}

func checkSize(length uint64) error {
	if length > math.MaxUint32 {
		return Fatalf("%w: %d bytes exceeds the FAT32 file size limit", fatfs.ErrOutOfRange, length)
	}
	return nil
}

// SetLength truncates or extends the file. Extended bytes read as
// zero.
func (f *File) SetLength(length uint64) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	if err := f.open(); err != nil {
		return err
	}
	if err := checkSize(length); err != nil {
		return err
	}
	chain, err := f.chain()
	if err != nil {
		return Fatal(err)
	}
	old := uint64(f.entry.size)
	allocated := f.fs.io.capacity(chain)
	chain, err = f.fs.io.resize(chain, f.fs.io.clustersFor(length), length > old)
	if err != nil {
		return Fatal(err)
	}
	f.setChain(chain)
	if length > old && allocated > old {
		end := length
		if end > allocated {
			end = allocated
		}
		if err := f.fs.io.zero(chain, old, end-old); err != nil {
			return Fatal(err)
		}
	}
	f.touch(length)
	return nil
}

func (f *File) Read(offset uint64, dst []byte) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if err := f.open(); err != nil {
		return err
	}
	end := offset + uint64(len(dst))
	if end < offset || end > uint64(f.entry.size) {
		return Fatalf("%w: read %d bytes at %d from %d byte file", fatfs.ErrOutOfRange, len(dst), offset, f.entry.size)
	}
	if len(dst) == 0 {
		return nil
	}
	chain, err := f.chain()
	if err != nil {
		return Fatal(err)
	}
	return f.fs.io.readAt(chain, offset, dst)
}

// Write stores src at offset. Writing past the end fills the gap with
// zeros.
func (f *File) Write(offset uint64, src []byte) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	if err := f.open(); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	end := offset + uint64(len(src))
	if end < offset {
		return Fatalf("%w: offset %d", fatfs.ErrOutOfRange, offset)
	}
	if err := checkSize(end); err != nil {
		return err
	}
	chain, err := f.chain()
	if err != nil {
		return Fatal(err)
	}
	if need := f.fs.io.clustersFor(end); need > uint32(len(chain)) {
		chain, err = f.fs.io.resize(chain, need, false)
		if err != nil {
			return Fatal(err)
		}
		f.setChain(chain)
	}
	size := uint64(f.entry.size)
	if offset > size {
		if err := f.fs.io.zero(chain, size, offset-size); err != nil {
			return Fatal(err)
		}
	}
	if err := f.fs.io.writeAt(chain, offset, src); err != nil {
		return Fatal(err)
	}
	if end > size {
		size = end
	}
	f.touch(size)
	return nil
}

// Close marks this handle closed. Other handles of the same file are
// unaffected and nothing is flushed.
func (f *File) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.closed = true
	return nil
}
