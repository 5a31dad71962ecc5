package fatfs

import (
	"io"
)

// Reader adapts a file Entry to the standard io interfaces.
type Reader struct {
	entry  Entry
	offset int64
}

var (
	_ io.ReadSeeker = (*Reader)(nil)
	_ io.ReaderAt   = (*Reader)(nil)
)

func NewReader(e Entry) *Reader {
	return &Reader{entry: e}
}

func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, Fatalf("%w: negative offset %d", ErrOutOfRange, off)
	}
	length, err := r.entry.Length()
	if err != nil {
		return 0, Fatal(err)
	}
	if uint64(off) >= length {
		return 0, io.EOF
	}
	n := len(p)
	if remain := length - uint64(off); uint64(n) > remain {
		n = int(remain)
	}
	if err := r.entry.Read(uint64(off), p[:n]); err != nil {
		return 0, Fatal(err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.offset)
	r.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = r.offset
	case io.SeekEnd:
		length, err := r.entry.Length()
		if err != nil {
			return r.offset, Fatal(err)
		}
		base = int64(length)
	default:
		return r.offset, Fatalf("%w: whence %d", ErrInvalidOperation, whence)
	}
	if base+offset < 0 {
		return r.offset, Fatalf("%w: seek before start", ErrOutOfRange)
	}
	r.offset = base + offset
	return r.offset, nil
}

// Writer adapts a file Entry to io.Writer, appending from the offset
// it was created at.
type Writer struct {
	entry  Entry
	offset uint64
}

var (
	_ io.Writer   = (*Writer)(nil)
	_ io.WriterAt = (*Writer)(nil)
)

// NewWriter returns a Writer positioned at the end of e.
func NewWriter(e Entry) (*Writer, error) {
	length, err := e.Length()
	if err != nil {
		return nil, Fatal(err)
	}
	return &Writer{entry: e, offset: length}, nil
}

func (w *Writer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, Fatalf("%w: negative offset %d", ErrOutOfRange, off)
	}
	if err := w.entry.Write(uint64(off), p); err != nil {
		return 0, Fatal(err)
	}
	return len(p), nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.WriteAt(p, int64(w.offset))
	w.offset += uint64(n)
	return n, err
}
