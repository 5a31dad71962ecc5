package fatfs

// Entry is a file or directory in a mounted tree. Every concrete
// filesystem implements it so that traversal and mutation code can be
// written once, without knowing the on-disk format.
//
// Operations that only make sense for one kind of entry fail with
// ErrIsDirectory or ErrNotDirectory when called on the other kind.
// Calls on an entry after it has been deleted fail with ErrDeleted.
type Entry interface {
	IsDirectory() bool

	Name() string
	// SetName renames the entry in place. Parent and content are
	// unchanged. Fails with ErrExist if a sibling already uses the name.
	SetName(name string) error

	// Parent returns the directory holding this entry, or nil for the
	// root. The reference does not keep the parent alive and must not
	// be relied on after the entry has been moved or deleted.
	Parent() Entry

	// List returns the child names of a directory in on-disk order.
	List() ([]string, error)
	// ListFiles returns the children of a directory in on-disk order.
	// Each call returns new Entry values.
	ListFiles() ([]Entry, error)

	// Length returns the byte length of a file.
	Length() (uint64, error)
	// SetLength grows or shrinks a file. Grown bytes read as zero.
	// Fails with ErrNoSpace when the volume cannot back the new length.
	SetLength(length uint64) error

	// Read fills dst from offset. Reading past the current length
	// fails with ErrOutOfRange.
	Read(offset uint64, dst []byte) error
	// Write stores src at offset, extending the length to the end of
	// the written range when it lies past the current length.
	Write(offset uint64, src []byte) error

	// Flush forces buffered changes made through this entry, and the
	// shared volume metadata they touched, to the device.
	Flush() error
	// Close releases per-entry resources. It may be called more than
	// once and does not imply Flush. Content operations on a closed
	// handle fail with ErrClosed.
	Close() error

	CreateDirectory(name string) (Entry, error)
	CreateFile(name string) (Entry, error)

	// MoveTo makes this entry a child of destination, which must be a
	// directory of the same volume.
	MoveTo(destination Entry) error

	// Delete removes the entry, and for a directory its whole subtree,
	// releasing the backing storage.
	Delete() error
}
