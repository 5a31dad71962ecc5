package fatfs

// A FileSystem provides access to a tree hierarchy of directories
// and files on a mounted volume.
type FileSystem interface {
	// RootDir returns the single root directory.
	RootDir() (Entry, error)
	Info() (map[string]any, error)
	VolumeLabel() (string, error)

	// FreeSpace reports the bytes available for allocation. It may be
	// served from advisory metadata and is not a guarantee that a write
	// of that size will succeed.
	FreeSpace() (uint64, error)
	// Capacity reports the size of the data area in bytes.
	Capacity() uint64

	// Flush writes all buffered metadata to the device.
	Flush() error
	// Close flushes and releases the volume.
	Close() error
}
