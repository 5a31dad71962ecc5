package fat

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"github.com/rstms/fatfs"
)

// UnknownClusterCount is the free cluster count sentinel meaning the
// count must be recomputed by scanning the allocation table.
const UnknownClusterCount uint32 = 0xffffffff

const (
	fsInfoSize = 512

	leadSignatureOffset   = 0
	structSignatureOffset = 484
	freeCountOffset       = 488
	nextFreeOffset        = 492
	trailSignatureOffset  = 508

	leadSignature   uint32 = 0x41615252
	structSignature uint32 = 0x61417272
	trailSignature  uint32 = 0xaa550000
)

// FsInfo caches the FS information sector of a FAT32 volume: an
// advisory free cluster count and the last allocated cluster. Mutators
// only touch memory; Write persists the sector.
type FsInfo struct {
	device fatfs.BlockDevice
	offset uint64
	buffer []byte
}

func fsInfoBufferSize(device fatfs.BlockDevice) int {
	if bs := device.BlockSize(); bs > fsInfoSize {
		return bs
	}
	return fsInfoSize
}

// ReadFsInfo reads the sector at byte offset and validates its three
// signatures. No FsInfo is returned when any of them is wrong.
func ReadFsInfo(device fatfs.BlockDevice, offset uint64) (*FsInfo, error) {
	buffer := make([]byte, fsInfoBufferSize(device))
	if err := device.Read(offset, buffer); err != nil {
		return nil, Fatal(err)
	}
	le := binary.LittleEndian
	if le.Uint32(buffer[leadSignatureOffset:]) != leadSignature ||
		le.Uint32(buffer[structSignatureOffset:]) != structSignature ||
		le.Uint32(buffer[trailSignatureOffset:]) != trailSignature {
		return nil, Fatalf("%w: invalid fs info sector at offset %d", fatfs.ErrInvalidStructure, offset)
	}
	return &FsInfo{device: device, offset: offset, buffer: buffer}, nil
}

// NewFsInfo returns a valid FS information sector for offset with an
// unknown free count and hint. Nothing is written until Write.
func NewFsInfo(device fatfs.BlockDevice, offset uint64) *FsInfo {
	buffer := make([]byte, fsInfoBufferSize(device))
	le := binary.LittleEndian
	le.PutUint32(buffer[leadSignatureOffset:], leadSignature)
	le.PutUint32(buffer[structSignatureOffset:], structSignature)
	le.PutUint32(buffer[trailSignatureOffset:], trailSignature)
	le.PutUint32(buffer[freeCountOffset:], UnknownClusterCount)
	le.PutUint32(buffer[nextFreeOffset:], UnknownClusterCount)
	return &FsInfo{device: device, offset: offset, buffer: buffer}
}

func (fi *FsInfo) Offset() uint64 {
	return fi.offset
}

func (fi *FsInfo) FreeClusterCount() uint32 {
	return binary.LittleEndian.Uint32(fi.buffer[freeCountOffset:])
}

func (fi *FsInfo) SetFreeClusterCount(value uint32) {
	binary.LittleEndian.PutUint32(fi.buffer[freeCountOffset:], value)
}

// FreeCountKnown is false while the free count holds the sentinel.
func (fi *FsInfo) FreeCountKnown() bool {
	return fi.FreeClusterCount() != UnknownClusterCount
}

// LastAllocatedClusterHint is where the allocator starts looking for a
// free cluster. It is never proof that any cluster is free.
func (fi *FsInfo) LastAllocatedClusterHint() uint32 {
	return binary.LittleEndian.Uint32(fi.buffer[nextFreeOffset:])
}

func (fi *FsInfo) SetLastAllocatedClusterHint(value uint32) {
	binary.LittleEndian.PutUint32(fi.buffer[nextFreeOffset:], value)
}

// DecreaseClusterCount subtracts n from a known free count. An unknown
// count stays unknown; only a rescan establishes a known value again.
// A decrement below zero marks the count unknown.
func (fi *FsInfo) DecreaseClusterCount(n uint32) {
	count := fi.FreeClusterCount()
	if count == UnknownClusterCount {
		return
	}
	if n > count {
		log.Warnf("free cluster count %d cannot drop by %d, marking unknown", count, n)
		fi.SetFreeClusterCount(UnknownClusterCount)
		return
	}
	fi.SetFreeClusterCount(count - n)
}

// IncreaseClusterCount adds n released clusters to a known free count.
func (fi *FsInfo) IncreaseClusterCount(n uint32) {
	count := fi.FreeClusterCount()
	if count == UnknownClusterCount {
		return
	}
	if n >= UnknownClusterCount-count {
		log.Warnf("free cluster count %d cannot grow by %d, marking unknown", count, n)
		fi.SetFreeClusterCount(UnknownClusterCount)
		return
	}
	fi.SetFreeClusterCount(count + n)
}

// Write stores the whole sector at the offset it came from. Every call
// writes, changed or not.
func (fi *FsInfo) Write() error {
	log.Debugf("writing fs info sector at offset %d", fi.offset)
	if err := fi.device.Write(fi.offset, fi.buffer); err != nil {
		return Fatal(err)
	}
	return nil
}
