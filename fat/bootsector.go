package fat

import (
	"encoding/binary"
	"strings"

	"github.com/rstms/fatfs"
)

// FATType identifies the FAT variant of a volume.
type FATType uint8

const (
	FAT12 FATType = 12
	FAT16 FATType = 16
	FAT32 FATType = 32
)

func (t FATType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	}
	return "unknown"
}

const (
	bootSectorSize     = 512
	bootSignature      = 0x29
	extFlagsNotMirror  = 0x80
	extFlagsActiveMask = 0x0f
	fsTypeFAT32        = "FAT32   "
	noVolumeLabel      = "NO NAME"
)

// BootSector is the decoded FAT32 BIOS parameter block.
type BootSector struct {
	OEMName           string
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	SectorsPerFAT     uint32
	ExtFlags          uint16
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
	DriveNumber       uint8
	VolumeID          uint32
	VolumeLabel       string
	FSType            string
}

// DecodeBootSector reads and parses sector zero of device.
func DecodeBootSector(device fatfs.BlockDevice) (*BootSector, error) {
	size := device.BlockSize()
	if size < bootSectorSize {
		size = bootSectorSize
	}
	data := make([]byte, size)
	if err := device.Read(0, data); err != nil {
		return nil, Fatal(err)
	}
	return ParseBootSector(data[:bootSectorSize])
}

// ParseBootSector decodes and validates a 512 byte boot sector.
func ParseBootSector(data []byte) (*BootSector, error) {
	if len(data) < bootSectorSize {
		return nil, Fatalf("%w: boot sector is %d bytes", fatfs.ErrInvalidStructure, len(data))
	}
	if data[510] != 0x55 || data[511] != 0xaa {
		return nil, Fatalf("%w: missing boot sector signature", fatfs.ErrInvalidStructure)
	}
	le := binary.LittleEndian
	bs := &BootSector{
		OEMName:           strings.TrimRight(string(data[3:11]), " \x00"),
		BytesPerSector:    le.Uint16(data[11:13]),
		SectorsPerCluster: data[13],
		ReservedSectors:   le.Uint16(data[14:16]),
		NumFATs:           data[16],
		RootEntryCount:    le.Uint16(data[17:19]),
		TotalSectors16:    le.Uint16(data[19:21]),
		Media:             data[21],
		SectorsPerFAT16:   le.Uint16(data[22:24]),
		SectorsPerTrack:   le.Uint16(data[24:26]),
		NumHeads:          le.Uint16(data[26:28]),
		HiddenSectors:     le.Uint32(data[28:32]),
		TotalSectors32:    le.Uint32(data[32:36]),
		SectorsPerFAT:     le.Uint32(data[36:40]),
		ExtFlags:          le.Uint16(data[40:42]),
		RootCluster:       le.Uint32(data[44:48]),
		FSInfoSector:      le.Uint16(data[48:50]),
		BackupBootSector:  le.Uint16(data[50:52]),
		DriveNumber:       data[64],
	}
	if data[66] == bootSignature {
		bs.VolumeID = le.Uint32(data[67:71])
		bs.VolumeLabel = strings.TrimRight(string(data[71:82]), " \x00")
		bs.FSType = string(data[82:90])
	}
	if err := bs.validate(); err != nil {
		return nil, Fatal(err)
	}
	return bs, nil
}

func (bs *BootSector) validate() error {
	switch bs.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return Fatalf("%w: %d bytes per sector", fatfs.ErrInvalidStructure, bs.BytesPerSector)
	}
	spc := bs.SectorsPerCluster
	if spc == 0 || spc&(spc-1) != 0 {
		return Fatalf("%w: %d sectors per cluster", fatfs.ErrInvalidStructure, spc)
	}
	if bs.NumFATs == 0 {
		return Fatalf("%w: no allocation tables", fatfs.ErrInvalidStructure)
	}
	if bs.ReservedSectors == 0 {
		return Fatalf("%w: no reserved sectors", fatfs.ErrInvalidStructure)
	}
	if bs.RootEntryCount != 0 || bs.SectorsPerFAT16 != 0 || bs.SectorsPerFAT == 0 {
		return Fatalf("%w: not a FAT32 volume", fatfs.ErrInvalidStructure)
	}
	if bs.TotalSectors() <= bs.DataStartSector() {
		return Fatalf("%w: no data area", fatfs.ErrInvalidStructure)
	}
	if bs.RootCluster < firstCluster || bs.RootCluster >= bs.ClusterCount()+firstCluster {
		return Fatalf("%w: root cluster %d out of range", fatfs.ErrInvalidStructure, bs.RootCluster)
	}
	if bs.ActiveFAT() >= uint32(bs.NumFATs) {
		return Fatalf("%w: active FAT %d of %d", fatfs.ErrInvalidStructure, bs.ActiveFAT(), bs.NumFATs)
	}
	return nil
}

// Bytes encodes the boot sector as a 512 byte sector.
func (bs *BootSector) Bytes() []byte {
	data := make([]byte, bootSectorSize)
	le := binary.LittleEndian
	copy(data[0:3], []byte{0xeb, 0x58, 0x90})
	copy(data[3:11], padded(bs.OEMName, 8))
	le.PutUint16(data[11:13], bs.BytesPerSector)
	data[13] = bs.SectorsPerCluster
	le.PutUint16(data[14:16], bs.ReservedSectors)
	data[16] = bs.NumFATs
	le.PutUint16(data[17:19], bs.RootEntryCount)
	le.PutUint16(data[19:21], bs.TotalSectors16)
	data[21] = bs.Media
	le.PutUint16(data[22:24], bs.SectorsPerFAT16)
	le.PutUint16(data[24:26], bs.SectorsPerTrack)
	le.PutUint16(data[26:28], bs.NumHeads)
	le.PutUint32(data[28:32], bs.HiddenSectors)
	le.PutUint32(data[32:36], bs.TotalSectors32)
	le.PutUint32(data[36:40], bs.SectorsPerFAT)
	le.PutUint16(data[40:42], bs.ExtFlags)
	le.PutUint32(data[44:48], bs.RootCluster)
	le.PutUint16(data[48:50], bs.FSInfoSector)
	le.PutUint16(data[50:52], bs.BackupBootSector)
	data[64] = bs.DriveNumber
	data[66] = bootSignature
	le.PutUint32(data[67:71], bs.VolumeID)
	label := bs.VolumeLabel
	if label == "" {
		label = noVolumeLabel
	}
	copy(data[71:82], padded(label, 11))
	copy(data[82:90], padded(fsTypeFAT32, 8))
	data[510] = 0x55
	data[511] = 0xaa
	return data
}

func padded(s string, n int) []byte {
	b := []byte(strings.Repeat(" ", n))
	copy(b, s)
	return b
}

func (bs *BootSector) FATType() FATType {
	return FAT32
}

func (bs *BootSector) TotalSectors() uint32 {
	if bs.TotalSectors16 != 0 {
		return uint32(bs.TotalSectors16)
	}
	return bs.TotalSectors32
}

func (bs *BootSector) BytesPerCluster() uint32 {
	return uint32(bs.BytesPerSector) * uint32(bs.SectorsPerCluster)
}

// FatOffset returns the byte offset of allocation table copy n.
func (bs *BootSector) FatOffset(n int) uint64 {
	sector := uint64(bs.ReservedSectors) + uint64(n)*uint64(bs.SectorsPerFAT)
	return sector * uint64(bs.BytesPerSector)
}

func (bs *BootSector) DataStartSector() uint32 {
	return uint32(bs.ReservedSectors) + uint32(bs.NumFATs)*bs.SectorsPerFAT
}

// DataAreaOffset returns the byte offset of cluster 2.
func (bs *BootSector) DataAreaOffset() uint64 {
	return uint64(bs.DataStartSector()) * uint64(bs.BytesPerSector)
}

// ClusterOffset returns the byte offset of a data cluster.
func (bs *BootSector) ClusterOffset(cluster uint32) uint64 {
	return bs.DataAreaOffset() + uint64(cluster-firstCluster)*uint64(bs.BytesPerCluster())
}

// ClusterCount is the number of data clusters, which is also bounded by
// the number of entries the allocation table can hold.
func (bs *BootSector) ClusterCount() uint32 {
	count := (bs.TotalSectors() - bs.DataStartSector()) / uint32(bs.SectorsPerCluster)
	entries := uint64(bs.SectorsPerFAT)*uint64(bs.BytesPerSector)/4 - uint64(firstCluster)
	if entries < uint64(count) {
		count = uint32(entries)
	}
	return count
}

// FatMirrored reports whether writes go to every allocation table copy.
func (bs *BootSector) FatMirrored() bool {
	return bs.ExtFlags&extFlagsNotMirror == 0
}

// ActiveFAT is the table copy in use when mirroring is disabled.
func (bs *BootSector) ActiveFAT() uint32 {
	return uint32(bs.ExtFlags & extFlagsActiveMask)
}

// ValidFat returns the index of the allocation table to read from.
func (bs *BootSector) ValidFat() int {
	if bs.FatMirrored() {
		return 0
	}
	return int(bs.ActiveFAT())
}

// FsInfoOffset returns the byte offset of the FS information sector.
func (bs *BootSector) FsInfoOffset() uint64 {
	return uint64(bs.FSInfoSector) * uint64(bs.BytesPerSector)
}

func (bs *BootSector) HasFsInfo() bool {
	return bs.FSInfoSector != 0 && bs.FSInfoSector != 0xffff && bs.FSInfoSector < bs.ReservedSectors
}
