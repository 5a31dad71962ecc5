package fat

import (
	"encoding/binary"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rstms/fatfs"
)

const (
	defaultReservedSectors = 32
	defaultFATCount        = 2
	defaultOEMName         = "FATFS"
	fsInfoSector           = 1
	backupBootSector       = 6
	backupFsInfoSector     = 7
	mediaFixed             = 0xf8
	minClusters            = 16
	formatChunk            = 64 * 1024
)

// FormatConfig controls Format. Zero fields take defaults.
type FormatConfig struct {
	Label             string
	OEMName           string
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	VolumeID          uint32
}

// defaultSectorsPerCluster follows the Microsoft FAT32 table for 512
// byte sectors, scaled for larger sectors.
func defaultSectorsPerCluster(totalBytes uint64, bytesPerSector uint16) uint8 {
	var clusterBytes uint64
	switch {
	case totalBytes <= 260<<20:
		clusterBytes = 512
	case totalBytes <= 8<<30:
		clusterBytes = 4 << 10
	case totalBytes <= 16<<30:
		clusterBytes = 8 << 10
	case totalBytes <= 32<<30:
		clusterBytes = 16 << 10
	default:
		clusterBytes = 32 << 10
	}
	spc := clusterBytes / uint64(bytesPerSector)
	if spc == 0 {
		spc = 1
	}
	return uint8(spc)
}

// Format writes an empty FAT32 volume over the whole device: boot
// sector with backup, FS information sector with backup, the
// allocation tables and an empty root directory.
func Format(device fatfs.BlockDevice, config FormatConfig) error {
	bytesPerSector := uint16(fatfs.DefaultBlockSize)
	if block := device.BlockSize(); block > fatfs.DefaultBlockSize {
		bytesPerSector = uint16(block)
	}
	totalSectors64 := device.Size() / uint64(bytesPerSector)
	if totalSectors64 > 0xffffffff {
		totalSectors64 = 0xffffffff
	}
	totalSectors := uint32(totalSectors64)

	spc := config.SectorsPerCluster
	if spc == 0 {
		spc = defaultSectorsPerCluster(device.Size(), bytesPerSector)
	}
	reserved := config.ReservedSectors
	if reserved == 0 {
		reserved = defaultReservedSectors
	}
	fats := config.FATCount
	if fats == 0 {
		fats = defaultFATCount
	}
	if reserved <= backupFsInfoSector {
		return Fatalf("%w: %d reserved sectors", fatfs.ErrInvalidOperation, reserved)
	}
	if totalSectors <= uint32(reserved) {
		return Fatalf("%w: device of %d bytes is too small", fatfs.ErrNoSpace, device.Size())
	}

	// sectors per FAT, Microsoft's approximation for FAT32
	tmp1 := uint64(totalSectors) - uint64(reserved)
	tmp2 := (uint64(bytesPerSector)/2*uint64(spc) + uint64(fats)) / 2
	sectorsPerFAT := uint32((tmp1 + tmp2 - 1) / tmp2)

	oem := config.OEMName
	if oem == "" {
		oem = defaultOEMName
	}
	volumeID := config.VolumeID
	if volumeID == 0 {
		volumeID = uint32(time.Now().UnixNano())
	}
	bs := &BootSector{
		OEMName:           oem,
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: spc,
		ReservedSectors:   reserved,
		NumFATs:           fats,
		Media:             mediaFixed,
		SectorsPerTrack:   32,
		NumHeads:          64,
		TotalSectors32:    totalSectors,
		SectorsPerFAT:     sectorsPerFAT,
		RootCluster:       firstCluster,
		FSInfoSector:      fsInfoSector,
		BackupBootSector:  backupBootSector,
		DriveNumber:       0x80,
		VolumeID:          volumeID,
		VolumeLabel:       noVolumeLabel,
	}
	if uint64(totalSectors) <= uint64(bs.DataStartSector()) || bs.ClusterCount() < minClusters {
		return Fatalf("%w: device of %d bytes is too small", fatfs.ErrNoSpace, device.Size())
	}
	log.Debugf("formatting %d sectors: %d per cluster, %d per FAT, %d clusters",
		totalSectors, spc, sectorsPerFAT, bs.ClusterCount())

	// reserved area and tables
	if err := zeroDevice(device, 0, bs.DataAreaOffset()); err != nil {
		return Fatal(err)
	}
	// root directory cluster
	if err := zeroDevice(device, bs.ClusterOffset(firstCluster), uint64(bs.BytesPerCluster())); err != nil {
		return Fatal(err)
	}

	sector := make([]byte, bytesPerSector)
	copy(sector, bs.Bytes())
	for _, n := range []uint16{0, backupBootSector} {
		if err := device.Write(uint64(n)*uint64(bytesPerSector), sector); err != nil {
			return Fatal(err)
		}
	}

	table := make([]byte, bytesPerSector)
	binary.LittleEndian.PutUint32(table[0:], 0x0fffff00|mediaFixed)
	binary.LittleEndian.PutUint32(table[4:], endOfChain)
	binary.LittleEndian.PutUint32(table[8:], endOfChain)
	for n := 0; n < int(fats); n++ {
		if err := device.Write(bs.FatOffset(n), table); err != nil {
			return Fatal(err)
		}
	}

	for _, n := range []uint16{fsInfoSector, backupFsInfoSector} {
		info := NewFsInfo(device, uint64(n)*uint64(bytesPerSector))
		info.SetFreeClusterCount(bs.ClusterCount() - 1)
		info.SetLastAllocatedClusterHint(firstCluster)
		if err := info.Write(); err != nil {
			return Fatal(err)
		}
	}

	if config.Label == "" {
		return nil
	}
	fs, err := Mount(device, MountOptions{FreeCount: TrustFreeCount})
	if err != nil {
		return Fatal(err)
	}
	if err := fs.Root().SetName(config.Label); err != nil {
		return Fatal(err)
	}
	return fs.Close()
}

func zeroDevice(device fatfs.BlockDevice, offset, length uint64) error {
	chunk := make([]byte, formatChunk)
	for length > 0 {
		n := uint64(len(chunk))
		if n > length {
			n = length
		}
		if err := device.Write(offset, chunk[:n]); err != nil {
			return Fatal(err)
		}
		offset += n
		length -= n
	}
	return nil
}
