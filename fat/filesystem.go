package fat

import (
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rstms/fatfs"
)

// FileSystem is a mounted FAT32 volume. Every exported operation of the
// volume and of its entries is serialized by one mutex.
type FileSystem struct {
	mu       sync.Mutex
	device   fatfs.BlockDevice
	bs       *BootSector
	info     *FsInfo
	fat      *FAT
	io       *clusterIO
	root     *dirTable
	tables   map[uint32]*dirTable
	readOnly bool
	clean    bool
	closed   bool
}

// ensure FileSystem implements fatfs.FileSystem
var _ fatfs.FileSystem = (*FileSystem)(nil)

// New mounts device read-write with default options.
func New(device fatfs.BlockDevice) (*FileSystem, error) {
	return Mount(device, MountOptions{})
}

// Mount reads the boot sector, FS information sector and root
// directory of device. A damaged FS information sector does not fail
// the mount: free space is then tracked in memory only and the sector
// is never written.
func Mount(device fatfs.BlockDevice, opts MountOptions) (*FileSystem, error) {
	bs, err := DecodeBootSector(device)
	if err != nil {
		return nil, Fatal(err)
	}
	if block := uint16(device.BlockSize()); block == 0 || block > bs.BytesPerSector || bs.BytesPerSector%block != 0 {
		return nil, Fatalf("%w: %d byte sectors on a %d byte block device", fatfs.ErrInvalidStructure, bs.BytesPerSector, device.BlockSize())
	}
	if need := uint64(bs.TotalSectors()) * uint64(bs.BytesPerSector); need > device.Size() {
		return nil, Fatalf("%w: volume of %d bytes on a %d byte device", fatfs.ErrInvalidStructure, need, device.Size())
	}

	var info *FsInfo
	if bs.HasFsInfo() {
		info, err = ReadFsInfo(device, bs.FsInfoOffset())
		if err != nil {
			if !fatfs.IsInvalidStructure(err) {
				return nil, Fatal(err)
			}
			log.Warnf("ignoring fs info sector: %v", err)
			info = nil
		}
	}

	fs := &FileSystem{
		device:   device,
		bs:       bs,
		info:     info,
		fat:      DecodeFAT(device, bs, info),
		tables:   make(map[uint32]*dirTable),
		readOnly: opts.ReadOnly,
	}
	fs.io = &clusterIO{device: device, bs: bs, fat: fs.fat}

	fs.clean, err = fs.fat.Clean()
	if err != nil {
		return nil, Fatal(err)
	}
	if info != nil {
		rescan := false
		switch opts.FreeCount {
		case TrustFreeCount:
		case RescanUnknown:
			rescan = !info.FreeCountKnown()
		case RescanUnclean:
			rescan = !info.FreeCountKnown() || !fs.clean
		case AlwaysRescan:
			rescan = true
		default:
			return nil, Fatalf("%w: free count policy %d", fatfs.ErrInvalidOperation, opts.FreeCount)
		}
		if rescan {
			if _, err := fs.rescan(); err != nil {
				return nil, Fatal(err)
			}
		}
	}

	fs.root, err = fs.loadTable(nil, bs.RootCluster)
	if err != nil {
		return nil, Fatal(err)
	}
	if !fs.readOnly {
		if err := fs.fat.SetClean(false); err != nil {
			return nil, Fatal(err)
		}
	}
	log.Debugf("mounted %s: %d clusters of %d bytes, clean=%v, policy=%s",
		bs.FATType(), bs.ClusterCount(), bs.BytesPerCluster(), fs.clean, opts.FreeCount)
	return fs, nil
}

func (fs *FileSystem) RootDir() (fatfs.Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil, Fatal(fatfs.ErrClosed)
	}
	return &Directory{node{fs: fs}}, nil
}

// Root returns the root directory.
func (fs *FileSystem) Root() *Directory {
	return &Directory{node{fs: fs}}
}

func (fs *FileSystem) rescan() (uint32, error) {
	count, err := fs.fat.CountFree()
	if err != nil {
		return 0, Fatal(err)
	}
	if fs.info != nil {
		fs.info.SetFreeClusterCount(count)
	}
	return count, nil
}

// Rescan recounts free clusters and stores the result in the FS
// information sector cache. It is persisted by the next Flush.
func (fs *FileSystem) Rescan() (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return 0, Fatal(fatfs.ErrClosed)
	}
	return fs.rescan()
}

func (fs *FileSystem) freeClusters() (uint32, error) {
	if fs.info != nil && fs.info.FreeCountKnown() {
		return fs.info.FreeClusterCount(), nil
	}
	return fs.rescan()
}

// FreeSpace returns the free bytes. An unknown free count is
// recounted first.
func (fs *FileSystem) FreeSpace() (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return 0, Fatal(fatfs.ErrClosed)
	}
	free, err := fs.freeClusters()
	if err != nil {
		return 0, Fatal(err)
	}
	return uint64(free) * uint64(fs.bs.BytesPerCluster()), nil
}

func (fs *FileSystem) Capacity() uint64 {
	return uint64(fs.bs.ClusterCount()) * uint64(fs.bs.BytesPerCluster())
}

func (fs *FileSystem) FATType() FATType {
	return fs.bs.FATType()
}

func (fs *FileSystem) OEMName() string {
	return fs.bs.OEMName
}

// FsInfo returns the FS information sector cache, or nil when the
// volume has none or it was invalid at mount.
func (fs *FileSystem) FsInfo() *FsInfo {
	return fs.info
}

func (fs *FileSystem) BootSector() *BootSector {
	return fs.bs
}

// WasClean reports whether the volume had been cleanly unmounted
// before this mount.
func (fs *FileSystem) WasClean() bool {
	return fs.clean
}

func labelString(b []byte) string {
	r := make([]rune, 0, len(b))
	for _, c := range b {
		r = append(r, rune(c))
	}
	return strings.TrimRight(string(r), " \x00")
}

func (fs *FileSystem) volumeLabel() string {
	if vol := fs.root.special(kindVolume); vol != nil {
		return labelString(vol.short[:])
	}
	if fs.bs.VolumeLabel == noVolumeLabel {
		return ""
	}
	return fs.bs.VolumeLabel
}

// VolumeLabel returns the label from the root directory, falling back
// to the boot sector.
func (fs *FileSystem) VolumeLabel() (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return "", Fatal(fatfs.ErrClosed)
	}
	return fs.volumeLabel(), nil
}

// setLabel stores label in the root directory volume entry and in the
// boot sector and its backup. An empty label removes it.
func (fs *FileSystem) setLabel(label string) error {
	label = strings.ToUpper(strings.TrimRight(label, " "))
	if len(label) > 11 {
		return Fatalf("%w: volume label %q longer than 11 characters", fatfs.ErrInvalidName, label)
	}
	for i := 0; i < len(label); i++ {
		if label[i] != ' ' && !validShortNameCharacters.Contains(label[i]) {
			return Fatalf("%w: volume label %q", fatfs.ErrInvalidName, label)
		}
	}
	root := fs.root
	vol := root.special(kindVolume)
	index := -1
	var old dirent
	switch {
	case vol != nil && label == "":
		index = root.remove(vol)
	case vol != nil:
		old = *vol
		copy(vol.short[:], padded(label, 11))
		vol.modified = time.Now()
	case label != "":
		now := time.Now()
		vol = &dirent{kind: kindVolume, attr: fatfs.AttrVolumeId, created: now, modified: now, accessed: now}
		copy(vol.short[:], padded(label, 11))
		root.insert(0, vol)
	}
	if vol != nil {
		if err := root.write(); err != nil {
			switch {
			case index >= 0:
				root.insert(index, vol)
			case old.kind == kindVolume:
				*vol = old
			default:
				root.remove(vol)
			}
			return Fatal(err)
		}
	}

	sectors := []uint16{0}
	if fs.bs.BackupBootSector != 0 && fs.bs.BackupBootSector < fs.bs.ReservedSectors {
		sectors = append(sectors, fs.bs.BackupBootSector)
	}
	stored := label
	if stored == "" {
		stored = noVolumeLabel
	}
	buffer := make([]byte, fs.bs.BytesPerSector)
	for _, sector := range sectors {
		offset := uint64(sector) * uint64(fs.bs.BytesPerSector)
		if err := fs.device.Read(offset, buffer); err != nil {
			return Fatal(err)
		}
		if buffer[66] == bootSignature {
			copy(buffer[71:82], padded(stored, 11))
			if err := fs.device.Write(offset, buffer); err != nil {
				return Fatal(err)
			}
		}
	}
	fs.bs.VolumeLabel = stored
	log.Debugf("volume label set to %q", label)
	return nil
}

// Info describes the volume geometry and free space accounting.
func (fs *FileSystem) Info() (map[string]any, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil, Fatal(fatfs.ErrClosed)
	}
	bs := fs.bs
	info := map[string]any{
		"type":                bs.FATType().String(),
		"oem_name":            bs.OEMName,
		"label":               fs.volumeLabel(),
		"volume_id":           bs.VolumeID,
		"bytes_per_sector":    bs.BytesPerSector,
		"sectors_per_cluster": bs.SectorsPerCluster,
		"cluster_size":        bs.BytesPerCluster(),
		"clusters":            bs.ClusterCount(),
		"fats":                bs.NumFATs,
		"fat_mirrored":        bs.FatMirrored(),
		"active_fat":          bs.ValidFat(),
		"root_cluster":        bs.RootCluster,
		"capacity":            fs.Capacity(),
		"clean":               fs.clean,
		"read_only":           fs.readOnly,
		"fs_info":             fs.info != nil,
	}
	if fs.info != nil {
		info["fs_info_sector"] = bs.FSInfoSector
		info["free_count_known"] = fs.info.FreeCountKnown()
		info["free_clusters"] = fs.info.FreeClusterCount()
		info["next_free_hint"] = fs.info.LastAllocatedClusterHint()
	}
	return info, nil
}

// flush writes dirty directories, the FS information sector and syncs
// the device.
func (fs *FileSystem) flush() error {
	if fs.readOnly {
		return nil
	}
	clusters := make([]uint32, 0, len(fs.tables))
	for cluster, table := range fs.tables {
		if table.dirty {
			clusters = append(clusters, cluster)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i] < clusters[j] })
	for _, cluster := range clusters {
		if err := fs.tables[cluster].write(); err != nil {
			return Fatal(err)
		}
	}
	if fs.info != nil {
		if err := fs.info.Write(); err != nil {
			return Fatal(err)
		}
	}
	if syncer, ok := fs.device.(fatfs.Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return Fatal(err)
		}
	}
	return nil
}

// Flush persists every pending change of the volume.
func (fs *FileSystem) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return Fatal(fatfs.ErrClosed)
	}
	return fs.flush()
}

// Close flushes and marks the volume clean. The device stays open.
// Entries of a closed volume fail with ErrClosed.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	if !fs.readOnly {
		if err := fs.flush(); err != nil {
			return Fatal(err)
		}
		if err := fs.fat.SetClean(true); err != nil {
			return Fatal(err)
		}
		if syncer, ok := fs.device.(fatfs.Syncer); ok {
			if err := syncer.Sync(); err != nil {
				return Fatal(err)
			}
		}
	}
	fs.closed = true
	return nil
}

// deleteEntry unlinks d from its directory, then releases its storage
// and that of its subtree.
func (fs *FileSystem) deleteEntry(d *dirent) error {
	table := d.dir
	index := table.remove(d)
	if err := table.write(); err != nil {
		table.insert(index, d)
		return Fatal(err)
	}
	return fs.release(d)
}

func (fs *FileSystem) release(d *dirent) error {
	var chain []uint32
	if d.isDir() {
		sub, err := fs.tableOf(d)
		if err != nil {
			return Fatal(err)
		}
		for _, c := range sub.children() {
			if err := fs.release(c); err != nil {
				return Fatal(err)
			}
		}
		chain = sub.chain
		delete(fs.tables, d.cluster)
	} else {
		var err error
		chain = d.chain
		if chain == nil {
			chain, err = fs.fat.Chain(d.cluster)
			if err != nil {
				return Fatal(err)
			}
		}
	}
	d.deleted = true
	d.chain = nil
	if _, err := fs.fat.Free(chain, uint32(len(chain))); err != nil {
		return Fatal(err)
	}
	return nil
}
