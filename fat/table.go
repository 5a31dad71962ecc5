package fat

import (
	"encoding/binary"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/rstms/fatfs"
)

const (
	firstCluster uint32 = 2

	entryMask        uint32 = 0x0fffffff
	reservedMask     uint32 = 0xf0000000
	freeCluster      uint32 = 0
	badCluster       uint32 = 0x0ffffff7
	minEndOfChain    uint32 = 0x0ffffff8
	endOfChain       uint32 = 0x0fffffff
	cleanShutdownBit uint32 = 0x08000000
)

// FAT is the file allocation table of a mounted volume. Sectors are
// loaded on first use and every change is written through to the
// device immediately, to every copy when the table is mirrored.
type FAT struct {
	device  fatfs.BlockDevice
	bs      *BootSector
	info    *FsInfo
	sectors map[uint32][]byte
}

// DecodeFAT returns the allocation table described by bs. info may be
// nil when the volume has no usable FS information sector.
func DecodeFAT(device fatfs.BlockDevice, bs *BootSector, info *FsInfo) *FAT {
	return &FAT{
		device:  device,
		bs:      bs,
		info:    info,
		sectors: make(map[uint32][]byte),
	}
}

func (f *FAT) sectorSize() uint32 {
	return uint32(f.bs.BytesPerSector)
}

func (f *FAT) sector(index uint32) ([]byte, error) {
	if data, ok := f.sectors[index]; ok {
		return data, nil
	}
	data := make([]byte, f.sectorSize())
	offset := f.bs.FatOffset(f.bs.ValidFat()) + uint64(index)*uint64(f.sectorSize())
	if err := f.device.Read(offset, data); err != nil {
		return nil, Fatal(err)
	}
	f.sectors[index] = data
	return data, nil
}

func (f *FAT) locate(cluster uint32) (uint32, uint32) {
	position := cluster * 4
	return position / f.sectorSize(), position % f.sectorSize()
}

func (f *FAT) raw(cluster uint32) (uint32, error) {
	index, offset := f.locate(cluster)
	data, err := f.sector(index)
	if err != nil {
		return 0, Fatal(err)
	}
	return binary.LittleEndian.Uint32(data[offset:]), nil
}

// Entry returns the 28 bit table entry for cluster.
func (f *FAT) Entry(cluster uint32) (uint32, error) {
	value, err := f.raw(cluster)
	if err != nil {
		return 0, Fatal(err)
	}
	return value & entryMask, nil
}

// setEntries applies updates and writes each touched sector once to
// every table copy in use. The upper four bits of an entry are kept.
func (f *FAT) setEntries(updates map[uint32]uint32) error {
	dirty := make(map[uint32]bool)
	for cluster, value := range updates {
		index, offset := f.locate(cluster)
		data, err := f.sector(index)
		if err != nil {
			return Fatal(err)
		}
		old := binary.LittleEndian.Uint32(data[offset:])
		binary.LittleEndian.PutUint32(data[offset:], old&reservedMask|value&entryMask)
		dirty[index] = true
	}
	indexes := make([]uint32, 0, len(dirty))
	for index := range dirty {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	copies := []int{f.bs.ValidFat()}
	if f.bs.FatMirrored() {
		copies = copies[:0]
		for n := 0; n < int(f.bs.NumFATs); n++ {
			copies = append(copies, n)
		}
	}
	for _, index := range indexes {
		for _, n := range copies {
			offset := f.bs.FatOffset(n) + uint64(index)*uint64(f.sectorSize())
			if err := f.device.Write(offset, f.sectors[index]); err != nil {
				return Fatal(err)
			}
		}
	}
	return nil
}

func (f *FAT) limit() uint32 {
	return f.bs.ClusterCount() + firstCluster
}

func (f *FAT) inRange(cluster uint32) bool {
	return cluster >= firstCluster && cluster < f.limit()
}

// Chain returns the clusters linked from start. A zero start is the
// empty chain.
func (f *FAT) Chain(start uint32) ([]uint32, error) {
	chain := []uint32{}
	if start == 0 {
		return chain, nil
	}
	max := int(f.bs.ClusterCount())
	for cluster := start; ; {
		if !f.inRange(cluster) {
			return nil, Fatalf("%w: cluster %d out of range in chain from %d", fatfs.ErrInvalidStructure, cluster, start)
		}
		if len(chain) >= max {
			return nil, Fatalf("%w: loop in chain from %d", fatfs.ErrInvalidStructure, start)
		}
		chain = append(chain, cluster)
		next, err := f.Entry(cluster)
		if err != nil {
			return nil, Fatal(err)
		}
		if next >= minEndOfChain {
			return chain, nil
		}
		if next == freeCluster || next == badCluster {
			return nil, Fatalf("%w: chain from %d hits cluster %d marked %#x", fatfs.ErrInvalidStructure, start, cluster, next)
		}
		cluster = next
	}
}

func (f *FAT) scanStart() uint32 {
	if f.info == nil {
		return firstCluster
	}
	hint := f.info.LastAllocatedClusterHint()
	if hint < firstCluster || hint >= f.limit()-1 {
		return firstCluster
	}
	return hint + 1
}

// Alloc appends n free clusters to chain and returns the new chain.
// The search starts after the last allocated cluster hint and wraps
// once around the table. The FS info count and hint are updated in
// memory; if n free clusters cannot be found nothing is changed.
func (f *FAT) Alloc(chain []uint32, n uint32) ([]uint32, error) {
	if n == 0 {
		return chain, nil
	}
	start := f.scanStart()
	total := f.bs.ClusterCount()
	found := make([]uint32, 0, n)
	cluster := start
	for scanned := uint32(0); scanned < total && uint32(len(found)) < n; scanned++ {
		value, err := f.Entry(cluster)
		if err != nil {
			return nil, Fatal(err)
		}
		if value == freeCluster {
			found = append(found, cluster)
		}
		cluster++
		if cluster >= f.limit() {
			cluster = firstCluster
		}
	}
	if uint32(len(found)) < n {
		// the whole table was scanned, so the count is exact
		if f.info != nil {
			f.info.SetFreeClusterCount(uint32(len(found)))
		}
		return nil, Fatalf("%w: need %d clusters, %d free", fatfs.ErrNoSpace, n, len(found))
	}
	log.Debugf("allocated %d clusters from %d", n, start)

	updates := make(map[uint32]uint32, n+1)
	for i, c := range found {
		if i+1 < len(found) {
			updates[c] = found[i+1]
		} else {
			updates[c] = endOfChain
		}
	}
	if len(chain) > 0 {
		updates[chain[len(chain)-1]] = found[0]
	}
	if err := f.setEntries(updates); err != nil {
		return nil, Fatal(err)
	}
	if f.info != nil {
		f.info.SetLastAllocatedClusterHint(found[len(found)-1])
		f.info.DecreaseClusterCount(n)
	}
	result := make([]uint32, 0, len(chain)+len(found))
	result = append(result, chain...)
	return append(result, found...), nil
}

// Free releases the last n clusters of chain and returns what is left.
func (f *FAT) Free(chain []uint32, n uint32) ([]uint32, error) {
	if n == 0 {
		return chain, nil
	}
	if n > uint32(len(chain)) {
		return nil, Fatalf("%w: free %d of %d clusters", fatfs.ErrInvalidOperation, n, len(chain))
	}
	keep := uint32(len(chain)) - n
	updates := make(map[uint32]uint32, n+1)
	for _, c := range chain[keep:] {
		updates[c] = freeCluster
	}
	if keep > 0 {
		updates[chain[keep-1]] = endOfChain
	}
	if err := f.setEntries(updates); err != nil {
		return nil, Fatal(err)
	}
	if f.info != nil {
		f.info.IncreaseClusterCount(n)
	}
	return chain[:keep], nil
}

// CountFree scans the whole table.
func (f *FAT) CountFree() (uint32, error) {
	var count uint32
	for cluster := firstCluster; cluster < f.limit(); cluster++ {
		value, err := f.Entry(cluster)
		if err != nil {
			return 0, Fatal(err)
		}
		if value == freeCluster {
			count++
		}
	}
	log.Debugf("counted %d free clusters", count)
	return count, nil
}

// Clean reports the clean shutdown bit kept in entry 1.
func (f *FAT) Clean() (bool, error) {
	value, err := f.Entry(1)
	if err != nil {
		return false, Fatal(err)
	}
	return value&cleanShutdownBit != 0, nil
}

func (f *FAT) SetClean(clean bool) error {
	value, err := f.Entry(1)
	if err != nil {
		return Fatal(err)
	}
	if clean {
		value |= cleanShutdownBit
	} else {
		value &^= cleanShutdownBit
	}
	return f.setEntries(map[uint32]uint32{1: value})
}
