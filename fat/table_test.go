package fat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstms/fatfs"
)

func newTable(t *testing.T, device fatfs.BlockDevice) (*FAT, *FsInfo) {
	bs, err := DecodeBootSector(device)
	require.Nil(t, err)
	info, err := ReadFsInfo(device, bs.FsInfoOffset())
	require.Nil(t, err)
	return DecodeFAT(device, bs, info), info
}

func TestFATAllocAndFree(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, info := newTable(t, disk)
	free := info.FreeClusterCount()
	require.Equal(t, uint32(1983), free)

	chain, err := fat.Alloc(nil, 3)
	require.Nil(t, err)
	require.Equal(t, []uint32{3, 4, 5}, chain)
	require.Equal(t, free-3, info.FreeClusterCount())
	require.Equal(t, uint32(5), info.LastAllocatedClusterHint())

	chain, err = fat.Alloc(chain, 2)
	require.Nil(t, err)
	require.Equal(t, []uint32{3, 4, 5, 6, 7}, chain)

	walked, err := fat.Chain(3)
	require.Nil(t, err)
	require.Equal(t, chain, walked)

	chain, err = fat.Free(chain, 2)
	require.Nil(t, err)
	require.Equal(t, []uint32{3, 4, 5}, chain)
	require.Equal(t, free-3, info.FreeClusterCount())
	walked, err = fat.Chain(3)
	require.Nil(t, err)
	require.Equal(t, chain, walked)
	value, err := fat.Entry(6)
	require.Nil(t, err)
	require.Equal(t, freeCluster, value)

	counted, err := fat.CountFree()
	require.Nil(t, err)
	require.Equal(t, info.FreeClusterCount(), counted)
}

func TestFATWritesBothCopies(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, _ := newTable(t, disk)
	_, err := fat.Alloc(nil, 1)
	require.Nil(t, err)

	first := make([]byte, 512)
	second := make([]byte, 512)
	require.Nil(t, disk.Read(fat.bs.FatOffset(0), first))
	require.Nil(t, disk.Read(fat.bs.FatOffset(1), second))
	require.Equal(t, first, second)
}

func TestFATAllocWrapsAroundHint(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, info := newTable(t, disk)
	last := fat.bs.ClusterCount() + 1

	info.SetLastAllocatedClusterHint(last - 1)
	chain, err := fat.Alloc(nil, 2)
	require.Nil(t, err)
	require.Equal(t, []uint32{last, 3}, chain)

	// an out of range hint starts from the beginning
	info.SetLastAllocatedClusterHint(UnknownClusterCount)
	chain, err = fat.Alloc(nil, 1)
	require.Nil(t, err)
	require.Equal(t, []uint32{4}, chain)
}

func TestFATHintIsNotTrusted(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, info := newTable(t, disk)
	used, err := fat.Alloc(nil, 2)
	require.Nil(t, err)
	// point the hint just before a used cluster
	info.SetLastAllocatedClusterHint(used[0] - 1)
	chain, err := fat.Alloc(nil, 1)
	require.Nil(t, err)
	require.NotContains(t, used, chain[0])
}

func TestFATNoSpace(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, info := newTable(t, disk)
	free := info.FreeClusterCount()
	info.SetLastAllocatedClusterHint(77)
	info.SetFreeClusterCount(5000)

	chain, err := fat.Alloc(nil, free+1)
	require.Nil(t, chain)
	require.ErrorIs(t, err, fatfs.ErrNoSpace)
	// the failed scan covered the whole table
	require.Equal(t, free, info.FreeClusterCount())
	require.Equal(t, uint32(77), info.LastAllocatedClusterHint())
	counted, err := fat.CountFree()
	require.Nil(t, err)
	require.Equal(t, free, counted)

	chain, err = fat.Alloc(nil, free)
	require.Nil(t, err)
	require.Len(t, chain, int(free))
	require.Equal(t, uint32(0), info.FreeClusterCount())
}

func TestFATUnknownCountStaysUnknown(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, info := newTable(t, disk)
	info.SetFreeClusterCount(UnknownClusterCount)
	chain, err := fat.Alloc(nil, 4)
	require.Nil(t, err)
	require.False(t, info.FreeCountKnown())
	_, err = fat.Free(chain, 4)
	require.Nil(t, err)
	require.False(t, info.FreeCountKnown())
}

func TestFATChainLoop(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, _ := newTable(t, disk)
	require.Nil(t, fat.setEntries(map[uint32]uint32{10: 11, 11: 10}))
	_, err := fat.Chain(10)
	require.True(t, fatfs.IsInvalidStructure(err))

	require.Nil(t, fat.setEntries(map[uint32]uint32{12: 13}))
	_, err = fat.Chain(12)
	require.True(t, fatfs.IsInvalidStructure(err))
}

func TestFATPreservesReservedBits(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, _ := newTable(t, disk)
	require.Nil(t, fat.setEntries(map[uint32]uint32{20: 0xf0000000 | endOfChain}))
	raw, err := fat.raw(20)
	require.Nil(t, err)
	require.Equal(t, endOfChain, raw)

	sector, err := fat.sector(0)
	require.Nil(t, err)
	sector[21*4+3] |= 0xa0
	require.Nil(t, fat.setEntries(map[uint32]uint32{21: 5}))
	raw, err = fat.raw(21)
	require.Nil(t, err)
	require.Equal(t, uint32(0xa0000005), raw)
	value, err := fat.Entry(21)
	require.Nil(t, err)
	require.Equal(t, uint32(5), value)
}

func TestFATCleanBit(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	fat, _ := newTable(t, disk)
	clean, err := fat.Clean()
	require.Nil(t, err)
	require.True(t, clean)
	require.Nil(t, fat.SetClean(false))
	clean, err = fat.Clean()
	require.Nil(t, err)
	require.False(t, clean)
}

func TestFATDeviceErrors(t *testing.T) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "")
	device := fatfs.NewFaultDevice(disk)
	fat, info := newTable(t, device)
	free := info.FreeClusterCount()
	device.FailWrites(0)
	_, err := fat.Alloc(nil, 1)
	require.True(t, fatfs.IsDeviceError(err))
	require.Equal(t, free, info.FreeClusterCount())
}
