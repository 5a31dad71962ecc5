package fat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstms/fatfs"
)

const testInfoOffset = 512

func infoSector(free, hint uint32) []byte {
	b := make([]byte, fsInfoSize)
	le := binary.LittleEndian
	le.PutUint32(b[leadSignatureOffset:], leadSignature)
	le.PutUint32(b[structSignatureOffset:], structSignature)
	le.PutUint32(b[trailSignatureOffset:], trailSignature)
	le.PutUint32(b[freeCountOffset:], free)
	le.PutUint32(b[nextFreeOffset:], hint)
	return b
}

func writeSector(t *testing.T, device fatfs.BlockDevice, sector []byte) {
	require.Nil(t, device.Write(testInfoOffset, sector))
}

func TestFsInfoSignatureBytes(t *testing.T) {
	b := infoSector(0, 0)
	require.Equal(t, []byte("RRaA"), b[0:4])
	require.Equal(t, []byte("rrAa"), b[484:488])
	require.Equal(t, []byte{0x00, 0x00, 0x55, 0xaa}, b[508:512])
}

func TestFsInfoRoundTrip(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(5, 6))
	info, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	require.Equal(t, uint32(5), info.FreeClusterCount())
	require.Equal(t, uint32(6), info.LastAllocatedClusterHint())

	for _, values := range [][2]uint32{{0, 0}, {1234, 99}, {UnknownClusterCount, UnknownClusterCount}, {0xfffffffe, 2}} {
		info.SetFreeClusterCount(values[0])
		info.SetLastAllocatedClusterHint(values[1])
		require.Nil(t, info.Write())
		again, err := ReadFsInfo(disk, testInfoOffset)
		require.Nil(t, err)
		require.Equal(t, values[0], again.FreeClusterCount())
		require.Equal(t, values[1], again.LastAllocatedClusterHint())
	}
}

func TestFsInfoSignatureRejection(t *testing.T) {
	disk := newDisk(t, 4096)
	offsets := []int{leadSignatureOffset, structSignatureOffset, trailSignatureOffset}
	for _, offset := range offsets {
		for bit := 0; bit < 32; bit++ {
			sector := infoSector(1000, 50)
			sector[offset+bit/8] ^= 1 << (bit % 8)
			writeSector(t, disk, sector)
			info, err := ReadFsInfo(disk, testInfoOffset)
			require.Nil(t, info, "offset %d bit %d", offset, bit)
			require.True(t, fatfs.IsInvalidStructure(err), "offset %d bit %d", offset, bit)
			require.False(t, fatfs.IsDeviceError(err))
		}
	}
	for mask := 1; mask < 8; mask++ {
		sector := infoSector(1000, 50)
		for i, offset := range offsets {
			if mask&(1<<i) != 0 {
				sector[offset+i] ^= 0x10
			}
		}
		writeSector(t, disk, sector)
		info, err := ReadFsInfo(disk, testInfoOffset)
		require.Nil(t, info, "mask %d", mask)
		require.True(t, fatfs.IsInvalidStructure(err), "mask %d", mask)
	}
}

func TestFsInfoFieldsNotValidated(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(0xfffffff0, 0))
	info, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	require.Equal(t, uint32(0xfffffff0), info.FreeClusterCount())
}

func TestFsInfoSentinelDecrement(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(UnknownClusterCount, 50))
	info, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	require.False(t, info.FreeCountKnown())
	for _, n := range []uint32{0, 1, 200, 0x7fffffff, UnknownClusterCount} {
		info.DecreaseClusterCount(n)
		require.Equal(t, UnknownClusterCount, info.FreeClusterCount())
		info.IncreaseClusterCount(n)
		require.Equal(t, UnknownClusterCount, info.FreeClusterCount())
	}
}

func TestFsInfoNormalDecrement(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(1000, 50))
	for _, n := range []uint32{0, 1, 200, 999, 1000} {
		info, err := ReadFsInfo(disk, testInfoOffset)
		require.Nil(t, err)
		info.DecreaseClusterCount(n)
		require.Equal(t, 1000-n, info.FreeClusterCount())
		require.True(t, info.FreeCountKnown())
	}
}

func TestFsInfoDecrementBelowZero(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(10, 50))
	info, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	info.DecreaseClusterCount(11)
	require.Equal(t, UnknownClusterCount, info.FreeClusterCount())
}

func TestFsInfoIncrease(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(10, 50))
	info, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	info.IncreaseClusterCount(5)
	require.Equal(t, uint32(15), info.FreeClusterCount())
	info.SetFreeClusterCount(0xfffffff0)
	info.IncreaseClusterCount(0x0f)
	require.Equal(t, UnknownClusterCount, info.FreeClusterCount())
}

func TestFsInfoScenarioDecreaseWriteReread(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(1000, 50))
	info, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	info.DecreaseClusterCount(200)
	require.Nil(t, info.Write())
	again, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	require.Equal(t, uint32(800), again.FreeClusterCount())
	require.Equal(t, uint32(50), again.LastAllocatedClusterHint())
}

func TestFsInfoScenarioCorruptLead(t *testing.T) {
	disk := newDisk(t, 4096)
	sector := infoSector(1000, 50)
	sector[0] = 0
	writeSector(t, disk, sector)
	info, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, info)
	require.ErrorIs(t, err, fatfs.ErrInvalidStructure)
}

func TestFsInfoDeviceTraffic(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(1000, 50))
	device := fatfs.NewFaultDevice(disk)
	info, err := ReadFsInfo(device, testInfoOffset)
	require.Nil(t, err)
	reads, writes := device.Counts()
	require.Equal(t, 1, reads)
	require.Equal(t, 0, writes)

	info.DecreaseClusterCount(1)
	info.SetLastAllocatedClusterHint(7)
	info.FreeClusterCount()
	reads, writes = device.Counts()
	require.Equal(t, 1, reads)
	require.Equal(t, 0, writes)

	require.Nil(t, info.Write())
	require.Nil(t, info.Write())
	reads, writes = device.Counts()
	require.Equal(t, 1, reads)
	require.Equal(t, 2, writes)
}

// recordingDevice remembers the last write it received.
type recordingDevice struct {
	fatfs.BlockDevice
	offset uint64
	data   []byte
}

func (d *recordingDevice) Write(offset uint64, b []byte) error {
	d.offset = offset
	d.data = append([]byte(nil), b...)
	return d.BlockDevice.Write(offset, b)
}

func TestFsInfoWritesWholeSectorInPlace(t *testing.T) {
	disk := newDisk(t, 4096)
	sector := infoSector(1000, 50)
	sector[100] = 0xab
	writeSector(t, disk, sector)
	device := &recordingDevice{BlockDevice: disk}
	info, err := ReadFsInfo(device, testInfoOffset)
	require.Nil(t, err)
	require.Nil(t, info.Write())
	require.Equal(t, uint64(testInfoOffset), device.offset)
	require.Equal(t, sector, device.data)
}

func TestFsInfoWriteFailureKeepsState(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(1000, 50))
	device := fatfs.NewFaultDevice(disk)
	info, err := ReadFsInfo(device, testInfoOffset)
	require.Nil(t, err)
	info.DecreaseClusterCount(100)
	info.SetLastAllocatedClusterHint(77)

	device.FailWrites(0)
	err = info.Write()
	require.True(t, fatfs.IsDeviceError(err))
	require.ErrorIs(t, err, fatfs.ErrInjected)
	require.False(t, fatfs.IsInvalidStructure(err))
	require.Equal(t, uint32(900), info.FreeClusterCount())
	require.Equal(t, uint32(77), info.LastAllocatedClusterHint())

	device.Heal()
	require.Nil(t, info.Write())
	again, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	require.Equal(t, uint32(900), again.FreeClusterCount())
	require.Equal(t, uint32(77), again.LastAllocatedClusterHint())
}

func TestFsInfoReadFailure(t *testing.T) {
	disk := newDisk(t, 4096)
	writeSector(t, disk, infoSector(1000, 50))
	device := fatfs.NewFaultDevice(disk)
	device.FailReads(0)
	info, err := ReadFsInfo(device, testInfoOffset)
	require.Nil(t, info)
	require.True(t, fatfs.IsDeviceError(err))
	require.False(t, fatfs.IsInvalidStructure(err))
}

func TestNewFsInfo(t *testing.T) {
	disk := newDisk(t, 4096)
	info := NewFsInfo(disk, testInfoOffset)
	require.False(t, info.FreeCountKnown())
	require.Equal(t, UnknownClusterCount, info.LastAllocatedClusterHint())
	require.Nil(t, info.Write())
	again, err := ReadFsInfo(disk, testInfoOffset)
	require.Nil(t, err)
	require.Equal(t, UnknownClusterCount, again.FreeClusterCount())
}
