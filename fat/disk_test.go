package fat

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rstms/fatfs"
)

const testVolumeSize = 1 << 20

func newDisk(t *testing.T, size int64) *fatfs.FileDisk {
	f, err := afero.NewMemMapFs().Create("disk.img")
	require.Nil(t, err)
	require.Nil(t, f.Truncate(size))
	disk, err := fatfs.NewFileDisk(f)
	require.Nil(t, err)
	return disk
}

func formatDisk(t *testing.T, device fatfs.BlockDevice, label string) {
	err := Format(device, FormatConfig{Label: label, VolumeID: 0x12345678})
	require.Nil(t, err)
}

func newVolume(t *testing.T) (*fatfs.FileDisk, *FileSystem) {
	disk := newDisk(t, testVolumeSize)
	formatDisk(t, disk, "TEST")
	fs, err := Mount(disk, MountOptions{})
	require.Nil(t, err)
	return disk, fs
}

func remount(t *testing.T, fs *FileSystem, device fatfs.BlockDevice, opts MountOptions) *FileSystem {
	require.Nil(t, fs.Close())
	fs, err := Mount(device, opts)
	require.Nil(t, err)
	return fs
}
