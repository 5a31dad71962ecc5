package fatfs_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rstms/fatfs"
	"github.com/rstms/fatfs/fat"
)

func newDisk(t *testing.T, size int64) *fatfs.FileDisk {
	f, err := afero.NewMemMapFs().Create("disk.img")
	require.Nil(t, err)
	require.Nil(t, f.Truncate(size))
	disk, err := fatfs.NewFileDisk(f)
	require.Nil(t, err)
	return disk
}

func newRoot(t *testing.T) (*fat.FileSystem, fatfs.Entry) {
	disk := newDisk(t, 2<<20)
	require.Nil(t, fat.Format(disk, fat.FormatConfig{}))
	fs, err := fat.Mount(disk, fat.MountOptions{})
	require.Nil(t, err)
	t.Cleanup(func() { fs.Close() })
	root, err := fs.RootDir()
	require.Nil(t, err)
	return fs, root
}

func writeFile(t *testing.T, dir fatfs.Entry, name, content string) fatfs.Entry {
	file, err := dir.CreateFile(name)
	require.Nil(t, err)
	require.Nil(t, fatfs.WriteAll(file, []byte(content)))
	return file
}

func readFile(t *testing.T, root fatfs.Entry, pathname string) string {
	file, err := fatfs.Lookup(root, pathname)
	require.Nil(t, err)
	data, err := fatfs.ReadAll(file)
	require.Nil(t, err)
	return string(data)
}
