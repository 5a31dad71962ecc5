package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstms/fatfs"
	"github.com/rstms/fatfs/fat"
)

func run(t *testing.T, args ...string) (string, error) {
	cmd := newCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	out, err := run(t, args...)
	require.Nil(t, err, out)
	return out
}

func newImage(t *testing.T) string {
	t.Setenv("HOME", t.TempDir())
	image := filepath.Join(t.TempDir(), "cli.img")
	out := mustRun(t, "-i", image, "mkfs", "--size", "4194304", "--label", "cli")
	require.Contains(t, out, "formatted")
	return image
}

func TestMkfsAndInfo(t *testing.T) {
	image := newImage(t)
	out := mustRun(t, "-i", image, "info")
	require.Contains(t, out, "type: FAT32\n")
	require.Contains(t, out, "label: CLI\n")
	require.Contains(t, out, "clean: true\n")

	_, err := run(t, "info")
	require.ErrorIs(t, err, fatfs.ErrInvalidOperation)
}

func TestPutCatLs(t *testing.T) {
	image := newImage(t)
	host := filepath.Join(t.TempDir(), "hello.txt")
	require.Nil(t, os.WriteFile(host, []byte("hello from the host\n"), 0600))

	mustRun(t, "-i", image, "mkdir", "-p", "docs/old")
	mustRun(t, "-i", image, "put", host)
	mustRun(t, "-i", image, "put", host, "docs/")
	mustRun(t, "-i", image, "put", host, "docs/Renamed Copy.txt")

	out := mustRun(t, "-i", image, "cat", "HELLO.TXT")
	require.Equal(t, "hello from the host\n", out)
	out = mustRun(t, "-i", image, "cat", "docs/renamed copy.txt")
	require.Equal(t, "hello from the host\n", out)

	out = mustRun(t, "-i", image, "ls")
	require.Equal(t, "docs\nhello.txt\n", out)
	out = mustRun(t, "-i", image, "ls", "-R", "docs")
	require.Equal(t, "old\nhello.txt\nRenamed Copy.txt\n", out)
	out = mustRun(t, "-i", image, "ls", "-l", "docs")
	require.Contains(t, out, "d---          0 OLD          old\n")
	require.Contains(t, out, "RENAME~1.TXT Renamed Copy.txt\n")

	_, err := run(t, "-i", image, "cat", "missing")
	require.ErrorIs(t, err, fatfs.ErrNotExist)
}

func TestMoveAndRemove(t *testing.T) {
	image := newImage(t)
	host := filepath.Join(t.TempDir(), "data.bin")
	require.Nil(t, os.WriteFile(host, bytes.Repeat([]byte{7}, 5000), 0600))

	mustRun(t, "-i", image, "mkdir", "a", "b")
	mustRun(t, "-i", image, "put", host, "a/")
	mustRun(t, "-i", image, "mv", "a/data.bin", "b")
	mustRun(t, "-i", image, "mv", "b/data.bin", "b/moved.bin")
	out := mustRun(t, "-i", image, "ls", "-R")
	require.Equal(t, "a\nb\nb/moved.bin\n", out)

	_, err := run(t, "-i", image, "rm", "b")
	require.ErrorIs(t, err, fatfs.ErrInvalidOperation)
	mustRun(t, "-i", image, "rm", "-r", "b")
	mustRun(t, "-i", image, "rm", "a")
	out = mustRun(t, "-i", image, "ls")
	require.Equal(t, "", out)

	out = mustRun(t, "-i", image, "fsck-free")
	require.Contains(t, out, "free count ok")
}

func TestGet(t *testing.T) {
	image := newImage(t)
	host := filepath.Join(t.TempDir(), "note.txt")
	require.Nil(t, os.WriteFile(host, []byte("note"), 0600))
	mustRun(t, "-i", image, "mkdir", "-p", "top/inner")
	mustRun(t, "-i", image, "put", host, "top/inner/")

	dest := t.TempDir()
	mustRun(t, "-i", image, "get", "top", dest)
	data, err := os.ReadFile(filepath.Join(dest, "top", "inner", "note.txt"))
	require.Nil(t, err)
	require.Equal(t, "note", string(data))

	single := filepath.Join(dest, "single.txt")
	mustRun(t, "-i", image, "get", "top/inner/note.txt", single)
	data, err = os.ReadFile(single)
	require.Nil(t, err)
	require.Equal(t, "note", string(data))
}

func TestFsckFree(t *testing.T) {
	image := newImage(t)
	disk, err := fatfs.OpenDevice(image, false)
	require.Nil(t, err)
	fs, err := fat.Mount(disk, fat.MountOptions{FreeCount: fat.TrustFreeCount})
	require.Nil(t, err)
	fs.FsInfo().SetFreeClusterCount(3)
	require.Nil(t, fs.Close())
	require.Nil(t, disk.Close())

	out, err := run(t, "-i", image, "fsck-free")
	require.ErrorIs(t, err, fatfs.ErrInvalidStructure)
	require.Contains(t, out, "stored: 3\n")

	out = mustRun(t, "-i", image, "fsck-free", "--fix")
	require.Contains(t, out, "free count fixed")
	out = mustRun(t, "-i", image, "fsck-free")
	require.Contains(t, out, "free count ok")
}

func TestReadOnlyAndStats(t *testing.T) {
	image := newImage(t)
	_, err := run(t, "-i", image, "--readonly", "mkdir", "x")
	require.ErrorIs(t, err, fatfs.ErrReadOnly)

	out := mustRun(t, "-i", image, "--stats", "ls")
	require.Contains(t, out, `fatfs_device_operations_total{op=read,result=ok}`)
	require.NotContains(t, out, "op=write")
}

func TestConfigFileAndEnvironment(t *testing.T) {
	image := newImage(t)
	config := filepath.Join(t.TempDir(), "fatfs.yaml")
	require.Nil(t, os.WriteFile(config, []byte(strings.Join([]string{
		"image: " + image,
		"free_count_policy: always-rescan",
		"log_level: error",
	}, "\n")), 0600))
	out := mustRun(t, "--config", config, "info")
	require.Contains(t, out, "label: CLI\n")

	t.Setenv("FATFS_IMAGE", image)
	out = mustRun(t, "info")
	require.Contains(t, out, "label: CLI\n")

	t.Setenv("FATFS_FREE_COUNT_POLICY", "sometimes")
	_, err := run(t, "info")
	require.ErrorIs(t, err, fatfs.ErrInvalidOperation)

	_, err = run(t, "--log-format", "xml", "info")
	require.Error(t, err)
}
