package fatfs_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstms/fatfs"
)

func TestReader(t *testing.T) {
	_, root := newRoot(t)
	file := writeFile(t, root, "alphabet", "abcdefghijklmnopqrstuvwxyz")

	r := fatfs.NewReader(file)
	data, err := io.ReadAll(r)
	require.Nil(t, err)
	require.Equal(t, "abcdefghijklmnopqrstuvwxyz", string(data))

	pos, err := r.Seek(-3, io.SeekEnd)
	require.Nil(t, err)
	require.Equal(t, int64(23), pos)
	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.Nil(t, err)
	require.Equal(t, "xyz", string(buf[:n]))
	_, err = r.Read(buf)
	require.Equal(t, io.EOF, err)

	n, err = r.ReadAt(buf[:4], 2)
	require.Nil(t, err)
	require.Equal(t, "cdef", string(buf[:n]))
	n, err = r.ReadAt(buf, 20)
	require.Equal(t, io.EOF, err)
	require.Equal(t, "uvwxyz", string(buf[:n]))

	_, err = r.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, fatfs.ErrOutOfRange)
	_, err = r.Seek(0, 42)
	require.ErrorIs(t, err, fatfs.ErrInvalidOperation)
}

func TestWriter(t *testing.T) {
	_, root := newRoot(t)
	file := writeFile(t, root, "log", "first\n")

	w, err := fatfs.NewWriter(file)
	require.Nil(t, err)
	_, err = io.WriteString(w, "second\n")
	require.Nil(t, err)
	_, err = w.Write([]byte("third\n"))
	require.Nil(t, err)
	require.Equal(t, "first\nsecond\nthird\n", readFile(t, root, "log"))

	_, err = w.WriteAt([]byte("FIRST"), 0)
	require.Nil(t, err)
	require.Equal(t, "FIRST\nsecond\nthird\n", readFile(t, root, "log"))

	_, err = w.WriteAt([]byte("x"), -1)
	require.ErrorIs(t, err, fatfs.ErrOutOfRange)
	_, err = fatfs.NewWriter(root)
	require.ErrorIs(t, err, fatfs.ErrIsDirectory)
}
