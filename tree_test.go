package fatfs_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/rstms/fatfs"
)

func buildTree(t *testing.T, root fatfs.Entry) {
	docs, err := fatfs.MkdirAll(root, "docs/notes")
	require.Nil(t, err)
	writeFile(t, docs, "todo.txt", "buy milk")
	writeFile(t, docs, "Long Meeting Notes.md", strings.Repeat("blah ", 20000))
	src, err := fatfs.MkdirAll(root, "/src/")
	require.Nil(t, err)
	writeFile(t, src, "main.go", "package main")
	writeFile(t, root, "README", "top")
}

func TestLookup(t *testing.T) {
	_, root := newRoot(t)
	buildTree(t, root)

	entry, err := fatfs.Lookup(root, "/DOCS/Notes/TODO.TXT")
	require.Nil(t, err)
	require.Equal(t, "todo.txt", entry.Name())

	entry, err = fatfs.Lookup(root, "")
	require.Nil(t, err)
	require.True(t, entry.IsDirectory())

	_, err = fatfs.Lookup(root, "docs/missing")
	require.ErrorIs(t, err, fatfs.ErrNotExist)
	_, err = fatfs.Lookup(root, "README/inside")
	require.ErrorIs(t, err, fatfs.ErrNotDirectory)
}

func TestMkdirAll(t *testing.T) {
	_, root := newRoot(t)
	first, err := fatfs.MkdirAll(root, "a/b/c")
	require.Nil(t, err)
	second, err := fatfs.MkdirAll(root, "A/B/C")
	require.Nil(t, err)
	require.Equal(t, first.Name(), second.Name())
	require.Equal(t, []string{"a"}, listNames(t, root))

	writeFile(t, first, "file", "x")
	_, err = fatfs.MkdirAll(root, "a/b/c/file/d")
	require.ErrorIs(t, err, fatfs.ErrNotDirectory)
}

func listNames(t *testing.T, dir fatfs.Entry) []string {
	names, err := dir.List()
	require.Nil(t, err)
	return names
}

func TestWalk(t *testing.T) {
	_, root := newRoot(t)
	buildTree(t, root)

	var visited []string
	err := fatfs.Walk(root, func(pathname string, entry fatfs.Entry) error {
		visited = append(visited, pathname)
		return nil
	})
	require.Nil(t, err)
	want := []string{
		"",
		"docs",
		"docs/notes",
		"docs/notes/todo.txt",
		"docs/notes/Long Meeting Notes.md",
		"src",
		"src/main.go",
		"README",
	}
	require.Empty(t, cmp.Diff(want, visited))

	visited = nil
	err = fatfs.Walk(root, func(pathname string, entry fatfs.Entry) error {
		visited = append(visited, pathname)
		if pathname == "docs" {
			return fatfs.SkipDir
		}
		return nil
	})
	require.Nil(t, err)
	require.Equal(t, []string{"", "docs", "src", "src/main.go", "README"}, visited)

	stop := fatfs.ErrInvalidOperation
	err = fatfs.Walk(root, func(pathname string, entry fatfs.Entry) error {
		if pathname == "src" {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
}

func TestReadAllWriteAll(t *testing.T) {
	_, root := newRoot(t)
	file := writeFile(t, root, "f", "a longer first version")
	require.Nil(t, fatfs.WriteAll(file, []byte("short")))
	require.Equal(t, "short", readFile(t, root, "f"))
	require.Nil(t, fatfs.WriteAll(file, nil))
	require.Equal(t, "", readFile(t, root, "f"))

	_, err := fatfs.ReadAll(root)
	require.ErrorIs(t, err, fatfs.ErrIsDirectory)
}

func TestCopyAcrossVolumes(t *testing.T) {
	_, one := newRoot(t)
	_, two := newRoot(t)
	buildTree(t, one)

	docs, err := fatfs.Lookup(one, "docs")
	require.Nil(t, err)
	copied, err := fatfs.Copy(two, docs)
	require.Nil(t, err)
	require.Equal(t, "docs", copied.Name())
	require.Equal(t, "buy milk", readFile(t, two, "docs/notes/todo.txt"))
	require.Equal(t, readFile(t, one, "docs/notes/Long Meeting Notes.md"),
		readFile(t, two, "docs/notes/Long Meeting Notes.md"))

	readme, err := fatfs.Lookup(one, "README")
	require.Nil(t, err)
	_, err = fatfs.Copy(readme, docs)
	require.ErrorIs(t, err, fatfs.ErrNotDirectory)
	_, err = fatfs.Copy(two, docs)
	require.ErrorIs(t, err, fatfs.ErrExist)
}

func TestCopyIntoItself(t *testing.T) {
	fs, root := newRoot(t)
	buildTree(t, root)
	before, err := fs.FreeSpace()
	require.Nil(t, err)

	docs, err := fatfs.Lookup(root, "docs")
	require.Nil(t, err)
	for _, target := range []string{"docs", "DOCS/notes"} {
		dst, err := fatfs.Lookup(root, target)
		require.Nil(t, err)
		_, err = fatfs.Copy(dst, docs)
		require.ErrorIs(t, err, fatfs.ErrInvalidOperation)
	}
	require.Equal(t, []string{"notes"}, listNames(t, docs))
	after, err := fs.FreeSpace()
	require.Nil(t, err)
	require.Equal(t, before, after)

	// a directory copied into a sibling is not nested in itself
	notes, err := fatfs.Lookup(root, "docs/notes")
	require.Nil(t, err)
	src, err := fatfs.Lookup(root, "src")
	require.Nil(t, err)
	_, err = fatfs.Copy(src, notes)
	require.Nil(t, err)
	require.Equal(t, []string{"main.go", "notes"}, listNames(t, src))
	require.Equal(t, "buy milk", readFile(t, root, "src/notes/todo.txt"))

	// a directory copied into its own parent collides with itself
	_, err = fatfs.Copy(docs, notes)
	require.ErrorIs(t, err, fatfs.ErrExist)
}

func TestRemoveAll(t *testing.T) {
	fs, root := newRoot(t)
	before, err := fs.FreeSpace()
	require.Nil(t, err)
	buildTree(t, root)

	docs, err := fatfs.Lookup(root, "docs")
	require.Nil(t, err)
	require.Nil(t, fatfs.RemoveAll(docs))
	require.Equal(t, []string{"src", "README"}, listNames(t, root))

	src, err := fatfs.Lookup(root, "src")
	require.Nil(t, err)
	require.Nil(t, fatfs.RemoveAll(src))
	readme, err := fatfs.Lookup(root, "README")
	require.Nil(t, err)
	require.Nil(t, fatfs.RemoveAll(readme))

	after, err := fs.FreeSpace()
	require.Nil(t, err)
	require.Equal(t, before, after)
}

func TestMove(t *testing.T) {
	_, one := newRoot(t)
	_, two := newRoot(t)
	buildTree(t, one)
	target, err := fatfs.MkdirAll(one, "archive")
	require.Nil(t, err)

	src, err := fatfs.Lookup(one, "src")
	require.Nil(t, err)
	require.Nil(t, fatfs.Move(src, target))
	require.Equal(t, "package main", readFile(t, one, "archive/src/main.go"))

	docs, err := fatfs.Lookup(one, "docs")
	require.Nil(t, err)
	require.Nil(t, fatfs.Move(docs, two))
	require.Equal(t, "buy milk", readFile(t, two, "docs/notes/todo.txt"))
	_, err = fatfs.Lookup(one, "docs")
	require.ErrorIs(t, err, fatfs.ErrNotExist)

	archive, err := fatfs.Lookup(one, "archive")
	require.Nil(t, err)
	require.ErrorIs(t, fatfs.Move(archive, archive), fatfs.ErrInvalidOperation)
}
