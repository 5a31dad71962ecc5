package fatfs

import (
	"errors"
	"strings"
)

// copyChunk is the transfer size used when streaming file content
// between entries.
const copyChunk = 64 * 1024

// SkipDir returned from a WalkFunc skips the directory being visited.
var SkipDir = errors.New("skip this directory")

// WalkFunc is called for every entry visited by Walk with its slash
// separated path relative to the walk root.
type WalkFunc func(pathname string, entry Entry) error

func splitPath(pathname string) []string {
	parts := []string{}
	for _, part := range strings.Split(pathname, "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}

func child(dir Entry, name string) (Entry, error) {
	children, err := dir.ListFiles()
	if err != nil {
		return nil, Fatal(err)
	}
	for _, c := range children {
		if strings.EqualFold(c.Name(), name) {
			return c, nil
		}
	}
	return nil, nil
}

// Lookup resolves a slash separated path below root. Components match
// case-insensitively.
func Lookup(root Entry, pathname string) (Entry, error) {
	entry := root
	for _, part := range splitPath(pathname) {
		if !entry.IsDirectory() {
			return nil, Fatalf("%w: %s", ErrNotDirectory, entry.Name())
		}
		next, err := child(entry, part)
		if err != nil {
			return nil, Fatal(err)
		}
		if next == nil {
			return nil, Fatalf("%w: %s", ErrNotExist, pathname)
		}
		entry = next
	}
	return entry, nil
}

// MkdirAll returns the directory at pathname below root, creating any
// missing components.
func MkdirAll(root Entry, pathname string) (Entry, error) {
	dir := root
	for _, part := range splitPath(pathname) {
		next, err := child(dir, part)
		if err != nil {
			return nil, Fatal(err)
		}
		if next == nil {
			next, err = dir.CreateDirectory(part)
			if err != nil {
				return nil, Fatal(err)
			}
		}
		if !next.IsDirectory() {
			return nil, Fatalf("%w: %s", ErrNotDirectory, part)
		}
		dir = next
	}
	return dir, nil
}

// Walk visits root and its descendants depth first, parents before
// children, in listing order.
func Walk(root Entry, fn WalkFunc) error {
	err := walk("", root, fn)
	if err == SkipDir {
		return nil
	}
	return err
}

func walk(pathname string, entry Entry, fn WalkFunc) error {
	if err := fn(pathname, entry); err != nil {
		return err
	}
	if !entry.IsDirectory() {
		return nil
	}
	children, err := entry.ListFiles()
	if err != nil {
		return Fatal(err)
	}
	for _, c := range children {
		err := walk(joinPath(pathname, c.Name()), c, fn)
		if err == SkipDir && c.IsDirectory() {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// ReadAll returns the content of a file entry.
func ReadAll(e Entry) ([]byte, error) {
	length, err := e.Length()
	if err != nil {
		return nil, Fatal(err)
	}
	data := make([]byte, length)
	if err := e.Read(0, data); err != nil {
		return nil, Fatal(err)
	}
	return data, nil
}

// WriteAll replaces the content of a file entry with data.
func WriteAll(e Entry, data []byte) error {
	if err := e.SetLength(0); err != nil {
		return Fatal(err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := e.Write(0, data); err != nil {
		return Fatal(err)
	}
	return nil
}

func copyContent(dst, src Entry) error {
	length, err := src.Length()
	if err != nil {
		return Fatal(err)
	}
	buf := make([]byte, copyChunk)
	for offset := uint64(0); offset < length; {
		n := length - offset
		if n > copyChunk {
			n = copyChunk
		}
		chunk := buf[:n]
		if err := src.Read(offset, chunk); err != nil {
			return Fatal(err)
		}
		if err := dst.Write(offset, chunk); err != nil {
			return Fatal(err)
		}
		offset += n
	}
	return nil
}

// Copy recreates src, and for a directory its whole subtree, as a new
// child of the directory dst. The two entries may belong to different
// filesystems. Copying a directory into itself or one of its
// descendants fails with ErrInvalidOperation. It returns the new entry.
func Copy(dst, src Entry) (Entry, error) {
	if !dst.IsDirectory() {
		return nil, Fatalf("%w: %s", ErrNotDirectory, dst.Name())
	}
	if src.IsDirectory() && within(dst, src) {
		return nil, Fatalf("%w: cannot copy %s into itself", ErrInvalidOperation, src.Name())
	}
	return copyEntry(dst, src)
}

func copyEntry(dst, src Entry) (Entry, error) {
	if !src.IsDirectory() {
		file, err := dst.CreateFile(src.Name())
		if err != nil {
			return nil, Fatal(err)
		}
		if err := copyContent(file, src); err != nil {
			return nil, Fatal(err)
		}
		return file, nil
	}
	children, err := src.ListFiles()
	if err != nil {
		return nil, Fatal(err)
	}
	dir, err := dst.CreateDirectory(src.Name())
	if err != nil {
		return nil, Fatal(err)
	}
	for _, c := range children {
		if _, err := copyEntry(dir, c); err != nil {
			return nil, Fatal(err)
		}
	}
	return dir, nil
}

// within reports whether dir is ancestor or one of its descendants.
func within(dir, ancestor Entry) bool {
	for e := dir; e != nil; e = e.Parent() {
		if sameEntry(e, ancestor) {
			return true
		}
	}
	return false
}

// sameEntry uses Identity when available and otherwise compares the
// name chains up to the root.
func sameEntry(a, b Entry) bool {
	if id, ok := a.(Identity); ok {
		return id.Same(b)
	}
	return a.IsDirectory() == b.IsDirectory() && namePath(a) == namePath(b)
}

func namePath(e Entry) string {
	parts := []string{}
	for ; e != nil; e = e.Parent() {
		parts = append(parts, strings.ToUpper(e.Name()))
	}
	return strings.Join(parts, "/")
}

// RemoveAll deletes e after deleting its descendants one by one, so it
// works with implementations that refuse to delete non-empty
// directories.
func RemoveAll(e Entry) error {
	if e.IsDirectory() {
		children, err := e.ListFiles()
		if err != nil {
			return Fatal(err)
		}
		for _, c := range children {
			if err := RemoveAll(c); err != nil {
				return Fatal(err)
			}
		}
	}
	if err := e.Delete(); err != nil {
		return Fatal(err)
	}
	return nil
}

// Move relocates src into the directory dst. Entries on different
// volumes are copied and the source removed.
func Move(src, dst Entry) error {
	err := src.MoveTo(dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCrossDevice) {
		return Fatal(err)
	}
	if _, err := Copy(dst, src); err != nil {
		return Fatal(err)
	}
	if err := RemoveAll(src); err != nil {
		return Fatal(err)
	}
	return nil
}
