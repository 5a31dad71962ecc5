package fat

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rstms/fatfs"
)

// node holds what Directory and File share: the volume and the entry
// record. A nil entry is the root directory.
type node struct {
	fs    *FileSystem
	entry *dirent
}

func newEntry(fs *FileSystem, d *dirent) fatfs.Entry {
	if d.isDir() {
		return &Directory{node{fs: fs, entry: d}}
	}
	return &File{node: node{fs: fs, entry: d}}
}

func (n *node) isRoot() bool {
	return n.entry == nil
}

func (n *node) usable() error {
	if n.fs.closed {
		return Fatalf("%w: filesystem", fatfs.ErrClosed)
	}
	if n.entry != nil && n.entry.deleted {
		return Fatalf("%w: %s", fatfs.ErrDeleted, n.entry.name)
	}
	return nil
}

func (n *node) writable() error {
	if err := n.usable(); err != nil {
		return err
	}
	if n.fs.readOnly {
		return Fatal(fatfs.ErrReadOnly)
	}
	return nil
}

func (n *node) Name() string {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.isRoot() {
		return "/"
	}
	return n.entry.name
}

// SetName renames the entry. On the root directory it sets the volume
// label.
func (n *node) SetName(name string) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if err := n.writable(); err != nil {
		return err
	}
	if n.isRoot() {
		return n.fs.setLabel(name)
	}
	name, err := validateName(name)
	if err != nil {
		return Fatal(err)
	}
	d := n.entry
	table := d.dir
	if table.find(name, d) != nil {
		return Fatalf("%w: %s", fatfs.ErrExist, name)
	}
	if name == d.name {
		return nil
	}
	short, ntCase, err := shortName(name, table.taken(d))
	if err != nil {
		return Fatal(err)
	}
	oldName, oldShort, oldCase := d.name, d.short, d.ntCase
	d.name, d.short, d.ntCase = name, short, ntCase
	if err := table.write(); err != nil {
		d.name, d.short, d.ntCase = oldName, oldShort, oldCase
		return Fatal(err)
	}
	return nil
}

func (n *node) Parent() fatfs.Entry {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.isRoot() {
		return nil
	}
	return &Directory{node{fs: n.fs, entry: n.entry.dir.owner}}
}

// Flush writes every pending change of the volume.
func (n *node) Flush() error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if err := n.usable(); err != nil {
		return err
	}
	return n.fs.flush()
}

// MoveTo makes the entry a child of destination, which must be a
// directory of the same volume and, for a directory, not inside it.
func (n *node) MoveTo(destination fatfs.Entry) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if err := n.writable(); err != nil {
		return err
	}
	if n.isRoot() {
		return Fatalf("%w: cannot move the root directory", fatfs.ErrInvalidOperation)
	}
	dest, ok := destination.(*Directory)
	if !ok || dest.fs != n.fs {
		return Fatalf("%w: %s", fatfs.ErrCrossDevice, n.entry.name)
	}
	if err := dest.usable(); err != nil {
		return err
	}
	fs := n.fs
	d := n.entry
	target, err := fs.tableOf(dest.entry)
	if err != nil {
		return Fatal(err)
	}
	for t := target; t.owner != nil; t = t.owner.dir {
		if t.owner == d {
			return Fatalf("%w: cannot move %s into itself", fatfs.ErrInvalidOperation, d.name)
		}
	}
	source := d.dir
	if source == target {
		return nil
	}
	if target.find(d.name, nil) != nil {
		return Fatalf("%w: %s", fatfs.ErrExist, d.name)
	}
	short, ntCase, err := shortName(d.name, target.taken(nil))
	if err != nil {
		return Fatal(err)
	}
	// unlink on disk before linking: a failure may leak the chain but
	// never leaves it in two directories
	index := source.remove(d)
	if err := source.write(); err != nil {
		source.insert(index, d)
		source.dirty = true
		return Fatal(err)
	}
	oldShort, oldCase := d.short, d.ntCase
	d.short, d.ntCase = short, ntCase
	target.add(d)
	if err := target.write(); err != nil {
		target.remove(d)
		d.short, d.ntCase = oldShort, oldCase
		source.insert(index, d)
		if err := source.write(); err != nil {
			source.dirty = true
			log.Warnf("%s unlinked from its directory until the next flush: %v", d.name, err)
		}
		return Fatal(err)
	}
	if d.isDir() {
		sub, err := fs.tableOf(d)
		if err != nil {
			return Fatal(err)
		}
		if dotdot := sub.special(kindDotDot); dotdot != nil {
			dotdot.cluster = target.parentRef()
			if err := sub.write(); err != nil {
				sub.dirty = true
				return Fatal(err)
			}
		}
	}
	return nil
}

// Same reports whether other is a handle on this entry. Handles of one
// volume share their directory records, so pointer equality suffices.
func (n *node) Same(other fatfs.Entry) bool {
	var o *node
	switch e := other.(type) {
	case *Directory:
		o = &e.node
	case *File:
		o = &e.node
	default:
		return false
	}
	return o.fs == n.fs && o.entry == n.entry
}

// Delete removes the entry. A directory is removed with its subtree.
func (n *node) Delete() error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if err := n.writable(); err != nil {
		return err
	}
	if n.isRoot() {
		return Fatalf("%w: cannot delete the root directory", fatfs.ErrInvalidOperation)
	}
	return n.fs.deleteEntry(n.entry)
}

func (n *node) Attr() fatfs.DirectoryAttr {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.isRoot() {
		return fatfs.AttrDirectory
	}
	return n.entry.attr
}

func (n *node) SetAttr(attr fatfs.DirectoryAttr, state bool) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if err := n.writable(); err != nil {
		return err
	}
	switch attr {
	case fatfs.AttrHidden, fatfs.AttrSystem, fatfs.AttrReadOnly, fatfs.AttrArchive:
	default:
		return Fatalf("%w: unsettable attribute %#x", fatfs.ErrInvalidOperation, attr)
	}
	if n.isRoot() {
		return Fatalf("%w: root directory has no attributes", fatfs.ErrInvalidOperation)
	}
	d := n.entry
	old := d.attr
	if state {
		d.attr |= attr
	} else {
		d.attr &^= attr
	}
	if err := d.dir.write(); err != nil {
		d.attr = old
		return Fatal(err)
	}
	return nil
}

// ShortName returns the 8.3 alias stored for the entry.
func (n *node) ShortName() string {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.isRoot() {
		return ""
	}
	return shortDisplay(n.entry.short, 0)
}

func (n *node) ModTime() time.Time {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.isRoot() {
		return time.Time{}
	}
	return n.entry.modified
}
