package fat

import (
	"strings"

	"github.com/rstms/fatfs"
)

// a FAT32 directory holds at most 65536 slots
const maxDirectorySize = 65536 * slotSize

// dirTable is the shared in-memory copy of one directory. owner is nil
// for the root directory.
type dirTable struct {
	fs      *FileSystem
	owner   *dirent
	chain   []uint32
	entries []*dirent
	dirty   bool
}

// tableOf returns the table of the directory owner, loading it on first
// use. A nil owner is the root directory.
func (fs *FileSystem) tableOf(owner *dirent) (*dirTable, error) {
	if owner == nil {
		return fs.root, nil
	}
	if owner.cluster == 0 {
		return nil, Fatalf("%w: directory %s has no cluster", fatfs.ErrInvalidStructure, owner.name)
	}
	if table, ok := fs.tables[owner.cluster]; ok {
		return table, nil
	}
	table, err := fs.loadTable(owner, owner.cluster)
	if err != nil {
		return nil, Fatal(err)
	}
	return table, nil
}

func (fs *FileSystem) loadTable(owner *dirent, start uint32) (*dirTable, error) {
	chain, err := fs.fat.Chain(start)
	if err != nil {
		return nil, Fatal(err)
	}
	data := make([]byte, fs.io.capacity(chain))
	if err := fs.io.readAt(chain, 0, data); err != nil {
		return nil, Fatal(err)
	}
	table := &dirTable{fs: fs, owner: owner, chain: chain}
	table.entries = parseDirents(table, data)
	fs.tables[start] = table
	return table, nil
}

// children returns the listable entries in on-disk order.
func (t *dirTable) children() []*dirent {
	result := make([]*dirent, 0, len(t.entries))
	for _, d := range t.entries {
		if !d.hidden() {
			result = append(result, d)
		}
	}
	return result
}

// find looks a name up case-insensitively, ignoring except.
func (t *dirTable) find(name string, except *dirent) *dirent {
	for _, d := range t.entries {
		if d != except && !d.hidden() && strings.EqualFold(d.name, name) {
			return d
		}
	}
	return nil
}

func (t *dirTable) taken(except *dirent) func([11]byte) bool {
	return func(short [11]byte) bool {
		for _, d := range t.entries {
			if d != except && d.kind == kindRegular && d.short == short {
				return true
			}
		}
		return false
	}
}

func (t *dirTable) special(kind direntKind) *dirent {
	for _, d := range t.entries {
		if d.kind == kind {
			return d
		}
	}
	return nil
}

// parentRef is the cluster children record in their ".." entry.
func (t *dirTable) parentRef() uint32 {
	if t.owner == nil {
		return 0
	}
	return t.owner.cluster
}

func (t *dirTable) add(d *dirent) {
	d.dir = t
	t.entries = append(t.entries, d)
}

func (t *dirTable) insert(index int, d *dirent) {
	d.dir = t
	t.entries = append(t.entries, nil)
	copy(t.entries[index+1:], t.entries[index:])
	t.entries[index] = d
}

// remove drops d and returns the index it had.
func (t *dirTable) remove(d *dirent) int {
	for i, e := range t.entries {
		if e == d {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return i
		}
	}
	return -1
}

// write stores the whole directory, growing its chain when needed.
// Slots past the last entry are zeroed.
func (t *dirTable) write() error {
	var data []byte
	for _, d := range t.entries {
		data = append(data, d.encode()...)
	}
	if len(data) > maxDirectorySize {
		return Fatalf("%w: directory is full", fatfs.ErrNoSpace)
	}
	clusters := t.fs.io.clustersFor(uint64(len(data)))
	if clusters == 0 {
		clusters = 1
	}
	if clusters > uint32(len(t.chain)) {
		chain, err := t.fs.io.resize(t.chain, clusters, false)
		if err != nil {
			return Fatal(err)
		}
		t.chain = chain
	}
	buffer := make([]byte, t.fs.io.capacity(t.chain))
	copy(buffer, data)
	if err := t.fs.io.writeAt(t.chain, 0, buffer); err != nil {
		return Fatal(err)
	}
	t.dirty = false
	return nil
}
