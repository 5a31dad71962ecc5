package fat

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rstms/fatfs"
)

// Directory is a directory of a mounted FAT32 volume.
type Directory struct {
	node
}

// ensure Directory implements fatfs.Entry
var _ fatfs.Entry = (*Directory)(nil)
var _ fatfs.Attributed = (*Directory)(nil)
var _ fatfs.Identity = (*Directory)(nil)

func (d *Directory) IsDirectory() bool {
	return true
}

func (d *Directory) table() (*dirTable, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	return d.fs.tableOf(d.entry)
}

func (d *Directory) List() ([]string, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	table, err := d.table()
	if err != nil {
		return nil, Fatal(err)
	}
	children := table.children()
	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.name)
	}
	return names, nil
}

func (d *Directory) ListFiles() ([]fatfs.Entry, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	table, err := d.table()
	if err != nil {
		return nil, Fatal(err)
	}
	children := table.children()
	entries := make([]fatfs.Entry, 0, len(children))
	for _, c := range children {
		entries = append(entries, newEntry(d.fs, c))
	}
	return entries, nil
}

// Entry returns the child called name, matched case-insensitively.
func (d *Directory) Entry(name string) (fatfs.Entry, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	table, err := d.table()
	if err != nil {
		return nil, Fatal(err)
	}
	c := table.find(name, nil)
	if c == nil {
		return nil, Fatalf("%w: %s", fatfs.ErrNotExist, name)
	}
	return newEntry(d.fs, c), nil
}

func (d *Directory) Length() (uint64, error) {
	return 0, Fatalf("%w: %s", fatfs.ErrIsDirectory, d.Name())
}

func (d *Directory) SetLength(length uint64) error {
	return Fatalf("%w: %s", fatfs.ErrIsDirectory, d.Name())
}

func (d *Directory) Read(offset uint64, dst []byte) error {
	return Fatalf("%w: %s", fatfs.ErrIsDirectory, d.Name())
}

func (d *Directory) Write(offset uint64, src []byte) error {
	return Fatalf("%w: %s", fatfs.ErrIsDirectory, d.Name())
}

func (d *Directory) Close() error {
	return nil
}

func (d *Directory) CreateFile(name string) (fatfs.Entry, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	entry, err := d.addEntry(name, fatfs.AttrArchive)
	if err != nil {
		return nil, Fatal(err)
	}
	return &File{node: node{fs: d.fs, entry: entry}}, nil
}

// CreateDirectory writes the new directory with its dot entries before
// linking it into this one.
func (d *Directory) CreateDirectory(name string) (fatfs.Entry, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	entry, err := d.addEntry(name, fatfs.AttrDirectory)
	if err != nil {
		return nil, Fatal(err)
	}
	return &Directory{node{fs: d.fs, entry: entry}}, nil
}

func (d *Directory) addEntry(name string, attr fatfs.DirectoryAttr) (*dirent, error) {
	if err := d.writable(); err != nil {
		return nil, err
	}
	table, err := d.fs.tableOf(d.entry)
	if err != nil {
		return nil, Fatal(err)
	}
	name, err = validateName(name)
	if err != nil {
		return nil, Fatal(err)
	}
	if table.find(name, nil) != nil {
		return nil, Fatalf("%w: %s", fatfs.ErrExist, name)
	}
	short, ntCase, err := shortName(name, table.taken(nil))
	if err != nil {
		return nil, Fatal(err)
	}
	now := time.Now()
	entry := &dirent{
		name:     name,
		short:    short,
		attr:     attr,
		ntCase:   ntCase,
		created:  now,
		modified: now,
		accessed: now,
	}
	if attr.Has(fatfs.AttrDirectory) {
		if err := d.fs.newTable(entry, table.parentRef(), now); err != nil {
			return nil, Fatal(err)
		}
	}
	table.add(entry)
	if err := table.write(); err != nil {
		table.remove(entry)
		if sub, ok := d.fs.tables[entry.cluster]; ok && attr.Has(fatfs.AttrDirectory) {
			delete(d.fs.tables, entry.cluster)
			if _, ferr := d.fs.fat.Free(sub.chain, uint32(len(sub.chain))); ferr != nil {
				log.Warnf("leaked cluster %d: %v", entry.cluster, ferr)
			}
		}
		return nil, Fatal(err)
	}
	return entry, nil
}

// newTable allocates and writes an empty directory owned by entry.
func (fs *FileSystem) newTable(entry *dirent, parent uint32, now time.Time) error {
	chain, err := fs.io.resize(nil, 1, true)
	if err != nil {
		return Fatal(err)
	}
	entry.cluster = chain[0]
	sub := &dirTable{fs: fs, owner: entry, chain: chain}
	sub.add(&dirent{
		kind:     kindDot,
		name:     ".",
		short:    shortKey(".", ""),
		attr:     fatfs.AttrDirectory,
		created:  now,
		modified: now,
		accessed: now,
		cluster:  entry.cluster,
	})
	sub.add(&dirent{
		kind:     kindDotDot,
		name:     "..",
		short:    shortKey("..", ""),
		attr:     fatfs.AttrDirectory,
		created:  now,
		modified: now,
		accessed: now,
		cluster:  parent,
	})
	if err := sub.write(); err != nil {
		if _, ferr := fs.fat.Free(chain, uint32(len(chain))); ferr != nil {
			log.Warnf("leaked cluster %d: %v", entry.cluster, ferr)
		}
		return Fatal(err)
	}
	fs.tables[entry.cluster] = sub
	return nil
}
