package image

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/rstms/fatfs"
	"github.com/rstms/fatfs/fat"
)

const MB = 1024 * 1024

// PAD_BYTES is the slack added per file when sizing a new image.
const PAD_BYTES = 4096

// minImageSize is the smallest image CreateImage will make.
const minImageSize = MB

type FileRecord struct {
	Name      string
	ShortName string
	Size      uint64
	Dir       bool
	Hidden    bool
	System    bool
	ReadOnly  bool
	Archive   bool
}

// Image is a FAT32 volume held in a regular file.
type Image struct {
	Filename string
	file     afero.File
	disk     *fatfs.FileDisk
	fs       *fat.FileSystem
}

func OpenImage(filename string) (*Image, error) {
	return OpenImageFs(afero.NewOsFs(), filename, fat.MountOptions{})
}

// OpenImageFs mounts the image filename found on host.
func OpenImageFs(host afero.Fs, filename string, opts fat.MountOptions) (*Image, error) {
	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	i := Image{Filename: filename}
	var err error
	i.file, err = host.OpenFile(filename, flag, 0600)
	if err != nil {
		return nil, Fatal(err)
	}
	if err := i.mount(opts); err != nil {
		i.closeFile()
		return nil, Fatal(err)
	}
	return &i, nil
}

func CreateImage(filename, label, oem string, size int64) (*Image, error) {
	return CreateImageFs(afero.NewOsFs(), filename, label, oem, size)
}

// CreateImageFs creates or truncates filename on host and formats it.
func CreateImageFs(host afero.Fs, filename, label, oem string, size int64) (*Image, error) {
	i := Image{Filename: filename}
	err := i.createImageFile(host, size)
	if err != nil {
		return nil, Fatal(err)
	}
	i.disk, err = fatfs.NewFileDisk(i.file)
	if err != nil {
		i.closeFile()
		return nil, Fatal(err)
	}
	err = fat.Format(i.disk, fat.FormatConfig{Label: label, OEMName: oem})
	if err != nil {
		i.closeFile()
		return nil, Fatal(err)
	}
	if err := i.mount(fat.MountOptions{}); err != nil {
		i.closeFile()
		return nil, Fatal(err)
	}
	return &i, nil
}

func (i *Image) mount(opts fat.MountOptions) error {
	var err error
	if i.disk == nil {
		i.disk, err = fatfs.NewFileDisk(i.file)
		if err != nil {
			return Fatal(err)
		}
	}
	i.fs, err = fat.Mount(i.disk, opts)
	if err != nil {
		return Fatal(err)
	}
	return nil
}

// create, truncate, and reopen the output file
func (i *Image) createImageFile(host afero.Fs, size int64) error {
	if size < minImageSize {
		size = minImageSize
	}
	if size%int64(MB) != 0 {
		size = (size/int64(MB) + 1) * int64(MB)
	}
	log.Debugf("creating %s with %d bytes", i.Filename, size)
	var err error
	i.file, err = host.OpenFile(i.Filename, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return Fatal(err)
	}
	err = i.file.Truncate(size)
	if err != nil {
		return Fatal(err)
	}
	return nil
}

func (i *Image) closeFile() error {
	if i.file != nil {
		err := i.file.Close()
		i.file = nil
		if err != nil {
			return Fatal(err)
		}
	}
	return nil
}

func (i *Image) closeFs() error {
	if i.fs != nil {
		err := i.fs.Close()
		i.fs = nil
		if err != nil {
			return Fatal(err)
		}
	}
	return nil
}

// Close unmounts the volume and closes the image file.
func (i *Image) Close() error {
	err := i.closeFs()
	i.disk = nil
	if cerr := i.closeFile(); err == nil {
		err = cerr
	}
	return err
}

func (i *Image) Flush() error {
	return i.fs.Flush()
}

// FileSystem returns the mounted volume.
func (i *Image) FileSystem() *fat.FileSystem {
	return i.fs
}

func (i *Image) VolumeLabel() (string, error) {
	return i.fs.VolumeLabel()
}

func (i *Image) OEMName() (string, error) {
	return i.fs.OEMName(), nil
}

func (i *Image) root() (fatfs.Entry, error) {
	root, err := i.fs.RootDir()
	if err != nil {
		return nil, Fatal(err)
	}
	return root, nil
}

// lookup resolves pathname, returning a nil entry when it is missing.
func (i *Image) lookup(pathname string) (fatfs.Entry, error) {
	root, err := i.root()
	if err != nil {
		return nil, Fatal(err)
	}
	entry, err := fatfs.Lookup(root, pathname)
	if err != nil {
		if errorIsMissing(err) {
			return nil, nil
		}
		return nil, Fatal(err)
	}
	return entry, nil
}

func errorIsMissing(err error) bool {
	return errors.Is(err, fatfs.ErrNotExist) || errors.Is(err, fatfs.ErrNotDirectory)
}

func (i *Image) getEntry(pathname string) (fatfs.Entry, error) {
	entry, err := i.lookup(pathname)
	if err != nil {
		return nil, Fatal(err)
	}
	if entry == nil {
		return nil, Fatalf("%w: %s", fatfs.ErrNotExist, pathname)
	}
	return entry, nil
}

func (i *Image) getDir(pathname string) (fatfs.Entry, error) {
	entry, err := i.getEntry(pathname)
	if err != nil {
		return nil, Fatal(err)
	}
	if !entry.IsDirectory() {
		return nil, Fatalf("%w: %s", fatfs.ErrNotDirectory, pathname)
	}
	return entry, nil
}

func (i *Image) IsDir(pathname string) (bool, error) {
	entry, err := i.lookup(pathname)
	if err != nil {
		return false, Fatal(err)
	}
	return entry != nil && entry.IsDirectory(), nil
}

// Mkdir creates one directory. The parent must exist.
func (i *Image) Mkdir(pathname string) error {
	existing, err := i.lookup(pathname)
	if err != nil {
		return Fatal(err)
	}
	if existing != nil {
		return Fatalf("%w: %s", fatfs.ErrExist, pathname)
	}
	dir, name := path.Split(strings.TrimRight(toSlash(pathname), "/"))
	parent, err := i.getDir(dir)
	if err != nil {
		return Fatal(err)
	}
	_, err = parent.CreateDirectory(name)
	if err != nil {
		return Fatal(err)
	}
	return nil
}

func record(pathname string, entry fatfs.Entry) (FileRecord, error) {
	r := FileRecord{
		Name: "/" + pathname,
		Dir:  entry.IsDirectory(),
	}
	if short, ok := entry.(interface{ ShortName() string }); ok {
		r.ShortName = short.ShortName()
	}
	if !r.Dir {
		size, err := entry.Length()
		if err != nil {
			return r, Fatal(err)
		}
		r.Size = size
	}
	if attributed, ok := entry.(fatfs.Attributed); ok {
		attr := attributed.Attr()
		r.Hidden = attr.Has(fatfs.AttrHidden)
		r.System = attr.Has(fatfs.AttrSystem)
		r.ReadOnly = attr.Has(fatfs.AttrReadOnly)
		r.Archive = attr.Has(fatfs.AttrArchive)
	}
	return r, nil
}

// ScanFiles lists every file and directory of the image, parents
// before children.
func (i *Image) ScanFiles() ([]FileRecord, error) {
	records := []FileRecord{}
	root, err := i.root()
	if err != nil {
		return records, Fatal(err)
	}
	err = fatfs.Walk(root, func(pathname string, entry fatfs.Entry) error {
		if pathname == "" {
			return nil
		}
		r, err := record(pathname, entry)
		if err != nil {
			return Fatal(err)
		}
		records = append(records, r)
		return nil
	})
	if err != nil {
		return []FileRecord{}, Fatal(err)
	}
	return records, nil
}

// AddFile copies the host file srcPathname to dstPathname in the image,
// replacing the content of an existing file.
func (i *Image) AddFile(dstPathname, srcPathname string) error {
	if !IsFile(srcPathname) {
		return Fatalf("%w: %s", fatfs.ErrNotExist, srcPathname)
	}
	srcInfo, err := os.Stat(srcPathname)
	if err != nil {
		return Fatal(err)
	}
	src, err := os.Open(srcPathname)
	if err != nil {
		return Fatal(err)
	}
	defer src.Close()

	entry, err := i.createFile(dstPathname)
	if err != nil {
		return Fatal(err)
	}
	defer entry.Close()
	dst, err := fatfs.NewWriter(entry)
	if err != nil {
		return Fatal(err)
	}
	count, err := io.Copy(dst, src)
	if err != nil {
		return Fatal(err)
	}
	if count != srcInfo.Size() {
		return Fatalf("write count mismatch; expected %d, wrote %d", srcInfo.Size(), count)
	}
	log.Debugf("added %s (%d bytes)", dstPathname, count)
	return nil
}

// createFile returns an empty file at pathname, creating it if needed.
func (i *Image) createFile(pathname string) (fatfs.Entry, error) {
	dir, name := path.Split(toSlash(pathname))
	parent, err := i.getDir(dir)
	if err != nil {
		return nil, Fatal(err)
	}
	existing, err := i.lookup(pathname)
	if err != nil {
		return nil, Fatal(err)
	}
	if existing != nil {
		if existing.IsDirectory() {
			return nil, Fatalf("%w: %s", fatfs.ErrIsDirectory, pathname)
		}
		if err := existing.SetLength(0); err != nil {
			return nil, Fatal(err)
		}
		return existing, nil
	}
	entry, err := parent.CreateFile(name)
	if err != nil {
		return nil, Fatal(err)
	}
	return entry, nil
}

func (i *Image) ReadFile(filename string) ([]byte, error) {
	entry, err := i.getEntry(filename)
	if err != nil {
		return []byte{}, Fatal(err)
	}
	data, err := fatfs.ReadAll(entry)
	if err != nil {
		return []byte{}, Fatal(err)
	}
	return data, nil
}

// write all files in a directory to the image
func (i *Image) Import(filename string) error {
	err := filepath.WalkDir(filename, func(pathname string, d fs.DirEntry, err error) error {
		if err != nil {
			return Fatal(err)
		}
		if pathname == filename {
			return nil
		}
		dst, err := filepath.Rel(filename, pathname)
		if err != nil {
			return Fatal(err)
		}
		log.Debugf("import dir=%v dst=%s path=%s", d.IsDir(), dst, pathname)
		if d.IsDir() {
			isDir, err := i.IsDir(dst)
			if err != nil {
				return Fatal(err)
			}
			if isDir {
				return nil
			}
			err = i.Mkdir(dst)
			if err != nil {
				return Fatal(err)
			}
		} else {
			err := i.AddFile(dst, pathname)
			if err != nil {
				return Fatal(err)
			}
		}
		return nil
	})
	if err != nil {
		return Fatal(err)
	}
	return nil
}

// Export writes the image tree below the host directory dirname. Each
// file is replaced atomically.
func (i *Image) Export(dirname string) error {
	root, err := i.root()
	if err != nil {
		return Fatal(err)
	}
	err = fatfs.Walk(root, func(pathname string, entry fatfs.Entry) error {
		target := filepath.Join(dirname, filepath.FromSlash(pathname))
		if entry.IsDirectory() {
			if err := os.MkdirAll(target, 0700); err != nil {
				return Fatal(err)
			}
			return nil
		}
		log.Debugf("export %s", target)
		if err := atomic.WriteFile(target, fatfs.NewReader(entry)); err != nil {
			return Fatal(err)
		}
		return nil
	})
	if err != nil {
		return Fatal(err)
	}
	return nil
}

func (i *Image) attributed(filename string) (fatfs.Attributed, error) {
	entry, err := i.getEntry(filename)
	if err != nil {
		return nil, Fatal(err)
	}
	attributed, ok := entry.(fatfs.Attributed)
	if !ok {
		return nil, Fatalf("%w: %s has no attributes", fatfs.ErrInvalidOperation, filename)
	}
	return attributed, nil
}

func (i *Image) SetAttr(filename string, attr fatfs.DirectoryAttr, state bool) error {
	entry, err := i.attributed(filename)
	if err != nil {
		return Fatal(err)
	}
	err = entry.SetAttr(attr, state)
	if err != nil {
		return Fatal(err)
	}
	return nil
}

func (i *Image) GetAttr(filename string) (fatfs.DirectoryAttr, error) {
	entry, err := i.attributed(filename)
	if err != nil {
		return 0, Fatal(err)
	}
	return entry.Attr(), nil
}

func toSlash(pathname string) string {
	return filepath.ToSlash(pathname)
}
