package image

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/rstms/fatfs"
)

// RewriteImage copies the tree of srcFile into a freshly formatted
// dstFile of the given size, keeping the label, OEM name and the
// hidden, system and read-only attributes. A size of zero reuses the
// source size.
func RewriteImage(dstFile, srcFile string, size int64) error {
	src, err := OpenImage(srcFile)
	if err != nil {
		return Fatal(err)
	}
	defer src.Close()
	if size == 0 {
		info, err := os.Stat(srcFile)
		if err != nil {
			return Fatal(err)
		}
		size = info.Size()
	}
	dst, err := rewrite(dstFile, src, size)
	if err != nil {
		return Fatal(err)
	}
	return dst.Close()
}

func rewrite(dstFile string, src *Image, size int64) (*Image, error) {
	volume, err := src.VolumeLabel()
	if err != nil {
		return nil, Fatal(err)
	}
	oem, err := src.OEMName()
	if err != nil {
		return nil, Fatal(err)
	}
	records, err := src.ScanFiles()
	if err != nil {
		return nil, Fatal(err)
	}

	dst, err := CreateImage(dstFile, volume, oem, size)
	if err != nil {
		return nil, Fatal(err)
	}
	err = copyTree(dst, src, records)
	if err != nil {
		dst.Close()
		return nil, Fatal(err)
	}
	return dst, nil
}

func copyTree(dst, src *Image, records []FileRecord) error {
	srcRoot, err := src.root()
	if err != nil {
		return Fatal(err)
	}
	dstRoot, err := dst.root()
	if err != nil {
		return Fatal(err)
	}
	children, err := srcRoot.ListFiles()
	if err != nil {
		return Fatal(err)
	}
	for _, child := range children {
		if _, err := fatfs.Copy(dstRoot, child); err != nil {
			return Fatal(err)
		}
	}
	for _, record := range records {
		for _, attr := range []struct {
			flag  fatfs.DirectoryAttr
			state bool
		}{
			{fatfs.AttrSystem, record.System},
			{fatfs.AttrHidden, record.Hidden},
			{fatfs.AttrReadOnly, record.ReadOnly},
		} {
			if !attr.state {
				continue
			}
			err := dst.SetAttr(record.Name, attr.flag, true)
			if err != nil {
				return Fatal(err)
			}
		}
	}
	log.Debugf("copied %d entries from %s to %s", len(records), src.Filename, dst.Filename)
	return nil
}

// MungeImage rewrites srcFile into dstFile and adds the host files
// to the root directory, sizing the new image to fit them.
func MungeImage(dstFilename, srcFilename string, files []string) error {
	info, err := os.Stat(srcFilename)
	if err != nil {
		return Fatal(err)
	}
	dstSize := info.Size()
	for _, filename := range files {
		info, err := os.Stat(filename)
		if err != nil {
			return Fatal(err)
		}
		dstSize += info.Size() + int64(PAD_BYTES)
	}

	srcImage, err := OpenImage(srcFilename)
	if err != nil {
		return Fatal(err)
	}
	defer srcImage.Close()

	dstImage, err := rewrite(dstFilename, srcImage, dstSize)
	if err != nil {
		return Fatal(err)
	}
	defer dstImage.Close()

	for _, filename := range files {
		_, name := filepath.Split(filename)
		err := dstImage.AddFile(name, filename)
		if err != nil {
			return Fatal(err)
		}
	}
	return dstImage.Close()
}
