package main

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rstms/fatfs"
)

func (a *app) catCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat path...",
		Short: "write files of the volume to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, arg := range args {
				entry, err := v.lookup(arg)
				if err != nil {
					v.close(out)
					return err
				}
				if _, err := io.Copy(out, fatfs.NewReader(entry)); err != nil {
					v.close(out)
					return err
				}
			}
			return v.close(out)
		},
	}
	return cmd
}

// target resolves where a copy named name should land: inside dest
// when dest is a directory, otherwise at dest itself.
func target(root fatfs.Entry, dest, name string) (fatfs.Entry, string, error) {
	if dest == "" || strings.HasSuffix(dest, "/") {
		dir, err := fatfs.Lookup(root, dest)
		if err != nil {
			return nil, "", err
		}
		return dir, name, nil
	}
	entry, err := fatfs.Lookup(root, dest)
	switch {
	case err == nil && entry.IsDirectory():
		return entry, name, nil
	case err == nil || errors.Is(err, fatfs.ErrNotExist):
		parent, base := path.Split(dest)
		dir, err := fatfs.Lookup(root, parent)
		if err != nil {
			return nil, "", err
		}
		return dir, base, nil
	default:
		return nil, "", err
	}
}

func child(dir fatfs.Entry, name string) (fatfs.Entry, error) {
	entry, err := fatfs.Lookup(dir, name)
	if errors.Is(err, fatfs.ErrNotExist) {
		return nil, nil
	}
	return entry, err
}

func (a *app) putCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put hostfile [dest]",
		Short: "copy a host file into the volume",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := ""
			if len(args) > 1 {
				dest = args[1]
			}
			src, err := os.Open(args[0])
			if err != nil {
				return fatfs.Fatal(err)
			}
			defer src.Close()

			v, err := a.open(false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := put(v, src, dest, filepath.Base(args[0])); err != nil {
				v.close(out)
				return err
			}
			return v.close(out)
		},
	}
	return cmd
}

func put(v *volume, src io.Reader, dest, name string) error {
	dir, name, err := target(v.root, dest, name)
	if err != nil {
		return err
	}
	file, err := child(dir, name)
	if err != nil {
		return err
	}
	if file == nil {
		file, err = dir.CreateFile(name)
		if err != nil {
			return err
		}
	} else if err := file.SetLength(0); err != nil {
		return err
	}
	defer file.Close()
	w, err := fatfs.NewWriter(file)
	if err != nil {
		return err
	}
	count, err := io.Copy(w, src)
	if err != nil {
		return err
	}
	log.Debugf("put %d bytes to %s", count, name)
	return nil
}

func (a *app) getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get path [hostpath]",
		Short: "copy a file or directory of the volume to the host",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			entry, err := v.lookup(args[0])
			if err != nil {
				v.close(out)
				return err
			}
			dest := entry.Name()
			if entry.Parent() == nil {
				dest = "."
			}
			if len(args) > 1 {
				dest = args[1]
			}
			if info, err := os.Stat(dest); err == nil && info.IsDir() {
				dest = filepath.Join(dest, entry.Name())
			}
			if err := export(entry, dest); err != nil {
				v.close(out)
				return err
			}
			return v.close(out)
		},
	}
	return cmd
}

func export(entry fatfs.Entry, dest string) error {
	return fatfs.Walk(entry, func(pathname string, e fatfs.Entry) error {
		hostPath := filepath.Join(dest, filepath.FromSlash(pathname))
		if e.IsDirectory() {
			return fatfs.Fatal(os.MkdirAll(hostPath, 0755))
		}
		return fatfs.Fatal(atomic.WriteFile(hostPath, fatfs.NewReader(e)))
	})
}
