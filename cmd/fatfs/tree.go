package main

import (
	"errors"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rstms/fatfs"
)

func (a *app) mkdirCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir path...",
		Short: "create directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, arg := range args {
				if err := mkdir(v.root, arg, parents); err != nil {
					v.close(out)
					return err
				}
			}
			return v.close(out)
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parents, no error if existing")
	return cmd
}

func mkdir(root fatfs.Entry, pathname string, parents bool) error {
	if parents {
		_, err := fatfs.MkdirAll(root, pathname)
		return err
	}
	parent, name := path.Split(strings.TrimRight(pathname, "/"))
	dir, err := fatfs.Lookup(root, parent)
	if err != nil {
		return err
	}
	_, err = dir.CreateDirectory(name)
	return err
}

func (a *app) rmCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm path...",
		Short: "delete files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, arg := range args {
				if err := remove(v, arg, recursive); err != nil {
					v.close(out)
					return err
				}
			}
			return v.close(out)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete directories and their contents")
	return cmd
}

func remove(v *volume, pathname string, recursive bool) error {
	entry, err := v.lookup(pathname)
	if err != nil {
		return err
	}
	if entry.IsDirectory() && !recursive {
		children, err := entry.List()
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fatfs.Fatalf("%w: %s is not empty", fatfs.ErrInvalidOperation, pathname)
		}
	}
	return entry.Delete()
}

func (a *app) mvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv source dest",
		Short: "move or rename an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := move(v, args[0], args[1]); err != nil {
				v.close(out)
				return err
			}
			return v.close(out)
		},
	}
	return cmd
}

// move places source inside dest when dest is a directory, otherwise
// moves it to dest's parent under dest's name.
func move(v *volume, source, dest string) error {
	entry, err := v.lookup(source)
	if err != nil {
		return err
	}
	existing, err := fatfs.Lookup(v.root, dest)
	switch {
	case err == nil && existing.IsDirectory():
		return entry.MoveTo(existing)
	case err == nil:
		return fatfs.Fatalf("%w: %s", fatfs.ErrExist, dest)
	case !errors.Is(err, fatfs.ErrNotExist):
		return err
	}
	parent, name := path.Split(strings.TrimRight(dest, "/"))
	dir, err := fatfs.Lookup(v.root, parent)
	if err != nil {
		return err
	}
	if err := entry.MoveTo(dir); err != nil {
		return err
	}
	return entry.SetName(name)
}
