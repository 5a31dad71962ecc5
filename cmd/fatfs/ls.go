package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rstms/fatfs"
)

type shortNamer interface {
	ShortName() string
}

func attrString(entry fatfs.Entry) string {
	attributed, ok := entry.(fatfs.Attributed)
	if !ok {
		return "----"
	}
	attr := attributed.Attr()
	flags := []byte("----")
	for i, bit := range []struct {
		flag fatfs.DirectoryAttr
		c    byte
	}{
		{fatfs.AttrDirectory, 'd'},
		{fatfs.AttrReadOnly, 'r'},
		{fatfs.AttrHidden, 'h'},
		{fatfs.AttrSystem, 's'},
	} {
		if attr.Has(bit.flag) {
			flags[i] = bit.c
		}
	}
	return string(flags)
}

func printEntry(out io.Writer, entry fatfs.Entry, long bool) error {
	if !long {
		fmt.Fprintln(out, entry.Name())
		return nil
	}
	var size uint64
	if !entry.IsDirectory() {
		var err error
		size, err = entry.Length()
		if err != nil {
			return err
		}
	}
	short := ""
	if namer, ok := entry.(shortNamer); ok {
		short = namer.ShortName()
	}
	fmt.Fprintf(out, "%s %10d %-12s %s\n", attrString(entry), size, short, entry.Name())
	return nil
}

func (a *app) lsCmd() *cobra.Command {
	var long, recursive bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "list a directory of the volume",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pathname := "/"
			if len(args) > 0 {
				pathname = args[0]
			}
			v, err := a.open(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := list(out, v, pathname, long, recursive); err != nil {
				v.close(out)
				return err
			}
			return v.close(out)
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show attributes, size and short name")
	cmd.Flags().BoolVarP(&recursive, "recursive", "R", false, "list subdirectories too")
	return cmd
}

func list(out io.Writer, v *volume, pathname string, long, recursive bool) error {
	entry, err := v.lookup(pathname)
	if err != nil {
		return err
	}
	if !entry.IsDirectory() {
		return printEntry(out, entry, long)
	}
	if recursive {
		return fatfs.Walk(entry, func(pathname string, e fatfs.Entry) error {
			if pathname == "" {
				return nil
			}
			if !long {
				fmt.Fprintln(out, pathname)
				return nil
			}
			return printEntry(out, e, true)
		})
	}
	children, err := entry.ListFiles()
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := printEntry(out, child, long); err != nil {
			return err
		}
	}
	return nil
}
