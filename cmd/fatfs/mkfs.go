package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rstms/fatfs"
	"github.com/rstms/fatfs/fat"
)

func (a *app) mkfsCmd() *cobra.Command {
	var (
		size              int64
		label             string
		oem               string
		sectorsPerCluster uint8
	)
	cmd := &cobra.Command{
		Use:   "mkfs",
		Short: "format the image or device as FAT32",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := a.imagePath()
			if err != nil {
				return err
			}
			if size > 0 {
				if err := createImageFile(image, size); err != nil {
					return err
				}
			}
			disk, err := fatfs.OpenDevice(image, false)
			if err != nil {
				return err
			}
			defer disk.Close()
			err = fat.Format(disk, fat.FormatConfig{
				Label:             label,
				OEMName:           oem,
				SectorsPerCluster: sectorsPerCluster,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "formatted %s: %d bytes\n", image, disk.Size())
			return disk.Close()
		},
	}
	cmd.Flags().Int64Var(&size, "size", 0, "create or resize the image file to this many bytes first")
	cmd.Flags().StringVar(&label, "label", "", "volume label")
	cmd.Flags().StringVar(&oem, "oem", "", "OEM name in the boot sector")
	cmd.Flags().Uint8Var(&sectorsPerCluster, "sectors-per-cluster", 0, "cluster size in sectors (default by volume size)")
	return cmd
}

func createImageFile(image string, size int64) error {
	f, err := os.OpenFile(image, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fatfs.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fatfs.Fatal(err)
	}
	return fatfs.Fatal(f.Close())
}
