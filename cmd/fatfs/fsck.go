package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rstms/fatfs"
	"github.com/rstms/fatfs/fat"
)

func (a *app) fsckFreeCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "fsck-free",
		Short: "compare the stored free cluster count with the allocation table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trust := fat.TrustFreeCount
			v, err := a.openWith(!fix, &trust)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := checkFree(cmd, v, fix); err != nil {
				v.close(out)
				return err
			}
			return v.close(out)
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "store the counted value")
	return cmd
}

func checkFree(cmd *cobra.Command, v *volume, fix bool) error {
	out := cmd.OutOrStdout()
	info := v.fs.FsInfo()
	if info == nil {
		fmt.Fprintln(out, "no valid fs info sector; free space is always counted")
		return nil
	}
	stored := "unknown"
	if info.FreeCountKnown() {
		stored = fmt.Sprint(info.FreeClusterCount())
	}
	counted, err := v.fs.Rescan()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "stored: %s\ncounted: %d\n", stored, counted)
	if stored == fmt.Sprint(counted) {
		fmt.Fprintln(out, "free count ok")
		return nil
	}
	if !fix {
		return fatfs.Fatalf("%w: free count mismatch", fatfs.ErrInvalidStructure)
	}
	fmt.Fprintln(out, "free count fixed")
	return nil
}
