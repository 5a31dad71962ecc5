package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func (a *app) infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "show volume geometry and free space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(true)
			if err != nil {
				return err
			}
			info, err := v.fs.Info()
			if err != nil {
				v.close(cmd.OutOrStdout())
				return err
			}
			free, err := v.fs.FreeSpace()
			if err != nil {
				v.close(cmd.OutOrStdout())
				return err
			}
			info["free_bytes"] = free
			keys := make([]string, 0, len(info))
			for key := range info {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			out := cmd.OutOrStdout()
			for _, key := range keys {
				fmt.Fprintf(out, "%s: %v\n", key, info[key])
			}
			return v.close(out)
		},
	}
	return cmd
}
