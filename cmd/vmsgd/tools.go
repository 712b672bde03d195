package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/spf13/cobra"
)

func newRegistryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "List the vendor messages understood",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VENDOR\tID\tVERSION\tNAME")
			for _, d := range vmsg.DefaultRegistry().Entries() {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", d.Vendor, d.Selector, d.Version, d.Name)
			}
			return w.Flush()
		},
	}
}

func newInfoStringCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infostr <hex payload>",
		Short: "Decode the sub-header of a vendor payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
			if err != nil {
				return fmt.Errorf("invalid hex payload: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), vmsg.DefaultRegistry().InfoString(payload))
			return nil
		},
	}
}
