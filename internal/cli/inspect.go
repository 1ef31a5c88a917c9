package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unijord/mortable/pkg/deltalog"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <segment.log>",
	Short: "dump the entries of one delta log segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("payloads")

		scan, err := deltalog.Scan(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("segment: %s\n", scan.Path)
		fmt.Printf("sealed: %v  entries: %d  torn: %v\n", scan.Sealed, scan.EntryCount, scan.Torn)
		for _, entry := range scan.Entries {
			if verbose {
				fmt.Printf("  %08x  %s  %s\n", entry.Offset, entry.Key, entry.Payload)
			} else {
				fmt.Printf("  %08x  %s  (%d bytes)\n", entry.Offset, entry.Key, len(entry.Payload))
			}
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().Bool("payloads", false, "print raw payload bytes per entry")
	rootCmd.AddCommand(inspectCmd)
}
