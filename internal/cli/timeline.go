package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unijord/mortable/pkg/timeline"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "list the table's instants and their lifecycle states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := timeline.OpenBoltStore(filepath.Join(viper.GetString("table-dir"), "timeline.db"))
		if err != nil {
			return fmt.Errorf("open timeline: %w", err)
		}
		defer store.Close()

		instants, err := store.Instants()
		if err != nil {
			return err
		}

		for _, instant := range instants {
			rec, err := store.Get(instant)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}

			written, failed := 0, 0
			for _, meta := range rec.Metadata {
				written += meta.TotalWritten
				failed += meta.TotalFailed
			}
			fmt.Printf("%s\t%s\twriters=%d\twritten=%d\trejected=%d\n",
				instant.String(), rec.State.String(), len(rec.Writers), written, failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(timelineCmd)
}
