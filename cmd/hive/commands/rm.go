package commands

import (
	"fmt"

	"hive/pkg/hive"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm [name:tag...]",
	Short: "Remove manifests",
	Long:  `Delete manifest records. Objects stay in the store until the next 'hive prune'.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h := Hive.Hive

		keys, err := resolveKeys(ctx, h.Manifests(), args)
		if err != nil {
			return err
		}
		removed, err := hive.Execute(ctx, h, hive.DeleteManifests{Keys: keys})
		if err != nil {
			return err
		}
		for _, k := range removed {
			fmt.Printf("Removed: %s\n", k)
		}
		fmt.Printf("✅ Removed %d manifests. Run 'hive prune' to reclaim space.\n", len(removed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
