package commands

import (
	"fmt"

	"hive/pkg/hive"
	"hive/pkg/prune"

	"github.com/spf13/cobra"
)

var pruneDryRun bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete objects no manifest can reach",
	Long:  `Remove every object that is neither reachable from a manifest nor marked by an ongoing transfer.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := Hive.Hive
		res, err := hive.Execute(cmd.Context(), h, prune.Operation{
			DryRun:      pruneDryRun,
			Concurrency: Hive.Concurrency,
			LockOptions: h.LockOptions(),
		})
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}

		verb := "Removed"
		if pruneDryRun {
			verb = "Would remove"
		}
		fmt.Printf("✅ %s %d objects (%s). %d reachable, %d marked.\n",
			verb, len(res.Removed), formatBytes(res.Reclaimed()), res.Reachable, res.Marked)
		return nil
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "only report what would be removed")
	rootCmd.AddCommand(pruneCmd)
}
