package commands

import (
	"fmt"

	"hive/pkg/hive"

	"github.com/spf13/cobra"
)

var keepLast int

var keepCmd = &cobra.Command{
	Use:   "keep [name]",
	Short: "Keep only the newest numeric versions",
	Long:  `Delete all but the newest --last numeric tags of name (or of every name). Non-numeric tags are left alone.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) > 0 {
			name = args[0]
		}
		removed, err := hive.Execute(cmd.Context(), Hive.Hive, hive.KeepLast{Name: name, Keep: keepLast})
		if err != nil {
			return err
		}
		for _, k := range removed {
			fmt.Printf("Removed: %s\n", k)
		}
		fmt.Printf("✅ Removed %d old versions.\n", len(removed))
		return nil
	},
}

func init() {
	keepCmd.Flags().IntVarP(&keepLast, "last", "n", 5, "number of versions to keep per name")
	rootCmd.AddCommand(keepCmd)
}
