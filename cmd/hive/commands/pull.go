package commands

import (
	"fmt"
	"io"
	"os"

	"hive/pkg/hive"
	"hive/pkg/transfer"

	"github.com/spf13/cobra"
)

var pullMaxObject int64

var pullCmd = &cobra.Command{
	Use:   "pull [file|-]",
	Short: "Read a transfer file into this hive",
	Long:  `Insert every object and manifest of a transfer stream written by 'hive push'. '-' reads from stdin.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := Hive.Hive

		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		stats, err := hive.Execute(cmd.Context(), h, transfer.Read{
			Reader:        in,
			MaxObjectSize: pullMaxObject,
			LockOptions:   h.LockOptions(),
		})
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		printStats(stats)
		return nil
	},
}

func init() {
	pullCmd.Flags().Int64Var(&pullMaxObject, "max-object-size", 0, "reject objects larger than this many bytes (0: default limit)")
	rootCmd.AddCommand(pullCmd)
}
