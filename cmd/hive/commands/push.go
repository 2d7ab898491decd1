package commands

import (
	"fmt"
	"io"
	"os"

	"hive/pkg/hive"
	"hive/pkg/transfer"

	"github.com/spf13/cobra"
)

var pushObjects []string

var pushCmd = &cobra.Command{
	Use:   "push [file|-] [name[:tag]...]",
	Short: "Write manifests and their objects to a transfer file",
	Long: `Write the given manifests, every manifest they reference and all objects they need into a
gzip transfer stream. Without manifests every manifest of the hive is written. '-' writes to stdout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h := Hive.Hive

		keys, err := resolveKeys(ctx, h.Manifests(), args[1:])
		if err != nil {
			return err
		}
		if len(keys) == 0 && len(pushObjects) == 0 {
			if keys, err = h.Manifests().List(ctx, ""); err != nil {
				return err
			}
		}
		ids, err := expandObjects(cmd, h, pushObjects)
		if err != nil {
			return err
		}

		// 1. 打开目标
		var out io.Writer = os.Stdout
		var file *os.File
		if args[0] != "-" {
			if file, err = os.Create(args[0]); err != nil {
				return err
			}
			defer file.Close()
			out = file
		}

		// 2. 写出
		stats, err := hive.Execute(ctx, h, transfer.Write{Manifests: keys, ObjectIDs: ids, Writer: out})
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		if file != nil {
			if err := file.Sync(); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stderr, "✅ Wrote %d manifests and %d objects (%s).\n",
			stats.ManifestsInserted, stats.ObjectsInserted, formatBytes(stats.Bytes))
		return nil
	},
}

func init() {
	pushCmd.Flags().StringArrayVar(&pushObjects, "object", nil, "additionally write this object (short hash allowed), repeatable")
	rootCmd.AddCommand(pushCmd)
}
