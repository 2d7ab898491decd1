package commands

import (
	"fmt"

	"hive/pkg/exporter"
	"hive/pkg/types"

	"github.com/spf13/cobra"
)

var exportNested bool

var exportCmd = &cobra.Command{
	Use:   "export [name[:tag] | hash] [dir]",
	Short: "Materialize a manifest or tree into an empty directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h := Hive.Hive

		// 1. 先按 Manifest 解析，失败再当作哈希
		var root types.ObjectID
		if key, err := resolveKey(ctx, h.Manifests(), args[0]); err == nil {
			m, err := h.Manifests().Get(ctx, key)
			if err != nil {
				return err
			}
			root = m.RootID()
		} else if root, err = resolveObject(ctx, args[0]); err != nil {
			return fmt.Errorf("cannot resolve %q: %w", args[0], err)
		}

		// 2. 导出
		var files int
		var total int64
		exp := exporter.NewExporter(h.Objects()).OnRestore(func(path string, id types.ObjectID, size int64) {
			files++
			total += size
		})
		var refs exporter.ReferenceHandler
		if exportNested {
			refs = exp.Nested(h.Manifests())
		}
		if err := exp.ExportTree(ctx, root, args[1], refs); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("✅ Exported %d files (%s) to %s\n", files, formatBytes(total), args[1])
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportNested, "nested", false, "also export manifests referenced from the tree")
	rootCmd.AddCommand(exportCmd)
}
