package commands

import (
	"fmt"
	"os"
	"strings"

	"hive/pkg/exporter"

	"github.com/spf13/cobra"
)

var catRaw bool

var catCmd = &cobra.Command{
	Use:   "cat [hash | name:tag]",
	Short: "Show an object or a manifest",
	Long: `Pretty-print the object behind a (short) hash, or a manifest given as name:tag.
With --raw the object bytes are written to stdout unchanged, so blobs can be redirected to a file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h := Hive.Hive

		// 1. name:tag 形式按 Manifest 处理
		if strings.Contains(args[0], ":") {
			key, err := resolveKey(ctx, h.Manifests(), args[0])
			if err != nil {
				return err
			}
			m, err := h.Manifests().Get(ctx, key)
			if err != nil {
				return err
			}
			exporter.PrintManifest(m, os.Stdout)
			return nil
		}

		// 2. 否则是对象，支持短哈希
		id, err := resolveObject(ctx, args[0])
		if err != nil {
			return fmt.Errorf("invalid object %q: %w", args[0], err)
		}
		if catRaw {
			_, err = exporter.NewExporter(h.Objects()).ExportFile(ctx, id, os.Stdout)
			return err
		}
		return exporter.PrintObject(ctx, h.Objects(), id, os.Stdout)
	},
}

func init() {
	catCmd.Flags().BoolVar(&catRaw, "raw", false, "write raw object bytes")
	rootCmd.AddCommand(catCmd)
}
