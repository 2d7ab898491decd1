package commands

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"hive/pkg/core"
	"hive/pkg/hive"
	"hive/pkg/ingester"
	"hive/pkg/manifest"

	"github.com/spf13/cobra"
)

var (
	importLabels    []string
	importSkipEmpty bool
	importNoIgnore  bool
	importOverwrite bool
)

var importCmd = &cobra.Command{
	Use:   "import [dir] [name[:tag]]",
	Short: "Import a directory and record it as a manifest",
	Long: `Store every file under dir as a blob, build the tree and insert a manifest pointing at it.
Without a tag the next numeric version of name is used.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h := Hive.Hive
		start := time.Now()

		labels, err := parseLabels(importLabels)
		if err != nil {
			return err
		}

		// 1. 确定 Key
		key, err := importKey(cmd, args[1])
		if err != nil {
			return err
		}

		// 2. 导入目录
		root, err := hive.Execute(ctx, h, ingester.Import{
			Path:          args[0],
			SkipEmpty:     importSkipEmpty,
			UseIgnoreFile: !importNoIgnore,
			Concurrency:   Hive.Concurrency,
		})
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		// 3. 构建并插入 Manifest
		b := core.NewManifestBuilder(key).SetRoot(root)
		names := make([]string, 0, len(labels))
		for k := range labels {
			names = append(names, k)
		}
		slices.Sort(names)
		for _, k := range names {
			b.AddLabel(k, labels[k])
		}
		m, err := b.Build()
		if err != nil {
			return err
		}
		if _, err := hive.Execute(ctx, h, hive.InsertManifest{Manifest: m, Overwrite: importOverwrite, Audit: true}); err != nil {
			return fmt.Errorf("insert manifest: %w", err)
		}

		fmt.Printf("✅ %s -> %s (%s)\n", key, root.Short(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func importKey(cmd *cobra.Command, s string) (core.ManifestKey, error) {
	if strings.Contains(s, ":") {
		return core.ParseManifestKey(s)
	}
	tag, err := manifest.NextTag(cmd.Context(), Hive.Hive.Manifests(), s)
	if err != nil {
		return core.ManifestKey{}, err
	}
	key := core.NewManifestKey(s, tag)
	return key, key.Validate()
}

func init() {
	importCmd.Flags().StringArrayVarP(&importLabels, "label", "l", nil, "attach a label (key=value), repeatable")
	importCmd.Flags().BoolVar(&importSkipEmpty, "skip-empty", false, "omit directories without files")
	importCmd.Flags().BoolVar(&importNoIgnore, "no-ignore", false, "do not read .hiveignore or apply default ignore rules")
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "replace an existing manifest with the same key")
	rootCmd.AddCommand(importCmd)
}
