package commands

import (
	"fmt"

	"hive/pkg/hive"
	"hive/pkg/transfer"
	"hive/pkg/types"

	"github.com/spf13/cobra"
)

var (
	copyFrom         string
	copyObjects      []string
	copyAllowMissing bool
	copyAllowPartial bool
)

var copyCmd = &cobra.Command{
	Use:   "copy --from [hive] [name[:tag]...]",
	Short: "Copy manifests and objects from another local hive",
	Long: `Copy the given manifests, everything they reference and any --object into this hive.
Without arguments the whole source hive is copied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h := Hive.Hive

		// 1. 打开源 hive，使用默认的磁盘后端
		src, err := hive.Open(copyFrom, hive.Options{Lock: h.LockOptions()})
		if err != nil {
			return fmt.Errorf("open source hive: %w", err)
		}
		defer src.Close()

		keys, err := resolveKeys(ctx, src.Manifests(), args)
		if err != nil {
			return err
		}
		ids, err := expandObjects(cmd, src, copyObjects)
		if err != nil {
			return err
		}

		// 2. 复制
		stats, err := hive.Execute(ctx, h, transfer.Copy{
			Source:       src.Env(),
			Manifests:    keys,
			ObjectIDs:    ids,
			AllowMissing: copyAllowMissing,
			AllowPartial: copyAllowPartial,
			Concurrency:  Hive.Concurrency,
			LockOptions:  h.LockOptions(),
		})
		if err != nil {
			return fmt.Errorf("copy failed: %w", err)
		}
		printStats(stats)
		return nil
	},
}

func expandObjects(cmd *cobra.Command, src *hive.Hive, args []string) ([]types.ObjectID, error) {
	ids := make([]types.ObjectID, 0, len(args))
	for _, s := range args {
		id, err := src.Objects().ExpandHash(cmd.Context(), types.HashPrefix(s))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printStats(s *transfer.Stats) {
	fmt.Printf("✅ Objects: %d new (%s), %d already present. Manifests: %d new, %d already present.\n",
		s.ObjectsInserted, formatBytes(s.Bytes), s.ObjectsSkipped, s.ManifestsInserted, s.ManifestsSkipped)
}

func init() {
	copyCmd.Flags().StringVar(&copyFrom, "from", "", "source hive directory")
	copyCmd.Flags().StringArrayVar(&copyObjects, "object", nil, "additionally copy this object (short hash allowed), repeatable")
	copyCmd.Flags().BoolVar(&copyAllowMissing, "allow-missing", false, "skip objects and manifests missing in the source")
	copyCmd.Flags().BoolVar(&copyAllowPartial, "allow-partial", false, "do not check that copied manifests are complete")
	_ = copyCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(copyCmd)
}
