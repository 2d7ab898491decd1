package commands

import (
	"errors"
	"fmt"

	"hive/pkg/fsck"
	"hive/pkg/hive"

	"github.com/spf13/cobra"
)

var fsckRepair bool

// errUnclean 让进程以非零状态退出
var errUnclean = errors.New("hive is not consistent")

var fsckCmd = &cobra.Command{
	Use:   "fsck [name:tag...]",
	Short: "Check manifests and objects for consistency",
	Long: `Scan the given manifests (default: all) for missing or unreadable objects and re-hash every reachable object.
With --repair broken manifests and damaged objects are removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h := Hive.Hive

		keys, err := resolveKeys(ctx, h.Manifests(), args)
		if err != nil {
			return err
		}
		res, err := hive.Execute(ctx, h, fsck.Operation{
			Manifests:   keys,
			Repair:      fsckRepair,
			Concurrency: Hive.Concurrency,
		})
		if err != nil {
			return fmt.Errorf("fsck failed: %w", err)
		}

		for _, b := range res.Broken {
			fmt.Println("❌", b)
		}
		for _, k := range res.RemovedManifests {
			fmt.Println("🗑️  removed manifest", k)
		}
		for _, id := range res.RemovedObjects {
			fmt.Println("🗑️  removed object", id.Short())
		}
		fmt.Printf("Checked %d objects.\n", res.Checked)

		if !res.Clean() && !fsckRepair {
			fmt.Println("⚠️  Run 'hive fsck --repair' to remove broken manifests.")
			return errUnclean
		}
		fmt.Println("✅ OK")
		return nil
	},
}

func init() {
	fsckCmd.Flags().BoolVar(&fsckRepair, "repair", false, "remove broken manifests and damaged objects")
	rootCmd.AddCommand(fsckCmd)
}
