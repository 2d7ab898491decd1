package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"hive/pkg/exporter"
	"hive/pkg/hive"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List manifests",
	Long:  `List manifests whose name lies under prefix ('/'-separated segments). Without prefix all manifests are listed.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h := Hive.Hive

		var prefix string
		if len(args) > 0 {
			prefix = args[0]
		}
		keys, err := hive.Execute(ctx, h, hive.ListManifests{Prefix: prefix})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No manifests.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tROOT\tLABELS")
		for _, k := range keys {
			m, err := h.Manifests().Get(ctx, k)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", k, m.RootID().Short(), exporter.LabelLine(m))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
