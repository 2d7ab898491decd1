package commands

import (
	"fmt"

	"hive/pkg/app"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a hive",
	Long:  `Create the directory layout of an empty hive. Running it on an existing hive is harmless.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.InitApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize hive: %w", err)
		}
		Hive = a

		fmt.Printf("✅ Initialized hive in %s\n", a.Hive.Root())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
