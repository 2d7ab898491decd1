package commands

import (
	"fmt"
	"log/slog"
	"os"

	"hive/pkg/app"
	"hive/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	// 全局应用实例，供子命令使用
	Hive *app.App
)

var rootCmd = &cobra.Command{
	Use:          "hive",
	Short:        "hive: content-addressed artifact store",
	SilenceUsage: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		// init 命令自己负责创建环境
		if cmd.Name() == "init" || Hive != nil {
			return nil
		}

		var err error
		Hive, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to open hive: %w\n(Did you run 'hive init'?)", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if Hive == nil {
			return nil
		}
		err := Hive.Close()
		Hive = nil
		return err
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 1. 全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hive/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	// 2. hive.path 既可以写在 yaml 里，也可以用 --hive 覆盖
	rootCmd.PersistentFlags().String("hive", "", "hive root directory")
	if err := viper.BindPFlag("hive.path", rootCmd.PersistentFlags().Lookup("hive")); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}

// setupLogging 库代码只用 slog，这里决定级别和输出位置
func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
