package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Makr91/zoneweaver-api-sub001/internal/config"
	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "zoneweaverd",
	Short: "Control-plane daemon for an illumos zone and storage host",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		minilog.AddColorLogger("stderr", os.Stderr, minilog.LevelFromString(logLevel))

		if _, err := config.Load(); err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command, exiting nonzero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}
