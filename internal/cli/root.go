// Package cli holds the cobra commands of the webchat binary.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"webchat-service/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "webchat",
	Short:         "Real-time chat fan-out service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db-driver", "", "database driver (postgres or sqlite3)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string")

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cfgFile, cmd.Flags())
}
