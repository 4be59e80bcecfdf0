// Command needful runs the NeedFul API server and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/needful-app/needful/internal/config"
	"github.com/needful-app/needful/internal/logging"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "needful",
	Short: "NeedFul local services directory API",
	Long: `needful serves the NeedFul REST API on top of Supabase: the public
directory, provider dashboard, stories feed, reviews and the admin console.

Configuration is read from config/needful.yaml (or --config) and overridden
by environment variables. A .env file in the working directory is loaded
first when present.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger = logging.New(logging.Options{
			Service: "needful",
			Level:   cfg.Log.Level,
			Format:  cfg.Log.Format,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: config/needful.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	jobsCmd.AddCommand(jobsRunCmd)
	jobsCmd.AddCommand(jobsListCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
