package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/cmd/ccgctl/commands"
	"github.com/DabengBa/ccg-gateway/internal/config"
	"github.com/DabengBa/ccg-gateway/internal/database"
)

var (
	cfgDir     string
	dbURL      string
	outputJSON bool
	verbose    bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ccgctl",
		Short: "ccg-gateway management CLI",
		Long: `Manage ccg-gateway providers and inspect usage directly in the gateway database.
The database is taken from --db-url, or from the gateway configuration (config.yaml, DATABASE_URL).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database URL or SQLite path")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	ctx := context.Background()
	rootCmd.AddCommand(commands.NewProviderCommand(ctx))
	rootCmd.AddCommand(commands.NewUsageCommand(ctx))
	rootCmd.AddCommand(commands.NewConfigCommand())

	return rootCmd
}

func initConfig() error {
	_ = godotenv.Load()

	commands.SetOutputJSON(outputJSON)

	cfg, err := config.Load(cfgDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	commands.SetConfig(cfg)

	if verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			commands.SetLogger(l)
		}
	}

	dsn := dbURL
	if dsn == "" {
		dsn = cfg.Database.URL
	}
	db, err := database.Open(&database.Config{DSN: dsn})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	commands.SetDB(db)

	return nil
}
