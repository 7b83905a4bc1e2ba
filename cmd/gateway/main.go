// Command gateway runs the realtime gateway and its operator subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/realtime/internal/config"
	"github.com/xiaot623/gogo/realtime/internal/repository"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Realtime gateway for marketplace chat, support tickets and agent hand-off",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket, internal HTTP and RPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		s, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", cfg.DatabaseURL, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", cfg.DatabaseURL)
		return s.Close()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pushCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
