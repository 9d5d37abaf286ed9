package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inflow-io/inflow/cmd/inflow/commands"
	"github.com/inflow-io/inflow/logger"
)

var rootCmd = &cobra.Command{
	Use:   "inflow",
	Short: "inflow - Import plan classification and composer engine",
	Long: `inflow - Structured import pipeline for external work trackers.

inflow ingests CSV payloads and monday.com boards into typed, versioned
import plans, classifies what each row should become, lets a human resolve
the ambiguous cases, then executes the plan into hierarchy nodes, records,
actions, and an append-only event log.

Available commands:
  session - Manage import sessions (create, plan, resolve, run)
  records - Manage record definitions
  db      - Manage database operations

Examples:
  inflow session create --source csv --file items.csv
  inflow session plan <session-id>
  inflow session run <session-id>
  inflow db stats`,
	// Runtime failures (blocked plans, missing sessions) are not usage errors
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.SessionCmd)
	rootCmd.AddCommand(commands.RecordsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
