package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inflow-io/inflow/config"
	"github.com/inflow-io/inflow/db"
	"github.com/inflow-io/inflow/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the inflow database",
	Long: `db — Manage inflow database operations

Examples:
  inflow db migrate   # Apply pending schema migrations
  inflow db stats     # Show import pipeline statistics`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show import pipeline statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return err
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return err
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n\n", dbPath)

	tables := []struct {
		label string
		query string
	}{
		{"Import sessions", "SELECT COUNT(*) FROM import_sessions"},
		{"Plans compiled", "SELECT COUNT(*) FROM import_plans"},
		{"Classifications", "SELECT COUNT(*) FROM plan_classifications"},
		{"  unresolved", "SELECT COUNT(*) FROM plan_classifications WHERE outcome IN ('ambiguous','unclassified') AND resolution IS NULL"},
		{"Executions", "SELECT COUNT(*) FROM import_executions"},
		{"Hierarchy nodes", "SELECT COUNT(*) FROM nodes"},
		{"Actions", "SELECT COUNT(*) FROM actions"},
		{"Records", "SELECT COUNT(*) FROM records"},
		{"Events emitted", "SELECT COUNT(*) FROM events"},
		{"Fact kinds", "SELECT COUNT(*) FROM fact_kinds"},
		{"Sync mappings", "SELECT COUNT(*) FROM sync_mappings"},
	}
	for _, t := range tables {
		var count int
		if err := database.QueryRow(t.query).Scan(&count); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to query %s: %w", t.label, err)
		}
		fmt.Printf("%-18s %d\n", t.label+":", count)
	}

	// Event breakdown by type
	rows, err := database.Query(`SELECT event_type, COUNT(*) FROM events GROUP BY event_type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return fmt.Errorf("failed to query event breakdown: %w", err)
	}
	defer rows.Close()

	first := true
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return fmt.Errorf("failed to scan event breakdown: %w", err)
		}
		if first {
			fmt.Printf("\nEvents by type:\n")
			first = false
		}
		fmt.Printf("  %-18s %d\n", eventType, count)
	}
	return rows.Err()
}
