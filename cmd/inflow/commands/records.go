package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// RecordsCmd represents the records command
var RecordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage record definitions",
	Long: `records — Manage record definitions

Record definitions are the schemas imported record items are matched
against. Items whose fields overlap no definition get a proposed one in
their classification; register it here to accept the proposal.

Examples:
  inflow records list
  inflow records define contact --fields name,email,phone`,
}

var defineFieldsFlag []string

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List record definitions",
	RunE:  runRecordsList,
}

var recordsDefineCmd = &cobra.Command{
	Use:   "define <name>",
	Short: "Register a new record definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsDefine,
}

func init() {
	recordsDefineCmd.Flags().StringSliceVar(&defineFieldsFlag, "fields", nil, "Field names for the definition")

	RecordsCmd.AddCommand(recordsListCmd)
	RecordsCmd.AddCommand(recordsDefineCmd)
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	definitions, err := a.records.ListDefinitions(context.Background())
	if err != nil {
		return err
	}
	if len(definitions) == 0 {
		fmt.Println("No record definitions")
		return nil
	}
	for _, def := range definitions {
		fmt.Printf("%s  %-20s [%s]\n", def.ID, def.Name, strings.Join(def.Fields, ", "))
	}
	return nil
}

func runRecordsDefine(cmd *cobra.Command, args []string) error {
	if len(defineFieldsFlag) == 0 {
		return fmt.Errorf("at least one --fields entry is required")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	def, err := a.records.CreateDefinition(context.Background(), args[0], defineFieldsFlag)
	if err != nil {
		return err
	}
	fmt.Printf("Definition created: %s (%s)\n", def.Name, def.ID)
	return nil
}
