package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inflow-io/inflow/importer"
)

// SessionCmd represents the session command
var SessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage import sessions",
	Long: `session — Manage import sessions

An import session tracks one ingestion attempt from source to execution:
create it, generate a plan, review and resolve classifications, then run.

Examples:
  inflow session create --source csv --file items.csv --target proj-1
  inflow session create --source monday --boards 123,456 --target proj-1
  inflow session plan <session-id>       # Fetch the source and compile a plan
  inflow session show <session-id>       # Show the plan and classifications
  inflow session resolve <session-id> <item> <outcome>
  inflow session run <session-id>        # Execute the plan
  inflow session executions <session-id> # List execution attempts`,
}

var (
	createSourceFlag  string
	createFileFlag    string
	createBoardsFlag  []string
	createTargetFlag  string
	createActorFlag   string
	resolveFactKind   string
	resolvePayload    []string
	showInterpFlag    bool
)

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new import session",
	RunE:  runSessionCreate,
}

var sessionPlanCmd = &cobra.Command{
	Use:   "plan <session-id>",
	Short: "Fetch the session's source and compile a classification plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionPlan,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the session's latest plan and classifications",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionResolveCmd = &cobra.Command{
	Use:   "resolve <session-id> <item-temp-id> <outcome>",
	Short: "Resolve one classification",
	Long: `Resolve one ambiguous or unclassified item.

Outcomes: fact_emitted, internal_work, derived_state, deferred, external_work

Examples:
  inflow session resolve abc123 csv-4 internal_work
  inflow session resolve abc123 csv-7 fact_emitted --fact-kind payment_received
  inflow session resolve abc123 csv-9 deferred`,
	Args: cobra.ExactArgs(3),
	RunE: runSessionResolve,
}

var sessionRunCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Execute the session's latest plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionRun,
}

var sessionExecutionsCmd = &cobra.Command{
	Use:   "executions <session-id>",
	Short: "List execution attempts for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionExecutions,
}

func init() {
	sessionCreateCmd.Flags().StringVar(&createSourceFlag, "source", "csv", "Source kind (csv or monday)")
	sessionCreateCmd.Flags().StringVar(&createFileFlag, "file", "", "CSV payload file (csv source)")
	sessionCreateCmd.Flags().StringSliceVar(&createBoardsFlag, "boards", nil, "Monday board ids (monday source)")
	sessionCreateCmd.Flags().StringVar(&createTargetFlag, "target", "", "Target container node id")
	sessionCreateCmd.Flags().StringVar(&createActorFlag, "actor", "", "Actor recorded on the session")

	sessionResolveCmd.Flags().StringVar(&resolveFactKind, "fact-kind", "", "Fact kind override (fact_emitted resolutions)")
	sessionResolveCmd.Flags().StringSliceVar(&resolvePayload, "set", nil, "Resolved payload entries as key=value")

	sessionShowCmd.Flags().BoolVar(&showInterpFlag, "interpretation", false, "Include interpretation details")

	SessionCmd.AddCommand(sessionCreateCmd)
	SessionCmd.AddCommand(sessionPlanCmd)
	SessionCmd.AddCommand(sessionShowCmd)
	SessionCmd.AddCommand(sessionResolveCmd)
	SessionCmd.AddCommand(sessionRunCmd)
	SessionCmd.AddCommand(sessionExecutionsCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	kind := importer.SourceKind(createSourceFlag)

	var rawPayload string
	var sourceConfig json.RawMessage
	switch kind {
	case importer.SourceCSV:
		if createFileFlag == "" {
			return fmt.Errorf("csv sessions require --file")
		}
		data, err := os.ReadFile(createFileFlag)
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
		rawPayload = string(data)
	case importer.SourceMonday:
		if len(createBoardsFlag) == 0 {
			return fmt.Errorf("monday sessions require --boards")
		}
		cfg, err := json.Marshal(map[string][]string{"boardIds": createBoardsFlag})
		if err != nil {
			return err
		}
		sourceConfig = cfg
	}

	session, err := a.service.CreateSession(context.Background(), kind, rawPayload, sourceConfig, createTargetFlag, createActorFlag)
	if err != nil {
		return err
	}

	fmt.Printf("Session created: %s\n", session.ID)
	fmt.Printf("  Source: %s\n", session.SourceKind)
	if session.TargetContainerID != "" {
		fmt.Printf("  Target: %s\n", session.TargetContainerID)
	}
	fmt.Printf("\nNext: inflow session plan %s\n", session.ID)
	return nil
}

func runSessionPlan(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.service.GeneratePlan(context.Background(), args[0])
	if err != nil {
		return err
	}

	total, ambiguous, unclassified := plan.UnresolvedCounts()
	fmt.Printf("Plan %s compiled\n", plan.ID)
	fmt.Printf("  Containers: %d\n", len(plan.Containers))
	fmt.Printf("  Items:      %d\n", len(plan.Items))
	if total > 0 {
		fmt.Printf("  Needs review: %d (%d ambiguous, %d unclassified)\n", total, ambiguous, unclassified)
		fmt.Printf("\nNext: inflow session show %s\n", args[0])
	} else {
		fmt.Printf("  All classifications resolved\n")
		fmt.Printf("\nNext: inflow session run %s\n", args[0])
	}
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	session, err := a.service.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	plan, err := a.service.GetLatestPlan(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%s, status: %s)\n", session.ID, session.SourceKind, session.Status)
	fmt.Printf("Plan %s, created %s\n\n", plan.ID, plan.CreatedAt.Format("2006-01-02 15:04:05"))

	if len(plan.Containers) > 0 {
		fmt.Printf("Containers:\n")
		for _, c := range plan.Containers {
			fmt.Printf("  %-14s %-10s %s\n", c.TempID, c.Type, c.Title)
		}
		fmt.Println()
	}

	fmt.Printf("Items:\n")
	for _, item := range plan.Items {
		cls := plan.Classifications[item.TempID]
		outcome, confidence, rationale := "?", "?", ""
		if cls != nil {
			outcome = string(cls.EffectiveOutcome())
			confidence = string(cls.Confidence)
			rationale = cls.Rationale
		}
		marker := " "
		if cls != nil && cls.Unresolved() {
			marker = "!"
		}
		fmt.Printf("%s %-14s %-10s %-14s %-7s %s\n", marker, item.TempID, item.EntityType, outcome, confidence, item.Title)
		if rationale != "" {
			fmt.Printf("    %s\n", rationale)
		}
		if cls != nil && len(cls.CandidateResolutions) > 0 {
			fmt.Printf("    candidates: %s\n", strings.Join(cls.CandidateResolutions, ", "))
		}
		if showInterpFlag && cls != nil {
			for _, fact := range cls.FactPreview() {
				fmt.Printf("    fact: %s (%s)\n", fact.FactKind, fact.Confidence)
			}
		}
	}

	if len(plan.ValidationIssues) > 0 {
		fmt.Printf("\nValidation issues:\n")
		for _, issue := range plan.ValidationIssues {
			fmt.Printf("  [%s] %s\n", issue.Severity, issue.Message)
		}
	}
	return nil
}

func runSessionResolve(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	payload := make(map[string]string, len(resolvePayload))
	for _, entry := range resolvePayload {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			return fmt.Errorf("--set entries must be key=value, got %q", entry)
		}
		payload[key] = value
	}
	if len(payload) == 0 {
		payload = nil
	}

	result, err := a.service.SaveResolutions(context.Background(), args[0], []importer.ResolutionInput{{
		ItemTempID: args[1],
		Resolution: importer.Resolution{
			ResolvedOutcome:  importer.Outcome(args[2]),
			ResolvedFactKind: resolveFactKind,
			ResolvedPayload:  payload,
		},
	}})
	if err != nil {
		return err
	}

	fmt.Printf("Applied %d resolution(s); session status: %s\n", result.Applied, result.SessionStatus)
	for _, unknown := range result.UnknownTempIDs {
		fmt.Printf("  Warning: unknown item %s (stale plan?)\n", unknown)
	}
	return nil
}

func runSessionRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.service.ExecuteImport(context.Background(), args[0])
	if err != nil {
		return err
	}

	if result.Blocked {
		fmt.Printf("Execution blocked: %s\n", result.Message)
		fmt.Printf("  Ambiguous:    %d\n", result.Ambiguous)
		fmt.Printf("  Unclassified: %d\n", result.Unclassified)
		fmt.Printf("\nResolve them with: inflow session resolve %s <item> <outcome>\n", args[0])
		// Non-zero exit so scripts notice the blocked plan
		return result.BlockedErr()
	}

	r := result.Results
	fmt.Printf("Execution %s\n", result.Status)
	fmt.Printf("  Containers created: %d\n", r.ContainerCount)
	fmt.Printf("  Actions created:    %d\n", r.ActionsCreated)
	fmt.Printf("  Records created:    %d\n", r.RecordsCreated)
	fmt.Printf("  Fact events:        %d\n", r.FactEventsEmitted)
	fmt.Printf("  Work events:        %d\n", r.WorkEventsEmitted)
	fmt.Printf("  Field values:       %d\n", r.FieldValuesApplied)
	if r.SkippedNoContext > 0 {
		fmt.Printf("  Skipped (no context): %d\n", r.SkippedNoContext)
	}
	if len(r.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(r.Errors))
		for _, msg := range r.Errors {
			fmt.Printf("  - %s\n", msg)
		}
	}
	return nil
}

func runSessionExecutions(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	executions, err := a.service.ListExecutions(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		fmt.Println("No executions yet")
		return nil
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})
	for _, exec := range executions {
		fmt.Printf("%s  %-9s  started %s", exec.ID, exec.Status, exec.StartedAt.Format("2006-01-02 15:04:05"))
		if exec.CompletedAt != nil {
			fmt.Printf("  (took %s)", exec.CompletedAt.Sub(exec.StartedAt).Round(time.Millisecond))
		}
		fmt.Println()
		if exec.Error != "" {
			fmt.Printf("  error: %s\n", exec.Error)
		}
	}
	return nil
}
