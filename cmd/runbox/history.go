package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/runbox/internal/history"
)

var (
	historyListBackend string
	historyListStatus  string
	historyListSince   string
	historyListLimit   int
	historyListJSON    bool
	historyShowJSON    bool
	historyPruneOlder  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the execution history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded executions, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one execution record in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records older than the retention window",
	RunE:  runHistoryPrune,
}

func init() {
	historyListCmd.Flags().StringVar(&historyListBackend, "backend", "", "filter by backend (local, container)")
	historyListCmd.Flags().StringVar(&historyListStatus, "status", "", "filter by status (completed, timed_out, failed, denied)")
	historyListCmd.Flags().StringVar(&historyListSince, "since", "", "only records newer than this duration (e.g. 24h)")
	historyListCmd.Flags().IntVar(&historyListLimit, "limit", 20, "maximum records to show")
	historyListCmd.Flags().BoolVar(&historyListJSON, "json", false, "print records as JSON")
	historyShowCmd.Flags().BoolVar(&historyShowJSON, "json", false, "print the record as JSON")
	historyPruneCmd.Flags().StringVar(&historyPruneOlder, "older-than", "", "delete records older than this duration (default: configured retention)")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyPruneCmd)
}

func runHistoryList(_ *cobra.Command, _ []string) error {
	comps, err := initShared(backendOverrides{})
	if err != nil {
		return err
	}
	defer comps.Cleanup()

	filter := history.Filter{
		Backend: historyListBackend,
		Status:  historyListStatus,
		Limit:   historyListLimit,
	}
	if historyListSince != "" {
		d, err := time.ParseDuration(historyListSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.Since = time.Now().UTC().Add(-d)
	}

	records, err := comps.Store.List(context.Background(), filter)
	if err != nil {
		return err
	}

	if historyListJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("no matching records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tBACKEND\tSTATUS\tEXIT\tDURATION\tCOMMAND")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(rec.ID),
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Backend,
			rec.Status,
			rec.ExitCode,
			rec.Duration.Round(time.Millisecond),
			firstLine(strings.Join(rec.Command, " ")),
		)
	}
	return w.Flush()
}

func runHistoryShow(_ *cobra.Command, args []string) error {
	comps, err := initShared(backendOverrides{})
	if err != nil {
		return err
	}
	defer comps.Cleanup()

	rec, err := findRecord(context.Background(), comps.Store, args[0])
	if err != nil {
		return err
	}

	if historyShowJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Printf("id:        %s\n", rec.ID)
	fmt.Printf("when:      %s\n", rec.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("backend:   %s\n", rec.Backend)
	fmt.Printf("status:    %s\n", rec.Status)
	fmt.Printf("exit code: %d\n", rec.ExitCode)
	fmt.Printf("duration:  %s\n", rec.Duration.Round(time.Millisecond))
	fmt.Printf("command:   %s\n", strings.Join(rec.Command, " "))
	if rec.WorkingDir != "" {
		fmt.Printf("workdir:   %s\n", rec.WorkingDir)
	}
	if rec.Reason != "" {
		fmt.Printf("reason:    %s\n", rec.Reason)
	}
	if rec.Error != "" {
		fmt.Printf("error:     %s\n", rec.Error)
	}
	for _, a := range rec.Artifacts {
		fmt.Printf("artifact:  %s (%s, %d bytes) -> %s\n", a.Name, a.MIMEType, a.SizeBytes, a.Path)
	}
	if rec.Stdout != "" {
		fmt.Printf("\n--- stdout ---\n%s", ensureNewline(rec.Stdout))
	}
	if rec.Stderr != "" {
		fmt.Printf("\n--- stderr ---\n%s", ensureNewline(rec.Stderr))
	}
	return nil
}

func runHistoryPrune(_ *cobra.Command, _ []string) error {
	comps, err := initShared(backendOverrides{})
	if err != nil {
		return err
	}
	defer comps.Cleanup()

	retention := comps.Config.Janitor.Retention()
	if historyPruneOlder != "" {
		retention, err = time.ParseDuration(historyPruneOlder)
		if err != nil {
			return fmt.Errorf("invalid --older-than duration: %w", err)
		}
	}

	removed, err := comps.Store.Prune(context.Background(), time.Now().UTC().Add(-retention))
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d record(s) older than %s\n", removed, retention)
	return nil
}

// findRecord resolves an ID that may be a unique prefix of a full record ID.
func findRecord(ctx context.Context, store history.Store, id string) (*history.Record, error) {
	rec, err := store.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, history.ErrNotFound) {
		return nil, err
	}

	records, listErr := store.List(ctx, history.Filter{Limit: 1000})
	if listErr != nil {
		return nil, listErr
	}
	var match *history.Record
	for _, r := range records {
		if strings.HasPrefix(r.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("record ID prefix %q is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no record with ID %q", id)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
