package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nixupload/internal/history"
)

type historyEntryJSON struct {
	ID          int64   `json:"id"`
	RunID       string  `json:"run_id"`
	Path        string  `json:"path"`
	Destination string  `json:"destination"`
	Status      string  `json:"status"`
	ExitStatus  *int    `json:"exit_status,omitempty"`
	Error       string  `json:"error,omitempty"`
	Worker      int     `json:"worker"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at"`
	DurationSec float64 `json:"duration_seconds"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var failedOnly bool
	var runID string
	var since time.Duration
	var summary bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded upload outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.HistoryPath()
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "No upload history at %s\n", path)
				return nil
			}

			store, err := history.Open(path)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			var cutoff time.Time
			if since > 0 {
				cutoff = time.Now().Add(-since)
			}

			if summary {
				totals, err := store.Summarize(cmd.Context(), cutoff)
				if err != nil {
					return fmt.Errorf("summarize history: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, map[string]int{
						"uploaded": totals.Uploaded,
						"failed":   totals.Failed,
						"total":    totals.Total(),
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded: %d\nFailed:   %d\nTotal:    %d\n",
					totals.Uploaded, totals.Failed, totals.Total())
				return nil
			}

			filter := history.Filter{Limit: limit, RunID: strings.TrimSpace(runID), Since: cutoff}
			if failedOnly {
				filter.Status = history.StatusFailed
			}
			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}

			if asJSON {
				out := make([]historyEntryJSON, 0, len(entries))
				for _, e := range entries {
					out = append(out, historyEntryJSON{
						ID:          e.ID,
						RunID:       e.RunID,
						Path:        e.Path,
						Destination: e.Destination,
						Status:      string(e.Status),
						ExitStatus:  e.ExitStatus,
						Error:       e.ErrorMessage,
						Worker:      e.Worker,
						StartedAt:   e.StartedAt.UTC().Format(time.RFC3339),
						FinishedAt:  e.FinishedAt.UTC().Format(time.RFC3339),
						DurationSec: e.Duration.Seconds(),
					})
				}
				return writeJSON(cmd, out)
			}

			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No uploads recorded")
				return nil
			}
			headers := []string{"Finished", "Status", "Worker", "Duration", "Path", "Error"}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
					string(e.Status),
					strconv.Itoa(e.Worker),
					e.Duration.Round(time.Millisecond).String(),
					e.Path,
					errorColumn(e),
				})
			}
			return writeTable(cmd.OutOrStdout(), headers, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum entries to show (default 50)")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed uploads")
	cmd.Flags().StringVar(&runID, "run", "", "Only show uploads from one daemon run")
	cmd.Flags().DurationVar(&since, "since", 0, "Only include uploads finished within this duration (e.g. 24h)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print counts by status instead of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func errorColumn(e history.Entry) string {
	if e.ErrorMessage == "" {
		return ""
	}
	if e.ExitStatus != nil {
		return fmt.Sprintf("[%d] %s", *e.ExitStatus, e.ErrorMessage)
	}
	return e.ErrorMessage
}
