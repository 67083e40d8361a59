package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"nixupload/internal/daemonctl"
	"nixupload/internal/history"
	"nixupload/internal/ipc"
)

const statusProbeTimeout = 2 * time.Second

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			running, pid, err := daemonctl.ProcessInfo(cfg.PIDPath())
			if err != nil {
				return err
			}
			daemonState := "stopped"
			if running {
				daemonState = "running (pid " + strconv.Itoa(pid) + ")"
			}

			listenerState := "unreachable"
			probeCtx, cancel := context.WithTimeout(cmd.Context(), statusProbeTimeout)
			if conn, err := ipc.Connect(probeCtx, cfg.Daemon.Binding); err == nil {
				listenerState = "accepting"
				_ = conn.CloseWrite()
				_ = conn.Close()
			}
			cancel()

			rows := [][]string{
				{"Daemon", daemonState},
				{"Binding", cfg.Daemon.Binding.String() + " (" + listenerState + ")"},
				{"Workers", strconv.Itoa(cfg.Daemon.Workers)},
				{"Copy destination", cfg.Daemon.CopyDestination},
			}
			if summary, ok := recentSummary(cmd.Context(), cfg.HistoryPath()); ok {
				rows = append(rows, []string{"Last 24h", fmt.Sprintf("%d uploaded, %d failed", summary.Uploaded, summary.Failed)})
			}
			return writeTable(cmd.OutOrStdout(), []string{"Item", "Value"}, rows, nil)
		},
	}
}

func recentSummary(ctx context.Context, path string) (history.Summary, bool) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return history.Summary{}, false
	}
	store, err := history.Open(path)
	if err != nil {
		return history.Summary{}, false
	}
	defer store.Close()
	summary, err := store.Summarize(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return history.Summary{}, false
	}
	return summary, true
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon after it drains queued uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cmd.Context(), cfg.PIDPath(), grace)
			if errors.Is(err, daemonctl.ErrNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon (pid %d) did not exit within %s and was killed\n", result.PID, grace)
				return nil
			}
			fmt.Fprintf(out, "Daemon (pid %d) stopped after %s\n", result.PID, result.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 60*time.Second, "How long to wait for queued uploads before killing (0 waits indefinitely)")
	return cmd
}
