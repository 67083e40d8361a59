package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nixupload/internal/daemonrun"
	"nixupload/internal/ipc"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var binding ipc.Binding
	var workers int
	var copyDestination string
	var drainTimeout int
	var development bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload daemon",
		Long: "Listen for newline-separated store paths and upload each one with\n" +
			"`nix copy --to <destination>` using a pool of workers.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *loaded

			flags := cmd.Flags()
			if flags.Changed("binding") {
				cfg.Daemon.Binding = binding
			}
			if flags.Changed("workers") {
				cfg.Daemon.Workers = workers
			}
			if flags.Changed("copy-destination") {
				cfg.Daemon.CopyDestination = copyDestination
			}
			if flags.Changed("drain-timeout") {
				cfg.Daemon.DrainTimeout = drainTimeout
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid serve options: %w", err)
			}

			return daemonrun.Run(cmd.Context(), &cfg, daemonrun.Options{
				Development: development,
			})
		},
	}

	cmd.Flags().Var(ipc.BindingFlag{Binding: &binding}, "binding", "Listen address (sock:///path or tcp://host:port)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of upload workers (1-63)")
	cmd.Flags().StringVar(&copyDestination, "copy-destination", "", "Store URI passed to nix copy --to")
	cmd.Flags().IntVar(&drainTimeout, "drain-timeout", 0, "Seconds to wait for queued uploads on shutdown (0 waits indefinitely)")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in daemon logs")
	return cmd
}
