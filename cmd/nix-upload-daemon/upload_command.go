package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"nixupload/internal/ipc"
	"nixupload/internal/nix"
	"nixupload/internal/upload"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var binding ipc.Binding
	var signKey string
	var skipMissing bool

	cmd := &cobra.Command{
		Use:   "upload PATH...",
		Short: "Submit store paths to a running daemon",
		Long: "Validate, optionally sign, and submit store paths to the daemon.\n" +
			"Pass - to read newline-separated paths from stdin.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			target := cfg.Daemon.Binding
			if flags.Changed("binding") {
				target = binding
			}
			key := cfg.Upload.SignKey
			if flags.Changed("sign-key") {
				key = strings.TrimSpace(signKey)
			}
			skip := cfg.Upload.SkipMissing
			if flags.Changed("skip-missing") {
				skip = skipMissing
			}

			paths, err := collectPaths(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := upload.Options{KeyPath: key, SkipMissing: skip, Logger: logger}
			if key != "" {
				signer, err := nix.NewSigner(cfg, nil)
				if err != nil {
					return fmt.Errorf("configure nix store sign: %w", err)
				}
				opts.Signer = signer
			}

			conn, err := ipc.Connect(runCtx, target)
			if err != nil {
				return err
			}
			defer conn.Close()

			result, err := upload.Upload(runCtx, conn, paths, opts)
			if err != nil {
				return err
			}
			if err := conn.CloseWrite(); err != nil {
				return fmt.Errorf("%w: %w", upload.ErrWrite, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted %d path(s) to %s\n", len(result.Submitted), target)
			if len(result.Skipped) > 0 {
				fmt.Fprintf(out, "Skipped %d missing path(s)\n", len(result.Skipped))
			}
			if result.Signed {
				fmt.Fprintln(out, "Paths signed before submission")
			}
			return nil
		},
	}

	cmd.Flags().Var(ipc.BindingFlag{Binding: &binding}, "binding", "Daemon address (sock:///path or tcp://host:port)")
	cmd.Flags().StringVarP(&signKey, "sign-key", "k", "", "Secret key file for nix store sign")
	cmd.Flags().BoolVar(&skipMissing, "skip-missing", false, "Skip paths that do not exist instead of failing")
	return cmd
}

// collectPaths expands a "-" argument into the lines read from stdin.
func collectPaths(args []string, stdin io.Reader) ([]string, error) {
	paths := make([]string, 0, len(args))
	readStdin := false
	for _, arg := range args {
		if arg != "-" {
			paths = append(paths, arg)
			continue
		}
		if readStdin {
			continue
		}
		readStdin = true
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				paths = append(paths, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read paths from stdin: %w", err)
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("no paths given")
	}
	return paths, nil
}
