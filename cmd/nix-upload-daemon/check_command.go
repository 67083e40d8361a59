package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nixupload/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var client bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the environment is ready to serve or upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			role := preflight.RoleServe
			if client {
				role = preflight.RoleUpload
			}

			results := preflight.RunAll(cfg, role)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				status := "ok"
				if !r.Passed {
					status = "FAIL"
					if r.Optional {
						status = "warn"
					}
				}
				rows = append(rows, []string{r.Name, status, r.Detail})
			}
			if err := writeTable(cmd.OutOrStdout(), []string{"Check", "Status", "Detail"}, rows, nil); err != nil {
				return err
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&client, "client", false, "Check the upload role instead of serve")
	return cmd
}
