package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/netwatch/internal/app"
)

func newServeCmd() *cobra.Command {
	var enableScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, optionally, the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("enable-scheduler") {
				rt.cfg.Scheduler.Enabled = enableScheduler
			}
			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			return a.Run(cmd.Context(), rt.cfg.Scheduler.Enabled)
		},
	}
	cmd.Flags().BoolVar(&enableScheduler, "enable-scheduler", true, "run the cron scheduler alongside the API")
	return cmd
}
