package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one revalidation pass now and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := buildService(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer svc.Close(ctx, opts.log)

			result, err := svc.runner.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}
