package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

func newCheckpointCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset the revalidation checkpoint",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx, opts.cfg, opts.log, noop.NewTracerProvider().Tracer(serviceType))
			if err != nil {
				return err
			}
			defer st.close()

			cp, err := st.checkpoints.Load(ctx, domain.JobTypeValidateOrRevoke)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				JobType domain.JobType `json:"job_type"`
				domain.Checkpoint
				LastRunAt string `json:"last_run_at,omitempty"`
			}{
				JobType:    domain.JobTypeValidateOrRevoke,
				Checkpoint: cp,
				LastRunAt:  lastRunAt(cp),
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear the checkpoint so the next run re-validates every FID",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx, opts.cfg, opts.log, noop.NewTracerProvider().Tracer(serviceType))
			if err != nil {
				return err
			}
			defer st.close()

			if err := st.checkpoints.Save(ctx, domain.JobTypeValidateOrRevoke, domain.Checkpoint{}); err != nil {
				return err
			}
			opts.log.Info(ctx, "Checkpoint reset", "job_type", domain.JobTypeValidateOrRevoke)
			return nil
		},
	})

	return cmd
}

func lastRunAt(cp domain.Checkpoint) string {
	if cp.LastJobTimestamp == 0 {
		return ""
	}
	return domain.FromFarcasterTime(cp.LastJobTimestamp).UTC().Format(time.RFC3339)
}
