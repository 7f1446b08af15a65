package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jobsvc "github.com/aliskhannn/image-transformer/internal/service/job"
	"github.com/aliskhannn/image-transformer/internal/validate"
)

func newReconcileCommand(cc *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fail jobs stuck in processing",
		Long: "Marks jobs that have been processing for longer than --older-than as failed " +
			"and removes their intermediate images. Completed and failed jobs are never touched.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			cfg, err := cc.config()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			repo, closeDB, err := openRepository(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			storage, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}

			// Reconciliation never creates jobs, so no runner or task registry is needed.
			svc := jobsvc.NewService(repo, storage, validate.New(cfg.Transform.MaxUploadSize, nil), nil, nil, cfg.Transform.URLTTL)

			ids, err := svc.Reconcile(ctx, olderThan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, id := range ids {
				fmt.Fprintf(out, "failed %s\n", id)
			}
			fmt.Fprintf(out, "Reconciled %d job(s)\n", len(ids))

			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "age after which a processing job is considered stuck")

	return cmd
}
