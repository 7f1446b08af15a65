package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aliskhannn/image-transformer/internal/client"
	"github.com/aliskhannn/image-transformer/internal/model"
)

func newSubmitCommand(cc *commandContext) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "submit <image>",
		Short: "Upload an image and wait for the processed result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.config()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.Client.BaseURL
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			defer f.Close()

			c, err := client.New(client.Options{
				BaseURL:      baseURL,
				PollInterval: cfg.Client.PollInterval,
				PollAttempts: cfg.Client.PollAttempts,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			id, err := c.Upload(ctx, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted job %s, waiting for it to finish...\n", id)

			job, err := c.Poll(ctx, id)
			if err != nil {
				return fmt.Errorf("job %s: %w", id, err)
			}

			if job.Status == model.StatusFailed {
				return fmt.Errorf("job %s failed: %s", id, job.ErrorMessage)
			}

			fmt.Fprintf(out, "Job %s completed\n%s\n", id, job.ProcessedURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "API base URL (defaults to client.base_url)")

	return cmd
}
