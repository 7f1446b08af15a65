package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aliskhannn/image-transformer/internal/model"
	statssvc "github.com/aliskhannn/image-transformer/internal/service/stats"
)

func newStatsCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			loc, err := cfg.Stats.Location()
			if err != nil {
				return fmt.Errorf("invalid stats timezone: %w", err)
			}

			st, err := statssvc.NewService(repo, storage, cfg.Stats.SizeBatch, loc).Get(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderStats(st))
			return nil
		},
	}
}

func renderStats(st model.Stats) string {
	summary := renderTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"Total images", strconv.Itoa(st.TotalImages)},
			{"Last 7 days", strconv.Itoa(st.Last7DaysCount)},
			{"Storage (bytes)", strconv.FormatInt(st.EstimatedStorageBytes, 10)},
			{"Storage (MB)", strconv.FormatInt(st.EstimatedStorageMB, 10)},
			{"Storage (GB)", st.EstimatedStorageGB},
		},
		[]columnAlignment{alignLeft, alignRight},
	)

	rows := make([][]string, 0, len(st.ChartData))
	for _, d := range st.ChartData {
		rows = append(rows, []string{d.Date, strconv.Itoa(d.Count)})
	}
	daily := renderTable([]string{"Date", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight})

	return summary + "\n" + daily
}
