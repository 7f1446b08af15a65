package main

import (
	"github.com/spf13/cobra"

	"github.com/aliskhannn/image-transformer/internal/config"
)

type commandContext struct {
	configPath string
	cfg        *config.Config
}

// config loads the configuration once per process.
func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg

	return cfg, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "image-transformer",
		Short:         "Remove image backgrounds and flip the result",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "./config/config.yml", "path to the config file")

	root.AddCommand(
		newServeCommand(ctx),
		newSubmitCommand(ctx),
		newStatsCommand(ctx),
		newReconcileCommand(ctx),
	)

	return root
}
