package main

import (
	"contact-radar/internal/config"

	"github.com/spf13/cobra"
)

// cli 保存命令间共享的配置与依赖构造器。
type cli struct {
	configPath string
	cfg        config.Config
	build      builder
}

func newRootCmd(build builder) *cobra.Command {
	c := &cli{build: build}

	root := &cobra.Command{
		Use:           "contact-radar",
		Short:         "Generate B2B contact databases from map search results",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (yaml or toml), defaults to $CONFIG_FILE or config.yaml")

	root.AddCommand(newServeCmd(c), newTickCmd(c), newCreditsCmd(c))
	return root
}
