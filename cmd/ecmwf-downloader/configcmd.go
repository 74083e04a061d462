package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashkanshokri/ecmwf-downloader/configs"
	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
)

func (c *cli) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	show := &cobra.Command{
		Use:   "show <config>",
		Short: "Print a configuration merged over the defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := config.Resolve(args[0], configs.FS)
			if err != nil {
				return c.fail(err)
			}
			cfg, err := src.Load()
			if err != nil {
				return c.fail(err)
			}
			cfg.OverrideSaveDir(c.saveDir)
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return c.fail(err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return c.fail(errors.Errorf("%s already exists; use --force to overwrite", path))
			}
			cfg := config.Default()
			cfg.OverrideSaveDir(c.saveDir)
			if err := cfg.Save(path); err != nil {
				return c.fail(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}
