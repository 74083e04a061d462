package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ashkanshokri/ecmwf-downloader/configs"
	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
	"github.com/ashkanshokri/ecmwf-downloader/internal/downloader"
	"github.com/ashkanshokri/ecmwf-downloader/internal/encode"
	"github.com/ashkanshokri/ecmwf-downloader/internal/encode/nc4"
	"github.com/ashkanshokri/ecmwf-downloader/internal/logging"
	"github.com/ashkanshokri/ecmwf-downloader/internal/opendata"
	"github.com/ashkanshokri/ecmwf-downloader/internal/postprocess"
	"github.com/ashkanshokri/ecmwf-downloader/internal/retrieve"
)

// cli holds the flags shared by every command and the logger built from them.
type cli struct {
	logFile  string
	logLevel string
	saveDir  string

	zl  *zap.Logger
	log *zap.SugaredLogger
}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	c := &cli{}
	root := c.rootCommand()
	root.AddCommand(c.scheduleCommand(), c.configCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if c.zl != nil {
		_ = c.zl.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ecmwf-downloader <config>",
		Short: "Download ECMWF open-data forecasts and convert them to NetCDF",
		Long: `Download ECMWF open-data forecasts for the configured date window,
skip dates already recorded in the ledger, and write cropped NetCDF and/or raw
GRIB files under save_dir/name.

<config> is a path to a YAML file or the name of a built-in configuration
(with or without the .yaml suffix).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setupLogging()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(args[0])
			if err != nil {
				return c.fail(err)
			}
			runner := c.runner(cfg)
			report, err := runner.Run(cmd.Context(), cfg)
			if err != nil {
				return c.fail(err)
			}
			c.log.Infof("Finished %s: %d processed, %d skipped, %d failed",
				cfg.Name,
				report.Count(downloader.StatusProcessed),
				report.Count(downloader.StatusSkipped),
				report.Count(downloader.StatusFailed))
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&c.saveDir, "save-dir", "", "directory for outputs and the ledger (overrides save_dir)")
	flags.StringVar(&c.logFile, "log-file", envOr("ECMWF_DOWNLOADER_LOG_FILE", logging.DefaultFile), "file that receives a copy of the log, empty to disable")
	flags.StringVar(&c.logLevel, "log-level", envOr("ECMWF_DOWNLOADER_LOG_LEVEL", "info"), "debug, info, warn or error")
	return cmd
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func (c *cli) setupLogging() error {
	zl, err := logging.New(logging.Options{File: c.logFile, Level: c.logLevel, Console: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return err
	}
	c.zl = zl
	c.log = zl.Sugar()
	return nil
}

// fail logs a fatal error once and returns it for cobra.
func (c *cli) fail(err error) error {
	c.log.Errorf("%v", err)
	return err
}

// loadConfig resolves name, applies --save-dir, creates save_dir and
// validates the result.
func (c *cli) loadConfig(name string) (*config.Config, error) {
	src, err := config.Resolve(name, configs.FS)
	if err != nil {
		return nil, err
	}
	cfg, err := src.Load()
	if err != nil {
		return nil, err
	}
	cfg.OverrideSaveDir(c.saveDir)
	if err := cfg.EnsureSaveDir(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c.log.Debugf("Loaded configuration %s (built-in: %v)", src.Path, src.Builtin())
	return cfg, nil
}

// runner wires the open-data client, the GRIB decoder and the NetCDF
// engines into a batch runner.
func (c *cli) runner(cfg *config.Config, runOpts ...downloader.Option) *downloader.Runner {
	opts := opendata.Options{Log: c.log}
	if v, ok := cfg.Extra["model"].(string); ok {
		opts.Model = v
	}
	if v, ok := cfg.Extra["resol"].(string); ok {
		opts.Resol = v
	}
	chain := encode.NewChain(c.log, nc4.New(nc4.DefaultLevel), encode.Classic{})
	return downloader.New(
		retrieve.New(retrieve.OpenData(opts), c.log),
		postprocess.New(postprocess.GRIB{}, chain, c.log),
		c.log,
		runOpts...,
	)
}
