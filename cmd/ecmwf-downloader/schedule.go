package main

import (
	"context"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	httpapi "github.com/ashkanshokri/ecmwf-downloader/internal/api/http"
	"github.com/ashkanshokri/ecmwf-downloader/internal/downloader"
	"github.com/ashkanshokri/ecmwf-downloader/internal/scheduler"
	"github.com/ashkanshokri/ecmwf-downloader/internal/store"
)

func (c *cli) scheduleCommand() *cobra.Command {
	var (
		cron       string
		listen     string
		timeout    time.Duration
		runNow     bool
		maxHistory int
		maxAge     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "schedule <config>",
		Short: "Run the download on a cron schedule and serve its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(args[0])
			if err != nil {
				return c.fail(err)
			}
			led, err := downloader.OpenLedger(cfg)
			if err != nil {
				return c.fail(err)
			}
			if closer, ok := led.(io.Closer); ok {
				defer closer.Close()
			}

			runs := store.NewMemoryStore(maxHistory, maxAge)
			// Runs and the status API read and write the same ledger.
			runner := c.runner(cfg,
				downloader.WithReportStore(runs),
				downloader.WithLedgerOpener(downloader.Shared(led)))
			sched := scheduler.New(cfg, cron, timeout, runner, c.log)
			if err := sched.Start(); err != nil {
				return c.fail(err)
			}
			defer sched.Stop()
			if runNow {
				go sched.RunOnce()
			}

			var app *fiber.App
			if listen != "" {
				app = newApp()
				httpapi.RegisterRoutes(app, httpapi.Deps{Name: cfg.Name, Ledger: led, Runs: runs})
				go func() {
					if err := app.Listen(listen); err != nil {
						c.log.Errorf("fiber server stopped: %v", err)
					}
				}()
			}

			<-cmd.Context().Done()
			c.log.Infof("Shutting down")

			if app != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := app.ShutdownWithContext(shutdownCtx); err != nil {
					c.log.Errorf("error during shutdown: %v", err)
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cron, "cron", "0 8 * * *", "cron expression (UTC) for the batch run")
	flags.StringVar(&listen, "listen", "", "address for the status API, for example :8080; empty disables it")
	flags.DurationVar(&timeout, "timeout", 6*time.Hour, "upper bound for a single run")
	flags.BoolVar(&runNow, "run-now", false, "start a run immediately instead of waiting for the schedule")
	flags.IntVar(&maxHistory, "history", 50, "number of run reports kept for the status API")
	flags.DurationVar(&maxAge, "history-age", 30*24*time.Hour, "maximum age of kept run reports")
	return cmd
}

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "ecmwf-downloader",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	return app
}
