package httpapi

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/downloader"
	"github.com/ashkanshokri/ecmwf-downloader/internal/ledger"
	"github.com/ashkanshokri/ecmwf-downloader/internal/store"
)

var validate = validator.New()

// RunStore is the read side of the run history.
type RunStore interface {
	Latest(name string) (downloader.Report, error)
	Range(name string, from, to time.Time) ([]downloader.Report, error)
}

// Deps are the read-only views the API serves for one namespace.
type Deps struct {
	Name   string
	Ledger ledger.Ledger
	Runs   RunStore
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "ecmwf-downloader",
			"name":    deps.Name,
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/ledger", func(c *fiber.Ctx) error {
		items, err := deps.Ledger.Dates()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read ledger")
		}
		return c.JSON(fiber.Map{
			"name":  deps.Name,
			"dates": items,
		})
	})

	v1.Get("/ledger/:date", func(c *fiber.Ctx) error {
		q := dateParam{Date: c.Params("date")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ok, err := deps.Ledger.Exists(q.Date)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read ledger")
		}
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "date not downloaded")
		}
		return c.JSON(fiber.Map{
			"name":       deps.Name,
			"date":       q.Date,
			"downloaded": true,
		})
	})

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		report, err := deps.Runs.Latest(deps.Name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no runs recorded yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch run")
		}
		return c.JSON(report)
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reports, err := deps.Runs.Range(deps.Name, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no runs in requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch runs")
		}

		return c.JSON(fiber.Map{
			"name": deps.Name,
			"from": req.From,
			"to":   req.To,
			"runs": reports,
		})
	})
}

type dateParam struct {
	Date string `validate:"required,max=32,printascii"`
}

// rangeQuery holds query parameters for the runs endpoint.
type rangeQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *rangeQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
