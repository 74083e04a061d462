// Package downloader runs the batch: plan the dates, skip the ones already
// in the ledger, retrieve and post-process the rest.
package downloader

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
	"github.com/ashkanshokri/ecmwf-downloader/internal/dates"
	"github.com/ashkanshokri/ecmwf-downloader/internal/ledger"
	"github.com/ashkanshokri/ecmwf-downloader/internal/logging"
	"github.com/ashkanshokri/ecmwf-downloader/internal/postprocess"
	"github.com/ashkanshokri/ecmwf-downloader/internal/retrieve"
)

// Retriever fetches one date's payload.
type Retriever interface {
	Retrieve(ctx context.Context, cfg *config.Config) (retrieve.Result, error)
}

// Processor post-processes one payload.
type Processor interface {
	Process(ctx context.Context, cfg *config.Config, led ledger.Ledger, tempPath string) (postprocess.Outcome, error)
}

// LedgerOpener returns the ledger for a configuration's namespace.
type LedgerOpener func(cfg *config.Config) (ledger.Ledger, error)

// OpenLedger opens the backend named by ledger_dsn, defaulting to the JSON
// file under save_dir/name.
func OpenLedger(cfg *config.Config) (ledger.Ledger, error) {
	path, err := cfg.LedgerPath()
	if err != nil {
		return nil, err
	}
	return ledger.Open(cfg.LedgerDSN, path, cfg.Name)
}

// Shared returns an opener that hands led to every run. The runner does not
// close a shared ledger; whoever opened it does.
func Shared(led ledger.Ledger) LedgerOpener {
	return func(*config.Config) (ledger.Ledger, error) {
		return shared{led}, nil
	}
}

// shared hides the Close method of the wrapped ledger.
type shared struct{ ledger.Ledger }

type Runner struct {
	retriever  Retriever
	processor  Processor
	openLedger LedgerOpener
	reports    ReportStore
	log        logging.Logger
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

func WithReportStore(s ReportStore) Option { return func(r *Runner) { r.reports = s } }

func WithLedgerOpener(open LedgerOpener) Option { return func(r *Runner) { r.openLedger = open } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

func New(retriever Retriever, processor Processor, log logging.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logging.Nop()
	}
	r := &Runner{
		retriever:  retriever,
		processor:  processor,
		openLedger: OpenLedger,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes the dates planned from cfg, oldest first. cfg is not
// modified. It fails before doing any work when save_dir is unset or the
// date does not parse; per-date failures are only logged and reported.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (Report, error) {
	report := Report{ID: uuid.NewString(), Name: cfg.Name, StartedAt: r.now().UTC()}
	if _, err := cfg.OutputDir(); err != nil {
		return report, err
	}
	window, err := dates.Window(cfg.Date, cfg.LookBack, cfg.DateFormat)
	if err != nil {
		return report, err
	}
	led, err := r.openLedger(cfg)
	if err != nil {
		return report, errors.Wrap(err, "open ledger")
	}
	if c, ok := led.(io.Closer); ok {
		defer c.Close()
	}
	ledgerPath, _ := cfg.LedgerPath()

	now := r.now()
	for d := range window {
		if err := ctx.Err(); err != nil {
			return r.finish(report), err
		}
		date, err := dates.Resolve(d, now, cfg.DateFormat)
		if err != nil {
			return r.finish(report), err
		}
		res, err := r.runDate(ctx, cfg, led, date, ledgerPath)
		report.Dates = append(report.Dates, res)
		if err != nil {
			return r.finish(report), err
		}
	}
	return r.finish(report), nil
}

func (r *Runner) runDate(ctx context.Context, cfg *config.Config, led ledger.Ledger, date, ledgerPath string) (DateResult, error) {
	res := DateResult{Date: date}
	exists, err := led.Exists(date)
	if err != nil {
		return res, errors.Wrapf(err, "check ledger for %s", date)
	}
	if exists {
		r.log.Infof("Data for %s already exists in %s", date, ledgerPath)
		res.Status = StatusSkipped
		return res, nil
	}

	r.log.Infof("Downloading and processing data for %s", date)
	dateCfg := cfg.Clone()
	dateCfg.Date = dates.Text(date)

	got, err := r.retriever.Retrieve(ctx, dateCfg)
	if err != nil {
		return res, err
	}
	res.Source = got.Source
	// A failed retrieval still goes through post-processing, which reports
	// the missing payload.
	out, err := r.processor.Process(ctx, dateCfg, led, got.Path)
	if err != nil {
		return res, err
	}
	res.Files = out.Files
	res.Stored = out.Date
	res.Status = StatusProcessed
	if out.Failure != nil {
		res.Status = StatusFailed
		res.Error = out.Failure.Error()
	}
	return res, nil
}

func (r *Runner) finish(report Report) Report {
	report.EndedAt = r.now().UTC()
	if r.reports != nil {
		r.reports.SaveReport(report)
	}
	return report
}
