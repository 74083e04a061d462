// Package postprocess turns a downloaded GRIB payload into the configured
// output files and records the processed date.
package postprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
	"github.com/ashkanshokri/ecmwf-downloader/internal/dataset"
	"github.com/ashkanshokri/ecmwf-downloader/internal/dates"
	"github.com/ashkanshokri/ecmwf-downloader/internal/grib"
	"github.com/ashkanshokri/ecmwf-downloader/internal/ledger"
	"github.com/ashkanshokri/ecmwf-downloader/internal/logging"
)

// Stage names the step a failure happened in.
type Stage string

const (
	StageNetCDF  Stage = "netcdf"
	StageGrib    Stage = "grib"
	StageDate    Stage = "date"
	StageLedger  Stage = "ledger"
	StageCleanup Stage = "cleanup"
)

// Error is a failed post-processing run. Date is the date that was being
// processed: the canonical one when known, the configured one otherwise.
type Error struct {
	Date  string
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("post-process %s (%s): %v", e.Date, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Decoder reads a payload, keeping only fields of type typ ("" keeps all).
type Decoder interface {
	Decode(path, typ string) (*dataset.Dataset, error)
}

// GRIB decodes with the grib package.
type GRIB struct{}

func (GRIB) Decode(path, typ string) (*dataset.Dataset, error) {
	return grib.DecodeFile(path, typ)
}

// Encoder writes a dataset and reports the engine used.
type Encoder interface {
	Encode(ds *dataset.Dataset, path string) (string, error)
}

// Outcome is what one run produced.
type Outcome struct {
	Date  string
	Files []string
	// Failure is set when the run failed; it has already been logged.
	Failure *Error
}

type Processor struct {
	decoder Decoder
	encoder Encoder
	log     logging.Logger
}

func New(decoder Decoder, encoder Encoder, log logging.Logger) *Processor {
	if log == nil {
		log = logging.Nop()
	}
	return &Processor{decoder: decoder, encoder: encoder, log: log}
}

// Process converts the payload at tempPath, records the canonical date in
// led and deletes tempPath. Any failure is logged and returned in
// Outcome.Failure, leaving tempPath and led untouched; the returned error is
// only set when ctx is cancelled.
func (p *Processor) Process(ctx context.Context, cfg *config.Config, led ledger.Ledger, tempPath string) (Outcome, error) {
	out := Outcome{Date: cfg.Date.String()}
	stage, err := p.process(ctx, cfg, led, tempPath, &out)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	out.Failure = &Error{Date: out.Date, Stage: stage, Err: err}
	p.log.Errorf("Failed to process data for %s: %v", out.Date, out.Failure)
	return out, nil
}

func (p *Processor) process(ctx context.Context, cfg *config.Config, led ledger.Ledger, tempPath string, out *Outcome) (Stage, error) {
	var (
		date string
		err  error
	)
	if cfg.SaveNetCDF {
		if date, err = p.saveNetCDF(ctx, cfg, tempPath, out); err != nil {
			return StageNetCDF, err
		}
		out.Date = date
	}
	if cfg.SaveGrib {
		if date, err = p.saveGrib(cfg, tempPath, out); err != nil {
			return StageGrib, err
		}
		out.Date = date
	}
	if date == "" {
		if date, err = p.date(cfg, tempPath, ""); err != nil {
			return StageDate, err
		}
		out.Date = date
	}
	if err := ctx.Err(); err != nil {
		return StageLedger, err
	}

	ledgerName := cfg.Name
	if path, err := cfg.LedgerPath(); err == nil {
		ledgerName = path
	}
	added, err := led.Record(date)
	if err != nil {
		return StageLedger, err
	}
	if added {
		p.log.Infof("Added %s to %s", date, ledgerName)
	} else {
		p.log.Infof("Date %s already in %s", date, ledgerName)
	}
	if err := os.Remove(tempPath); err != nil {
		return StageCleanup, err
	}
	return "", nil
}

func outputDir(cfg *config.Config) (string, error) {
	dir, err := cfg.OutputDir()
	if err != nil {
		return "", err
	}
	return dir, errors.Wrap(os.MkdirAll(dir, 0o755), "create output directory")
}

// saveNetCDF writes one file per requested type and returns the date of the
// last one.
func (p *Processor) saveNetCDF(ctx context.Context, cfg *config.Config, tempPath string, out *Outcome) (string, error) {
	dir, err := outputDir(cfg)
	if err != nil {
		return "", err
	}
	area, err := dataset.AreaFromSlice(cfg.Area)
	if err != nil {
		return "", err
	}
	var date string
	for _, typ := range cfg.Type {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ds, err := p.decoder.Decode(tempPath, typ)
		if err != nil {
			return "", errors.Wrapf(err, "decode %s", typ)
		}
		ds, err = ds.Crop(area)
		if err != nil {
			return "", errors.Wrapf(err, "crop %s", typ)
		}
		ds = ds.AsFloat32()
		if date, err = p.canonical(cfg, ds.ReferenceTimes); err != nil {
			return "", err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.nc", typ, date))
		engine, err := p.encoder.Encode(ds, path)
		if err != nil {
			return "", err
		}
		p.log.Infof("Saving NetCDF using %s: %s", engine, filepath.Base(path))
		out.Files = append(out.Files, path)
	}
	return date, nil
}

func (p *Processor) saveGrib(cfg *config.Config, tempPath string, out *Outcome) (string, error) {
	dir, err := outputDir(cfg)
	if err != nil {
		return "", err
	}
	date, err := p.date(cfg, tempPath, "")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, date+".grib")
	if err := copyFile(tempPath, path); err != nil {
		return "", err
	}
	p.log.Infof("Successfully processed and saved data for %s to %s", date, dir)
	out.Files = append(out.Files, path)
	return date, nil
}

func (p *Processor) date(cfg *config.Config, tempPath, typ string) (string, error) {
	ds, err := p.decoder.Decode(tempPath, typ)
	if err != nil {
		return "", errors.Wrap(err, "decode")
	}
	return p.canonical(cfg, ds.ReferenceTimes)
}

// canonical formats the first reference time and warns when the others
// disagree with it.
func (p *Processor) canonical(cfg *config.Config, times []time.Time) (string, error) {
	t, consistent, err := grib.CanonicalTime(times)
	if err != nil {
		return "", err
	}
	date := dates.Format(cfg.DateFormat, t)
	if !consistent {
		p.log.Warnf("Payload reports %d reference times that disagree; using the first, %s", len(times), date)
	}
	return date, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
