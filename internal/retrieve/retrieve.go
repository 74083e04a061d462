// Package retrieve fetches one date's raw payload, trying the configured
// sources in order until one succeeds.
package retrieve

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
	"github.com/ashkanshokri/ecmwf-downloader/internal/logging"
	"github.com/ashkanshokri/ecmwf-downloader/internal/opendata"
)

// Client downloads the fields of req into target.
type Client interface {
	Retrieve(ctx context.Context, req config.Request, target string) error
}

// ClientFactory builds the client for a source identifier.
type ClientFactory func(source string) (Client, error)

// OpenData returns a factory of open-data clients sharing opts. Clients are
// kept per source so that each circuit breaker outlives a single date.
func OpenData(opts opendata.Options) ClientFactory {
	var (
		mu      sync.Mutex
		clients = map[string]*opendata.Client{}
	)
	return func(source string) (Client, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[source]; ok {
			return c, nil
		}
		c, err := opendata.New(source, opts)
		if err != nil {
			return nil, err
		}
		clients[source] = c
		return c, nil
	}
}

// Result describes one retrieval. Path is always set; it only exists on
// disk when Source is not empty.
type Result struct {
	Path   string
	Source string
	// Err collects the failure of every source when all of them failed.
	Err error
}

// OK reports whether a source produced the payload.
func (r Result) OK() bool { return r.Source != "" }

type Retriever struct {
	factory ClientFactory
	log     logging.Logger
	now     func() time.Time
}

func New(factory ClientFactory, log logging.Logger) *Retriever {
	if log == nil {
		log = logging.Nop()
	}
	return &Retriever{factory: factory, log: log, now: time.Now}
}

// WithClock replaces the clock used to resolve day offsets.
func (r *Retriever) WithClock(now func() time.Time) *Retriever {
	r.now = now
	return r
}

// TempPath returns a fresh file name in the directory of cfg.TempFilename.
func TempPath(cfg *config.Config) string {
	dir := filepath.Dir(cfg.TempFilename)
	return filepath.Join(dir, uuid.NewString()+filepath.Ext(cfg.TempFilename))
}

// Retrieve downloads the payload for cfg into a new temp file. Source
// failures are logged and the next source is tried; when every source fails
// Retrieve still returns normally with Result.Source empty. Only an invalid
// date or a cancelled context is returned as an error.
func (r *Retriever) Retrieve(ctx context.Context, cfg *config.Config) (Result, error) {
	req, err := cfg.Request(r.now())
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: TempPath(cfg)}
	if err := os.MkdirAll(filepath.Dir(res.Path), 0o755); err != nil {
		res.Err = errors.Wrap(err, "create temp directory")
		r.log.Errorf("Failed to retrieve data for %s: %v", cfg.Date, res.Err)
		return res, nil
	}

	for _, source := range cfg.Source {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := r.try(ctx, source, req, res.Path)
		if err == nil {
			res.Source = source
			r.log.Infof("Successfully retrieved data for %s and saved to %s", cfg.Date, res.Path)
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		res.Err = multierr.Append(res.Err, errors.Wrapf(err, "source %s", source))
		r.log.Errorf("Failed to retrieve data for %s from %s: %v", cfg.Date, source, err)
	}
	r.log.Errorf("All sources failed for %s: %v", cfg.Date, res.Err)
	return res, nil
}

func (r *Retriever) try(ctx context.Context, source string, req config.Request, path string) error {
	client, err := r.factory(source)
	if err != nil {
		return err
	}
	if err := client.Retrieve(ctx, req, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, rmErr)
		}
		return err
	}
	return nil
}
