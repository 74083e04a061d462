// Package encode writes datasets to NetCDF files through an ordered list of
// engines, falling back to the next engine when one fails.
package encode

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ashkanshokri/ecmwf-downloader/internal/dataset"
	"github.com/ashkanshokri/ecmwf-downloader/internal/logging"
)

// ErrNoEncoders is returned by a chain without engines.
var ErrNoEncoders = errors.New("no encoders configured")

// Encoder writes a dataset to path.
type Encoder interface {
	Name() string
	Encode(ds *dataset.Dataset, path string) error
}

// Chain tries each encoder in order. The first success wins.
type Chain struct {
	encoders []Encoder
	log      logging.Logger
}

func NewChain(log logging.Logger, encoders ...Encoder) *Chain {
	if log == nil {
		log = logging.Nop()
	}
	return &Chain{encoders: encoders, log: log}
}

// Encode writes ds to path and returns the name of the engine that
// succeeded. A partial file left by a failing engine is removed before the
// next one runs. When every engine fails the combined error is returned.
func (c *Chain) Encode(ds *dataset.Dataset, path string) (string, error) {
	if len(c.encoders) == 0 {
		return "", ErrNoEncoders
	}
	var errs error
	for i, enc := range c.encoders {
		err := enc.Encode(ds, path)
		if err == nil {
			if i > 0 {
				c.log.Infof("Wrote %s with fallback engine %s", path, enc.Name())
			}
			return enc.Name(), nil
		}
		errs = multierr.Append(errs, errors.Wrapf(err, "engine %s", enc.Name()))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			errs = multierr.Append(errs, errors.Wrap(rmErr, "remove partial output"))
		}
		if i+1 < len(c.encoders) {
			c.log.Warnf("Engine %s failed writing %s, falling back to %s: %v", enc.Name(), path, c.encoders[i+1].Name(), err)
		}
	}
	return "", errors.Wrapf(errs, "write %s", path)
}

// Func adapts a function to Encoder.
type Func struct {
	EngineName string
	Fn         func(ds *dataset.Dataset, path string) error
}

func (f Func) Name() string { return f.EngineName }

func (f Func) Encode(ds *dataset.Dataset, path string) error { return f.Fn(ds, path) }
