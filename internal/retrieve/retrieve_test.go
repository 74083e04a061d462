package retrieve

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
	"github.com/ashkanshokri/ecmwf-downloader/internal/dates"
	"github.com/ashkanshokri/ecmwf-downloader/internal/opendata"
)

type clientFunc func(ctx context.Context, req config.Request, target string) error

func (f clientFunc) Retrieve(ctx context.Context, req config.Request, target string) error {
	return f(ctx, req, target)
}

// fakeSources maps source names to behaviours and records the call order.
func fakeSources(calls *[]string, sources map[string]clientFunc) ClientFactory {
	return func(source string) (Client, error) {
		*calls = append(*calls, source)
		c, ok := sources[source]
		if !ok {
			return nil, errors.Errorf("no such source %s", source)
		}
		return c, nil
	}
}

func failing(_ context.Context, _ config.Request, target string) error {
	_ = os.WriteFile(target, []byte("half"), 0o644)
	return errors.New("connection reset")
}

func writing(payload string) clientFunc {
	return func(_ context.Context, _ config.Request, target string) error {
		return os.WriteFile(target, []byte(payload), 0o644)
	}
}

func testConfig(t *testing.T, sources ...string) *config.Config {
	cfg := config.Default()
	cfg.Source = sources
	cfg.Date = dates.Text("20240609")
	cfg.TempFilename = filepath.Join(t.TempDir(), "tmp", "temp.grib")
	return cfg
}

func TestPrimaryFailsBackupSucceeds(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var calls []string
	r := New(fakeSources(&calls, map[string]clientFunc{
		"primary": failing,
		"backup":  writing("GRIB-from-backup"),
	}), zap.New(core).Sugar())

	res, err := r.Retrieve(context.Background(), testConfig(t, "primary", "backup"))
	if err != nil {
		t.Fatalf("retrieve should not fail: %v", err)
	}
	if !res.OK() || res.Source != "backup" {
		t.Fatalf("expected backup to win, got %+v", res)
	}
	got, err := os.ReadFile(res.Path)
	if err != nil || string(got) != "GRIB-from-backup" {
		t.Fatalf("temp file should hold the backup payload, got %q (%v)", got, err)
	}
	if len(calls) != 2 || calls[0] != "primary" {
		t.Fatalf("expected primary then backup, got %v", calls)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Fatalf("expected the primary failure to be logged once, got %v", logs.All())
	}
	if filepath.Ext(res.Path) != ".grib" {
		t.Fatalf("temp file should keep the configured extension, got %s", res.Path)
	}
}

func TestStopsAtFirstSuccess(t *testing.T) {
	var calls []string
	r := New(fakeSources(&calls, map[string]clientFunc{
		"a": writing("A"),
		"b": writing("B"),
	}), nil)
	res, err := r.Retrieve(context.Background(), testConfig(t, "a", "b"))
	if err != nil || res.Source != "a" || len(calls) != 1 {
		t.Fatalf("expected only the first source to run, got %+v %v (%v)", res, calls, err)
	}
}

func TestSingleFailingSourceLeavesNoFile(t *testing.T) {
	var calls []string
	r := New(fakeSources(&calls, map[string]clientFunc{"onlyone": failing}), nil)
	res, err := r.Retrieve(context.Background(), testConfig(t, "onlyone"))
	if err != nil {
		t.Fatalf("exhaustion must not raise: %v", err)
	}
	if res.OK() || res.Err == nil {
		t.Fatalf("expected a failed result, got %+v", res)
	}
	if _, statErr := os.Stat(res.Path); !os.IsNotExist(statErr) {
		t.Fatalf("no temp file should be left behind")
	}
}

func TestTempNamesAreUnique(t *testing.T) {
	cfg := testConfig(t, "x")
	a, b := TempPath(cfg), TempPath(cfg)
	if a == b {
		t.Fatalf("expected distinct temp names, got %s twice", a)
	}
	if filepath.Dir(a) != filepath.Dir(cfg.TempFilename) {
		t.Fatalf("temp file should sit beside %s, got %s", cfg.TempFilename, a)
	}
}

func TestCancelledContextPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	r := New(fakeSources(&calls, map[string]clientFunc{
		"slow": func(ctx context.Context, _ config.Request, _ string) error {
			cancel()
			return ctx.Err()
		},
		"never": writing("x"),
	}), nil)
	_, err := r.Retrieve(ctx, testConfig(t, "slow", "never"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("no source should run after cancellation, got %v", calls)
	}
}

func TestInvalidDatePropagates(t *testing.T) {
	cfg := testConfig(t, "x")
	cfg.Date = dates.Text("09/06/2024")
	var calls []string
	_, err := New(fakeSources(&calls, nil), nil).Retrieve(context.Background(), cfg)
	if !errors.Is(err, dates.ErrDateFormat) {
		t.Fatalf("expected ErrDateFormat, got %v", err)
	}
}

func TestOpenDataFactoryRejectsUnknownSource(t *testing.T) {
	if _, err := OpenData(opendata.Options{})("nowhere"); !errors.Is(err, opendata.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestOpenDataFactoryReusesClients(t *testing.T) {
	factory := OpenData(opendata.Options{})
	first, err := factory("aws")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	second, err := factory("aws")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same client for repeated sources")
	}
	other, err := factory("azure")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if other == first {
		t.Fatalf("expected a distinct client per source")
	}
}

func TestRequestUsesClock(t *testing.T) {
	cfg := testConfig(t, "x")
	cfg.Date = dates.Offset(-1)
	var got time.Time
	var calls []string
	r := New(fakeSources(&calls, map[string]clientFunc{
		"x": func(_ context.Context, req config.Request, target string) error {
			got = req.Date
			return os.WriteFile(target, nil, 0o644)
		},
	}), nil).WithClock(func() time.Time { return time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC) })
	if _, err := r.Retrieve(context.Background(), cfg); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.Day() != 9 {
		t.Fatalf("expected the 9th, got %s", got)
	}
}
