package encode

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ashkanshokri/ecmwf-downloader/internal/dataset"
)

func sample() *dataset.Dataset {
	return &dataset.Dataset{
		Dims: []dataset.Dim{{Name: "latitude", Len: 2}, {Name: "longitude", Len: 3}},
		Coords: []*dataset.Variable{
			{Name: "latitude", Dims: []string{"latitude"}, Data: []float64{-5, -6},
				Attrs: []dataset.Attr{{Name: "units", Value: "degrees_north"}}},
			{Name: "longitude", Dims: []string{"longitude"}, Data: []float64{110, 111, 112}},
			{Name: "time", Data: []float64{1717891200}},
		},
		Vars: []*dataset.Variable{
			{Name: "tp", Type: dataset.Float32, Dims: []string{"latitude", "longitude"},
				Data: []float64{0, 0.5, 1, 1.5, 2, math.NaN()}},
		},
		Attrs: []dataset.Attr{{Name: "Conventions", Value: "CF-1.7"}},
	}
}

func failing(name string) Encoder {
	return Func{EngineName: name, Fn: func(_ *dataset.Dataset, path string) error {
		_ = os.WriteFile(path, []byte("partial"), 0o644)
		return errors.New("engine unavailable")
	}}
}

func TestChainFallsBackAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	path := filepath.Join(t.TempDir(), "cf_20240609.nc")

	chain := NewChain(zap.New(core).Sugar(), failing("netcdf4"), Classic{})
	used, err := chain.Encode(sample(), path)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if used != "netcdf3" {
		t.Fatalf("expected fallback engine, got %s", used)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte{'C', 'D', 'F', 2}) {
		t.Fatalf("expected a CDF-2 file, got prefix %q", data[:4])
	}
	if logs.FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Fatalf("expected one fallback warning, got %v", logs.All())
	}
}

func TestChainReportsEveryFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.nc")
	_, err := NewChain(nil, failing("a"), failing("b")).Encode(sample(), path)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, name := range []string{"engine a", "engine b"} {
		if !bytes.Contains([]byte(err.Error()), []byte(name)) {
			t.Fatalf("error %q should mention %s", err, name)
		}
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("partial output should be removed")
	}
	if _, err := NewChain(nil).Encode(sample(), path); !errors.Is(err, ErrNoEncoders) {
		t.Fatalf("expected ErrNoEncoders, got %v", err)
	}
}

// readName reads a padded NetCDF name at off.
func readName(t *testing.T, b []byte, off int) (string, int) {
	t.Helper()
	n := int(binary.BigEndian.Uint32(b[off:]))
	name := string(b[off+4 : off+4+n])
	return name, off + 4 + (n+3)&^3
}

func TestClassicLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.nc")
	if err := (Classic{}).Encode(sample(), path); err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	off := 8
	if tag := binary.BigEndian.Uint32(b[off:]); tag != ncDimension {
		t.Fatalf("expected dimension list, got tag %x", tag)
	}
	if n := binary.BigEndian.Uint32(b[off+4:]); n != 2 {
		t.Fatalf("expected 2 dimensions, got %d", n)
	}
	name, next := readName(t, b, off+8)
	if name != "latitude" || binary.BigEndian.Uint32(b[next:]) != 2 {
		t.Fatalf("unexpected first dimension %s", name)
	}

	// The last variable is tp; its data ends the file: 6 float32 values.
	tail := b[len(b)-24:]
	if got := math.Float32frombits(binary.BigEndian.Uint32(tail[4:])); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	if got := math.Float32frombits(binary.BigEndian.Uint32(tail[20:])); !math.IsNaN(float64(got)) {
		t.Fatalf("expected NaN for the missing value, got %v", got)
	}
}

func TestClassicRejectsInconsistentDataset(t *testing.T) {
	ds := sample()
	ds.Vars[0].Data = ds.Vars[0].Data[:2]
	if err := (Classic{}).Encode(ds, filepath.Join(t.TempDir(), "bad.nc")); err == nil {
		t.Fatalf("expected validation error")
	}
}
