package config

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ashkanshokri/ecmwf-downloader/internal/dates"
)

// LedgerFilename is the per-namespace file listing processed dates.
const LedgerFilename = "downloaded_dates.json"

var (
	// ErrSaveDirRequired is returned when an operation needs save_dir and none is configured.
	ErrSaveDirRequired = errors.New("save_dir is not set in the config and SAVE_DIR is not defined")
	// ErrConfigNotFound is returned when a configuration name cannot be resolved to a file.
	ErrConfigNotFound = errors.New("configuration file not found")
)

var validate = validator.New()

// Config holds the request parameters sent to the data source and the flags
// that drive post-processing. Keys the program does not know about are kept
// in Extra and written back out on Save.
type Config struct {
	// Request keys.
	Type     StringList  `yaml:"type"`
	Stream   string      `yaml:"stream,omitempty"`
	Date     dates.Value `yaml:"date"`
	Time     IntList     `yaml:"time,omitempty"`
	Step     IntList     `yaml:"step,omitempty"`
	Param    StringList  `yaml:"param,omitempty"`
	Levtype  string      `yaml:"levtype,omitempty"`
	Levelist IntList     `yaml:"levelist,omitempty"`
	Number   IntList     `yaml:"number,omitempty"`

	// Behaviour keys.
	Source       StringList `yaml:"source" validate:"min=1,dive,required"`
	TempFilename string     `yaml:"temp_filename" validate:"required"`
	SaveDir      string     `yaml:"save_dir,omitempty"`
	LookBack     int        `yaml:"look_back" validate:"gte=0"`
	DateFormat   string     `yaml:"date_format" validate:"required"`
	Name         string     `yaml:"name" validate:"required"`
	Area         []float64  `yaml:"area" validate:"len=4"`
	SaveGrib     bool       `yaml:"save_grib"`
	SaveNetCDF   bool       `yaml:"save_netcdf"`
	LedgerDSN    string     `yaml:"ledger_dsn,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// Request is the subset of the configuration forwarded to a data source,
// with the date resolved to a calendar day.
type Request struct {
	Type     []string
	Stream   string
	Date     time.Time
	Time     []int
	Step     []int
	Param    []string
	Levtype  string
	Levelist []int
	Number   []int
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Time:         IntList{0},
		Type:         StringList{"cf"},
		Step:         IntList{0, 24, 48, 72},
		Param:        StringList{"tp"},
		Date:         dates.Offset(-1),
		Stream:       "enfo",
		Source:       StringList{"ecmwf"},
		TempFilename: "./temp.grib",
		LookBack:     2,
		DateFormat:   "%Y%m%d",
		Name:         "data",
		Area:         []float64{-5.0, 110.0, -45.0, 155.0},
		SaveGrib:     false,
		SaveNetCDF:   true,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return LoadBytes(data)
}

// LoadBytes decodes YAML over the defaults. Values in data win.
func LoadBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write config")
}

// Clone returns a copy that shares no slices or maps with c.
func (c *Config) Clone() *Config {
	out := *c
	out.Type = slices.Clone(c.Type)
	out.Time = slices.Clone(c.Time)
	out.Step = slices.Clone(c.Step)
	out.Param = slices.Clone(c.Param)
	out.Levelist = slices.Clone(c.Levelist)
	out.Number = slices.Clone(c.Number)
	out.Source = slices.Clone(c.Source)
	out.Area = slices.Clone(c.Area)
	out.Extra = maps.Clone(c.Extra)
	return &out
}

// Map returns the configuration as a generic key/value mapping.
func (c *Config) Map() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return m, nil
}

// Get returns the value stored under key, or def when it is absent.
func (c *Config) Get(key string, def any) any {
	m, err := c.Map()
	if err != nil {
		return def
	}
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return def
}

// Set stores value under key.
func (c *Config) Set(key string, value any) error {
	return c.Update(map[string]any{key: value})
}

// Update merges values into the configuration. Later values win; on error c
// is left unchanged.
func (c *Config) Update(values map[string]any) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "encode update")
	}
	next := c.Clone()
	if err := yaml.Unmarshal(data, next); err != nil {
		return errors.Wrap(err, "apply update")
	}
	*c = *next
	return nil
}

// Validate checks the invariants that do not depend on the clock.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.Date.IsZero() {
		return errors.Wrap(dates.ErrDateType, "invalid config")
	}
	if c.Date.IsText() {
		if _, err := dates.Parse(c.DateFormat, c.Date.String()); err != nil {
			return errors.Wrap(err, "invalid config")
		}
	}
	return nil
}

// Request resolves the request keys against now.
func (c *Config) Request(now time.Time) (Request, error) {
	day, err := dates.ResolveTime(c.Date, now, c.DateFormat)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Type:     slices.Clone(c.Type),
		Stream:   c.Stream,
		Date:     day,
		Time:     slices.Clone(c.Time),
		Step:     slices.Clone(c.Step),
		Param:    slices.Clone(c.Param),
		Levtype:  c.Levtype,
		Levelist: slices.Clone(c.Levelist),
		Number:   slices.Clone(c.Number),
	}, nil
}

// OutputDir is save_dir/name.
func (c *Config) OutputDir() (string, error) {
	if strings.TrimSpace(c.SaveDir) == "" {
		return "", ErrSaveDirRequired
	}
	return filepath.Join(c.SaveDir, c.Name), nil
}

// LedgerPath is the JSON file listing the dates already processed for this namespace.
func (c *Config) LedgerPath() (string, error) {
	dir, err := c.OutputDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LedgerFilename), nil
}

// OverrideSaveDir replaces save_dir with dir unless dir is blank.
func (c *Config) OverrideSaveDir(dir string) {
	if dir = strings.TrimSpace(dir); dir != "" {
		c.SaveDir = dir
	}
}

// EnsureSaveDir falls back to the SAVE_DIR environment variable, expands a
// leading ~, makes the directory absolute and creates it.
func (c *Config) EnsureSaveDir() error {
	dir := strings.TrimSpace(c.SaveDir)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv("SAVE_DIR"))
	}
	if dir == "" {
		return ErrSaveDirRequired
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "expand save_dir")
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrap(err, "resolve save_dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return errors.Wrap(err, "create save_dir")
	}
	c.SaveDir = abs
	return nil
}
