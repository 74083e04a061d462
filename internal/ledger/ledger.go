// Package ledger records which dates have already been downloaded and
// post-processed, so that re-runs skip them.
package ledger

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrInvalidInput is returned for empty dates, paths and DSNs.
var ErrInvalidInput = errors.New("invalid ledger input")

// Ledger is an append-only set of processed dates kept in insertion order.
type Ledger interface {
	Exists(date string) (bool, error)
	// Record appends date unless it is already present and reports whether it was added.
	Record(date string) (bool, error)
	Dates() ([]string, error)
}

// JSONFile keeps the dates as a JSON array in a single file. Every Record
// reads, modifies and rewrites the whole file; it is not safe for more than
// one writer.
type JSONFile struct {
	Path string
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: strings.TrimSpace(path)}
}

func (l *JSONFile) Exists(date string) (bool, error) {
	items, err := l.load()
	if err != nil {
		return false, err
	}
	return slices.Contains(items, date), nil
}

func (l *JSONFile) Record(date string) (bool, error) {
	if strings.TrimSpace(date) == "" {
		return false, ErrInvalidInput
	}
	items, err := l.load()
	if err != nil {
		return false, err
	}
	if slices.Contains(items, date) {
		return false, nil
	}
	items = append(items, date)
	if err := l.save(items); err != nil {
		return false, err
	}
	return true, nil
}

func (l *JSONFile) Dates() ([]string, error) {
	return l.load()
}

func (l *JSONFile) load() ([]string, error) {
	if l == nil || l.Path == "" {
		return nil, ErrInvalidInput
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, errors.Wrap(err, "read ledger")
	}
	items := []string{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrapf(err, "decode ledger %s", l.Path)
	}
	return items, nil
}

func (l *JSONFile) save(items []string) error {
	data, err := json.MarshalIndent(items, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return errors.Wrap(err, "create ledger directory")
	}
	tmp := l.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write ledger")
	}
	return errors.Wrap(os.Rename(tmp, l.Path), "replace ledger")
}

// Memory is a process-local ledger, used for dry runs and tests.
type Memory struct {
	mu    sync.Mutex
	items []string
}

func NewMemory(dates ...string) *Memory {
	m := &Memory{}
	for _, d := range dates {
		_, _ = m.Record(d)
	}
	return m
}

func (m *Memory) Exists(date string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.items, date), nil
}

func (m *Memory) Record(date string) (bool, error) {
	if strings.TrimSpace(date) == "" {
		return false, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.items, date) {
		return false, nil
	}
	m.items = append(m.items, date)
	return true, nil
}

func (m *Memory) Dates() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.items...), nil
}

// Open picks a backend from dsn. An empty dsn or a file:// DSN stores the
// ledger as JSON; jsonPath is used when the DSN carries no path. namespace
// partitions shared backends such as Postgres.
func Open(dsn, jsonPath, namespace string) (Ledger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if strings.TrimSpace(jsonPath) == "" {
			return nil, ErrInvalidInput
		}
		return NewJSONFile(jsonPath), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse ledger dsn")
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "", "file":
		path := parsed.Path
		if parsed.Opaque != "" {
			path = parsed.Opaque
		}
		if path == "" {
			path = jsonPath
		}
		if path == "" {
			return nil, ErrInvalidInput
		}
		return NewJSONFile(path), nil
	case "memory", "mem":
		return NewMemory(), nil
	case "postgres", "postgresql":
		return NewPostgres(dsn, namespace)
	default:
		return nil, errors.Errorf("unsupported ledger scheme: %s", scheme)
	}
}
