// Package store keeps the reports of finished batch runs for the status API.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/downloader"
)

var ErrNotFound = errors.New("no runs recorded for namespace")

// MemoryStore keeps recent run reports per namespace, oldest first.
// A zero limit disables that kind of retention.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string][]downloader.Report
	keep   int
	maxAge time.Duration
	now    func() time.Time
}

func NewMemoryStore(keep int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		runs:   map[string][]downloader.Report{},
		keep:   keep,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SaveReport records a finished run under report.Name.
func (s *MemoryStore) SaveReport(report downloader.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[report.Name] = s.prune(append(s.runs[report.Name], report))
}

// prune drops reports beyond the count limit and those older than maxAge.
// The newest report survives either rule.
func (s *MemoryStore) prune(reports []downloader.Report) []downloader.Report {
	if s.keep > 0 && len(reports) > s.keep {
		reports = reports[len(reports)-s.keep:]
	}
	if s.maxAge <= 0 {
		return reports
	}
	cutoff := s.now().Add(-s.maxAge)
	drop := 0
	for drop < len(reports)-1 && reports[drop].StartedAt.Before(cutoff) {
		drop++
	}
	return reports[drop:]
}

func (s *MemoryStore) Latest(name string) (downloader.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := s.runs[name]
	if len(reports) == 0 {
		return downloader.Report{}, ErrNotFound
	}
	return reports[len(reports)-1], nil
}

// Range returns the runs of name started within [from, to].
func (s *MemoryStore) Range(name string, from, to time.Time) ([]downloader.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := s.runs[name]
	lo := sort.Search(len(reports), func(i int) bool { return !reports[i].StartedAt.Before(from) })
	hi := sort.Search(len(reports), func(i int) bool { return reports[i].StartedAt.After(to) })
	if lo >= hi {
		return nil, ErrNotFound
	}
	return append([]downloader.Report(nil), reports[lo:hi]...), nil
}
