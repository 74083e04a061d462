package store

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/downloader"
)

func report(name string, started time.Time) downloader.Report {
	return downloader.Report{ID: started.Format(time.RFC3339), Name: name, StartedAt: started}
}

func TestRetentionByCount(t *testing.T) {
	s := NewMemoryStore(2, 0)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		s.SaveReport(report("au", base.Add(time.Duration(i)*time.Minute)))
	}
	got, err := s.Range("au", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 2 || !got[0].StartedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected the two newest reports, got %+v", got)
	}
}

func TestRetentionByAgeKeepsNewest(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	old := time.Now().Add(-3 * time.Hour)
	s.SaveReport(report("au", old))
	s.SaveReport(report("au", old.Add(time.Minute)))
	latest, err := s.Latest("au")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.StartedAt.Equal(old.Add(time.Minute)) {
		t.Fatalf("unexpected latest %+v", latest)
	}
	got, _ := s.Range("au", old.Add(-time.Hour), time.Now())
	if len(got) != 1 {
		t.Fatalf("expired reports should be dropped, got %d", len(got))
	}
}

func TestNamespacesAreSeparate(t *testing.T) {
	s := NewMemoryStore(0, 0)
	now := time.Now()
	s.SaveReport(report("au", now))
	if _, err := s.Latest("eu"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Range("au", now.Add(time.Minute), now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an empty range, got %v", err)
	}
}

func TestRetentionFollowsClock(t *testing.T) {
	s := NewMemoryStore(0, 2*time.Hour)
	start := time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	s.SaveReport(report("au", start.Add(-time.Hour)))

	s.now = func() time.Time { return start.Add(3 * time.Hour) }
	s.SaveReport(report("au", start.Add(3*time.Hour)))

	got, err := s.Range("au", start.Add(-24*time.Hour), start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 1 || !got[0].StartedAt.Equal(start.Add(3*time.Hour)) {
		t.Fatalf("expected only the fresh report, got %+v", got)
	}
}

func TestRangeReturnsCopy(t *testing.T) {
	s := NewMemoryStore(0, 0)
	now := time.Now()
	s.SaveReport(report("au", now))
	got, _ := s.Range("au", now, now)
	got[0].Name = "changed"
	latest, _ := s.Latest("au")
	if latest.Name != "au" {
		t.Fatalf("range result aliases stored reports")
	}
}
