package downloader

import (
	"time"
)

// Status is the outcome of one planned date.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// DateResult is what happened to one planned date.
type DateResult struct {
	Date   string   `json:"date"`
	Status Status   `json:"status"`
	Source string   `json:"source,omitempty"`
	Stored string   `json:"stored_as,omitempty"`
	Files  []string `json:"files,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Report summarises one batch run.
type Report struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Dates     []DateResult `json:"dates"`
}

// Count returns how many dates ended with status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, d := range r.Dates {
		if d.Status == s {
			n++
		}
	}
	return n
}

// ReportStore keeps finished reports.
type ReportStore interface {
	SaveReport(r Report)
}
