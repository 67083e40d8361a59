package history

import "time"

// Status is the terminal outcome of one upload attempt.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusUploaded || s == StatusFailed
}

// Entry is one row of the ledger.
type Entry struct {
	ID          int64
	RunID       string
	Path        string
	Destination string
	Status      Status
	// ExitStatus is nil when the upload succeeded or never started.
	ExitStatus   *int
	ErrorMessage string
	Worker       int
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
}

// Filter narrows List results. The zero value returns the most recent
// defaultListLimit entries of any status.
type Filter struct {
	Limit  int
	Status Status
	RunID  string
	Since  time.Time
}

const defaultListLimit = 50

// Summary aggregates counts by status.
type Summary struct {
	Uploaded int
	Failed   int
}

// Total returns the number of recorded attempts.
func (s Summary) Total() int { return s.Uploaded + s.Failed }
