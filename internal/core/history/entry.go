package history

import "time"

// Entry is one recorded run.
type Entry struct {
	ID           int64
	Name         string
	Method       string
	URL          string
	StatusCode   int
	Duration     time.Duration
	Size         int64
	ContentClass string
	Error        string
	Timestamp    time.Time
}
