package ledger

import "time"

// Status represents a job's position in the processing lifecycle. Transitions
// are monotone: pending -> processing -> completed or failed. Terminal states
// never transition again.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one row of the processing ledger. JobKey doubles as the asset key
// and names every artifact directory derived from the source.
type Job struct {
	ID              int64
	JobKey          string
	SourcePath      string
	OwnerID         string
	Status          Status
	ErrorMessage    string
	ArtifactsJSON   string
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastHeartbeat   *time.Time
}

// HealthSummary aggregates ledger counts for diagnostics.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
