package domain

import "time"

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ParseErrorPolicy string

const (
	ParseErrorAbort ParseErrorPolicy = "abort"
	ParseErrorSkip  ParseErrorPolicy = "skip"
)

func (p ParseErrorPolicy) Valid() bool {
	return p == ParseErrorAbort || p == ParseErrorSkip
}

// IngestRequest describes one ingestion run. Zero values fall back to the
// configured defaults.
type IngestRequest struct {
	RunID      string   `json:"run_id,omitempty"`
	Root       string   `json:"root,omitempty"`
	Recursive  *bool    `json:"recursive,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	BatchSize  int      `json:"batch_size,omitempty"`
	Trigger    string   `json:"trigger,omitempty"`
}

type SkippedResource struct {
	Location string `json:"location"`
	Reason   string `json:"reason"`
}

type IngestionRun struct {
	ID         string            `json:"id"`
	Root       string            `json:"root"`
	Trigger    string            `json:"trigger,omitempty"`
	Status     RunStatus         `json:"status"`
	Resources  int               `json:"resources"`
	Documents  int               `json:"documents"`
	Chunks     int               `json:"chunks"`
	Batches    int               `json:"batches"`
	Skipped    []SkippedResource `json:"skipped,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

func (r *IngestionRun) Finish(err error, now time.Time) {
	r.FinishedAt = &now
	if err != nil {
		r.Status = RunStatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = RunStatusCompleted
}
