package models

import "time"

// DumpArtifact is a completed dump file under a connection's dump directory.
// The file name doubles as the artifact identifier.
type DumpArtifact struct {
	Name      string
	Path      string
	CreatedAt time.Time
	SizeBytes int64
}

// OperationStatus is the terminal state of a dump or restore run.
type OperationStatus string

const (
	StatusSucceeded OperationStatus = "succeeded"
	StatusFailed    OperationStatus = "failed"
	StatusCancelled OperationStatus = "cancelled"
)

// OperationResult holds the outcome of a single dump or restore run. It is
// produced per run and never persisted.
type OperationResult struct {
	RunID      string
	Status     OperationStatus
	ExitCode   int
	StderrTail string
	Duration   time.Duration
	Artifact   string // path of the artifact written or restored
	SizeBytes  int64  // artifact size after a successful dump
	Error      error
}

// Succeeded reports whether the run finished without failure.
func (r *OperationResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// RestoreRequest describes one restore invocation.
type RestoreRequest struct {
	ConnectionName string
	DumpName       string
	CleanFirst     bool
}
