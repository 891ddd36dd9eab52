package model

import "time"

// RunStatus is the state of a grid rebuild.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// IngestionRun records one grid rebuild.
type IngestionRun struct {
	ID               string     `json:"id"`
	Status           RunStatus  `json:"status"`
	Months           []string   `json:"months"`
	RecordsProcessed int        `json:"records_processed"`
	CellsWritten     int        `json:"cells_written"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}
