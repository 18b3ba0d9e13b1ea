package models

import "time"

// ProgressEvent is one progress notification emitted by the orchestrator.
// Subject is the quality name during encoding and the file name otherwise.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	File      string    `json:"file"`
	FileIndex int       `json:"file_index"`
	FileCount int       `json:"file_count"`
	Stage     Stage     `json:"stage"`
	Subject   string    `json:"subject,omitempty"`
	Percent   float64   `json:"percent"`
	Overall   float64   `json:"overall"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamingType constants
const (
	StreamingTypeHLS = "hls"
)
