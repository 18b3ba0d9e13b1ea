package api

import (
	"sync"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// Snapshot is the state served by the status endpoint
type Snapshot struct {
	RunID    string                `json:"run_id,omitempty"`
	Running  bool                  `json:"running"`
	Progress *models.ProgressEvent `json:"progress,omitempty"`
	Results  []models.QueueResult  `json:"results"`
	Summary  *models.QueueSummary  `json:"summary,omitempty"`
}

// Status follows a queue run as an observer and keeps the latest state
type Status struct {
	mu       sync.RWMutex
	runID    string
	running  bool
	progress *models.ProgressEvent
	results  []models.QueueResult
	summary  *models.QueueSummary
}

// NewStatus creates an empty status tracker
func NewStatus() *Status {
	return &Status{}
}

func (s *Status) OnProgress(ev models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.RunID != s.runID {
		s.runID = ev.RunID
		s.results = nil
		s.summary = nil
	}
	s.running = true
	s.progress = &ev
}

func (s *Status) OnFileDone(runID string, result models.QueueResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID == s.runID {
		s.results = append(s.results, result)
	}
}

func (s *Status) OnQueueDone(summary models.QueueSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = summary.RunID
	s.running = false
	s.summary = &summary
	s.results = summary.Results
}

// Snapshot returns a copy of the current state
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		RunID:   s.runID,
		Running: s.running,
		Results: make([]models.QueueResult, len(s.results)),
	}
	copy(snap.Results, s.results)
	if s.progress != nil {
		p := *s.progress
		snap.Progress = &p
	}
	if s.summary != nil {
		sum := *s.summary
		snap.Summary = &sum
	}
	return snap
}
