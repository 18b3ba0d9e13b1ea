package models

import "time"

// Stage is a step of the per-file pipeline
type Stage string

// Stage constants, in pipeline order
const (
	StagePending         Stage = "pending"
	StageProbing         Stage = "probing"
	StageEncoding        Stage = "encoding"
	StagePlaylistInitial Stage = "playlist_initial"
	StageTranscribing    Stage = "transcribing"
	StagePlaylistFinal   Stage = "playlist_final"
	StageUploading       Stage = "uploading"
	StageDone            Stage = "done"
	StageFailed          Stage = "failed"
)

// Result status constants
const (
	ResultStatusSuccess = "success"
	ResultStatusFailed  = "failed"
)

// ErrMsgUploadCancelled is recorded on results whose upload was stopped by the user
const ErrMsgUploadCancelled = "Upload cancelled"

// QueueResult is the outcome of processing one source file
type QueueResult struct {
	File             string          `json:"file"`
	Status           string          `json:"status"`
	OutputDir        string          `json:"output_dir,omitempty"`
	MasterPath       string          `json:"master_path,omitempty"`
	TranscriptPaths  TranscriptPaths `json:"transcript_paths,omitempty"`
	SubtitlePlaylist string          `json:"subtitle_playlist_path,omitempty"`
	Error            string          `json:"error,omitempty"`
	TranscriptError  string          `json:"transcript_error,omitempty"`
	Cancelled        bool            `json:"cancelled,omitempty"`
	Uploaded         []UploadRecord  `json:"uploaded,omitempty"`
	Record           map[string]any  `json:"record,omitempty"`
}

// Succeeded reports whether the file reached success
func (r QueueResult) Succeeded() bool {
	return r.Status == ResultStatusSuccess
}

// HistoryEntry is the persisted render record of one source path
type HistoryEntry struct {
	Output           string           `json:"output"`
	Timestamp        string           `json:"ts"`
	Transcribed      bool             `json:"transcribed"`
	Transcript       string           `json:"transcript,omitempty"`
	TranscriptPaths  *TranscriptPaths `json:"transcript_paths,omitempty"`
	SubtitlePlaylist string           `json:"subtitle_playlist,omitempty"`
}

// NewHistoryEntry stamps an entry with the current local time
func NewHistoryEntry(outputDir string, transcribed bool, now time.Time) HistoryEntry {
	return HistoryEntry{
		Output:      outputDir,
		Timestamp:   now.Format("2006-01-02T15:04:05"),
		Transcribed: transcribed,
	}
}

// QueueOutcome classifies a finished queue run
type QueueOutcome string

// QueueOutcome constants
const (
	OutcomeAllSucceeded QueueOutcome = "all_succeeded"
	OutcomeAllFailed    QueueOutcome = "all_failed"
	OutcomePartial      QueueOutcome = "partial"
	OutcomeEmpty        QueueOutcome = "empty"
)

// QueueSummary is the terminal output of a queue run
type QueueSummary struct {
	RunID     string        `json:"run_id"`
	Outcome   QueueOutcome  `json:"outcome"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Results   []QueueResult `json:"results"`
	Message   string        `json:"message"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
