package queue

import (
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// Observer receives run notifications. Calls are serialized by the runner,
// so implementations must not block for long.
type Observer interface {
	OnProgress(ev models.ProgressEvent)
	OnFileDone(runID string, result models.QueueResult)
	OnQueueDone(summary models.QueueSummary)
}

// LogObserver writes stage transitions and results to the logger. Encode
// percentages go to debug level.
type LogObserver struct {
	logger    *logging.Logger
	lastStage models.Stage
	lastFile  string
}

// NewLogObserver creates a logging observer
func NewLogObserver(logger *logging.Logger) *LogObserver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LogObserver{logger: logger.WithComponent("queue")}
}

func (o *LogObserver) OnProgress(ev models.ProgressEvent) {
	if ev.Stage == models.StageEncoding && ev.Subject != "" {
		o.logger.WithRunID(ev.RunID).LogEncodeProgress(ev.Subject, ev.Percent)
	}
	if ev.Stage == o.lastStage && ev.File == o.lastFile {
		return
	}
	o.lastStage = ev.Stage
	o.lastFile = ev.File
	o.logger.WithRunID(ev.RunID).LogStageEvent(ev.File, string(ev.Stage), map[string]interface{}{
		"file_index": ev.FileIndex,
		"file_count": ev.FileCount,
		"overall":    ev.Overall,
		"message":    ev.Message,
	})
}

func (o *LogObserver) OnFileDone(runID string, result models.QueueResult) {
	l := o.logger.WithRunID(runID).WithFile(result.File)
	switch {
	case result.Succeeded() && result.TranscriptError != "":
		l.WithField("transcript_error", result.TranscriptError).Warn("file rendered without subtitles")
	case result.Succeeded():
		l.WithField("output_dir", result.OutputDir).Info("file rendered")
	default:
		l.WithField("error", result.Error).Error("file failed")
	}
}

func (o *LogObserver) OnQueueDone(summary models.QueueSummary) {
	o.logger.WithRunID(summary.RunID).WithFields(map[string]interface{}{
		"outcome":   summary.Outcome,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"duration":  summary.Duration.String(),
	}).Info("queue finished")
}
