package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/tracing"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/upload"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// DefaultTickInterval paces the simulated transcription progress
const DefaultTickInterval = 300 * time.Millisecond

// HistoryStore records successful renders
type HistoryStore interface {
	Put(source string, entry models.HistoryEntry) error
}

// SettingsStore persists the last used upload parameters
type SettingsStore interface {
	Save(settings models.UploadSettings) error
}

// UploadOptions enables publishing each rendered package
type UploadOptions struct {
	CourseID          string
	VideoName         string
	Language          string
	DeleteAfterUpload bool
	UploadedBy        string
}

// Options configures a queue run
type Options struct {
	OutputBaseDir string
	Qualities     []models.QualityProfile
	Catalog       models.QualityCatalog
	Backend       models.EncoderBackend
	Transcribe    bool
	// Language is the transcription hint; empty or "auto" detects
	Language     string
	TickInterval time.Duration
	// Upload is nil when packages stay local
	Upload *UploadOptions
}

// Dependencies are the collaborators of a Runner. Transcriber, Uploader,
// History and Settings are optional.
type Dependencies struct {
	Prober      transcoder.Prober
	Encoder     transcoder.RenditionEncoder
	Transcriber transcoder.SpeechTranscriber
	Uploader    upload.Uploader
	History     HistoryStore
	Settings    SettingsStore
	Observers   []Observer
	Logger      *logging.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Runner processes a list of source files sequentially. One file failing
// never stops the queue.
type Runner struct {
	opts            Options
	deps            Dependencies
	logger          *logging.Logger
	now             func() time.Time
	uploadCancelled atomic.Bool
	running         atomic.Bool
}

// NewRunner creates a queue runner
func NewRunner(opts Options, deps Dependencies) (*Runner, error) {
	if deps.Prober == nil || deps.Encoder == nil {
		return nil, errors.New("prober and encoder are required")
	}
	if opts.OutputBaseDir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.Transcribe && deps.Transcriber == nil {
		return nil, errors.New("transcription enabled without a transcriber")
	}
	if opts.Upload != nil && deps.Uploader == nil {
		return nil, errors.New("upload enabled without an uploader")
	}
	if opts.Backend == "" {
		opts.Backend = models.BackendCPU
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	opts.Qualities = opts.Catalog.Order(opts.Qualities)

	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Runner{
		opts:   opts,
		deps:   deps,
		logger: logger.WithComponent("queue"),
		now:    now,
	}, nil
}

// CancelUpload asks the running upload to stop before its next object. The
// flag is cleared when the next file starts uploading.
func (r *Runner) CancelUpload() {
	r.uploadCancelled.Store(true)
}

// UploadCancelled reports whether an upload cancellation is pending
func (r *Runner) UploadCancelled() bool {
	return r.uploadCancelled.Load()
}

// Running reports whether Run is in progress
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run processes files in order and returns the run summary. Observers get
// every progress event, each file result and the summary.
func (r *Runner) Run(ctx context.Context, files []string) models.QueueSummary {
	r.running.Store(true)
	defer r.running.Store(false)

	runID := uuid.New().String()
	startedAt := r.now()
	logger := r.logger.WithRunID(runID)
	rep := newReporter(runID, len(files), r.deps.Observers, r.now)

	logger.Infof("queue started with %d file(s)", len(files))

	results := make([]models.QueueResult, 0, len(files))
	for i, file := range files {
		res := r.processFile(ctx, rep, i+1, file)
		metrics.RecordFileProcessed(res.Status)
		rep.finishFile(res)
		results = append(results, res)
	}

	summary := Summarize(runID, results, startedAt, r.now())
	rep.queueDone(summary)
	return summary
}

// processFile runs the per-file state machine. Panics are recovered into a
// failed result.
func (r *Runner) processFile(ctx context.Context, rep *reporter, index int, file string) (res models.QueueResult) {
	res = models.QueueResult{File: file, Status: models.ResultStatusFailed}
	logger := r.logger.WithRunID(rep.runID).WithFile(file)

	span, ctx := tracing.StartSpan(ctx, "hlsconvert.file")
	tracing.SetTag(span, "file", file)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("unexpected error: %v", rec)
			metrics.RecordError("queue", "panic")
			if res.Status != models.ResultStatusSuccess {
				res.Status = models.ResultStatusFailed
				res.Error = fmt.Sprintf("Unexpected error: %v", rec)
			}
		}
		tracing.SetTag(span, "status", res.Status)
		tracing.FinishSpan(span)
	}()

	names := make([]string, len(r.opts.Qualities))
	for i, q := range r.opts.Qualities {
		names[i] = q.Name
	}
	rep.startFile(index, file, newFileProgress(names, false, r.opts.Upload != nil))
	rep.update(models.StagePending, file, 0, "Queued", nil)

	if _, err := os.Stat(file); err != nil {
		res.Error = "File missing: " + file
		logger.Error(res.Error)
		return res
	}

	outputDir := transcoder.OutputDirFor(r.opts.OutputBaseDir, file)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		res.Error = fmt.Sprintf("Output directory create failed: %v", err)
		return res
	}

	// Probe
	rep.update(models.StageProbing, file, 0, "Reading media info", nil)
	stageStart := r.now()
	src := r.deps.Prober.Probe(ctx, file)
	if src.Path == "" {
		src.Path = file
	}
	metrics.RecordStage(string(models.StageProbing), r.now().Sub(stageStart).Seconds())

	transcribe := r.opts.Transcribe && src.HasAudio
	rep.update(models.StageProbing, file, 100, fmt.Sprintf("Duration %s", models.FormatSeconds(src.Duration)), func(p *fileProgress) {
		p.transcribe = transcribe
	})

	// Encode every selected quality, stopping at the first failure
	for i, q := range r.opts.Qualities {
		rep.update(models.StageEncoding, q.Name, 0, fmt.Sprintf("Rendering %s (%d/%d)", q.Name, i+1, len(r.opts.Qualities)), nil)
		if err := r.encode(ctx, rep, src, q, outputDir); err != nil {
			res.Error = err.Error()
			logger.WithQuality(q.Name).ErrorWithErr("encoding failed", err)
			return res
		}
	}

	// Initial master playlist
	rep.update(models.StagePlaylistInitial, file, 0, "Writing master playlist", nil)
	masterPath, err := transcoder.BuildMasterPlaylist(outputDir, r.opts.Catalog, r.opts.Qualities, src.HasAudio, nil)
	if err != nil {
		res.Error = fmt.Sprintf("Master playlist write failed: %v", err)
		logger.Error(res.Error)
		return res
	}
	res.OutputDir = outputDir
	res.MasterPath = masterPath

	if transcribe {
		r.transcribe(ctx, rep, src, outputDir, &res)
	}

	res.Status = models.ResultStatusSuccess
	r.recordHistory(logger, src, &res, transcribe)

	if r.opts.Upload != nil {
		r.upload(ctx, rep, logger, src, names, &res)
	}
	return res
}

func (r *Runner) encode(ctx context.Context, rep *reporter, src models.SourceFile, q models.QualityProfile, outputDir string) error {
	span, ctx := tracing.StartStage(ctx, string(models.StageEncoding), src.Path)
	tracing.SetTag(span, "quality", q.Name)

	start := r.now()
	job := transcoder.EncodeJob{Source: src, Profile: q, Backend: r.opts.Backend, OutputDir: outputDir}
	err := r.deps.Encoder.Encode(ctx, job, func(percent float64) {
		rep.update(models.StageEncoding, q.Name, percent, "", func(p *fileProgress) {
			p.setEncode(q.Name, percent)
		})
	})
	tracing.FinishStage(span, err)

	elapsed := r.now().Sub(start).Seconds()
	if err != nil {
		metrics.RecordEncode(q.Name, string(r.opts.Backend), "failed", elapsed)
		metrics.RecordError("encoder", encodeErrorType(err))
		return err
	}
	metrics.RecordEncode(q.Name, string(r.opts.Backend), "success", elapsed)
	metrics.RecordStage(string(models.StageEncoding), elapsed)

	rep.update(models.StageEncoding, q.Name, 100, fmt.Sprintf("Rendered %s", q.Name), func(p *fileProgress) {
		p.setEncode(q.Name, 100)
	})
	return nil
}

// transcribe produces captions and the subtitle playlist, then rewrites the
// master playlist with the subtitle group. Failures are recorded on the
// result and never fail the file.
// startSimTicker advances the simulated transcription progress until the
// returned stop function is called. stop is idempotent and waits for the
// ticker goroutine to exit.
func (r *Runner) startSimTicker(ctx context.Context, rep *reporter, subject string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				rep.update(models.StageTranscribing, subject, 0, "", func(p *fileProgress) {
					p.tickSim()
				})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// runTranscriber turns a transcriber panic into an ordinary error
func (r *Runner) runTranscriber(ctx context.Context, src models.SourceFile, outputDir string) (result *models.TranscriptResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordError("transcription", "panic")
			result, err = nil, fmt.Errorf("transcription error: %v", rec)
		}
	}()
	return r.deps.Transcriber.Transcribe(ctx, src, r.opts.Language, outputDir)
}

func (r *Runner) transcribe(ctx context.Context, rep *reporter, src models.SourceFile, outputDir string, res *models.QueueResult) {
	logger := r.logger.WithRunID(rep.runID).WithFile(src.Path)
	span, ctx := tracing.StartStage(ctx, string(models.StageTranscribing), src.Path)
	start := r.now()

	rep.update(models.StageTranscribing, src.Path, 0, "Transcribing audio", nil)

	stopTicker := r.startSimTicker(ctx, rep, src.Path)
	defer stopTicker()

	result, err := r.runTranscriber(ctx, src, outputDir)
	stopTicker()

	if err != nil {
		res.TranscriptError = capitalize(err.Error())
		logger.WithError(err).Warn("transcription failed")
		metrics.RecordTranscription("failed")
		tracing.FinishStage(span, err)
		return
	}
	res.TranscriptPaths = result.Paths
	rep.update(models.StageTranscribing, src.Path, 100, fmt.Sprintf("Transcribed %d segments", len(result.Segments)), func(p *fileProgress) {
		p.finishSim()
	})

	var subs []models.SubtitleTrack
	caption := result.Paths.Caption()
	switch {
	case caption == "":
		res.TranscriptError = "Subtitle file (VTT/SRT) not found after transcription"
	default:
		subPath, err := transcoder.BuildSubtitlePlaylist(outputDir, caption, result.Language)
		if err != nil {
			res.TranscriptError = fmt.Sprintf("Subtitle playlist creation failed: %v", err)
			break
		}
		res.SubtitlePlaylist = subPath
		subs = append(subs, models.SubtitleTrack{Language: result.Language, PlaylistPath: subPath})
	}

	if len(subs) > 0 {
		rep.update(models.StagePlaylistFinal, src.Path, 0, "Adding subtitles to master playlist", nil)
		if _, err := transcoder.BuildMasterPlaylist(outputDir, r.opts.Catalog, r.opts.Qualities, src.HasAudio, subs); err != nil && res.TranscriptError == "" {
			res.TranscriptError = fmt.Sprintf("Failed to add subtitles to master playlist: %v", err)
		}
	}

	status := "success"
	if res.TranscriptError != "" {
		status = "failed"
		logger.Warn(res.TranscriptError)
	}
	metrics.RecordTranscription(status)
	metrics.RecordStage(string(models.StageTranscribing), r.now().Sub(start).Seconds())
	tracing.FinishStage(span, nil)
}

func (r *Runner) recordHistory(logger *logging.Logger, src models.SourceFile, res *models.QueueResult, transcribed bool) {
	if r.deps.History == nil {
		return
	}
	entry := models.NewHistoryEntry(res.OutputDir, transcribed, r.now())
	if !res.TranscriptPaths.IsZero() {
		paths := res.TranscriptPaths
		entry.Transcript = paths.SRT
		entry.TranscriptPaths = &paths
	}
	entry.SubtitlePlaylist = res.SubtitlePlaylist
	if err := r.deps.History.Put(src.Path, entry); err != nil {
		logger.WithError(err).Warn("failed to save render history")
	}
}

// upload publishes the package and registers the content record. Any
// failure marks the file failed while keeping the local output.
func (r *Runner) upload(ctx context.Context, rep *reporter, logger *logging.Logger, src models.SourceFile, qualities []string, res *models.QueueResult) {
	opts := r.opts.Upload
	r.uploadCancelled.Store(false)

	span, ctx := tracing.StartStage(ctx, string(models.StageUploading), src.Path)
	start := r.now()

	rep.update(models.StageUploading, src.Path, 0, "Uploading", func(p *fileProgress) {
		p.setUpload(0, 0)
	})

	prefix := upload.Prefix(opts.CourseID, opts.Language, opts.VideoName)
	records, err := r.deps.Uploader.UploadDirectory(ctx, res.OutputDir, prefix, r.UploadCancelled, func(done, total int, name string) {
		rep.update(models.StageUploading, name, 100*float64(done)/float64(max(total, 1)), fmt.Sprintf("Uploaded %d/%d", done, total), func(p *fileProgress) {
			p.setUpload(done, total)
		})
	})
	res.Uploaded = records
	if errors.Is(err, upload.ErrCancelled) {
		res.Status = models.ResultStatusFailed
		res.Error = models.ErrMsgUploadCancelled
		res.Cancelled = true
		logger.Warnf("upload cancelled after %d object(s)", len(records))
		tracing.FinishStage(span, err)
		return
	}
	if err != nil {
		r.failUpload(logger, span, res, err)
		return
	}

	rep.update(models.StageUploading, src.Path, 100, "Creating content record", func(p *fileProgress) {
		p.markUpload(uploadedMark)
	})

	keys := upload.BuildS3Keys(records, prefix, qualities)
	req := upload.NewRecordRequest(opts.VideoName, opts.CourseID, opts.Language, keys, src.Duration, qualities, opts.UploadedBy)
	record, err := r.deps.Uploader.CreateRecord(ctx, req)
	if err != nil {
		r.failUpload(logger, span, res, err)
		return
	}
	res.Record = record
	rep.update(models.StageUploading, src.Path, 100, "Content record created", func(p *fileProgress) {
		p.markUpload(recordMark)
	})

	if r.deps.Settings != nil {
		settings := models.UploadSettings{
			CourseID:          opts.CourseID,
			VideoName:         opts.VideoName,
			Language:          opts.Language,
			DeleteAfterUpload: opts.DeleteAfterUpload,
		}
		if err := r.deps.Settings.Save(settings); err != nil {
			logger.WithError(err).Warn("failed to save upload settings")
		}
	}

	if opts.DeleteAfterUpload {
		if err := os.RemoveAll(res.OutputDir); err != nil {
			logger.WithError(err).Warn("failed to delete local output")
		} else {
			logger.Infof("deleted local output %s", res.OutputDir)
		}
	}

	metrics.RecordStage(string(models.StageUploading), r.now().Sub(start).Seconds())
	tracing.FinishStage(span, nil)
}

func (r *Runner) failUpload(logger *logging.Logger, span opentracing.Span, res *models.QueueResult, err error) {
	res.Status = models.ResultStatusFailed
	res.Error = "S3/File record: " + err.Error()
	logger.ErrorWithErr("upload failed", err)
	metrics.RecordError("upload", uploadErrorType(err))
	tracing.FinishStage(span, err)
}

func encodeErrorType(err error) string {
	switch {
	case errors.Is(err, transcoder.ErrStalled):
		return "stalled"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "encode_failed"
	}
}

func uploadErrorType(err error) string {
	var se *upload.StatusError
	switch {
	case errors.Is(err, upload.ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &se):
		return "backend_status"
	case errors.Is(err, upload.ErrInvalidResponse):
		return "invalid_response"
	default:
		return "transfer"
	}
}

// capitalize upper-cases the first letter of an error message for display
func capitalize(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
