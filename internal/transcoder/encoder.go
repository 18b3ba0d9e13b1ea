package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

const (
	// DefaultStallTimeout is how long the encoder may stay silent before it is killed
	DefaultStallTimeout = 30 * time.Second
	// DefaultPollInterval is the watchdog check period
	DefaultPollInterval = 50 * time.Millisecond

	// HLS segmenter settings shared by every rendition
	segmentSeconds      = 6
	playlistName        = "index.m3u8"
	segmentPattern      = "seg_%03d.ts"
	lineBufferSize      = 256
	maxLineBytes        = 1024 * 1024
	hardwareEncoderHint = "Try the cpu encoder or install FFmpeg with GPU support (--enable-amf / --enable-nvenc / --enable-libmfx)."
)

// EncodeJob is one rendition of one source file
type EncodeJob struct {
	Source    models.SourceFile
	Profile   models.QualityProfile
	Backend   models.EncoderBackend
	OutputDir string
}

// QualityDir returns the rendition directory of the job
func (j EncodeJob) QualityDir() string {
	return filepath.Join(j.OutputDir, j.Profile.Name)
}

// LogPath returns where a failed encode leaves its captured stderr
func (j EncodeJob) LogPath() string {
	return filepath.Join(j.OutputDir, fmt.Sprintf("ffmpeg_error_%s.log", j.Profile.Name))
}

// RenditionEncoder produces the segmented HLS output of one quality
type RenditionEncoder interface {
	Encode(ctx context.Context, job EncodeJob, onProgress ProgressCallback) error
}

// EncoderOptions tunes the encoder watchdog
type EncoderOptions struct {
	StallTimeout time.Duration
	PollInterval time.Duration
}

// Encoder drives one ffmpeg process per rendition
type Encoder struct {
	ffmpegPath   string
	stallTimeout time.Duration
	pollInterval time.Duration
	logger       *logging.Logger
}

// NewEncoder creates an encoder; zero options fall back to the defaults
func NewEncoder(ffmpegPath string, opts EncoderOptions, logger *logging.Logger) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Encoder{
		ffmpegPath:   ffmpegPath,
		stallTimeout: opts.StallTimeout,
		pollInterval: opts.PollInterval,
		logger:       logger.WithComponent("encoder"),
	}
}

// ScalePadFilter fits the source inside WxH, keeping aspect ratio, and centers it
func ScalePadFilter(width, height int) string {
	return fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		width, height, width, height)
}

// VideoCodecArgs returns the codec and rate control arguments of a backend
func VideoCodecArgs(backend models.EncoderBackend, p models.QualityProfile) []string {
	rate := []string{"-b:v", p.VideoBitrate, "-maxrate", p.MaxRate, "-bufsize", p.BufSize}

	switch backend {
	case models.BackendAMD:
		args := []string{"-c:v", "h264_amf", "-rc", "vbr_peak", "-quality", "balanced"}
		return append(append(args, rate...), "-g", "48")
	case models.BackendNVIDIA:
		args := []string{"-c:v", "h264_nvenc", "-rc", "vbr"}
		return append(append(args, rate...), "-g", "48")
	case models.BackendIntel:
		args := []string{"-c:v", "h264_qsv"}
		return append(append(args, rate...), "-g", "48")
	default:
		args := []string{
			"-c:v", "libx264", "-profile:v", "main", "-crf", "20",
			"-g", "48", "-keyint_min", "48", "-sc_threshold", "0",
		}
		return append(args, rate...)
	}
}

// BuildEncodeArgs builds the full ffmpeg argument list for a job
func BuildEncodeArgs(job EncodeJob) []string {
	qdir := job.QualityDir()

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-nostdin",
		"-stats",
		"-y", "-i", job.Source.Path,
		"-vf", ScalePadFilter(job.Profile.Width, job.Profile.Height),
	}
	args = append(args, VideoCodecArgs(job.Backend, job.Profile)...)

	if job.Source.HasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k", "-ac", "2")
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(qdir, segmentPattern),
		filepath.Join(qdir, playlistName),
	)
	return args
}

// Encode renders one quality. The rendition directory is recreated first so
// stale segments never mix with a new run. A silent process is killed after
// the stall timeout; both stall and non-zero exit leave a log next to the output.
func (e *Encoder) Encode(ctx context.Context, job EncodeJob, onProgress ProgressCallback) error {
	log := e.logger.WithQuality(job.Profile.Name)
	qdir := job.QualityDir()

	if err := os.RemoveAll(qdir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", qdir, err)
	}
	if err := os.MkdirAll(qdir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", qdir, err)
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, BuildEncodeArgs(job)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		msg := fmt.Sprintf("failed to start ffmpeg for %s: %v", job.Profile.Name, err)
		if job.Backend.IsHardware() {
			msg += ". " + hardwareEncoderHint
		}
		return fmt.Errorf("%w: %s", ErrEncodeFailed, msg)
	}

	done := make(chan struct{})
	defer close(done)

	errLines := make(chan string, lineBufferSize)
	outLines := make(chan string, lineBufferSize)
	go drainLines(stderr, errLines, done)
	go drainLines(stdout, outLines, done)

	tracker := NewProgressTracker(job.Source.Duration, func(p float64) {
		log.LogEncodeProgress(job.Profile.Name, p)
		if onProgress != nil {
			onProgress(p)
		}
	})

	var captured bytes.Buffer
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	lastActivity := time.Now()

	for errLines != nil || outLines != nil {
		select {
		case line, ok := <-errLines:
			if !ok {
				errLines = nil
				continue
			}
			lastActivity = time.Now()
			captured.WriteString(line)
			captured.WriteByte('\n')
			tracker.Observe(line)

		case _, ok := <-outLines:
			if !ok {
				outLines = nil
				continue
			}
			lastActivity = time.Now()

		case <-ticker.C:
			if time.Since(lastActivity) <= e.stallTimeout {
				continue
			}
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return e.stallError(log, job, captured.String())

		case <-ctx.Done():
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return ctx.Err()
		}
	}

	// both pipes are closed; the process still has stallTimeout to exit
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

wait:
	for {
		select {
		case err = <-waitErr:
			break wait
		case <-ticker.C:
			if time.Since(lastActivity) <= e.stallTimeout {
				continue
			}
			_ = cmd.Process.Kill()
			<-waitErr
			return e.stallError(log, job, captured.String())
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-waitErr
			return ctx.Err()
		}
	}

	if err != nil {
		logPath := writeLog(job.LogPath(), captured.String())
		msg := fmt.Sprintf("%s (%v); error log: %s", job.Profile.Name, err, logPath)
		if job.Backend.IsHardware() {
			msg += ". " + hardwareEncoderHint
		}
		return fmt.Errorf("%w for %s", ErrEncodeFailed, msg)
	}

	tracker.Complete()
	return nil
}

func (e *Encoder) stallError(log *logging.Logger, job EncodeJob, captured string) error {
	logPath := writeLog(job.LogPath(), captured)
	log.Errorf("ffmpeg produced no output for %s, killed", e.stallTimeout)
	return fmt.Errorf("%w while rendering %s (no output for %s); partial log saved: %s",
		ErrStalled, job.Profile.Name, e.stallTimeout, logPath)
}

// drainLines forwards every line of r to ch until EOF or done is closed.
// ffmpeg -stats rewrites its status line with carriage returns, so both
// \r and \n end a line.
func drainLines(r io.Reader, ch chan<- string, done <-chan struct{}) {
	defer close(ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanCRLF)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case ch <- line:
		case <-done:
			return
		}
	}
}

func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func writeLog(path, text string) string {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path
	}
	_ = os.WriteFile(path, []byte(text), 0644)
	return path
}
