package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

var (
	// ErrToolMissing means a required external executable is absent; fatal for the whole run
	ErrToolMissing = errors.New("required tool not available")
	// ErrStalled means the encoder produced no output within the stall window
	ErrStalled = errors.New("ffmpeg appears stuck")
	// ErrEncodeFailed means the encoder exited with a non-zero status
	ErrEncodeFailed = errors.New("ffmpeg failed")
)

// Prober extracts stream facts from a source file
type Prober interface {
	Probe(ctx context.Context, path string) models.SourceFile
}

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// FFmpegPath returns the encoder executable
func (f *FFmpeg) FFmpegPath() string {
	return f.ffmpegPath
}

// CheckTools verifies that ffmpeg and ffprobe can be executed
func (f *FFmpeg) CheckTools(ctx context.Context) error {
	for _, tool := range []string{f.ffmpegPath, f.ffprobePath} {
		cmd := exec.CommandContext(ctx, tool, "-version")
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			var execErr *exec.Error
			if errors.As(err, &execErr) {
				return fmt.Errorf("%w: %s not found in PATH", ErrToolMissing, tool)
			}
			return fmt.Errorf("%w: %s command failed: %v", ErrToolMissing, tool, err)
		}
	}
	return nil
}

// Probe reads duration, frame size and audio presence. It never fails:
// anything ffprobe cannot answer is left at its zero value.
func (f *FFmpeg) Probe(ctx context.Context, path string) models.SourceFile {
	src := models.SourceFile{Path: path}
	src.Duration = f.probeDuration(ctx, path)
	src.Width, src.Height = f.probeSize(ctx, path)
	src.HasAudio = f.HasAudio(ctx, path)
	return src
}

func (f *FFmpeg) probeDuration(ctx context.Context, path string) float64 {
	out, err := f.runProbe(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil || out == "" {
		return 0
	}
	d, err := strconv.ParseFloat(out, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func (f *FFmpeg) probeSize(ctx context.Context, path string) (int, int) {
	out, err := f.runProbe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	)
	if err != nil || out == "" {
		return 0, 0
	}
	parts := strings.Split(strings.SplitN(out, "\n", 2)[0], ",")
	if len(parts) < 2 {
		return 0, 0
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil {
		return 0, 0
	}
	return w, h
}

// HasAudio reports whether the file has at least one audio stream
func (f *FFmpeg) HasAudio(ctx context.Context, path string) bool {
	out, err := f.runProbe(ctx,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	return err == nil && out != ""
}

func (f *FFmpeg) runProbe(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}
