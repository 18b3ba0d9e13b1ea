package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

func TestBuildEncodeArgs(t *testing.T) {
	job := EncodeJob{
		Source:    models.SourceFile{Path: "/in/talk.mp4", Duration: 60, HasAudio: true},
		Profile:   models.Quality720p,
		Backend:   models.BackendCPU,
		OutputDir: "/out/talk_hls",
	}

	args := BuildEncodeArgs(job)
	joined := strings.Join(args, " ")

	assert.Equal(t, []string{"-hide_banner", "-loglevel", "warning", "-nostdin", "-stats", "-y", "-i", "/in/talk.mp4"}, args[:8])
	assert.Contains(t, joined, "-vf scale=w=1280:h=720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2")
	assert.Contains(t, joined, "-c:v libx264 -profile:v main -crf 20 -g 48 -keyint_min 48 -sc_threshold 0 -b:v 2800k -maxrate 3000k -bufsize 4200k")
	assert.Contains(t, joined, "-c:a aac -b:a 128k -ac 2")
	assert.Contains(t, joined, "-f hls -hls_time 6 -hls_playlist_type vod -hls_list_size 0")
	assert.Equal(t, filepath.Join("/out/talk_hls", "720p", "seg_%03d.ts"), args[len(args)-2])
	assert.Equal(t, filepath.Join("/out/talk_hls", "720p", "index.m3u8"), args[len(args)-1])
}

func TestBuildEncodeArgsWithoutAudio(t *testing.T) {
	job := EncodeJob{
		Source:    models.SourceFile{Path: "in.mp4"},
		Profile:   models.Quality360p,
		OutputDir: "out",
	}
	assert.NotContains(t, BuildEncodeArgs(job), "-c:a")
}

func TestVideoCodecArgs(t *testing.T) {
	p := models.Quality480p

	tests := []struct {
		backend models.EncoderBackend
		want    []string
	}{
		{models.BackendAMD, []string{"-c:v", "h264_amf", "-rc", "vbr_peak", "-quality", "balanced", "-b:v", "1400k", "-maxrate", "1500k", "-bufsize", "2100k", "-g", "48"}},
		{models.BackendNVIDIA, []string{"-c:v", "h264_nvenc", "-rc", "vbr", "-b:v", "1400k", "-maxrate", "1500k", "-bufsize", "2100k", "-g", "48"}},
		{models.BackendIntel, []string{"-c:v", "h264_qsv", "-b:v", "1400k", "-maxrate", "1500k", "-bufsize", "2100k", "-g", "48"}},
		{models.EncoderBackend("bogus"), []string{"-c:v", "libx264", "-profile:v", "main", "-crf", "20", "-g", "48", "-keyint_min", "48", "-sc_threshold", "0", "-b:v", "1400k", "-maxrate", "1500k", "-bufsize", "2100k"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			assert.Equal(t, tt.want, VideoCodecArgs(tt.backend, p))
		})
	}
}

func TestEncode(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", fakeEncoderScript)
	outDir := t.TempDir()

	// stale output from an earlier run must not survive
	stale := filepath.Join(outDir, "480p", "seg_099.ts")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	enc := NewEncoder(ffmpeg, EncoderOptions{PollInterval: 10 * time.Millisecond}, nil)
	job := EncodeJob{
		Source:    models.SourceFile{Path: "in.mp4", Duration: 60, HasAudio: true},
		Profile:   models.Quality480p,
		Backend:   models.BackendCPU,
		OutputDir: outDir,
	}

	var mu sync.Mutex
	var updates []float64
	err := enc.Encode(context.Background(), job, func(p float64) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{25, 50, 100, 100}, updates)
	assert.FileExists(t, filepath.Join(outDir, "480p", "index.m3u8"))
	assert.FileExists(t, filepath.Join(outDir, "480p", "seg_000.ts"))
	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, job.LogPath())
}

func TestEncodeFailureWritesLog(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", "echo 'Unknown encoder h264_nvenc' >&2\nexit 3\n")
	outDir := t.TempDir()

	enc := NewEncoder(ffmpeg, EncoderOptions{PollInterval: 10 * time.Millisecond}, nil)
	job := EncodeJob{
		Source:    models.SourceFile{Path: "in.mp4", Duration: 10},
		Profile:   models.Quality720p,
		Backend:   models.BackendNVIDIA,
		OutputDir: outDir,
	}

	err := enc.Encode(context.Background(), job, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncodeFailed))
	assert.Contains(t, err.Error(), "ffmpeg_error_720p.log")
	assert.Contains(t, err.Error(), "cpu encoder")

	data, readErr := os.ReadFile(filepath.Join(outDir, "ffmpeg_error_720p.log"))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "Unknown encoder h264_nvenc")
}

func TestEncodeStallWatchdog(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", "echo 'frame=1 time=00:00:01.00' >&2\nexec sleep 10\n")
	outDir := t.TempDir()

	enc := NewEncoder(ffmpeg, EncoderOptions{
		StallTimeout: 200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, nil)
	job := EncodeJob{
		Source:    models.SourceFile{Path: "in.mp4", Duration: 60},
		Profile:   models.Quality360p,
		OutputDir: outDir,
	}

	start := time.Now()
	err := enc.Encode(context.Background(), job, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStalled))
	assert.Less(t, time.Since(start), 5*time.Second)

	data, readErr := os.ReadFile(job.LogPath())
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "time=00:00:01.00")
}

func TestEncodeStallAfterPipesClose(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", "echo 'frame=1 time=00:00:01.00' >&2\nexec >&- 2>&-\nexec sleep 10\n")
	outDir := t.TempDir()

	enc := NewEncoder(ffmpeg, EncoderOptions{
		StallTimeout: 200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, nil)
	job := EncodeJob{
		Source:    models.SourceFile{Path: "in.mp4", Duration: 60},
		Profile:   models.Quality480p,
		OutputDir: outDir,
	}

	start := time.Now()
	err := enc.Encode(context.Background(), job, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStalled))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.FileExists(t, job.LogPath())
}

func TestEncodeStartFailure(t *testing.T) {
	enc := NewEncoder(filepath.Join(t.TempDir(), "missing-ffmpeg"), EncoderOptions{}, nil)
	job := EncodeJob{
		Source:    models.SourceFile{Path: "in.mp4"},
		Profile:   models.Quality360p,
		Backend:   models.BackendAMD,
		OutputDir: t.TempDir(),
	}

	err := enc.Encode(context.Background(), job, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncodeFailed))
	assert.Contains(t, err.Error(), "failed to start ffmpeg")
}

func TestScanCRLF(t *testing.T) {
	var lines []string
	ch := make(chan string, 10)
	done := make(chan struct{})
	drainLines(strings.NewReader("a\rb\n\r\nc"), ch, done)
	for l := range ch {
		lines = append(lines, l)
	}
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}
