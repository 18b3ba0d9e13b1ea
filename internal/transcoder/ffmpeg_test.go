package transcoder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

func TestProbe(t *testing.T) {
	ffprobe := fakeProbe(t, "60.5", "1920,1080", "1\\n")
	f := NewFFmpeg("ffmpeg", ffprobe)

	src := f.Probe(context.Background(), "/videos/talk.mp4")

	assert.Equal(t, models.SourceFile{
		Path:     "/videos/talk.mp4",
		Duration: 60.5,
		Width:    1920,
		Height:   1080,
		HasAudio: true,
	}, src)
	assert.True(t, src.KnownDuration())
}

func TestProbeUnparseableOutput(t *testing.T) {
	ffprobe := fakeProbe(t, "N/A", "oops", "")
	f := NewFFmpeg("ffmpeg", ffprobe)

	src := f.Probe(context.Background(), "clip.mov")

	assert.Equal(t, models.SourceFile{Path: "clip.mov"}, src)
	assert.False(t, src.KnownDuration())
}

func TestProbeFailingTool(t *testing.T) {
	ffprobe := writeScript(t, "ffprobe", "exit 1\n")
	f := NewFFmpeg("ffmpeg", ffprobe)

	src := f.Probe(context.Background(), "clip.mov")
	assert.Equal(t, models.SourceFile{Path: "clip.mov"}, src)
}

func TestCheckTools(t *testing.T) {
	ok := writeScript(t, "ffmpeg", "echo 'ffmpeg version 6.1'\n")

	f := NewFFmpeg(ok, ok)
	assert.NoError(t, f.CheckTools(context.Background()))

	missing := NewFFmpeg(ok, filepath.Join(t.TempDir(), "ffprobe"))
	err := missing.CheckTools(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolMissing))

	notInPath := NewFFmpeg("hlsconvert-no-such-ffmpeg", ok)
	err = notInPath.CheckTools(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolMissing))
	assert.Contains(t, err.Error(), "not found in PATH")
}

func TestBackendDetector(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", `cat <<'EOF'
Encoders:
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D h264_qsv             H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (Intel Quick Sync Video acceleration) (codec h264)
EOF
`)

	d := NewBackendDetector(ffmpeg)
	c, err := d.Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.EncoderBackend{models.BackendCPU, models.BackendNVIDIA, models.BackendIntel}, c.Backends)
	assert.True(t, c.Supports(models.BackendNVIDIA))
	assert.False(t, c.Supports(models.BackendAMD))
	assert.False(t, c.LastChecked.IsZero())

	cached, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c.LastChecked, cached.LastChecked)
}

func TestBackendDetectorFailure(t *testing.T) {
	d := NewBackendDetector(filepath.Join(t.TempDir(), "missing"))
	_, err := d.Detect(context.Background())
	assert.Error(t, err)
}

func TestParseEncoderList(t *testing.T) {
	c := ParseEncoderList("h264_amf")
	assert.Equal(t, []models.EncoderBackend{models.BackendCPU, models.BackendAMD}, c.Backends)

	c = ParseEncoderList("")
	assert.Equal(t, []models.EncoderBackend{models.BackendCPU}, c.Backends)
}
