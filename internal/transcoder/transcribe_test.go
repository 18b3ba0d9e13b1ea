package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// fakeAudioExtractor writes a placeholder WAV to the last argument
const fakeAudioExtractor = `for last; do :; done
echo RIFF > "$last"
`

type mockEngine struct {
	rec       *Recognition
	err       error
	gotPath   string
	gotLang   string
	audioSeen bool
}

func (m *mockEngine) Recognize(ctx context.Context, audioPath, language string) (*Recognition, error) {
	m.gotPath = audioPath
	m.gotLang = language
	_, err := os.Stat(audioPath)
	m.audioSeen = err == nil
	return m.rec, m.err
}

func TestTranscribe(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", fakeAudioExtractor)
	outDir := t.TempDir()

	engine := &mockEngine{rec: &Recognition{
		Text:     " Hello there. General Kenobi.",
		Language: "EN",
		Segments: []models.Segment{
			{Start: 0, End: 1.5, Text: " Hello there."},
			{Start: 1.5, End: 3.25, Text: " General Kenobi."},
		},
	}}
	tr := NewTranscriber(NewFFmpeg(ffmpeg, "ffprobe"), engine, nil)

	res, err := tr.Transcribe(context.Background(), models.SourceFile{Path: "/videos/My Talk.mp4", HasAudio: true}, "", outDir)
	require.NoError(t, err)

	assert.Equal(t, LanguageAuto, engine.gotLang)
	assert.True(t, engine.audioSeen)
	assert.Equal(t, filepath.Join(outDir, "My_Talk_temp_audio.wav"), engine.gotPath)
	assert.NoFileExists(t, engine.gotPath)

	assert.Equal(t, "en", res.Language)
	assert.Len(t, res.Segments, 2)
	assert.Equal(t, filepath.Join(outDir, "My_Talk_transcript.vtt"), res.Paths.VTT)

	vtt, err := os.ReadFile(res.Paths.VTT)
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\n00:00:00.000 --> 00:00:01.500\nHello there.\n\n00:00:01.500 --> 00:00:03.250\nGeneral Kenobi.\n\n", string(vtt))

	srt, err := os.ReadFile(res.Paths.SRT)
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,500\nHello there.\n\n2\n00:00:01,500 --> 00:00:03,250\nGeneral Kenobi.\n\n", string(srt))

	txt, err := os.ReadFile(res.Paths.Text)
	require.NoError(t, err)
	assert.Equal(t, " Hello there. General Kenobi.", string(txt))

	raw, err := os.ReadFile(res.Paths.JSON)
	require.NoError(t, err)
	var dump Recognition
	require.NoError(t, json.Unmarshal(raw, &dump))
	assert.Len(t, dump.Segments, 2)
}

func TestTranscribeExplicitLanguageFallback(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", fakeAudioExtractor)
	engine := &mockEngine{rec: &Recognition{Text: "hola"}}
	tr := NewTranscriber(NewFFmpeg(ffmpeg, "ffprobe"), engine, nil)

	res, err := tr.Transcribe(context.Background(), models.SourceFile{Path: "a.mp4"}, "ES", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "ES", engine.gotLang)
	assert.Equal(t, "es", res.Language)
}

func TestTranscribeEngineFailureRemovesAudio(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", fakeAudioExtractor)
	engine := &mockEngine{err: errors.New("model download failed")}
	outDir := t.TempDir()
	tr := NewTranscriber(NewFFmpeg(ffmpeg, "ffprobe"), engine, nil)

	_, err := tr.Transcribe(context.Background(), models.SourceFile{Path: "a.mp4"}, "auto", outDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model download failed")
	assert.NoFileExists(t, filepath.Join(outDir, "a_temp_audio.wav"))
}

func TestTranscribeExtractionFailure(t *testing.T) {
	ffmpeg := writeScript(t, "ffmpeg", "printf '"+strings.Repeat("x", 300)+"' >&2\nexit 1\n")
	engine := &mockEngine{}
	tr := NewTranscriber(NewFFmpeg(ffmpeg, "ffprobe"), engine, nil)

	_, err := tr.Transcribe(context.Background(), models.SourceFile{Path: "a.mp4"}, "auto", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio extraction failed: FFmpeg error: ")
	assert.NotContains(t, err.Error(), strings.Repeat("x", 201))
	assert.Empty(t, engine.gotPath, "engine must not run without audio")
}

func TestWhisperCLI(t *testing.T) {
	whisper := writeScript(t, "whisper", `audio="$1"
outdir=""
lang=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output_dir) outdir="$2"; shift ;;
    --language) lang="$2"; shift ;;
  esac
  shift
done
stem=$(basename "$audio" .wav)
cat > "$outdir/$stem.json" <<EOF
{"text": " hi", "language": "${lang:-fr}", "segments": [{"id": 0, "start": 0.0, "end": 1.2, "text": " hi"}]}
EOF
`)

	engine := NewWhisperCLI(whisper, "")
	rec, err := engine.Recognize(context.Background(), "/tmp/clip_temp_audio.wav", LanguageAuto)
	require.NoError(t, err)
	assert.Equal(t, "fr", rec.Language)
	assert.Equal(t, []models.Segment{{Start: 0, End: 1.2, Text: " hi"}}, rec.Segments)
	assert.Contains(t, string(rec.Raw), `"id": 0`)

	rec, err = engine.Recognize(context.Background(), "/tmp/clip_temp_audio.wav", "de")
	require.NoError(t, err)
	assert.Equal(t, "de", rec.Language)
}

func TestWhisperCLIMissing(t *testing.T) {
	engine := NewWhisperCLI("hlsconvert-no-such-whisper", "base")
	_, err := engine.Recognize(context.Background(), "a.wav", LanguageAuto)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolMissing))
}
