package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// LanguageAuto asks the speech engine to detect the spoken language
const LanguageAuto = "auto"

// maxToolErrorLen bounds tool stderr quoted in error messages
const maxToolErrorLen = 200

// Recognition is the raw output of a speech engine
type Recognition struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []models.Segment `json:"segments"`
	// Raw is the engine's full structured output, dumped verbatim when present
	Raw json.RawMessage `json:"-"`
}

// SpeechEngine turns 16 kHz mono PCM audio into timed text
type SpeechEngine interface {
	Recognize(ctx context.Context, audioPath, language string) (*Recognition, error)
}

// SpeechTranscriber produces transcript artifacts for one source file
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, src models.SourceFile, languageHint, outputDir string) (*models.TranscriptResult, error)
}

// ExtractAudio writes the source audio as 16-bit 16 kHz mono WAV
func (f *FFmpeg) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-y", "-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("FFmpeg error: %s", truncate(stderr.String(), maxToolErrorLen))
		}
		return fmt.Errorf("failed to extract audio: %w", err)
	}
	return nil
}

// Transcriber runs audio extraction, recognition and artifact rendering
type Transcriber struct {
	ffmpeg *FFmpeg
	engine SpeechEngine
	logger *logging.Logger
}

// NewTranscriber creates a transcriber backed by the given engine
func NewTranscriber(ffmpeg *FFmpeg, engine SpeechEngine, logger *logging.Logger) *Transcriber {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Transcriber{
		ffmpeg: ffmpeg,
		engine: engine,
		logger: logger.WithComponent("transcriber"),
	}
}

// Transcribe writes <base>_transcript.{txt,srt,vtt,json} into outputDir. The
// temporary audio file is removed on every path.
func (t *Transcriber) Transcribe(ctx context.Context, src models.SourceFile, languageHint, outputDir string) (*models.TranscriptResult, error) {
	base := SanitizeFolderName(strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path)))
	audioPath := filepath.Join(outputDir, base+"_temp_audio.wav")
	defer os.Remove(audioPath)

	if err := t.ffmpeg.ExtractAudio(ctx, src.Path, audioPath); err != nil {
		return nil, fmt.Errorf("audio extraction failed: %w", err)
	}

	language := strings.TrimSpace(languageHint)
	if language == "" {
		language = LanguageAuto
	}

	rec, err := t.engine.Recognize(ctx, audioPath, language)
	if err != nil {
		return nil, fmt.Errorf("transcription error: %w", err)
	}

	detected := strings.ToLower(strings.TrimSpace(rec.Language))
	if detected == "" {
		detected = "en"
		if language != LanguageAuto {
			detected = strings.ToLower(language)
		}
	}

	result := &models.TranscriptResult{
		Language: detected,
		Text:     rec.Text,
		Segments: rec.Segments,
	}

	paths, err := WriteTranscriptArtifacts(outputDir, base, rec)
	if err != nil {
		return nil, err
	}
	result.Paths = paths

	t.logger.WithFile(src.Path).Infof("transcribed %d segments (%s)", len(rec.Segments), detected)
	return result, nil
}

// WriteTranscriptArtifacts renders the four transcript formats
func WriteTranscriptArtifacts(outputDir, base string, rec *Recognition) (models.TranscriptPaths, error) {
	paths := models.TranscriptPaths{
		Text: filepath.Join(outputDir, base+"_transcript.txt"),
		SRT:  filepath.Join(outputDir, base+"_transcript.srt"),
		VTT:  filepath.Join(outputDir, base+"_transcript.vtt"),
		JSON: filepath.Join(outputDir, base+"_transcript.json"),
	}

	dump := []byte(rec.Raw)
	if len(dump) == 0 {
		var err error
		dump, err = json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return models.TranscriptPaths{}, fmt.Errorf("failed to encode transcript: %w", err)
		}
	} else {
		var indented bytes.Buffer
		if err := json.Indent(&indented, dump, "", "  "); err == nil {
			dump = indented.Bytes()
		}
	}

	files := []struct {
		path string
		data []byte
	}{
		{paths.Text, []byte(rec.Text)},
		{paths.SRT, []byte(RenderSRT(rec.Segments))},
		{paths.VTT, []byte(RenderVTT(rec.Segments))},
		{paths.JSON, dump},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, 0644); err != nil {
			return models.TranscriptPaths{}, fmt.Errorf("failed to write %s: %w", filepath.Base(f.path), err)
		}
	}
	return paths, nil
}

// WhisperCLI runs the openai-whisper command line tool
type WhisperCLI struct {
	path  string
	model string
}

// NewWhisperCLI creates an engine using the given executable and model
func NewWhisperCLI(path, model string) *WhisperCLI {
	if path == "" {
		path = "whisper"
	}
	if model == "" {
		model = "base"
	}
	return &WhisperCLI{path: path, model: model}
}

// Recognize runs whisper into a scratch directory and parses its JSON output
func (w *WhisperCLI) Recognize(ctx context.Context, audioPath, language string) (*Recognition, error) {
	tmpDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	args := []string{
		audioPath,
		"--model", w.model,
		"--output_format", "json",
		"--output_dir", tmpDir,
	}
	if language != "" && language != LanguageAuto {
		args = append(args, "--language", language)
	}

	cmd := exec.CommandContext(ctx, w.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("%w: whisper not installed (%s)", ErrToolMissing, w.path)
		}
		return nil, fmt.Errorf("whisper failed: %w, stderr: %s", err, truncate(stderr.String(), maxToolErrorLen))
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	raw, err := os.ReadFile(filepath.Join(tmpDir, stem+".json"))
	if err != nil {
		return nil, fmt.Errorf("whisper output missing: %w", err)
	}
	return ParseWhisperJSON(raw)
}

// ParseWhisperJSON decodes whisper's JSON result
func ParseWhisperJSON(raw []byte) (*Recognition, error) {
	var rec Recognition
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse whisper output: %w", err)
	}
	rec.Raw = json.RawMessage(raw)
	return &rec, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
