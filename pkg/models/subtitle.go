package models

// Segment is one timed span of recognized speech
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptPaths holds the on-disk transcript artifacts of one source file
type TranscriptPaths struct {
	Text string `json:"txt,omitempty"`
	SRT  string `json:"srt,omitempty"`
	VTT  string `json:"vtt,omitempty"`
	JSON string `json:"json,omitempty"`
}

// IsZero reports whether no artifact was written
func (p TranscriptPaths) IsZero() bool {
	return p == TranscriptPaths{}
}

// Caption returns the preferred caption file for HLS: WebVTT, then SRT
func (p TranscriptPaths) Caption() string {
	if p.VTT != "" {
		return p.VTT
	}
	return p.SRT
}

// TranscriptResult is the outcome of transcribing one source file
type TranscriptResult struct {
	Language string          `json:"language"`
	Text     string          `json:"text"`
	Segments []Segment       `json:"segments"`
	Paths    TranscriptPaths `json:"paths"`
}

// SubtitleTrack is one subtitle rendition referenced from the master playlist
type SubtitleTrack struct {
	Language     string `json:"language"`
	PlaylistPath string `json:"playlist_path"`
}

// SubtitleFormat constants
const (
	SubtitleFormatVTT  = "vtt"
	SubtitleFormatSRT  = "srt"
	SubtitleFormatTXT  = "txt"
	SubtitleFormatJSON = "json"
)

// TranscriptFormats lists transcript artifact formats in a stable order
func TranscriptFormats() []string {
	return []string{SubtitleFormatSRT, SubtitleFormatVTT, SubtitleFormatTXT, SubtitleFormatJSON}
}

// Path returns the artifact path for a format
func (p TranscriptPaths) Path(format string) string {
	switch format {
	case SubtitleFormatSRT:
		return p.SRT
	case SubtitleFormatVTT:
		return p.VTT
	case SubtitleFormatTXT:
		return p.Text
	case SubtitleFormatJSON:
		return p.JSON
	}
	return ""
}
