package models

import (
	"fmt"
	"math"
)

// SourceFile is a probed input video. Zero values mean unknown.
type SourceFile struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	HasAudio bool    `json:"has_audio"`
}

// KnownDuration reports whether the probe found a usable duration
func (s SourceFile) KnownDuration() bool {
	return s.Duration > 0
}

// FormatSeconds renders a duration for status text ("unknown", "42s", "3m 5s")
func FormatSeconds(s float64) string {
	if s <= 0 {
		return "unknown"
	}
	m := int(s / 60)
	sec := int(math.Round(s - float64(m)*60))
	if m <= 0 {
		return fmt.Sprintf("%ds", sec)
	}
	return fmt.Sprintf("%dm %ds", m, sec)
}
