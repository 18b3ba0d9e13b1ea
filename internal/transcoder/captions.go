package transcoder

import (
	"fmt"
	"math"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// FormatSRTTime renders seconds as HH:MM:SS,mmm. Milliseconds are rounded,
// not truncated, and clamped to 999 so they never roll over into the seconds.
func FormatSRTTime(seconds float64) string {
	h, m, s, ms := splitCaptionTime(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatVTTTime renders seconds as HH:MM:SS.mmm
func FormatVTTTime(seconds float64) string {
	h, m, s, ms := splitCaptionTime(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func splitCaptionTime(seconds float64) (int, int, int, int) {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	whole := math.Floor(seconds)
	hours := int(whole / 3600)
	minutes := int(math.Mod(whole, 3600) / 60)
	secs := int(math.Mod(whole, 60))
	millis := int(math.Round((seconds - whole) * 1000))
	if millis > 999 {
		millis = 999
	}
	return hours, minutes, secs, millis
}

// RenderSRT renders numbered SRT blocks starting at 1
func RenderSRT(segments []models.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, FormatSRTTime(seg.Start), FormatSRTTime(seg.End), strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// RenderVTT renders a WebVTT document
func RenderVTT(segments []models.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			FormatVTTTime(seg.Start), FormatVTTTime(seg.End), strings.TrimSpace(seg.Text))
	}
	return b.String()
}
