package transcoder

import (
	"regexp"
	"strconv"
)

// minProgressStep is the smallest percent advance worth reporting
const minProgressStep = 0.2

// durationEpsilon floors the denominator when the duration is unknown
const durationEpsilon = 0.001

var statsTimeRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// ProgressCallback is called with progress updates
type ProgressCallback func(progress float64)

// ParseStatsTime extracts the elapsed media time from an ffmpeg -stats line
func ParseStatsTime(line string) (float64, bool) {
	m := statsTimeRegex.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hh, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	mm, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	ss, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(hh*3600+mm*60) + ss, true
}

// Percent converts elapsed seconds into a completion percentage in [0, 100]
func Percent(elapsed, duration float64) float64 {
	if duration < durationEpsilon {
		duration = durationEpsilon
	}
	p := 100 * elapsed / duration
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ProgressTracker turns ffmpeg stats lines into coalesced percent updates.
// Reported values are non-decreasing and at least minProgressStep apart,
// except for the final Complete call.
type ProgressTracker struct {
	duration float64
	last     float64
	emit     ProgressCallback
}

// NewProgressTracker creates a tracker for a source of the given duration
func NewProgressTracker(duration float64, emit ProgressCallback) *ProgressTracker {
	return &ProgressTracker{duration: duration, emit: emit}
}

// Observe inspects one output line and reports whether an update was emitted
func (t *ProgressTracker) Observe(line string) (float64, bool) {
	elapsed, ok := ParseStatsTime(line)
	if !ok {
		return t.last, false
	}
	p := Percent(elapsed, t.duration)
	if p < t.last+minProgressStep {
		return t.last, false
	}
	t.last = p
	if t.emit != nil {
		t.emit(p)
	}
	return p, true
}

// Last returns the most recently emitted percent
func (t *ProgressTracker) Last() float64 {
	return t.last
}

// Complete forces a final 100% update
func (t *ProgressTracker) Complete() {
	t.last = 100
	if t.emit != nil {
		t.emit(100)
	}
}
