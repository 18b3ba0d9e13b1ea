package queue

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

const (
	allFailedListed   = 5
	allFailedErrorLen = 100
	partialListed     = 3
	partialErrorLen   = 80
)

// Summarize classifies the run and renders the completion message
func Summarize(runID string, results []models.QueueResult, startedAt, finishedAt time.Time) models.QueueSummary {
	s := models.QueueSummary{
		RunID:     runID,
		Total:     len(results),
		Results:   results,
		StartedAt: startedAt,
		Duration:  finishedAt.Sub(startedAt),
	}

	var successes, failures []models.QueueResult
	for _, r := range results {
		if r.Succeeded() {
			successes = append(successes, r)
			continue
		}
		failures = append(failures, r)
		if r.Cancelled {
			s.Cancelled++
		}
	}
	s.Succeeded = len(successes)
	s.Failed = len(failures)

	switch {
	case len(results) == 0:
		s.Outcome = models.OutcomeEmpty
		s.Message = "No files were processed."
	case len(failures) == 0:
		s.Outcome = models.OutcomeAllSucceeded
		s.Message = allSucceededMessage(results)
	case len(successes) == 0:
		s.Outcome = models.OutcomeAllFailed
		s.Message = allFailedMessage(failures)
	default:
		s.Outcome = models.OutcomePartial
		s.Message = partialMessage(results, successes, failures)
	}
	return s
}

func allSucceededMessage(results []models.QueueResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "All %d file(s) rendered successfully!\n\n", len(results))

	last, ok := lastSuccess(results)
	if !ok {
		return strings.TrimRight(b.String(), "\n")
	}
	if last.MasterPath == "" {
		fmt.Fprintf(&b, "Last output:\n%s", last.OutputDir)
		return b.String()
	}
	fmt.Fprintf(&b, "Last output:\n%s\n\nMaster playlist:\n%s", last.OutputDir, last.MasterPath)

	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if !r.Succeeded() || r.TranscriptPaths.IsZero() {
			continue
		}
		b.WriteString("\n\nTranscripts:\n")
		for _, format := range models.TranscriptFormats() {
			if p := r.TranscriptPaths.Path(format); p != "" {
				fmt.Fprintf(&b, "  %s: %s\n", strings.ToUpper(format), p)
			}
		}
		if r.SubtitlePlaylist != "" {
			fmt.Fprintf(&b, "\nSubtitle playlist (HLS):\n  %s", r.SubtitlePlaylist)
		}
		break
	}
	return b.String()
}

func allFailedMessage(failures []models.QueueResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "All %d file(s) failed to render.\n\nFailed files:\n", len(failures))
	for i, r := range failures {
		if i == allFailedListed {
			fmt.Fprintf(&b, "  ... and %d more", len(failures)-allFailedListed)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", filepath.Base(r.File))
		if r.Error != "" {
			fmt.Fprintf(&b, "    Error: %s\n", truncateRunes(r.Error, allFailedErrorLen))
		}
	}
	return b.String()
}

func partialMessage(results, successes, failures []models.QueueResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Queue completed: %d succeeded, %d failed\n\n", len(successes), len(failures))

	fmt.Fprintf(&b, "Successful (%d):\n", len(successes))
	for i, r := range successes {
		if i == partialListed {
			fmt.Fprintf(&b, "  ... and %d more\n", len(successes)-partialListed)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", filepath.Base(r.File))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Failed (%d):\n", len(failures))
	for i, r := range failures {
		if i == partialListed {
			fmt.Fprintf(&b, "  ... and %d more\n", len(failures)-partialListed)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", filepath.Base(r.File))
		if r.Error != "" {
			preview := r.Error
			if len([]rune(preview)) > partialErrorLen {
				preview = truncateRunes(preview, partialErrorLen) + "..."
			}
			fmt.Fprintf(&b, "    %s\n", preview)
		}
	}

	if last, ok := lastSuccess(results); ok && last.MasterPath != "" {
		fmt.Fprintf(&b, "\nLast successful output:\n%s", last.OutputDir)
	}
	return b.String()
}

// lastSuccess returns the latest successful result that has an output
func lastSuccess(results []models.QueueResult) (models.QueueResult, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Succeeded() && results[i].OutputDir != "" {
			return results[i], true
		}
	}
	return models.QueueResult{}, false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
