package queue

import (
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// Share of one file's progress taken by each phase
const (
	encodeShare     = 0.85 // rendering share when transcription follows the encodes
	renderShare     = 0.75 // everything before upload when an upload follows
	uploadBandWidth = 0.20 // object transfers, from renderShare to 0.95
	uploadedMark    = 0.95
	recordMark      = 0.98

	// simulated transcription progress
	simStep = 4.0
	simCap  = 90.0
)

// fileProgress tracks the completed fraction of the file being processed
type fileProgress struct {
	qualities  []string
	encode     map[string]float64
	transcribe bool
	upload     bool
	sim        float64
	// uploadPos is the absolute file fraction once uploading has started
	uploadPos float64
}

func newFileProgress(qualities []string, transcribe, upload bool) *fileProgress {
	return &fileProgress{
		qualities:  qualities,
		encode:     make(map[string]float64, len(qualities)),
		transcribe: transcribe,
		upload:     upload,
	}
}

func (p *fileProgress) setEncode(quality string, percent float64) {
	p.encode[quality] = clampPercent(percent)
}

// tickSim advances the simulated transcription percentage, capped below completion
func (p *fileProgress) tickSim() {
	if p.sim+simStep > simCap {
		p.sim = simCap
		return
	}
	p.sim += simStep
}

func (p *fileProgress) finishSim() {
	p.sim = 100
}

// setUpload positions the file within the upload band for done of total objects
func (p *fileProgress) setUpload(done, total int) {
	pos := renderShare
	if total > 0 {
		pos += uploadBandWidth * float64(done) / float64(total)
	}
	p.markUpload(pos)
}

func (p *fileProgress) markUpload(pos float64) {
	if pos > p.uploadPos {
		p.uploadPos = pos
	}
}

func (p *fileProgress) encodeMean() float64 {
	if len(p.qualities) == 0 {
		return 100
	}
	var sum float64
	for _, q := range p.qualities {
		sum += p.encode[q]
	}
	return sum / float64(len(p.qualities))
}

// fraction returns the completed share of this file in [0, 1]
func (p *fileProgress) fraction() float64 {
	if p.upload && p.uploadPos > 0 {
		return p.uploadPos
	}

	render := p.encodeMean() / 100
	if p.transcribe {
		render = encodeShare*render + (1-encodeShare)*p.sim/100
	}
	if p.upload {
		return renderShare * render
	}
	return render
}

// reporter turns file progress into run-wide events for the observers. It
// keeps the overall value monotone and serializes observer calls.
type reporter struct {
	mu        sync.Mutex
	runID     string
	total     int
	done      int
	last      float64
	file      string
	index     int
	progress  *fileProgress
	observers []Observer
	now       func() time.Time
}

func newReporter(runID string, total int, observers []Observer, now func() time.Time) *reporter {
	if now == nil {
		now = time.Now
	}
	return &reporter{runID: runID, total: total, observers: observers, now: now}
}

// startFile switches to the file at index and resets per-file progress
func (r *reporter) startFile(index int, file string, p *fileProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = index
	r.file = file
	r.progress = p
}

// update applies fn to the current file progress, then emits one event
func (r *reporter) update(stage models.Stage, subject string, percent float64, message string, fn func(p *fileProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil && r.progress != nil {
		fn(r.progress)
	}
	r.emitLocked(stage, subject, percent, message)
}

// finishFile counts the current file as done and emits its terminal event
func (r *reporter) finishFile(result models.QueueResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	r.progress = nil

	stage := models.StageDone
	message := "Completed"
	if !result.Succeeded() {
		stage = models.StageFailed
		message = result.Error
	}
	r.emitLocked(stage, r.file, 100, message)
	for _, o := range r.observers {
		o.OnFileDone(r.runID, result)
	}
}

func (r *reporter) queueDone(summary models.QueueSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.observers {
		o.OnQueueDone(summary)
	}
}

// overall returns the last emitted overall percentage
func (r *reporter) overall() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *reporter) emitLocked(stage models.Stage, subject string, percent float64, message string) {
	overall := 100.0
	if r.total > 0 && r.done < r.total {
		frac := 0.0
		if r.progress != nil {
			frac = r.progress.fraction()
		}
		overall = 100 * (float64(r.done) + frac) / float64(r.total)
	}
	if overall > 100 {
		overall = 100
	}
	if overall < r.last {
		overall = r.last
	}
	r.last = overall

	metrics.UpdateQueueMetrics(overall, r.total-r.done)

	ev := models.ProgressEvent{
		RunID:     r.runID,
		File:      r.file,
		FileIndex: r.index,
		FileCount: r.total,
		Stage:     stage,
		Subject:   subject,
		Percent:   clampPercent(percent),
		Overall:   overall,
		Message:   message,
		Timestamp: r.now(),
	}
	for _, o := range r.observers {
		o.OnProgress(ev)
	}
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
