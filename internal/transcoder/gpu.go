package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// EncoderCapability lists the H.264 backends the local ffmpeg build supports
type EncoderCapability struct {
	Backends    []models.EncoderBackend
	LastChecked time.Time
}

// Supports reports whether a backend is usable
func (c EncoderCapability) Supports(b models.EncoderBackend) bool {
	for _, have := range c.Backends {
		if have == b {
			return true
		}
	}
	return false
}

// BackendDetector inspects `ffmpeg -encoders` and caches the result
type BackendDetector struct {
	ffmpegPath string
	capability *EncoderCapability
	mu         sync.RWMutex
}

// NewBackendDetector creates a detector; nothing runs until Detect is called
func NewBackendDetector(ffmpegPath string) *BackendDetector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &BackendDetector{ffmpegPath: ffmpegPath}
}

// Detect returns the cached capability, probing ffmpeg on first use.
// libx264 is assumed whenever ffmpeg runs at all.
func (d *BackendDetector) Detect(ctx context.Context) (EncoderCapability, error) {
	d.mu.RLock()
	if d.capability != nil {
		c := *d.capability
		d.mu.RUnlock()
		return c, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Refresh re-probes ffmpeg
func (d *BackendDetector) Refresh(ctx context.Context) (EncoderCapability, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-hide_banner", "-encoders")

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return EncoderCapability{}, fmt.Errorf("failed to check ffmpeg encoders: %w", err)
	}

	c := ParseEncoderList(out.String())
	c.LastChecked = time.Now()

	d.mu.Lock()
	d.capability = &c
	d.mu.Unlock()

	return c, nil
}

// ParseEncoderList maps `ffmpeg -encoders` output to backends
func ParseEncoderList(output string) EncoderCapability {
	c := EncoderCapability{Backends: []models.EncoderBackend{models.BackendCPU}}
	for _, b := range models.EncoderBackends() {
		if b.IsHardware() && strings.Contains(output, b.Codec()) {
			c.Backends = append(c.Backends, b)
		}
	}
	return c
}
