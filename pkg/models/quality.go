package models

import "strings"

// EncoderBackend selects the H.264 encoder implementation. The backend only
// changes encoding parameters, never the container or manifest shape.
type EncoderBackend string

// EncoderBackend constants
const (
	BackendCPU    EncoderBackend = "cpu"
	BackendAMD    EncoderBackend = "amd"
	BackendNVIDIA EncoderBackend = "nvidia"
	BackendIntel  EncoderBackend = "intel"
)

// EncoderBackends lists all backends, software first
func EncoderBackends() []EncoderBackend {
	return []EncoderBackend{BackendCPU, BackendAMD, BackendNVIDIA, BackendIntel}
}

// ParseEncoderBackend maps a user supplied name to a backend, defaulting to cpu
func ParseEncoderBackend(s string) EncoderBackend {
	switch EncoderBackend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendAMD:
		return BackendAMD
	case BackendNVIDIA:
		return BackendNVIDIA
	case BackendIntel:
		return BackendIntel
	default:
		return BackendCPU
	}
}

// Codec returns the ffmpeg encoder name for the backend
func (b EncoderBackend) Codec() string {
	switch b {
	case BackendAMD:
		return "h264_amf"
	case BackendNVIDIA:
		return "h264_nvenc"
	case BackendIntel:
		return "h264_qsv"
	default:
		return "libx264"
	}
}

// IsHardware reports whether the backend needs vendor GPU support in ffmpeg
func (b EncoderBackend) IsHardware() bool {
	return b == BackendAMD || b == BackendNVIDIA || b == BackendIntel
}

// DisplayName is the human readable backend label
func (b EncoderBackend) DisplayName() string {
	switch b {
	case BackendAMD:
		return "AMD (AMF)"
	case BackendNVIDIA:
		return "NVIDIA (NVENC)"
	case BackendIntel:
		return "Intel (QSV)"
	default:
		return "CPU (libx264)"
	}
}
