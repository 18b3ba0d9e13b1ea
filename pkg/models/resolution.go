package models

import (
	"fmt"
	"strings"
)

// QualityProfile defines one rendition tier of the HLS ladder
type QualityProfile struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate string `json:"video_bitrate"`
	MaxRate      string `json:"max_rate"`
	BufSize      string `json:"buf_size"`
	// Bandwidth is only used to annotate the master playlist
	Bandwidth int `json:"bandwidth"`
}

// Resolution returns the profile size as WxH
func (p QualityProfile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Standard rendition tiers
var (
	Quality1080p = QualityProfile{
		Name:         "1080p",
		Width:        1920,
		Height:       1080,
		VideoBitrate: "5000k",
		MaxRate:      "5350k",
		BufSize:      "7500k",
		Bandwidth:    5200000,
	}

	Quality720p = QualityProfile{
		Name:         "720p",
		Width:        1280,
		Height:       720,
		VideoBitrate: "2800k",
		MaxRate:      "3000k",
		BufSize:      "4200k",
		Bandwidth:    3000000,
	}

	Quality480p = QualityProfile{
		Name:         "480p",
		Width:        854,
		Height:       480,
		VideoBitrate: "1400k",
		MaxRate:      "1500k",
		BufSize:      "2100k",
		Bandwidth:    1500000,
	}

	Quality360p = QualityProfile{
		Name:         "360p",
		Width:        640,
		Height:       360,
		VideoBitrate: "800k",
		MaxRate:      "900k",
		BufSize:      "1200k",
		Bandwidth:    900000,
	}
)

// QualityCatalog is an ordered, read-only lookup table of quality profiles.
// Order is descending resolution and drives both encode order and manifest order.
type QualityCatalog struct {
	profiles []QualityProfile
}

// NewQualityCatalog builds a catalog; profiles are kept in the given order
func NewQualityCatalog(profiles ...QualityProfile) QualityCatalog {
	cp := make([]QualityProfile, len(profiles))
	copy(cp, profiles)
	return QualityCatalog{profiles: cp}
}

// DefaultQualityCatalog returns the standard 4-tier ladder
func DefaultQualityCatalog() QualityCatalog {
	return NewQualityCatalog(Quality1080p, Quality720p, Quality480p, Quality360p)
}

// Names returns the tier names in catalog order
func (c QualityCatalog) Names() []string {
	names := make([]string, len(c.profiles))
	for i, p := range c.profiles {
		names[i] = p.Name
	}
	return names
}

// Get returns a profile by name
func (c QualityCatalog) Get(name string) (QualityProfile, bool) {
	for _, p := range c.profiles {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return QualityProfile{}, false
}

// Select returns the requested tiers in catalog order, regardless of the
// order they were requested in. Duplicates collapse.
func (c QualityCatalog) Select(names []string) ([]QualityProfile, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		p, ok := c.Get(strings.TrimSpace(n))
		if !ok {
			return nil, fmt.Errorf("unknown quality %q (available: %s)", n, strings.Join(c.Names(), ", "))
		}
		want[p.Name] = true
	}

	selected := make([]QualityProfile, 0, len(want))
	for _, p := range c.profiles {
		if want[p.Name] {
			selected = append(selected, p)
		}
	}
	return selected, nil
}

// Order sorts an arbitrary profile list into catalog order. Profiles that are
// not in the catalog keep their relative order after the known ones.
func (c QualityCatalog) Order(profiles []QualityProfile) []QualityProfile {
	ordered := make([]QualityProfile, 0, len(profiles))
	used := make([]bool, len(profiles))
	for _, known := range c.profiles {
		for i, p := range profiles {
			if !used[i] && p.Name == known.Name {
				ordered = append(ordered, p)
				used[i] = true
			}
		}
	}
	for i, p := range profiles {
		if !used[i] {
			ordered = append(ordered, p)
		}
	}
	return ordered
}
