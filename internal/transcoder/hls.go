package transcoder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

const (
	// MasterPlaylistName is the file name of the master manifest
	MasterPlaylistName = "master.m3u8"

	subtitleGroupID = "subtitles"
	codecsVideo     = "avc1.4d401f"
	codecsAudio     = "mp4a.40.2"
)

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ru": "Russian",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"ar": "Arabic",
	"hi": "Hindi",
}

// LanguageName returns the display name of a language code
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return strings.ToUpper(code)
}

// NormalizeLanguageCode lowercases a code and cuts it to 3 characters; empty means "en"
func NormalizeLanguageCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "en"
	}
	if len(code) > 3 {
		code = code[:3]
	}
	return code
}

// MasterPlaylist is the parsed content of a master manifest
type MasterPlaylist struct {
	Version   int
	Variants  []Variant
	Subtitles []SubtitleMedia
}

// Variant is one #EXT-X-STREAM-INF entry
type Variant struct {
	Bandwidth  int
	Resolution string
	Codecs     string
	Subtitles  string
	URI        string
}

// SubtitleMedia is one #EXT-X-MEDIA subtitle entry
type SubtitleMedia struct {
	Name       string
	Language   string
	Default    bool
	AutoSelect bool
	URI        string
}

// RenderMasterPlaylist renders the master manifest text. Qualities are listed
// in catalog order; the first subtitle track is the default one.
func RenderMasterPlaylist(outputDir string, catalog models.QualityCatalog, qualities []models.QualityProfile, hasAudio bool, subs []models.SubtitleTrack) string {
	var content strings.Builder

	content.WriteString("#EXTM3U\n")
	content.WriteString("#EXT-X-VERSION:3\n")

	for i, sub := range subs {
		flag := "NO"
		if i == 0 {
			flag = "YES"
		}
		fmt.Fprintf(&content,
			"#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"%s\",NAME=\"%s\",LANGUAGE=\"%s\",DEFAULT=%s,AUTOSELECT=%s,FORCED=NO,URI=\"%s\"\n",
			subtitleGroupID, LanguageName(sub.Language), sub.Language, flag, flag, relativeURI(outputDir, sub.PlaylistPath))
	}

	codecs := codecsVideo
	if hasAudio {
		codecs += "," + codecsAudio
	}

	for _, q := range catalog.Order(qualities) {
		fmt.Fprintf(&content, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,CODECS=\"%s\"", q.Bandwidth, q.Resolution(), codecs)
		if len(subs) > 0 {
			fmt.Fprintf(&content, ",SUBTITLES=\"%s\"", subtitleGroupID)
		}
		content.WriteString("\n")
		content.WriteString(q.Name + "/" + playlistName + "\n")
	}

	return content.String()
}

// BuildMasterPlaylist writes master.m3u8 into outputDir, replacing any previous
// manifest atomically. Zero qualities produce a header-only manifest.
func BuildMasterPlaylist(outputDir string, catalog models.QualityCatalog, qualities []models.QualityProfile, hasAudio bool, subs []models.SubtitleTrack) (string, error) {
	path := filepath.Join(outputDir, MasterPlaylistName)
	content := RenderMasterPlaylist(outputDir, catalog, qualities, hasAudio, subs)
	if err := writeFileAtomic(path, []byte(content)); err != nil {
		return "", fmt.Errorf("failed to write master playlist: %w", err)
	}
	return path, nil
}

// BuildSubtitlePlaylist wraps one caption file in a single-segment playlist
func BuildSubtitlePlaylist(outputDir, captionPath, language string) (string, error) {
	if _, err := os.Stat(captionPath); err != nil {
		return "", fmt.Errorf("subtitle file not found: %s", captionPath)
	}

	lang := NormalizeLanguageCode(language)
	lines := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:10",
		"#EXTINF:10.0,",
		relativeURI(outputDir, captionPath),
	}

	path := filepath.Join(outputDir, fmt.Sprintf("subtitle_%s.m3u8", lang))
	if err := writeFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		return "", fmt.Errorf("failed to write subtitle playlist: %w", err)
	}
	return path, nil
}

// ParseMasterPlaylist reads back the entries of a master manifest
func ParseMasterPlaylist(r io.Reader) (*MasterPlaylist, error) {
	scanner := bufio.NewScanner(r)
	pl := &MasterPlaylist{}
	var pending *Variant
	sawHeader := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "#EXTM3U":
			sawHeader = true
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-VERSION:"))
			if err != nil {
				return nil, fmt.Errorf("invalid version line %q", line)
			}
			pl.Version = v
		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			if attrs["TYPE"] != "SUBTITLES" {
				continue
			}
			pl.Subtitles = append(pl.Subtitles, SubtitleMedia{
				Name:       attrs["NAME"],
				Language:   attrs["LANGUAGE"],
				Default:    attrs["DEFAULT"] == "YES",
				AutoSelect: attrs["AUTOSELECT"] == "YES",
				URI:        attrs["URI"],
			})
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			bw, _ := strconv.Atoi(attrs["BANDWIDTH"])
			pending = &Variant{
				Bandwidth:  bw,
				Resolution: attrs["RESOLUTION"],
				Codecs:     attrs["CODECS"],
				Subtitles:  attrs["SUBTITLES"],
			}
		case strings.HasPrefix(line, "#"):
			continue
		default:
			if pending == nil {
				return nil, fmt.Errorf("URI %q without #EXT-X-STREAM-INF", line)
			}
			pending.URI = line
			pl.Variants = append(pl.Variants, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("missing #EXTM3U header")
	}
	if pending != nil {
		return nil, fmt.Errorf("#EXT-X-STREAM-INF without URI")
	}
	return pl, nil
}

// QualityNames returns the rendition names referenced by the variants
func (p *MasterPlaylist) QualityNames() []string {
	names := make([]string, 0, len(p.Variants))
	for _, v := range p.Variants {
		names = append(names, strings.TrimSuffix(v.URI, "/"+playlistName))
	}
	return names
}

// parseAttributes splits an HLS attribute list, honoring quoted commas
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	var key strings.Builder
	var val strings.Builder
	inKey, inQuote := true, false

	flush := func() {
		if key.Len() > 0 {
			attrs[key.String()] = val.String()
		}
		key.Reset()
		val.Reset()
		inKey = true
	}

	for _, r := range s {
		switch {
		case inKey && r == '=':
			inKey = false
		case inKey:
			key.WriteRune(r)
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			flush()
		default:
			val.WriteRune(r)
		}
	}
	flush()
	return attrs
}

// relativeURI makes path relative to dir with forward slashes
func relativeURI(dir, path string) string {
	rel := path
	if filepath.IsAbs(path) {
		if r, err := filepath.Rel(dir, path); err == nil {
			rel = r
		}
	}
	return filepath.ToSlash(strings.ReplaceAll(rel, "\\", "/"))
}

// writeFileAtomic replaces path so readers see either the old or the new content
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
