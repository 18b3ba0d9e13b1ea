package upload

import (
	"path"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

const transcriptSuffix = "_transcript."

// Prefix returns the remote folder for a video: courses/<course>/<lang>/<name>
func Prefix(courseID, language, videoName string) string {
	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = "en"
	}
	return path.Join("courses", strings.TrimSpace(courseID), lang, transcoder.SanitizeFolderName(videoName))
}

// ClassifyFile assigns a role to a file by its slash separated path
// relative to the package root
func ClassifyFile(rel string) (models.UploadRole, string) {
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "/")
	dir, name := path.Split(rel)
	dir = strings.TrimSuffix(dir, "/")

	switch {
	case rel == transcoder.MasterPlaylistName:
		return models.RoleMaster, ""
	case name == "index.m3u8" && dir != "" && !strings.Contains(dir, "/"):
		return models.RoleQualityPlaylist, dir
	case strings.HasPrefix(name, "subtitle_") && strings.HasSuffix(name, ".m3u8"):
		return models.RoleSubtitlePlaylist, strings.TrimSuffix(strings.TrimPrefix(name, "subtitle_"), ".m3u8")
	case strings.HasSuffix(name, ".ts"):
		return models.RoleSegment, dir
	}

	if i := strings.LastIndex(name, transcriptSuffix); i >= 0 {
		format := name[i+len(transcriptSuffix):]
		for _, f := range models.TranscriptFormats() {
			if format == f {
				return models.RoleTranscript, f
			}
		}
	}
	return models.RoleOther, ""
}

// BuildS3Keys assembles the key map for the content record. Explicit roles
// are used first, then suffix matching; the master key falls back to
// <prefix>/master.m3u8 when no master was uploaded.
func BuildS3Keys(records []models.UploadRecord, prefix string, qualities []string) models.S3Keys {
	keys := models.S3Keys{
		Qualities:  map[string]string{},
		Transcript: map[string]string{},
	}

	for _, r := range records {
		if r.Role == models.RoleMaster {
			keys.Master = r.Key
			break
		}
	}
	if keys.Master == "" {
		for _, r := range records {
			k := slashKey(r.Key)
			if k == transcoder.MasterPlaylistName || strings.HasSuffix(k, "/"+transcoder.MasterPlaylistName) {
				keys.Master = r.Key
				break
			}
		}
	}
	if keys.Master == "" {
		keys.Master = strings.TrimRight(prefix, "/") + "/" + transcoder.MasterPlaylistName
	}

	for _, q := range qualities {
		if k, ok := findQuality(records, q); ok {
			keys.Qualities[q] = k
		}
	}

	for _, format := range models.TranscriptFormats() {
		if k, ok := findTranscript(records, format); ok {
			keys.Transcript[format] = k
		}
	}
	return keys
}

func findQuality(records []models.UploadRecord, quality string) (string, bool) {
	for _, r := range records {
		if r.Role == models.RoleQualityPlaylist && r.Qualifier == quality {
			return r.Key, true
		}
	}
	suffix := quality + "/index.m3u8"
	for _, r := range records {
		k := slashKey(r.Key)
		if k == suffix || strings.HasSuffix(k, "/"+suffix) {
			return r.Key, true
		}
	}
	return "", false
}

// findTranscript keeps the last match, so a later upload of the same
// format wins
func findTranscript(records []models.UploadRecord, format string) (string, bool) {
	var key string
	for _, r := range records {
		if r.Role == models.RoleTranscript && r.Qualifier == format {
			key = r.Key
		}
	}
	if key != "" {
		return key, true
	}
	for _, r := range records {
		if strings.HasSuffix(slashKey(r.Key), transcriptSuffix+format) {
			key = r.Key
		}
	}
	return key, key != ""
}

func slashKey(k string) string {
	return strings.ReplaceAll(k, "\\", "/")
}
