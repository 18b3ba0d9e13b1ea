package transcoder

import (
	"path/filepath"
	"strings"
)

// fallbackFolderName replaces names made only of reserved characters
const fallbackFolderName = "video"

var folderNameReplacer = strings.NewReplacer(
	"\\", "_", "/", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFolderName makes a name safe as a folder or file name on common
// filesystems: spaces and reserved characters become single underscores and
// no underscore is left at either end.
func SanitizeFolderName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return trimmed
	}

	s := strings.ReplaceAll(trimmed, " ", "_")
	s = folderNameReplacer.Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return fallbackFolderName
	}
	return s
}

// OutputDirFor returns <base>/<sanitized stem>_hls for a source file
func OutputDirFor(base, sourcePath string) string {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	name := SanitizeFolderName(stem)
	if name == "" {
		name = fallbackFolderName
	}
	return filepath.Join(base, name+"_hls")
}
