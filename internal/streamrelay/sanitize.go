package streamrelay

import (
	"path/filepath"
	"strings"
	"unicode"
)

const fallbackFilename = "download"

// SanitizeFilename makes name safe to use in a Content-Disposition header and
// as a file on disk.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			b.WriteRune('_')
		case strings.ContainsRune(`"/\:*?<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), " .")
	if out == "" {
		return fallbackFilename
	}
	return out
}
