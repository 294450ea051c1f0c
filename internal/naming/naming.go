// Package naming derives filesystem-safe output names for generated maps.
package naming

import (
	"path/filepath"
	"strings"
)

const invalidChars = `<>:"/\|?*`

// Sanitize makes a tag value safe for use as a file or directory name.
// Reserved characters become underscores, leading and trailing spaces and
// periods are stripped, and runs of whitespace collapse to a single space.
// The function is idempotent.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(invalidChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.Trim(b.String(), ". ")
	return strings.Join(strings.Fields(cleaned), " ")
}

// DeriveName returns the output base name for an audio file. When both
// title and artist are present the name is "<title> - <artist>" after
// sanitization; otherwise it falls back to the file's base name with the
// extension stripped.
func DeriveName(path, title, artist string) string {
	if title == "" || artist == "" {
		base := filepath.Base(path)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return Sanitize(title) + " - " + Sanitize(artist)
}
