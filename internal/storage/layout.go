package storage

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Layout derives the on-disk locations owned by the pipeline. Jobs metadata
// lives under JobsRoot; encoded media is published under MediaRoot, one
// directory per base name, with the master playlist at
// "<baseName>/<baseName>.m3u8". Work in progress is staged in a private
// directory keyed by job id and renamed into place only after success.
type Layout struct {
	JobsRoot  string
	MediaRoot string
}

func (l Layout) OutputDir(baseName string) string {
	return filepath.Join(l.MediaRoot, SanitizeBaseName(baseName))
}

func (l Layout) ManifestPath(baseName string) string {
	safe := SanitizeBaseName(baseName)
	return filepath.Join(l.MediaRoot, safe, safe+".m3u8")
}

func (l Layout) WorkDir(jobID string) string {
	return filepath.Join(l.MediaRoot, ".work", jobID)
}

var baseNameFolder = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeBaseName reduces a logical asset name to a string that is safe to
// use as a directory name and filename prefix. Diacritics are folded to their
// base letters; anything outside [a-zA-Z0-9-_] is dropped, spaces become
// hyphens. An empty result falls back to "asset".
func SanitizeBaseName(name string) string {
	folded := strings.TrimSpace(name)
	if transformed, _, err := transform.String(baseNameFolder, folded); err == nil {
		folded = transformed
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "asset"
	}
	return b.String()
}
