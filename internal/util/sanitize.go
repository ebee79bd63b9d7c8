package util

import "strings"

// Characters rejected by at least one mainstream filesystem, plus the
// path separators. Node names are user-supplied and frequently contain
// slashes ("Icons/Arrow/Left").
const invalidFilenameChars = `/\:*?"<>|`

const maxFilenameLen = 120

// SanitizeFilename converts a node name into a safe file name component.
// Control characters and reserved characters become underscores, leading
// and trailing dots and spaces are trimmed, and overlong names are cut at
// a rune boundary.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidFilenameChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "untitled"
	}

	if len(out) > maxFilenameLen {
		runes := []rune(out)
		for len(string(runes)) > maxFilenameLen {
			runes = runes[:len(runes)-1]
		}
		out = strings.Trim(string(runes), " .")
		if out == "" {
			return "untitled"
		}
	}
	return out
}
