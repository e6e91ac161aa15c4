package refimage

import (
	"path"
	"strings"
)

// IsExternal reports whether ref is a URL passed through untouched.
func IsExternal(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "data:")
}

// Normalize returns the canonical form of a reference: URLs unchanged, local
// paths cleaned to a single leading slash with forward slashes only. The
// result doubles as the dedup key.
func Normalize(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if IsExternal(ref) {
		return ref
	}
	p := strings.ReplaceAll(ref, "\\", "/")
	return path.Clean("/" + p)
}

// normalizeAll normalizes refs, dropping empties and duplicates while keeping
// first-seen order.
func normalizeAll(refs []string) []string {
	out := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		n := Normalize(r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
