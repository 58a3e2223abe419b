// Package media holds helpers for interpreting media references.
package media

import (
	"net/url"
	"path/filepath"
	"strings"
)

// IsLocal reports whether ref names a file on this host rather than a remote
// URL. Both file:// URLs and absolute paths count.
func IsLocal(ref string) bool {
	return LocalPath(ref) != ""
}

// LocalPath returns the filesystem path for a local ref, or "" for remote refs.
func LocalPath(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "file://") {
		parsed, err := url.Parse(ref)
		if err != nil || parsed.Path == "" {
			return ""
		}
		return filepath.Clean(parsed.Path)
	}
	if strings.Contains(ref, "://") {
		return ""
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return ""
}
