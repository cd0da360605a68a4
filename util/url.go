package util

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

var ErrNoFilename = errors.New("cannot extract valid filename")

// FilenameFromURL extracts the final path element of a URL, rejecting
// degenerate names like "." or "..".
func FilenameFromURL(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrNoFilename
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "", ErrNoFilename
	}
	elements := strings.Split(trimmed, "/")
	filename := elements[len(elements)-1]
	if filename == "" || strings.ReplaceAll(filename, ".", "") == "" {
		return "", ErrNoFilename
	}
	return filename, nil
}

// ExtensionFromURL returns the lowercased file extension (without dot) of
// the URL path, or "" if there is none.
func ExtensionFromURL(u *url.URL) string {
	filename, err := FilenameFromURL(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}
