package handlers

import (
	"strings"

	"github.com/ebogdum/bundlefs/internal/pathutil"
)

// PathInfo represents parsed path information
type PathInfo struct {
	FullPath    string // The path as sent, rooted (e.g. "/some/dir/file")
	Name        string // The last path component
	IsDirectory bool   // True if the URL path ends with "/"
	IsInvalid   bool   // True when the path escapes the root or uses backslashes
}

// ParseFilePath extracts path information from the wildcard part of a URL.
// The path is not cleaned: name-level checks happen in the commit path so
// that "." and ".." components are rejected rather than resolved.
func ParseFilePath(urlPath string) PathInfo {
	urlPath = strings.TrimPrefix(urlPath, "/")
	isDirectory := strings.HasSuffix(urlPath, "/")
	trimmed := strings.TrimSuffix(urlPath, "/")

	if trimmed == "" {
		return PathInfo{FullPath: "/", IsDirectory: true}
	}

	if strings.Contains(trimmed, "\\") {
		return PathInfo{FullPath: "/", IsDirectory: true, IsInvalid: true}
	}
	if _, err := pathutil.Clean(trimmed); err != nil {
		return PathInfo{FullPath: "/", IsDirectory: true, IsInvalid: true}
	}

	name := trimmed
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		name = trimmed[i+1:]
	}

	return PathInfo{
		FullPath:    "/" + trimmed,
		Name:        name,
		IsDirectory: isDirectory,
	}
}
