package metadata

import (
	"path"
	"strings"
)

// NormalizePath returns the absolute, slash-separated form of p
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// ParentPath returns the parent directory of p; the root is its own parent
func ParentPath(p string) string {
	p = NormalizePath(p)
	if p == "/" {
		return "/"
	}
	return path.Dir(p)
}

// BaseName returns the last element of p, or "/" for the root
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == "/" {
		return "/"
	}
	return path.Base(p)
}

// Ancestors lists the directories above p, nearest first, ending with "/"
func Ancestors(p string) []string {
	var dirs []string
	for cur := NormalizePath(p); cur != "/"; {
		cur = ParentPath(cur)
		dirs = append(dirs, cur)
	}
	return dirs
}
