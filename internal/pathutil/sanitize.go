// Package pathutil provides secure path handling utilities for bundlefs.
package pathutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ebogdum/bundlefs/metadata"
)

const (
	// MaxNameLength is the longest file or directory name accepted
	MaxNameLength = 255
	// MaxPathLength is the longest full path accepted
	MaxPathLength = 4000
)

// ErrInvalidPath is returned by VerifyPath for structurally invalid paths
var ErrInvalidPath = errors.New("invalid path")

// reservedNames may never be used as a path component
var reservedNames = map[string]struct{}{
	".htaccess": {},
	".":         {},
	"..":        {},
}

// forbiddenChars may not appear inside a path component
const forbiddenChars = "\\\x00"

// Clean resolves path against the storage root. Paths are always treated
// as rooted: "/a/b" and "a/b" both clean to "/a/b". ".." components that
// would climb above the root are rejected with metadata.ErrForbidden.
func Clean(path string) (string, error) {
	if path == "" {
		return "/", nil
	}

	depth := 0
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			depth--
			if depth < 0 {
				return "", metadata.ErrForbidden
			}
		default:
			depth++
		}
	}

	return filepath.Clean("/" + strings.TrimPrefix(path, "/")), nil
}

// SafeJoin safely joins a root path with a relative path, ensuring
// the result stays within the root directory boundary.
// Returns an error if the path would escape the root.
func SafeJoin(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)

	cleanRel, err := Clean(rel)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(cleanRoot, strings.TrimPrefix(cleanRel, "/"))

	// Symlinks inside the root must not lead out of it
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// Target may not exist yet; check the nearest directory instead
		dir := filepath.Dir(joined)
		if dir != cleanRoot {
			if resolvedDir, dirErr := filepath.EvalSymlinks(dir); dirErr == nil {
				if !within(cleanRoot, resolvedDir) {
					return "", metadata.ErrForbidden
				}
			}
		}
		if !within(cleanRoot, joined) {
			return "", metadata.ErrForbidden
		}
		return joined, nil
	}

	if !within(cleanRoot, resolved) {
		if realRoot, rootErr := filepath.EvalSymlinks(cleanRoot); rootErr != nil || !within(realRoot, resolved) {
			return "", metadata.ErrForbidden
		}
	}

	return joined, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}

// VerifyPath checks that path is usable as the name of a stored file:
// no traversal, no reserved or over-long names, no control characters.
// Failures wrap ErrInvalidPath.
func VerifyPath(path string) error {
	if path == "" || path == "/" {
		return fmt.Errorf("%w: empty file name", ErrInvalidPath)
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("%w: path exceeds %d bytes", ErrInvalidPath, MaxPathLength)
	}

	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if err := verifyName(part); err != nil {
			return err
		}
	}
	return nil
}

func verifyName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty path component", ErrInvalidPath)
	}
	if _, reserved := reservedNames[strings.ToLower(name)]; reserved {
		return fmt.Errorf("%w: %q is a reserved name", ErrInvalidPath, name)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidPath, MaxNameLength)
	}
	if strings.ContainsAny(name, forbiddenChars) {
		return fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidPath, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidPath, name)
		}
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q has leading or trailing whitespace", ErrInvalidPath, name)
	}
	return nil
}
