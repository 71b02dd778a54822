package pathutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebogdum/bundlefs/metadata"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		shouldError bool
	}{
		{name: "empty path", input: "", expected: "/"},
		{name: "simple path", input: "file.txt", expected: "/file.txt"},
		{name: "nested path", input: "dir/subdir/file.txt", expected: "/dir/subdir/file.txt"},
		{name: "root path", input: "/", expected: "/"},
		{name: "rooted path", input: "/docs/report.pdf", expected: "/docs/report.pdf"},
		{name: "directory traversal", input: "../../../etc/passwd", shouldError: true},
		{name: "rooted traversal", input: "/../etc/passwd", shouldError: true},
		{name: "mixed traversal", input: "dir/../../../etc/passwd", shouldError: true},
		{name: "safe relative navigation", input: "dir/../file.txt", expected: "/file.txt"},
		{name: "current directory", input: "./file.txt", expected: "/file.txt"},
		{name: "multiple slashes", input: "dir//file.txt", expected: "/dir/file.txt"},
		{name: "trailing slash", input: "dir/", expected: "/dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Clean(tt.input)
			if tt.shouldError {
				assert.ErrorIs(t, err, metadata.ErrForbidden)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name        string
		rel         string
		expected    string
		shouldError bool
	}{
		{name: "safe join", rel: "file.txt", expected: filepath.Join(root, "file.txt")},
		{name: "safe nested join", rel: "dir/subdir/file.txt", expected: filepath.Join(root, "dir/subdir/file.txt")},
		{name: "rooted path stays inside", rel: "/etc/passwd", expected: filepath.Join(root, "etc/passwd")},
		{name: "escape attempt", rel: "../../../etc/passwd", shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := SafeJoin(root, tt.rel)
			if tt.shouldError {
				assert.ErrorIs(t, err, metadata.ErrForbidden)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSafeJoinRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := SafeJoin(root, "link/secret.txt")
	assert.ErrorIs(t, err, metadata.ErrForbidden)
}

func TestVerifyPath(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		shouldError bool
	}{
		{name: "valid path", input: "/valid/path/file.txt"},
		{name: "unicode name", input: "/fotos/été.jpg"},
		{name: "empty path", input: "", shouldError: true},
		{name: "root only", input: "/", shouldError: true},
		{name: "null byte", input: "/file\x00.txt", shouldError: true},
		{name: "control character", input: "/file\x01.txt", shouldError: true},
		{name: "backslash", input: "/dir\\file.txt", shouldError: true},
		{name: "traversal", input: "/a/../../etc/passwd", shouldError: true},
		{name: "dot component", input: "/a/./b", shouldError: true},
		{name: "empty component", input: "/a//b", shouldError: true},
		{name: "reserved name", input: "/www/.htaccess", shouldError: true},
		{name: "reserved name any case", input: "/www/.HTACCESS", shouldError: true},
		{name: "trailing space", input: "/dir/file.txt ", shouldError: true},
		{name: "name too long", input: "/" + strings.Repeat("a", MaxNameLength+1), shouldError: true},
		{name: "longest name", input: "/" + strings.Repeat("a", MaxNameLength)},
		{name: "path too long", input: strings.Repeat("/abcdefghij", MaxPathLength/10), shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPath(tt.input)
			if tt.shouldError {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			assert.NoError(t, err)
		})
	}
}
