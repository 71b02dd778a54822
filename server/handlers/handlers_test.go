package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/auth"
	"github.com/ebogdum/bundlefs/backends/localfs"
	"github.com/ebogdum/bundlefs/config"
	"github.com/ebogdum/bundlefs/core"
	"github.com/ebogdum/bundlefs/locks"
	"github.com/ebogdum/bundlefs/metadata/sqlite"
	"github.com/ebogdum/bundlefs/server/middleware"
)

type testServer struct {
	router  chi.Router
	root    string
	spool   string
	locks   *locks.LocalManager
	engine  *core.Engine
	userKey string
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()
	logger := zap.NewNop()

	root := t.TempDir()
	storage, err := localfs.NewLocalFSAdapter(root)
	require.NoError(t, err)

	store, err := sqlite.NewSQLiteStore(filepath.Join(t.TempDir(), "index.sqlite3"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index := core.NewStoreIndex(store, nil, logger)
	require.NoError(t, index.EnsureRoot(context.Background(), localfs.BackendType))

	lm := locks.NewLocalManager()
	engine := core.NewEngine(core.NewResolver(localfs.BackendType, storage), index, lm, logger)

	authorizer := auth.NewPrefixAuthorizer(map[string][]string{"alice": {"/alice"}})
	spool := t.TempDir()
	cfg := config.UploadConfig{SpoolDir: spool, MaxUploadSize: maxUpload}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := r.Header.Get("X-Test-User")
			if user == "" {
				user = auth.RootUser
			}
			next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), user)))
		})
	})
	r.Put("/v1/bundle/*", V1PutBundle(engine, authorizer, nil, cfg, logger))
	r.Post("/v1/files/*", V1PostFile(engine, logger))

	return &testServer{router: r, root: root, spool: spool, locks: lm, engine: engine}
}

func (s *testServer) put(path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, "/v1/bundle"+path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func spoolEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spool files must be removed")
}

func TestPutBundleCreatesFile(t *testing.T) {
	s := newTestServer(t, 0)
	body := []byte("hello bundle")

	rec := s.put("/docs/a.txt", body, map[string]string{HeaderMtime: "1700000000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	etag := rec.Header().Get("ETag")
	assert.True(t, strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`))
	assert.Equal(t, etag, rec.Header().Get(HeaderOCEtag))
	assert.NotEmpty(t, rec.Header().Get(HeaderOCFileID))
	assert.Equal(t, "accepted", rec.Header().Get(HeaderMtime))

	var props map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &props))
	assert.Equal(t, etag, props["etag"])
	assert.Equal(t, rec.Header().Get(HeaderOCFileID), props["oc-fileid"])
	assert.Equal(t, "accepted", props[core.MtimeAttribute])

	stored, err := os.ReadFile(filepath.Join(s.root, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, body, stored)

	info, err := os.Stat(filepath.Join(s.root, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), info.ModTime().Unix())

	lockType, holders := s.locks.State("file:/docs/a.txt")
	assert.Zero(t, holders, "lock released, held %s", lockType)
	spoolEmpty(t, s.spool)
}

func TestPutBundleOverwriteKeepsFileID(t *testing.T) {
	s := newTestServer(t, 0)

	first := s.put("/a.txt", []byte("one"), nil)
	require.Equal(t, http.StatusCreated, first.Code)
	second := s.put("/a.txt", []byte("second version"), nil)
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, first.Header().Get(HeaderOCFileID), second.Header().Get(HeaderOCFileID))
	assert.NotEqual(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
}

func TestPutBundleIfNoneMatch(t *testing.T) {
	s := newTestServer(t, 0)
	create := map[string]string{"If-None-Match": "*"}

	require.Equal(t, http.StatusCreated, s.put("/a.txt", []byte("one"), create).Code)

	rec := s.put("/a.txt", []byte("two"), create)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "FILE_ALREADY_EXISTS", decodeError(t, rec).Code)

	stored, err := os.ReadFile(filepath.Join(s.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(stored))

	// present on disk but never indexed
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "stray.txt"), []byte("x"), 0o644))
	assert.Equal(t, http.StatusConflict, s.put("/stray.txt", []byte("y"), create).Code)
}

func TestPutBundleSizeMismatch(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.put("/a.txt", []byte("short"), map[string]string{HeaderTotalLength: "100"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "SIZE_MISMATCH", resp.Code)
	assert.Contains(t, resp.Message, "expected filesize 100 got 5")

	_, err := os.Stat(filepath.Join(s.root, "a.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "partial object removed")
	spoolEmpty(t, s.spool)
}

func TestPutBundleBadRequests(t *testing.T) {
	s := newTestServer(t, 0)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
		code    string
	}{
		{"directory target", "/dir/", nil, http.StatusBadRequest, "INVALID_PATH"},
		{"traversal above root", "/../etc/passwd", nil, http.StatusBadRequest, "INVALID_PATH"},
		{"dot component", "/a/./b.txt", nil, http.StatusBadRequest, "INVALID_PATH"},
		{"reserved name", "/a/.htaccess", nil, http.StatusBadRequest, "INVALID_PATH"},
		{"malformed total length", "/a.txt", map[string]string{HeaderTotalLength: "ten"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"outside user prefix", "/bob/a.txt", map[string]string{"X-Test-User": "alice"}, http.StatusForbidden, "PERMISSION_DENIED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.put(tt.path, []byte("data"), tt.headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}

	rec := s.put("/alice/a.txt", []byte("data"), map[string]string{"X-Test-User": "alice"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestPutBundleLocked(t *testing.T) {
	s := newTestServer(t, 0)

	ok, err := s.locks.Acquire(context.Background(), "file:/busy.txt", "reader", locks.Shared)
	require.NoError(t, err)
	require.True(t, ok)

	rec := s.put("/busy.txt", []byte("data"), nil)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "RESOURCE_LOCKED", decodeError(t, rec).Code)
}

func TestPutBundleTooLarge(t *testing.T) {
	s := newTestServer(t, 8)

	rec := s.put("/a.txt", []byte("0123456789"), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "UPLOAD_TOO_LARGE", decodeError(t, rec).Code)

	// no declared length: the limit is enforced while spooling
	req := httptest.NewRequest(http.MethodPut, "/v1/bundle/b.txt", strings.NewReader("0123456789"))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	spoolEmpty(t, s.spool)
}

func TestPostFileIsForbidden(t *testing.T) {
	s := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/v1/files/a.txt", strings.NewReader("data"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "FORBIDDEN", resp.Code)
	assert.Equal(t, "direct write not supported for bundled upload", resp.Message)

	_, err := os.Stat(filepath.Join(s.root, "a.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{core.ErrInvalidInput, http.StatusBadRequest},
		{core.ErrSizeMismatch, http.StatusBadRequest},
		{core.ErrInvalidPath, http.StatusBadRequest},
		{core.ErrAlreadyExists, http.StatusConflict},
		{core.ErrResourceLocked, http.StatusLocked},
		{core.ErrForbidden, http.StatusForbidden},
		{core.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{core.ErrInternal, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", auth.ErrPermissionDenied), http.StatusForbidden},
		{auth.ErrAuthenticationFailed, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status)+"_"+tt.err.Error(), func(t *testing.T) {
			status, _ := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestParseFilePath(t *testing.T) {
	tests := []struct {
		input   string
		full    string
		name    string
		dir     bool
		invalid bool
	}{
		{"normal/file.txt", "/normal/file.txt", "file.txt", false, false},
		{"/etc/passwd", "/etc/passwd", "passwd", false, false},
		{"dir/", "/dir", "dir", true, false},
		{"", "/", "", true, false},
		{"../../../etc/passwd", "/", "", true, true},
		{"dir/../../../etc/passwd", "/", "", true, true},
		{"..\\..\\windows", "/", "", true, true},
		// kept as sent; the commit path rejects "." components
		{"./file.txt", "/./file.txt", "file.txt", false, false},
	}

	for _, tt := range tests {
		t.Run("path_"+tt.input, func(t *testing.T) {
			info := ParseFilePath(tt.input)
			assert.Equal(t, tt.full, info.FullPath)
			assert.Equal(t, tt.name, info.Name)
			assert.Equal(t, tt.dir, info.IsDirectory)
			assert.Equal(t, tt.invalid, info.IsInvalid)
		})
	}
}
