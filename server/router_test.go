package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/auth"
	"github.com/ebogdum/bundlefs/backends/localfs"
	"github.com/ebogdum/bundlefs/config"
	"github.com/ebogdum/bundlefs/core"
	"github.com/ebogdum/bundlefs/hooks"
	"github.com/ebogdum/bundlefs/locks"
	"github.com/ebogdum/bundlefs/metadata/sqlite"
)

const testKey = "router-key-0123456789"

func newTestRouter(t *testing.T) (http.Handler, *hooks.Broadcaster) {
	t.Helper()
	logger := zap.NewNop()

	storage, err := localfs.NewLocalFSAdapter(t.TempDir())
	require.NoError(t, err)
	store, err := sqlite.NewSQLiteStore(filepath.Join(t.TempDir(), "index.sqlite3"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index := core.NewStoreIndex(store, nil, logger)
	require.NoError(t, index.EnsureRoot(context.Background(), localfs.BackendType))
	engine := core.NewEngine(core.NewResolver(localfs.BackendType, storage), index, locks.NewLocalManager(), logger)

	events := hooks.NewBroadcaster(8, logger)
	t.Cleanup(func() { events.Close() })

	router := NewRouter(RouterDeps{
		Engine:        engine,
		Authenticator: auth.NewAPIKeyAuthenticator([]string{testKey}, nil),
		Authorizer:    auth.NewPrefixAuthorizer(nil),
		Notifier:      events,
		Events:        events,
		Upload:        config.UploadConfig{SpoolDir: t.TempDir(), RateLimit: 100, RateBurst: 100},
		ServeMetrics:  true,
	}, logger)
	return router, events
}

func TestRouterPublicEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bundlefs_http_requests_total")
}

func TestRouterRequiresAuthentication(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/bundle/a.txt", strings.NewReader("x")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterUploadPublishesEvents(t *testing.T) {
	router, events := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	header := http.Header{"Authorization": {"Bearer " + testKey}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events", header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.Eventually(t, func() bool { return events.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/bundle/docs/a.txt", bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("OC-ETag"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var pre, post hooks.Event
	require.NoError(t, conn.ReadJSON(&pre))
	require.NoError(t, conn.ReadJSON(&post))

	assert.Equal(t, hooks.PreCommit, pre.Phase)
	assert.Equal(t, "/docs/a.txt", pre.Path)
	assert.False(t, pre.Existed)
	assert.Equal(t, hooks.PostCommit, post.Phase)
	assert.Equal(t, int64(5), post.Size)
}

func TestRouterDirectWriteForbidden(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/files/a.txt", strings.NewReader("x"))
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
