package hooks

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	events []Event
}

func (r *recordingNotifier) PreCommit(ctx context.Context, ev Event)  { r.events = append(r.events, ev) }
func (r *recordingNotifier) PostCommit(ctx context.Context, ev Event) { r.events = append(r.events, ev) }

func TestMultiFansOutInOrder(t *testing.T) {
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	m := Multi{first, nil, second, NewLogNotifier(zap.NewNop())}

	m.PreCommit(context.Background(), Event{Phase: PreCommit, Path: "/a.txt"})
	m.PostCommit(context.Background(), Event{Phase: PostCommit, Path: "/a.txt", Size: 3})

	for _, r := range []*recordingNotifier{first, second} {
		require.Len(t, r.events, 2)
		assert.Equal(t, PreCommit, r.events[0].Phase)
		assert.Equal(t, PostCommit, r.events[1].Phase)
		assert.Equal(t, int64(3), r.events[1].Size)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcasterDeliversEvents(t *testing.T) {
	b := NewBroadcaster(8, zap.NewNop())
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	b.PostCommit(context.Background(), Event{Phase: PostCommit, Path: "/docs/a.txt", Existed: true, Size: 42})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, PostCommit, ev.Phase)
	assert.Equal(t, "/docs/a.txt", ev.Path)
	assert.True(t, ev.Existed)
	assert.Equal(t, int64(42), ev.Size)
}

func TestBroadcasterForgetsClosedSubscribers(t *testing.T) {
	b := NewBroadcaster(8, zap.NewNop())
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)

	// publishing with nobody listening is a no-op
	b.Publish(Event{Phase: PreCommit, Path: "/x"})
}

func TestBroadcasterCloseDisconnectsSubscribers(t *testing.T) {
	b := NewBroadcaster(8, zap.NewNop())
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	assert.Equal(t, 0, b.Subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}
