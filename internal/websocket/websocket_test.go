package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/memory"
	"github.com/snake-arena/internal/service"
)

type fixture struct {
	hub     *Hub
	live    *service.LiveService
	session *domain.LiveSession
	url     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	live := service.NewLiveService(st, st, logger)

	user := &domain.User{ID: uuid.NewString(), Username: "NeonViper", Email: "neon@example.com", CreatedAt: time.Now()}
	require.NoError(t, st.CreateUser(context.Background(), user))
	session, err := live.StartSession(context.Background(), user.ID, domain.ModeWalls)
	require.NoError(t, err)

	hub := NewHub(live, time.Second, logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(srv.Close)

	return &fixture{
		hub:     hub,
		live:    live,
		session: session,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

// conn reads messages one at a time even when the server batches several
// into one frame
type conn struct {
	t       *testing.T
	ws      *websocket.Conn
	pending [][]byte
}

func (f *fixture) dial(t *testing.T) *conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &conn{t: t, ws: ws}
}

func (c *conn) send(msg ClientMessage) {
	require.NoError(c.t, c.ws.WriteJSON(msg))
}

func (c *conn) next() map[string]any {
	c.t.Helper()
	for len(c.pending) == 0 {
		require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := c.ws.ReadMessage()
		require.NoError(c.t, err)
		c.pending = bytes.Split(data, []byte{'\n'})
	}
	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(c.pending[0], &msg))
	c.pending = c.pending[1:]
	return msg
}

func viewers(t *testing.T, f *fixture) int64 {
	t.Helper()
	s, err := f.live.GetSession(context.Background(), f.session.ID)
	require.NoError(t, err)
	return s.Viewers
}

func TestWatchHoldsPresence(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	c.send(ClientMessage{Type: MessageTypeWatch, SessionID: f.session.ID})
	msg := c.next()
	assert.Equal(t, MessageTypeWatch, msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, float64(1), data["viewers"])
	assert.Equal(t, "RIGHT", data["direction"])

	// A second watch from the same socket does not count twice.
	c.send(ClientMessage{Type: MessageTypeWatch, SessionID: f.session.ID})
	assert.Equal(t, MessageTypeSnapshot, c.next()["type"])
	assert.Equal(t, int64(1), viewers(t, f))

	other := f.dial(t)
	other.send(ClientMessage{Type: MessageTypeWatch, SessionID: f.session.ID})
	other.next()
	assert.Equal(t, int64(2), viewers(t, f))

	c.send(ClientMessage{Type: MessageTypeUnwatch, SessionID: f.session.ID})
	assert.Equal(t, MessageTypeUnwatch, c.next()["type"])
	assert.Equal(t, int64(1), viewers(t, f))

	// Disconnecting releases the remaining viewer.
	require.NoError(t, other.ws.Close())
	require.Eventually(t, func() bool { return viewers(t, f) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchUnknownSession(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	c.send(ClientMessage{Type: MessageTypeWatch, SessionID: "missing"})
	msg := c.next()
	assert.Equal(t, MessageTypeError, msg["type"])
	assert.Equal(t, "missing", msg["session_id"])

	c.send(ClientMessage{Type: MessageTypeUnwatch, SessionID: f.session.ID})
	assert.Equal(t, MessageTypeError, c.next()["type"])
}

func TestSnapshotIsPointInTime(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	_, err := f.live.UpdateSession(context.Background(), f.session.ID, domain.SessionUpdate{Score: 90})
	require.NoError(t, err)

	c.send(ClientMessage{Type: MessageTypeSnapshot, SessionID: f.session.ID})
	msg := c.next()
	assert.Equal(t, MessageTypeSnapshot, msg["type"])
	assert.Equal(t, float64(90), msg["data"].(map[string]any)["score"])
	assert.Equal(t, int64(0), viewers(t, f), "snapshots do not count as viewers")
}

func TestScoreFanOut(t *testing.T) {
	f := newFixture(t)
	walls := f.dial(t)
	everything := f.dial(t)

	walls.send(ClientMessage{Type: MessageTypeSubscribe, Mode: string(domain.ModeWalls)})
	assert.Equal(t, "subscribed", walls.next()["type"])
	everything.send(ClientMessage{Type: MessageTypeSubscribe})
	assert.Equal(t, "subscribed", everything.next()["type"])

	require.Eventually(t, func() bool {
		return f.hub.GetSubscriberCount(string(domain.ModeWalls)) == 1 && f.hub.GetSubscriberCount("") == 1
	}, time.Second, 10*time.Millisecond)

	f.hub.NotifyScore(domain.RankedEntry{ID: "e1", Rank: 1, Username: "NeonViper", Score: 2450, Mode: domain.ModePassThrough})
	f.hub.NotifyScore(domain.RankedEntry{ID: "e2", Rank: 3, Username: "PixelMaster", Score: 2100, Mode: domain.ModeWalls})

	msg := walls.next()
	assert.Equal(t, MessageTypeScoreSubmitted, msg["type"])
	assert.Equal(t, "e2", msg["data"].(map[string]any)["id"], "walls subscribers skip other modes")

	assert.Equal(t, "e1", everything.next()["data"].(map[string]any)["id"])
	assert.Equal(t, "e2", everything.next()["data"].(map[string]any)["id"])
}

func TestRejectsBadMessages(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, MessageTypeError, c.next()["type"])

	c.send(ClientMessage{Type: MessageTypeSubscribe, Mode: "classic"})
	assert.Equal(t, MessageTypeError, c.next()["type"])

	c.send(ClientMessage{Type: MessageTypePing})
	assert.Equal(t, MessageTypePong, c.next()["type"])
}

func TestOverlappingSubscriptionsDeliverOnce(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	c.send(ClientMessage{Type: MessageTypeSubscribe, Mode: string(domain.ModeWalls)})
	assert.Equal(t, "subscribed", c.next()["type"])
	c.send(ClientMessage{Type: MessageTypeSubscribe})
	assert.Equal(t, "subscribed", c.next()["type"])

	require.Eventually(t, func() bool {
		return f.hub.GetSubscriberCount(string(domain.ModeWalls)) == 1 && f.hub.GetSubscriberCount("") == 1
	}, time.Second, 10*time.Millisecond)

	f.hub.NotifyScore(domain.RankedEntry{ID: "e1", Rank: 1, Username: "NeonViper", Score: 2450, Mode: domain.ModeWalls})
	msg := c.next()
	assert.Equal(t, MessageTypeScoreSubmitted, msg["type"])
	assert.Equal(t, "e1", msg["data"].(map[string]any)["id"])

	// Anything queued behind the submission would arrive before the pong.
	c.send(ClientMessage{Type: MessageTypePing})
	assert.Equal(t, MessageTypePong, c.next()["type"])
}

func TestSubscribeAfterStopReturns(t *testing.T) {
	hub := NewHub(nil, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Subscribe(client, allModes)
			hub.Unsubscribe(client, allModes)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe blocked on a stopped hub")
	}
}
