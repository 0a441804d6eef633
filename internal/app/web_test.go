package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishRecorder struct {
	mu   sync.Mutex
	msgs []published
}

func (p *publishRecorder) publish(topic, payload string) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, published{topic: topic, payload: []byte(payload)})
	p.mu.Unlock()
	return nil
}

func (p *publishRecorder) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func newTestWeb(t *testing.T) (*WebServer, *publishRecorder, *httptest.Server) {
	t.Helper()
	rec := &publishRecorder{}
	s := NewWebServer(NewTopics("trains", "speedcal"), rec.publish)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Hub().Run(ctx)

	srv := httptest.NewServer(s.Handler(""))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return s, rec, srv
}

func TestWebAPIBeforeData(t *testing.T) {
	_, _, srv := newTestWeb(t)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebAPIServesLatest(t *testing.T) {
	s, _, srv := newTestWeb(t)
	s.HandleMessage(s.topics.Status, []byte(`{"type":"status","state":"armed"}`))
	s.HandleMessage(s.topics.Result, []byte(`{"type":"result","avg_speed_mph":97.4}`))
	// Status requests on the status topic are not payloads.
	s.HandleMessage(s.topics.Status, []byte("?"))

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"type":"status","state":"armed"}`, string(body))

	resp, err = http.Get(srv.URL + "/api/result")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"result","avg_speed_mph":97.4}`, string(body))
}

func TestWebActionEndpoints(t *testing.T) {
	s, rec, srv := newTestWeb(t)

	resp, err := http.Get(srv.URL + "/api/arm")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/arm", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	msgs := rec.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, s.topics.Arm, msgs[0].topic)
	assert.Equal(t, s.topics.Stop, msgs[1].topic)
}

func TestWebActionUnknown(t *testing.T) {
	s, rec, _ := newTestWeb(t)
	assert.Error(t, s.Action("explode"))
	require.NoError(t, s.Action("status"))
	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, s.topics.Status, msgs[0].topic)
	assert.Equal(t, "?", string(msgs[0].payload))
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketGreetingAndBroadcast(t *testing.T) {
	s, _, srv := newTestWeb(t)
	s.HandleMessage(s.topics.Status, []byte(`{"type":"status","state":"idle"}`))

	conn := dialWS(t, srv)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","state":"idle"}`, string(msg))

	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	s.HandleMessage(s.topics.Error, []byte(`{"type":"error","message":"no speed"}`))

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"no speed"}`, string(msg))
}

func TestWebSocketActions(t *testing.T) {
	s, rec, srv := newTestWeb(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"arm"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"disarm"}`)))

	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := rec.all()
	assert.Equal(t, s.topics.Arm, msgs[0].topic)
	assert.Equal(t, s.topics.Stop, msgs[1].topic)
}

func TestHubDropsClientOnClose(t *testing.T) {
	s, _, srv := newTestWeb(t)
	conn := dialWS(t, srv)
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubLeaveAfterStopDoesNotBlock(t *testing.T) {
	h := NewHub(nil, 4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// More departures than the unregister queue holds.
	left := make(chan struct{})
	go func() {
		for i := 0; i < 2*cap(h.unregister); i++ {
			h.leave(&wsClient{hub: h})
		}
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("leave blocked after the hub stopped")
	}
}

func TestHubRejectsClientsAfterStop(t *testing.T) {
	h := NewHub(nil, 4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, h.ClientCount())
}
