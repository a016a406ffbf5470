package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fiction-server/pkg/imagejobs"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestManager_ImageUpdatesReachSubscribedSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(nil, nil)
	go m.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", m.Handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mine := dial(t, srv, "?session_id=s1")
	other := dial(t, srv, "?session_id=s2")
	require.Eventually(t, func() bool { return m.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	m.HandleImageUpdate(imagejobs.Report{JobID: "job-1", OwnerID: "s1", Status: imagejobs.StatusReady, Progress: 100})

	require.NoError(t, mine.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := mine.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string           `json:"type"`
		Topic   string           `json:"topic"`
		Payload imagejobs.Report `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "image_job_update", msg.Type)
	assert.Equal(t, TopicImages, msg.Topic)
	assert.Equal(t, "job-1", msg.Payload.JobID)
	assert.Equal(t, 100, msg.Payload.Progress)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "client of another session must not receive the update")
}

func TestManager_SubscribeCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(nil, nil)
	go m.Run(ctx)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	conn := dial(t, srv, "?session_id=s1")
	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "session_id": "s9"}))

	var client *Client
	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, c := range m.clients {
			client = c
		}
		return client != nil && client.IsSubscribed("s9")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_RequiresSession(t *testing.T) {
	m := NewManager(nil, nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
