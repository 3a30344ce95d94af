package pushchannel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/models"
)

func newTestServer(t *testing.T, hub *Hub, jobID string) (*httptest.Server, string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Subscribe(w, r, jobID)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEmitProgressDeliveredToSubscriber(t *testing.T) {
	hub := New()
	_, url := newTestServer(t, hub, "job-1")
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.RoomSize("job-1") == 1 }, time.Second, 5*time.Millisecond)

	hub.EmitProgress("job-1", 0.4, "composing", "compose")

	var evt models.Event
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, models.EventProgress, evt.Kind)
}

func TestEmitCompletedDeliveredEvenAfterBusyBuffer(t *testing.T) {
	hub := New()
	_, url := newTestServer(t, hub, "job-2")
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.RoomSize("job-2") == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < clientSendSize+5; i++ {
		hub.EmitProgress("job-2", float64(i)/100, "working", "segment")
	}
	hub.EmitCompleted("job-2", models.ResultBundle{ArtifactPath: "/artifacts/out.mp4"})

	var last models.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var evt models.Event
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		last = evt
		if evt.Kind == models.EventCompleted {
			break
		}
	}
	require.Equal(t, models.EventCompleted, last.Kind)
}

func TestUnsubscribeOnConnectionClose(t *testing.T) {
	hub := New()
	_, url := newTestServer(t, hub, "job-3")
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.RoomSize("job-3") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.RoomSize("job-3") == 0 }, time.Second, 5*time.Millisecond)
}
