// Package pushchannel implements the Push Channel (C3): a room-based
// websocket broadcaster of job lifecycle events. One room per job ID;
// any number of subscribers (typically one submitter tab, but nothing
// stops more) receive the same event stream.
//
// Grounded on the teacher's agents_ws.go upgrade/ping-pong pattern and on
// the room model and event kind names of original_source's
// websocket/manager.py (processing_started/progress_update/
// processing_completed/processing_failed).
package pushchannel

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/snappy-loop/videosynth/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one subscriber's connection within a job's room.
type client struct {
	jobID string
	conn  *websocket.Conn
	send  chan models.Event
}

// Hub is the Push Channel. The zero value is not usable; use New.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

// Subscribe upgrades the HTTP request to a websocket and joins the job's
// room, running until the connection closes. Blocks the calling
// goroutine for the connection's lifetime, in the teacher's handler
// style — call it from the HTTP handler goroutine directly.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, jobID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{jobID: jobID, conn: conn, send: make(chan models.Event, clientSendSize)}
	h.join(c)
	defer h.leave(c)

	done := make(chan struct{})
	go h.writePump(c, done)
	h.readPump(c)
	close(done)
	return nil
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.jobID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.jobID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[c.jobID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.jobID)
		}
	}
	_ = c.conn.Close()
}

// readPump drains control frames (pong, close) until the client goes
// away. Subscribers never send application data.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// emit delivers event to every subscriber of jobID. Started and progress
// events are best-effort: a subscriber with a full send buffer simply misses this
// update, since a fresher one is coming. Terminal events (completed,
// failed, cancelled) are never dropped on a full buffer — the oldest
// queued event is evicted to make room instead, so the client always
// eventually learns the outcome.
func (h *Hub) emit(event models.Event) {
	h.mu.RLock()
	room := h.rooms[event.JobID]
	clients := make([]*client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	terminal := event.Kind != models.EventStarted && event.Kind != models.EventProgress

	for _, c := range clients {
		select {
		case c.send <- event:
		default:
			if !terminal {
				log.Debug().Str("job_id", event.JobID).Str("kind", string(event.Kind)).Msg("dropping progress event, subscriber buffer full")
				continue
			}
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- event:
			default:
			}
		}
	}
}

// EmitStarted notifies subscribers the job left PENDING.
func (h *Hub) EmitStarted(jobID string) {
	h.emit(models.Event{JobID: jobID, Kind: models.EventStarted, Timestamp: time.Now()})
}

// EmitProgress notifies subscribers of a progress update.
func (h *Hub) EmitProgress(jobID string, progress float64, message, step string) {
	h.emit(models.Event{
		JobID:     jobID,
		Kind:      models.EventProgress,
		Payload:   models.ProgressPayload{Progress: progress, Message: message, Step: step},
		Timestamp: time.Now(),
	})
}

// EmitCompleted notifies subscribers of a SUCCESS outcome.
func (h *Hub) EmitCompleted(jobID string, result models.ResultBundle) {
	h.emit(models.Event{
		JobID:     jobID,
		Kind:      models.EventCompleted,
		Payload:   models.CompletedPayload{Result: result},
		Timestamp: time.Now(),
	})
}

// EmitFailed notifies subscribers of a FAILURE outcome.
func (h *Hub) EmitFailed(jobID string, failure models.JobFailure) {
	h.emit(models.Event{
		JobID:     jobID,
		Kind:      models.EventFailed,
		Payload:   models.FailedPayload{Error: failure},
		Timestamp: time.Now(),
	})
}

// EmitCancelled notifies subscribers of a CANCELLED outcome.
func (h *Hub) EmitCancelled(jobID string) {
	h.emit(models.Event{JobID: jobID, Kind: models.EventCancelled, Timestamp: time.Now()})
}

// RoomSize reports the number of subscribers currently watching a job;
// the tests use it to wait for a subscription to join or leave.
func (h *Hub) RoomSize(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[jobID])
}
