package gateway

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchWSWriteWait = 10 * time.Second
	watchWSPongWait  = 60 * time.Second
	watchWSPingEvery = (watchWSPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// ProgressHub fans progress log lines out to websocket watchers, keyed by a
// caller-chosen watch id. Lines published before a watcher connects are
// buffered so a watcher attaching mid-mapping still sees the full trace.
type ProgressHub struct {
	mu      sync.Mutex
	streams map[string]*progressStream
}

type progressStream struct {
	lines  []string
	subs   map[chan string]bool
	closed bool
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{streams: make(map[string]*progressStream)}
}

func (h *ProgressHub) stream(watchID string) *progressStream {
	s, ok := h.streams[watchID]
	if !ok {
		s = &progressStream{subs: make(map[chan string]bool)}
		h.streams[watchID] = s
	}
	return s
}

// Publish appends a line to the stream and notifies current watchers.
func (h *ProgressHub) Publish(watchID, line string) {
	if watchID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stream(watchID)
	s.lines = append(s.lines, line)
	for ch := range s.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close marks the stream finished and releases it after notifying watchers.
func (h *ProgressHub) Close(watchID string) {
	if watchID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[watchID]
	if !ok {
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	delete(h.streams, watchID)
}

// subscribe returns the backlog plus a live channel. The channel is nil when
// the stream already finished.
func (h *ProgressHub) subscribe(watchID string) ([]string, chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stream(watchID)
	backlog := append([]string(nil), s.lines...)
	if s.closed {
		return backlog, nil
	}
	ch := make(chan string, 64)
	s.subs[ch] = true
	return backlog, ch
}

// unsubscribe removes the watcher and releases the stream when nothing
// else references it. A stream that never saw a Publish has no mapping
// behind it to Close it, so it must not outlive its last subscriber.
func (h *ProgressHub) unsubscribe(watchID string, ch chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[watchID]
	if !ok {
		return
	}
	delete(s.subs, ch)
	if len(s.subs) == 0 && len(s.lines) == 0 {
		delete(h.streams, watchID)
	}
}

// HandleWatch streams progress log lines for an in-flight mapping as text
// websocket messages, one line per message.
func (s *Handlers) HandleWatch(w http.ResponseWriter, r *http.Request) {
	watchID := strings.TrimSpace(r.URL.Query().Get("watch_id"))
	if watchID == "" {
		http.Error(w, "watch_id is required", http.StatusBadRequest)
		return
	}

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(watchWSPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchWSPongWait))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	backlog, live := s.Hub.subscribe(watchID)
	if live != nil {
		defer s.Hub.unsubscribe(watchID, live)
	}
	for _, line := range backlog {
		if err := writeWatchLine(conn, line); err != nil {
			return
		}
	}
	if live == nil {
		return
	}

	ping := time.NewTicker(watchWSPingEvery)
	defer ping.Stop()
	for {
		select {
		case line, ok := <-live:
			if !ok {
				return
			}
			if err := writeWatchLine(conn, line); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeWatchLine(conn *websocket.Conn, line string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}
