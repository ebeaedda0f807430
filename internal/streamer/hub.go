// Package streamer produces server-sent event streams. A Registry holds named
// Hubs; each Hub fans published frames out to every connected client.
package streamer

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tmaxmax/go-sse"
)

// Frame is one event on the wire.
type Frame struct {
	ID    string
	Event string
	Data  string
}

// WriteFrame encodes f in text/event-stream format. Each line of Data becomes
// its own "data:" field.
func WriteFrame(w io.Writer, f Frame) error {
	m, err := f.message()
	if err != nil {
		return err
	}
	_, err = m.WriteTo(w)
	return err
}

func (f Frame) message() (*sse.Message, error) {
	m := &sse.Message{}
	if f.ID != "" {
		id, err := sse.NewID(f.ID)
		if err != nil {
			return nil, fmt.Errorf("frame id: %w", err)
		}
		m.ID = id
	}
	if f.Event != "" {
		typ, err := sse.NewType(f.Event)
		if err != nil {
			return nil, fmt.Errorf("frame event: %w", err)
		}
		m.Type = typ
	}
	m.AppendData(splitLines(f.Data)...)
	return m, nil
}

// writeRetry sends a reconnection hint with no event attached.
func writeRetry(w io.Writer, d time.Duration) error {
	_, err := (&sse.Message{Retry: d}).WriteTo(w)
	return err
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

// Hub broadcasts frames to the clients of one stream.
type Hub struct {
	name     string
	greeting string
	retry    time.Duration
	buffer   int
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[chan Frame]struct{}
	closed  bool
	done    chan struct{}
}

func newHub(name string, o options) *Hub {
	return &Hub{
		name:     name,
		greeting: o.greeting,
		retry:    o.retry,
		buffer:   o.buffer,
		log:      o.log.With().Str("stream", name).Logger(),
		clients:  make(map[chan Frame]struct{}),
		done:     make(chan struct{}),
	}
}

// Name returns the stream name.
func (h *Hub) Name() string { return h.name }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends data as an unnamed event and returns the frame sent.
func (h *Hub) Publish(data string) Frame { return h.PublishEvent("", data) }

// PublishEvent sends a named event. Clients whose buffer is full miss it.
func (h *Hub) PublishEvent(event, data string) Frame {
	f := Frame{ID: uuid.NewString(), Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return f
	}
	for c := range h.clients {
		select {
		case c <- f:
		default:
			h.log.Warn().Msg("client buffer full, frame skipped")
		}
	}
	return f
}

// Close ends every open stream on this hub.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

func (h *Hub) subscribe() (chan Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := make(chan Frame, h.buffer)
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unsubscribe(c chan Frame) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP streams frames until the client goes away or the hub closes.
// A closed hub answers 204 so well-behaved clients stop reconnecting.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	c, ok := h.subscribe()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	defer h.unsubscribe(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if h.retry > 0 {
		if err := writeRetry(w, h.retry); err != nil {
			return
		}
	}
	if h.greeting != "" {
		if err := WriteFrame(w, Frame{Data: h.greeting}); err != nil {
			return
		}
	}
	flusher.Flush()

	h.log.Info().Str("remote", r.RemoteAddr).
		Str("last_event_id", r.Header.Get("Last-Event-ID")).
		Msg("client connected")
	defer h.log.Info().Str("remote", r.RemoteAddr).Msg("client disconnected")

	for {
		select {
		case f := <-c:
			if err := WriteFrame(w, f); err != nil {
				h.log.Debug().Err(err).Msg("write failed")
				return
			}
			flusher.Flush()
		case <-h.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
