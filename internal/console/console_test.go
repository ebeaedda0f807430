package console

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamsub/internal/eventsource"
	"streamsub/internal/subscriber"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type hooks struct {
	msg  subscriber.MessageHandler
	open subscriber.OpenHandler
	err  subscriber.ErrorHandler
}

func (h *hooks) OnMessage(f subscriber.MessageHandler) { h.msg = f }
func (h *hooks) OnOpen(f subscriber.OpenHandler)       { h.open = f }
func (h *hooks) OnError(f subscriber.ErrorHandler)     { h.err = f }

func TestSink_Lines(t *testing.T) {
	var buf bytes.Buffer
	h := &hooks{}
	Attach(h, &buf)
	h.open()
	h.msg(eventsource.Message{Data: "42"})
	h.err(subscriber.ErrorEvent{State: eventsource.Connecting})
	h.err(subscriber.ErrorEvent{State: eventsource.Closed})
	want := "OPEN!\n42\nERROR! 0\nERROR! 2\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestSink_Color(t *testing.T) {
	var buf bytes.Buffer
	h := &hooks{}
	Attach(h, &buf, WithColor(true))
	h.open()
	h.msg(eventsource.Message{Data: "plain"})
	out := buf.String()
	if !strings.Contains(out, "\x1b[") || !strings.Contains(out, "OPEN!") {
		t.Fatalf("expected escape codes around OPEN!, got %q", out)
	}
	if !strings.HasSuffix(out, "plain\n") {
		t.Fatalf("messages stay uncolored, got %q", out)
	}
}

// Opens a real stream, receives "42", then the server refuses the
// reconnection with 204 which closes the stream for good.
func TestSink_EndToEnd(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: 42\n\n")
	}))
	defer srv.Close()

	sub := subscriber.New(subscriber.WithDialer(&eventsource.HTTPDialer{
		Backoff: eventsource.Backoff{Initial: time.Millisecond, Jitter: 0},
	}))
	out := &syncBuffer{}
	Attach(sub, out)
	if err := sub.Start(srv.URL + "/stream/x"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("stream did not close, output so far %q", out.String())
	}
	want := "OPEN!\n42\nERROR! 0\nERROR! 2\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}
