package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"streamsub/internal/eventsource"
	"streamsub/internal/httpapi"
	"streamsub/internal/streamer"
	"streamsub/internal/subscriber"
	"streamsub/pkg/types"
)

// newProducer serves the producer API for the given stream names.
func newProducer(t *testing.T, names ...string) (*httptest.Server, *streamer.Registry) {
	t.Helper()
	reg := streamer.NewRegistry()
	for _, n := range names {
		reg.Hub(n)
	}
	srv := httptest.NewServer(httpapi.NewMux(reg))
	t.Cleanup(srv.Close)
	t.Cleanup(reg.Close)
	return srv, reg
}

// newSubscriber returns a subscriber with a fast reconnection policy.
func newSubscriber(t *testing.T) *subscriber.Subscriber {
	t.Helper()
	d := &eventsource.HTTPDialer{
		Backoff: eventsource.Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Jitter: 0.1},
	}
	s := subscriber.New(subscriber.WithDialer(d))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func postEvent(t *testing.T, base, stream string, req types.PublishRequest) *http.Response {
	t.Helper()
	b, _ := json.Marshal(req)
	hreq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, base+"/stream/"+stream, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(hreq)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	return resp
}

// publish POSTs one event and returns the assigned ID.
func publish(t *testing.T, base, stream string, req types.PublishRequest) string {
	t.Helper()
	resp := postEvent(t, base, stream, req)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("publish status=%d body=%s", resp.StatusCode, body)
	}
	var out types.PublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.ID
}

// publishStatus POSTs one event and returns only the status code.
func publishStatus(t *testing.T, base, stream string, req types.PublishRequest) int {
	t.Helper()
	resp := postEvent(t, base, stream, req)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// journal records handler activity in delivery order.
type journal struct {
	mu    sync.Mutex
	lines []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.lines = append(j.lines, s)
	j.mu.Unlock()
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.lines...)
}

func (j *journal) String() string { return strings.Join(j.snapshot(), "|") }

// waitCount blocks until want is recorded n times.
func (j *journal) waitCount(t *testing.T, want string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		c := 0
		for _, l := range j.snapshot() {
			if l == want {
				c++
			}
		}
		if c >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d x %q, journal %s", n, want, j)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitClients(t *testing.T, reg *streamer.Registry, name string, n int) {
	t.Helper()
	h, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("no stream %q", name)
	}
	deadline := time.Now().Add(3 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients=%d, want %d", h.Clients(), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
