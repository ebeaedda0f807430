package subscriber

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"streamsub/internal/eventsource"
)

// fakeConn is a scripted connection. Tests push events through in; a
// forwarding goroutine delivers them on Events like a real Source would.
type fakeConn struct {
	in    chan eventsource.Event
	out   chan eventsource.Event
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
	state eventsource.ReadyState
}

func newFakeConn() *fakeConn {
	c := &fakeConn{
		in:   make(chan eventsource.Event),
		out:  make(chan eventsource.Event),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		defer close(c.out)
		for {
			select {
			case <-c.quit:
				return
			case ev := <-c.in:
				select {
				case c.out <- ev:
				case <-c.quit:
					return
				}
			}
		}
	}()
	return c
}

func (c *fakeConn) Events() <-chan eventsource.Event   { return c.out }
func (c *fakeConn) ReadyState() eventsource.ReadyState { return c.state }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

// push reports false once the connection has been closed.
func (c *fakeConn) push(ev eventsource.Event) bool {
	select {
	case c.in <- ev:
		return true
	case <-c.quit:
		return false
	case <-time.After(time.Second):
		return false
	}
}

func (c *fakeConn) open() {
	c.push(eventsource.Event{Kind: eventsource.KindOpen, State: eventsource.Open})
}

func (c *fakeConn) message(d string) {
	c.push(eventsource.Event{Kind: eventsource.KindMessage, State: eventsource.Open, Message: eventsource.Message{Type: "message", Data: d}})
}

func (c *fakeConn) fail(st eventsource.ReadyState) {
	c.push(eventsource.Event{Kind: eventsource.KindError, State: st, Err: fmt.Errorf("boom")})
}

type fakeDialer struct {
	mu        sync.Mutex
	conn      *fakeConn
	endpoints []string
}

func (d *fakeDialer) Dial(endpoint string) eventsource.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, endpoint)
	d.conn = newFakeConn()
	return d.conn
}

// recorder collects handler invocations as strings.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l := r.lines(); len(l) >= n {
			return l
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d entries, have %v", n, r.lines())
	return nil
}

func (r *recorder) attach(s *Subscriber) {
	s.OnOpen(func() { r.add("open") })
	s.OnMessage(func(m eventsource.Message) { r.add("msg:" + m.Data) })
	s.OnError(func(e ErrorEvent) { r.add(fmt.Sprintf("err:%d", e.State)) })
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
