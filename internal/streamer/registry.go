package streamer

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultGreeting is sent to every client right after it connects.
const DefaultGreeting = "it works!"

type options struct {
	greeting   string
	retry      time.Duration
	buffer     int
	maxStreams int
	log        zerolog.Logger
}

// Option configures hubs created by a Registry.
type Option func(*options)

// WithGreeting sets the first frame sent to each client; empty disables it.
func WithGreeting(s string) Option { return func(o *options) { o.greeting = s } }

// WithRetry sets the reconnection hint sent to clients.
func WithRetry(d time.Duration) Option { return func(o *options) { o.retry = d } }

// WithBuffer sets the per-client frame buffer.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithMaxStreams caps the streams Publish may create; 0 means no cap.
// Hubs created through Hub do not count against it.
func WithMaxStreams(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxStreams = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

// Registry owns the named hubs of a producer.
type Registry struct {
	opts options

	mu      sync.Mutex
	hubs    map[string]*Hub
	created int // hubs created by Publish
	closed  bool
}

func NewRegistry(opts ...Option) *Registry {
	o := options{greeting: DefaultGreeting, buffer: 256, log: zerolog.Nop()}
	for _, f := range opts {
		f(&o)
	}
	return &Registry{opts: o, hubs: make(map[string]*Hub)}
}

// Hub returns the hub for name, creating it on first use. Hubs created
// after Close are already closed.
func (r *Registry) Hub(name string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hubs[name]; ok {
		return h
	}
	h := newHub(name, r.opts)
	if r.closed {
		h.Close()
	}
	r.hubs[name] = h
	return h
}

// open returns the hub for name, creating it only while under the cap.
func (r *Registry) open(name string) (*Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if h, ok := r.hubs[name]; ok {
		return h, nil
	}
	if r.opts.maxStreams > 0 && r.created >= r.opts.maxStreams {
		return nil, ErrStreamLimit
	}
	h := newHub(name, r.opts)
	r.hubs[name] = h
	r.created++
	return h, nil
}

// Lookup returns an existing hub.
func (r *Registry) Lookup(name string) (*Hub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[name]
	return h, ok
}

// Stream returns the handler serving name.
func (r *Registry) Stream(name string) (http.Handler, bool) {
	h, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	return h, true
}

// Names lists hub names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.hubs))
	for n := range r.hubs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Ready reports whether the registry still accepts clients.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Close ends all streams.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, h := range r.hubs {
		h.Close()
	}
}
