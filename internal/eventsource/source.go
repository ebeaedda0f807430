// Package eventsource is a server-sent events client transport.
//
// A Source owns one logical connection to an endpoint. It follows the browser
// EventSource model: a connection starts in Connecting, moves to Open once the
// server answers 200 with a text/event-stream body, and falls back to
// Connecting on network errors or EOF, retrying with exponential backoff. A
// response the client must not retry (204, another status, a non-SSE body) or
// an exhausted retry budget moves the connection to Closed for good.
//
// Lifecycle changes and messages are delivered in order on Events(). Sends
// are unbuffered, so a slow consumer holds back the stream.
package eventsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ReadyState is the connection state. Values match the browser readyState codes.
type ReadyState int

const (
	Connecting ReadyState = 0
	Open       ReadyState = 1
	Closed     ReadyState = 2
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(s))
	}
}

// Kind discriminates transport events.
type Kind int

const (
	KindOpen Kind = iota
	KindMessage
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindMessage:
		return "message"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item on a connection's event channel.
type Event struct {
	Kind    Kind
	Message Message    // set for KindMessage
	State   ReadyState // state after the event
	Err     error      // set for KindError
}

// Conn is a live subscription.
type Conn interface {
	// Events is closed once the connection has reached Closed.
	Events() <-chan Event
	ReadyState() ReadyState
	// Close stops the connection without emitting an error event.
	Close() error
}

// Dialer opens connections. Dial must not block on the network.
type Dialer interface {
	Dial(endpoint string) Conn
}

// HTTPDialer dials over HTTP(S).
type HTTPDialer struct {
	// Client defaults to a client without timeout.
	Client *http.Client
	// Header is sent with every request.
	Header  http.Header
	Backoff Backoff
	// MaxRetries bounds consecutive failed reconnections; 0 means unlimited.
	MaxRetries int
	Logger     zerolog.Logger
}

// Dial starts a Source for endpoint and returns it in the Connecting state.
func (d *HTTPDialer) Dial(endpoint string) Conn {
	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		endpoint:   endpoint,
		client:     client,
		header:     d.Header.Clone(),
		policy:     d.Backoff,
		maxRetries: d.MaxRetries,
		log:        d.Logger.With().Str("endpoint", endpoint).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan Event),
		done:       make(chan struct{}),
		state:      Connecting,
	}
	go s.run()
	return s
}

// Source is the HTTP implementation of Conn.
type Source struct {
	endpoint   string
	client     *http.Client
	header     http.Header
	policy     Backoff
	maxRetries int
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	state  ReadyState
	closed bool

	lastID string
}

func (s *Source) Events() <-chan Event { return s.events }

func (s *Source) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastEventID returns the ID sent as Last-Event-ID on the next reconnection.
func (s *Source) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.state = Closed
	s.mu.Unlock()
	s.cancel()
	<-s.done
	return nil
}

// setState is a no-op after Close.
func (s *Source) setState(st ReadyState) {
	s.mu.Lock()
	if !s.closed {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Source) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Source) run() {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	if err := validateEndpoint(s.endpoint); err != nil {
		s.failWith(err)
		return
	}

	bo := s.policy.newExponential()
	retries := 0
	for {
		opened, err := s.connect(func(retry time.Duration) {
			bo.InitialInterval = retry
			bo.Reset()
		})
		if s.ctx.Err() != nil {
			return
		}
		if IsFatal(err) {
			s.failWith(err)
			return
		}
		if opened {
			retries = 0
			bo.Reset()
		}
		retries++
		if s.maxRetries > 0 && retries > s.maxRetries {
			s.failWith(fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, s.maxRetries, err))
			return
		}

		s.setState(Connecting)
		if !s.emit(Event{Kind: KindError, State: Connecting, Err: err}) {
			return
		}
		wait := bo.NextBackOff()
		s.log.Debug().Err(err).Dur("wait", wait).Int("attempt", retries).Msg("reconnecting")
		t := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Source) failWith(err error) {
	s.log.Debug().Err(err).Msg("connection failed")
	s.setState(Closed)
	s.emit(Event{Kind: KindError, State: Closed, Err: err})
}

// connect performs one request and reads the stream until it ends. opened
// reports whether the connection reached Open. The returned error is
// wrapped with fail when the connection must not be retried.
func (s *Source) connect(onRetry func(time.Duration)) (opened bool, err error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return false, fail(err)
	}
	for k, vs := range s.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	lastID := s.LastEventID()
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, fail(ErrNoContent)
	case resp.StatusCode != http.StatusOK:
		return false, fail(&StatusError{Code: resp.StatusCode})
	}
	ct := resp.Header.Get("Content-Type")
	if mt, _, perr := mime.ParseMediaType(ct); perr != nil || mt != "text/event-stream" {
		return false, fail(&ContentTypeError{ContentType: ct})
	}

	s.setState(Open)
	s.log.Debug().Msg("open")
	if !s.emit(Event{Kind: KindOpen, State: Open}) {
		return true, s.ctx.Err()
	}

	dec := newDecoderFrom(resp.Body, lastID)
	retry := time.Duration(0)
	for {
		msg, derr := dec.Decode()
		s.mu.Lock()
		s.lastID = dec.LastEventID()
		s.mu.Unlock()
		// retry: 0 is ignored; the backoff policy needs a positive interval.
		if r := dec.Retry(); r > 0 && r != retry {
			retry = r
			onRetry(r)
		}
		if derr != nil {
			if errors.Is(derr, io.EOF) {
				return true, ErrStreamEnded
			}
			return true, derr
		}
		if !s.emit(Event{Kind: KindMessage, State: Open, Message: msg}) {
			return true, s.ctx.Err()
		}
	}
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fail(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fail(fmt.Errorf("eventsource: unsupported scheme %q in %q", u.Scheme, endpoint))
	}
	if u.Host == "" {
		return fail(fmt.Errorf("eventsource: missing host in %q", endpoint))
	}
	return nil
}
