// Package subscriber routes a server-sent event stream to registered handlers.
//
// A Subscriber owns at most one connection. Handlers are observers: the
// transport beneath owns reconnection, and the subscriber only reports what
// happened. Handlers run one at a time on a single dispatch goroutine, in
// registration order, so the handlers of one event finish before the next
// event is delivered.
package subscriber

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"streamsub/internal/eventsource"
)

// Unset is the state of a subscriber that has not been started.
const Unset eventsource.ReadyState = -1

var (
	ErrAlreadyStarted = errors.New("subscriber: already started")
	ErrClosed         = errors.New("subscriber: closed")
)

// ErrorEvent is passed to error handlers.
type ErrorEvent struct {
	// State is the connection state after the failure. Closed is terminal;
	// Connecting means the transport is retrying on its own.
	State eventsource.ReadyState
	Err   error
}

// Terminal reports whether no further events will follow.
func (e ErrorEvent) Terminal() bool { return e.State == eventsource.Closed }

type (
	MessageHandler func(eventsource.Message)
	OpenHandler    func()
	ErrorHandler   func(ErrorEvent)
)

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithDialer replaces the HTTP transport.
func WithDialer(d eventsource.Dialer) Option {
	return func(s *Subscriber) { s.dialer = d }
}

// WithLogger sets the logger used for recovered handler panics and lifecycle
// debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Subscriber) { s.log = l }
}

// Subscriber is a one-way event stream client.
type Subscriber struct {
	dialer eventsource.Dialer
	log    zerolog.Logger

	mu       sync.Mutex
	endpoint string
	conn     eventsource.Conn
	state    eventsource.ReadyState
	closed   bool
	done     chan struct{}

	onMessage map[string][]MessageHandler
	onOpen    []OpenHandler
	onError   []ErrorHandler
}

// New returns an unstarted Subscriber.
func New(opts ...Option) *Subscriber {
	s := &Subscriber{
		log:       zerolog.Nop(),
		state:     Unset,
		done:      make(chan struct{}),
		onMessage: make(map[string][]MessageHandler),
	}
	for _, o := range opts {
		o(s)
	}
	if s.dialer == nil {
		s.dialer = &eventsource.HTTPDialer{Logger: s.log}
	}
	return s
}

// Start opens the connection and returns without waiting for it. Connection
// failures, including an unusable endpoint, are reported to error handlers.
// The returned error only signals misuse of the subscriber's lifecycle.
func (s *Subscriber) Start(endpoint string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.endpoint = endpoint
	s.state = eventsource.Connecting
	conn := s.dialer.Dial(endpoint)
	s.conn = conn
	s.mu.Unlock()

	s.log.Debug().Str("endpoint", endpoint).Msg("subscriber started")
	go s.dispatch(conn)
	return nil
}

// OnMessage registers a handler for unnamed events.
func (s *Subscriber) OnMessage(h MessageHandler) { s.On("message", h) }

// On registers a handler for events whose "event:" field equals eventType.
func (s *Subscriber) On(eventType string, h MessageHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.onMessage[eventType] = append(s.onMessage[eventType], h)
	s.mu.Unlock()
}

// OnOpen registers a handler called on every transition into Open.
func (s *Subscriber) OnOpen(h OpenHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.onOpen = append(s.onOpen, h)
	s.mu.Unlock()
}

// OnError registers a handler called once per failure.
func (s *Subscriber) OnError(h ErrorHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.onError = append(s.onError, h)
	s.mu.Unlock()
}

// State returns the state as last observed by the dispatch loop.
func (s *Subscriber) State() eventsource.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the stream is currently open.
func (s *Subscriber) Ready() bool { return s.State() == eventsource.Open }

// Endpoint returns the address passed to Start.
func (s *Subscriber) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Done is closed once the subscriber has stopped delivering events.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close releases the connection. No handler is called afterwards, including
// error handlers. It is safe to call from inside a handler and more than once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = eventsource.Closed
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		close(s.done)
		return nil
	}
	return conn.Close()
}

func (s *Subscriber) dispatch(conn eventsource.Conn) {
	defer close(s.done)
	for ev := range conn.Events() {
		if !s.observe(ev) {
			return
		}
		switch ev.Kind {
		case eventsource.KindOpen:
			for _, h := range s.openHandlers() {
				s.safely(func() { h() })
			}
		case eventsource.KindMessage:
			for _, h := range s.messageHandlers(ev.Message.Type) {
				s.safely(func() { h(ev.Message) })
			}
		case eventsource.KindError:
			e := ErrorEvent{State: ev.State, Err: ev.Err}
			for _, h := range s.errorHandlers() {
				s.safely(func() { h(e) })
			}
			if e.Terminal() {
				s.finish(conn)
				return
			}
		}
	}
}

// observe records the state carried by ev. It returns false once the
// subscriber has been closed.
func (s *Subscriber) observe(ev eventsource.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.state = ev.State
	return true
}

// finish releases the connection after a terminal error.
func (s *Subscriber) finish(conn eventsource.Conn) {
	s.mu.Lock()
	s.closed = true
	s.state = eventsource.Closed
	s.mu.Unlock()
	if err := conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close after terminal error")
	}
	s.log.Debug().Str("endpoint", s.Endpoint()).Msg("subscriber closed")
}

// safely runs f unless the subscriber has been closed, possibly by an earlier
// handler for the same event.
func (s *Subscriber) safely(f func()) {
	if s.isClosed() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("event handler panicked")
		}
	}()
	f()
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscriber) openHandlers() []OpenHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OpenHandler(nil), s.onOpen...)
}

func (s *Subscriber) errorHandlers() []ErrorHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorHandler(nil), s.onError...)
}

func (s *Subscriber) messageHandlers(eventType string) []MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MessageHandler(nil), s.onMessage[eventType]...)
}
