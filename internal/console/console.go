// Package console prints a subscriber's activity as plain text lines: the
// payload of each message, "OPEN!" when the stream opens and
// "ERROR! <state>" on failures.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"streamsub/internal/eventsource"
	"streamsub/internal/subscriber"
)

// Hooks is the part of a subscriber the sink needs.
type Hooks interface {
	OnMessage(subscriber.MessageHandler)
	OnOpen(subscriber.OpenHandler)
	OnError(subscriber.ErrorHandler)
}

// Sink writes lines to w.
type Sink struct {
	mu  sync.Mutex
	w   io.Writer
	log zerolog.Logger

	openColor *color.Color
	errColor  *color.Color
}

// Option configures a Sink.
type Option func(*Sink)

// WithColor highlights OPEN! and ERROR! lines.
func WithColor(enabled bool) Option {
	return func(s *Sink) {
		if !enabled {
			return
		}
		s.openColor = color.New(color.FgGreen)
		s.errColor = color.New(color.FgRed, color.Bold)
		s.openColor.EnableColor()
		s.errColor.EnableColor()
	}
}

// WithLogger reports terminal closure and write failures on l.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// Attach registers the sink's handlers on h.
func Attach(h Hooks, w io.Writer, opts ...Option) *Sink {
	s := &Sink{w: w, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	h.OnMessage(s.Message)
	h.OnOpen(s.Open)
	h.OnError(s.Error)
	return s
}

func (s *Sink) Message(m eventsource.Message) { s.println(nil, m.Data) }

func (s *Sink) Open() { s.println(s.openColor, "OPEN!") }

func (s *Sink) Error(e subscriber.ErrorEvent) {
	s.println(s.errColor, fmt.Sprintf("ERROR! %d", int(e.State)))
	if e.Terminal() {
		s.log.Info().Err(e.Err).Msg("stream closed")
	} else {
		s.log.Debug().Err(e.Err).Msg("stream interrupted")
	}
}

func (s *Sink) println(c *color.Color, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if c != nil {
		_, err = c.Fprintln(s.w, line)
	} else {
		_, err = fmt.Fprintln(s.w, line)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("console write failed")
	}
}
