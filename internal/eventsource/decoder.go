package eventsource

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Message is a single dispatched server-sent event.
type Message struct {
	// Type is the event name from the "event:" field; "message" when absent.
	Type string
	// Data is the payload. Multiple data lines are joined with "\n".
	Data string
	// ID is the last event ID in effect when the event was dispatched.
	ID string
}

// maxRetryMS keeps retry hints within time.Duration.
const maxRetryMS = int64(math.MaxInt64 / int64(time.Millisecond))

// Decoder reads events from a text/event-stream body.
//
// Lines may end in "\n", "\r\n" or "\r". A leading UTF-8 byte order mark is
// skipped. A trailing partial event at EOF is discarded.
type Decoder struct {
	r       *bufio.Reader
	skipLF  bool
	started bool

	lastID string
	retry  time.Duration

	data      strings.Builder
	eventType string
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func newDecoderFrom(r io.Reader, lastID string) *Decoder {
	d := NewDecoder(r)
	d.lastID = lastID
	return d
}

// LastEventID returns the most recent value of the "id" field.
func (d *Decoder) LastEventID() string { return d.lastID }

// Retry returns the most recent reconnection hint from a "retry" field, or 0.
// Hints too large for a time.Duration are clamped.
func (d *Decoder) Retry() time.Duration { return d.retry }

// Decode blocks until a complete event is available.
func (d *Decoder) Decode() (Message, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return Message{}, err
		}
		if !d.started {
			d.started = true
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" {
			if msg, ok := d.dispatch(); ok {
				return msg, nil
			}
			continue
		}
		d.processLine(line)
	}
}

func (d *Decoder) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return "", err
		}
		if d.skipLF {
			d.skipLF = false
			if b == '\n' {
				continue
			}
		}
		switch b {
		case '\n':
			return sb.String(), nil
		case '\r':
			d.skipLF = true
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

func (d *Decoder) processLine(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}
	field, value := line, ""
	if i := strings.IndexByte(line, ':'); i >= 0 {
		field, value = line[:i], line[i+1:]
		value = strings.TrimPrefix(value, " ")
	}
	switch field {
	case "event":
		d.eventType = value
	case "data":
		d.data.WriteString(value)
		d.data.WriteByte('\n')
	case "id":
		if !strings.ContainsRune(value, 0) {
			d.lastID = value
		}
	case "retry":
		if value == "" || strings.TrimLeft(value, "0123456789") != "" {
			return
		}
		// value is all digits, so a parse error can only mean overflow
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms > maxRetryMS {
			ms = maxRetryMS
		}
		d.retry = time.Duration(ms) * time.Millisecond
	}
}

func (d *Decoder) dispatch() (Message, bool) {
	data := d.data.String()
	typ := d.eventType
	d.data.Reset()
	d.eventType = ""
	if data == "" {
		return Message{}, false
	}
	if typ == "" {
		typ = "message"
	}
	return Message{
		Type: typ,
		Data: strings.TrimSuffix(data, "\n"),
		ID:   d.lastID,
	}, true
}
