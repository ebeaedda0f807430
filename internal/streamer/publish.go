package streamer

import (
	"errors"
	"net/http"

	"streamsub/pkg/types"
)

// ErrClosed is returned when publishing to a closed registry.
var ErrClosed = closedError{}

type closedError struct{}

func (closedError) Error() string   { return "streamer: registry closed" }
func (closedError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrStreamLimit is returned when publishing would create a stream beyond the
// configured cap.
var ErrStreamLimit = streamLimitError{}

type streamLimitError struct{}

func (streamLimitError) Error() string   { return "streamer: stream limit reached" }
func (streamLimitError) StatusCode() int { return http.StatusForbidden }

// IsClosed reports whether err came from a closed registry.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }

// Publish sends req on the named stream, creating the stream if needed and
// the stream cap allows it.
func (r *Registry) Publish(name string, req types.PublishRequest) (types.PublishResponse, error) {
	h, err := r.open(name)
	if err != nil {
		return types.PublishResponse{}, err
	}
	f := h.PublishEvent(req.Event, req.Data)
	return types.PublishResponse{ID: f.ID, Clients: h.Clients()}, nil
}

// Streams summarizes every hub.
func (r *Registry) Streams() []types.StreamInfo {
	names := r.Names()
	out := make([]types.StreamInfo, 0, len(names))
	for _, n := range names {
		if h, ok := r.Lookup(n); ok {
			out = append(out, types.StreamInfo{Name: n, Clients: h.Clients()})
		}
	}
	return out
}
