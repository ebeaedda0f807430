package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"streamsub/internal/eventsource"
	"streamsub/internal/subscriber"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamsub",
			Subsystem: "subscriber",
			Name:      "events_total",
			Help:      "Total number of events delivered to handlers, by kind",
		},
		[]string{"kind"},
	)

	messageBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamsub",
			Subsystem: "subscriber",
			Name:      "message_bytes_total",
			Help:      "Total payload bytes received",
		},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamsub",
			Subsystem: "subscriber",
			Name:      "errors_total",
			Help:      "Total stream failures, split by whether they closed the stream",
		},
		[]string{"terminal"},
	)

	readyState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamsub",
			Subsystem: "subscriber",
			Name:      "ready_state",
			Help:      "Current connection state (0 connecting, 1 open, 2 closed)",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, messageBytes, errorsTotal, readyState)
}

// Hooks is the part of a subscriber the instrumentation needs.
type Hooks interface {
	OnMessage(subscriber.MessageHandler)
	OnOpen(subscriber.OpenHandler)
	OnError(subscriber.ErrorHandler)
}

// Instrument registers handlers on h that keep the collectors current.
func Instrument(h Hooks) {
	readyState.Set(float64(eventsource.Connecting))
	h.OnOpen(func() {
		eventsTotal.WithLabelValues(eventsource.KindOpen.String()).Inc()
		readyState.Set(float64(eventsource.Open))
	})
	h.OnMessage(func(m eventsource.Message) {
		eventsTotal.WithLabelValues(eventsource.KindMessage.String()).Inc()
		messageBytes.Add(float64(len(m.Data)))
	})
	h.OnError(func(e subscriber.ErrorEvent) {
		eventsTotal.WithLabelValues(eventsource.KindError.String()).Inc()
		errorsTotal.WithLabelValues(strconv.FormatBool(e.Terminal())).Inc()
		readyState.Set(float64(e.State))
	})
}
