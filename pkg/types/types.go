package types

// StreamInfo describes one named stream served by the producer.
type StreamInfo struct {
	// Stream name as used in /stream/{name}.
	// example: accelerometer
	Name string `json:"name" example:"accelerometer"`
	// Number of clients currently connected.
	// example: 1
	Clients int `json:"clients" example:"1"`
}

// StreamsResponse wraps the list returned by GET /streams.
type StreamsResponse struct {
	Streams []StreamInfo `json:"streams"`
}

// PublishRequest is the body of POST /stream/{name}.
type PublishRequest struct {
	// Optional event name. Empty sends an unnamed "message" event.
	// example: reading
	Event string `json:"event,omitempty" example:"reading"`
	// Payload, sent as-is. Multi-line payloads become several data fields.
	// example: x:12 y:-3 z:998
	Data string `json:"data" example:"x:12 y:-3 z:998"`
}

// PublishResponse acknowledges a published event.
type PublishResponse struct {
	// Event ID assigned by the producer.
	// example: 9b2f6c1e-2f1d-4c3e-9a55-0d7f5c1a2b3c
	ID string `json:"id" example:"9b2f6c1e-2f1d-4c3e-9a55-0d7f5c1a2b3c"`
	// Number of clients the event was offered to.
	// example: 1
	Clients int `json:"clients" example:"1"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
