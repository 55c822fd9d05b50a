package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Implementation is the transport identifier ("serial", "hub").
	Implementation string `cbor:"6,keyasint,omitempty"`

	// Address is the port name or hub URL.
	Address string `cbor:"7,keyasint,omitempty"`

	// DeviceID is the attached device (populated after attach).
	DeviceID string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Exchange    *ExchangeEvent    `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection state
	Liveness    *LivenessEvent    `cbor:"13,keyasint,omitempty"` // Health beats
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates data read from the device.
	DirectionIn Direction = 0
	// DirectionOut indicates data written to the device.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the decoded command layer.
	LayerWire Layer = 1
	// LayerGateway is the high-level API layer.
	LayerGateway Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerGateway:
		return "GATEWAY"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a frame or a command exchange.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
	// CategoryLiveness indicates a health beat.
	CategoryLiveness Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryLiveness:
		return "LIVENESS"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// ExchangeEvent captures one decoded command round trip.
type ExchangeEvent struct {
	// Opcode is the command name ("VGET", "PutFile", ...).
	Opcode string `cbor:"1,keyasint"`

	// Flags are the command flags, "|" separated.
	Flags string `cbor:"2,keyasint,omitempty"`

	// Path is the primary path operand.
	Path string `cbor:"3,keyasint,omitempty"`

	// Ranges are the address tuples formatted as "ADDR+LEN".
	Ranges []string `cbor:"4,keyasint,omitempty"`

	// BytesOut is the size of the outbound data phase.
	BytesOut int `cbor:"5,keyasint,omitempty"`

	// BytesIn is the size of the inbound data phase.
	BytesIn int `cbor:"6,keyasint,omitempty"`

	// Status is the device status byte of the reply.
	Status *uint8 `cbor:"7,keyasint,omitempty"`

	// Duration of the round trip, stored as nanoseconds.
	Duration time.Duration `cbor:"8,keyasint,omitempty"`
}

// StateChangeEvent captures connection lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityBatch indicates a batch upload transition (reconnect, abort).
	StateEntityBatch StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// LivenessEvent records a health beat.
type LivenessEvent struct {
	// Kind is "exchange" or "progress".
	Kind string `cbor:"1,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the device status code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
