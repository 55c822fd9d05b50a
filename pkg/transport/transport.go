package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// Transport errors.
var (
	// ErrLinkLost indicates the link to the device failed mid-exchange.
	// The connection must be considered dead.
	ErrLinkLost = errors.New("link lost")

	// ErrConnectionClosed indicates use of a transport after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotOpen indicates Attach or Send before a successful Open/Attach.
	ErrNotOpen = errors.New("transport not open")

	// ErrDeviceNotFound indicates Attach to a device that was not enumerated.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUnknownImplementation indicates an unregistered implementation id.
	ErrUnknownImplementation = errors.New("unknown transport implementation")
)

// Default timing and sizing.
const (
	// DefaultReadTimeout bounds every read from the device.
	DefaultReadTimeout = 5 * time.Second

	// DefaultChunkSize is the hub upload chunk size.
	DefaultChunkSize = 1024
)

// Transport is the capability set every link implementation provides.
// Exchanges are strictly request-then-reply: Send never overlaps another
// Send on the same transport.
type Transport interface {
	// Open opens the link and enumerates device identifiers.
	// An empty address selects the implementation's default.
	Open(ctx context.Context, address string) ([]string, error)

	// Attach binds to one enumerated device and fetches its INFO.
	Attach(ctx context.Context, device string) (wire.Device, error)

	// Send performs one command round trip.
	Send(ctx context.Context, x *Exchange) (*Response, error)

	// Close releases the link. Safe to call more than once.
	Close() error
}

// Exchange is one command and its outbound data phase.
type Exchange struct {
	Packet wire.Packet

	// Payload is the outbound data for PUT and VPUT.
	Payload []byte

	// OnSize is called once with the file size announced by a GET reply,
	// before any data is read.
	OnSize func(total uint32)

	// OnChunk is called with the byte count of every data block moved.
	OnChunk func(n int)
}

func (x *Exchange) chunk(n int) {
	if x.OnChunk != nil && n > 0 {
		x.OnChunk(n)
	}
}

func (x *Exchange) size(total uint32) {
	if x.OnSize != nil {
		x.OnSize(total)
	}
}

// Response is the decoded result of an exchange.
type Response struct {
	// Data is the inbound data phase of GET and VGET, trimmed to size.
	Data []byte

	// Entries is the decoded LS listing.
	Entries []wire.Entry

	// Size is the file size announced by a GET reply.
	Size uint32

	// Device is set for INFO.
	Device *wire.Device
}

// Config configures a transport. Zero values take defaults.
type Config struct {
	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives frame and exchange capture events.
	ProtocolLogger log.Logger

	// ConnectionID tags capture events.
	ConnectionID string

	// ReadTimeout bounds each read (default 5s).
	ReadTimeout time.Duration

	// ChunkSize is the hub upload chunk size (default 1024).
	ChunkSize int

	// ClientName is announced to a hub on attach (default "cartlink").
	ClientName string
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ClientName == "" {
		c.ClientName = "cartlink"
	}
	return c
}

// IsLinkError reports whether err means the link is gone. Protocol and
// device-status errors are local to one exchange and are not link errors.
func IsLinkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLinkLost) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, wire.ErrProtocol) || errors.Is(err, wire.ErrDeviceStatus) ||
		errors.Is(err, wire.ErrInvalidPacket) || errors.Is(err, wire.ErrInvalidRange) ||
		errors.Is(err, wire.ErrBatchTooLarge) || errors.Is(err, wire.ErrUnsupported) {
		return false
	}
	return true
}

// linkError wraps err with ErrLinkLost unless it is exchange-local.
func linkError(op string, err error) error {
	if !IsLinkError(err) || errors.Is(err, ErrLinkLost) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrLinkLost, op, err)
}

// exchangeLogger records decoded exchanges.
type exchangeLogger struct {
	logger log.Logger
	connID string
	impl   string
	device string
}

func (l exchangeLogger) log(x *Exchange, resp *Response, err error, status *uint8, start time.Time) {
	if l.logger == nil {
		return
	}

	ev := &log.ExchangeEvent{
		Opcode:   x.Packet.Opcode.String(),
		Path:     x.Packet.Path,
		BytesOut: len(x.Payload),
		Status:   status,
		Duration: time.Since(start),
	}
	if x.Packet.Flags != wire.FlagNone {
		ev.Flags = x.Packet.Flags.String()
	}
	for _, r := range x.Packet.Ranges {
		ev.Ranges = append(ev.Ranges, r.String())
	}
	if resp != nil {
		ev.BytesIn = len(resp.Data)
	}

	l.logger.Log(log.Event{
		Timestamp:      time.Now(),
		ConnectionID:   l.connID,
		Direction:      log.DirectionOut,
		Layer:          log.LayerWire,
		Category:       log.CategoryMessage,
		Implementation: l.impl,
		DeviceID:       l.device,
		Exchange:       ev,
	})

	if err != nil {
		data := &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: fmt.Sprintf("%s %s", x.Packet.Opcode, x.Packet.Path),
		}
		var se *wire.StatusError
		if errors.As(err, &se) {
			code := int(se.Code)
			data.Code = &code
		}
		l.logger.Log(log.Event{
			Timestamp:      time.Now(),
			ConnectionID:   l.connID,
			Layer:          log.LayerWire,
			Category:       log.CategoryError,
			Implementation: l.impl,
			DeviceID:       l.device,
			Error:          data,
		})
	}
}
