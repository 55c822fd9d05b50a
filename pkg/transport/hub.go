package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// DefaultHubURL is where a local hub listens.
const DefaultHubURL = "ws://localhost:64213"

// HubOption configures a HubTransport.
type HubOption func(*HubTransport)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) HubOption {
	return func(t *HubTransport) { t.dialer = d }
}

// HubTransport relays commands as JSON requests through a WebSocket hub.
type HubTransport struct {
	cfg    Config
	dialer *websocket.Dialer

	// mu serializes exchanges.
	mu sync.Mutex

	// connMu guards conn so Close can interrupt a blocked exchange.
	connMu sync.Mutex
	conn   *websocket.Conn

	url     string
	devices []string
	device  string
	xlog    exchangeLogger
}

// NewHub creates a hub transport.
func NewHub(cfg Config, opts ...HubOption) *HubTransport {
	cfg = cfg.withDefaults()
	t := &HubTransport{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		xlog:   exchangeLogger{logger: cfg.ProtocolLogger, connID: cfg.ConnectionID, impl: ImplHub},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open dials the hub and asks for its device list.
func (t *HubTransport) Open(ctx context.Context, address string) ([]string, error) {
	url := address
	if url == "" {
		url = DefaultHubURL
	}

	conn, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrLinkLost, url, err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	t.url = url

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeRequest(ctx, conn, wire.HubRequest{Opcode: wire.HubDeviceList, Space: wire.HubSpaceSNES}); err != nil {
		t.Close()
		return nil, err
	}
	reply, err := t.readReply(ctx, conn)
	if err != nil {
		t.Close()
		return nil, err
	}

	t.devices = reply.Results
	t.cfg.Logger.Debug("hub devices listed", "url", url, "devices", t.devices)
	if len(t.devices) == 0 {
		t.Close()
		return nil, fmt.Errorf("%w: hub %s lists no devices", ErrDeviceNotFound, url)
	}
	return t.devices, nil
}

// Attach binds the hub session to a device, registers the client name and
// queries INFO.
func (t *HubTransport) Attach(ctx context.Context, device string) (wire.Device, error) {
	if !contains(t.devices, device) {
		return wire.Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, device)
	}
	conn := t.current()
	if conn == nil {
		return wire.Device{}, ErrNotOpen
	}

	t.mu.Lock()
	err := t.writeRequest(ctx, conn, wire.HubRequest{Opcode: wire.HubAttach, Space: wire.HubSpaceSNES, Operands: []string{device}})
	if err == nil {
		err = t.writeRequest(ctx, conn, wire.HubRequest{Opcode: wire.HubName, Space: wire.HubSpaceSNES, Operands: []string{t.cfg.ClientName}})
	}
	t.mu.Unlock()
	if err != nil {
		return wire.Device{}, err
	}

	t.device = device
	t.xlog.device = device

	resp, err := t.Send(ctx, &Exchange{Packet: wire.Packet{Opcode: wire.OpInfo}})
	if err != nil {
		return wire.Device{}, err
	}

	t.cfg.Logger.Info("attached through hub", "url", t.url, "device", device, "firmware", resp.Device.FirmwareVersion)
	return *resp.Device, nil
}

// Send relays one command. Replies are JSON for GetFile, List and Info;
// memory and file data travel as binary messages.
func (t *HubTransport) Send(ctx context.Context, x *Exchange) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn := t.current()
	if conn == nil {
		return nil, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.exchange(ctx, conn, x)
	t.xlog.log(x, resp, err, nil, start)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *HubTransport) exchange(ctx context.Context, conn *websocket.Conn, x *Exchange) (*Response, error) {
	if err := checkPayload(x); err != nil {
		return nil, err
	}
	req, err := wire.HubRequestFor(x.Packet)
	if err != nil {
		return nil, err
	}
	if err := t.writeRequest(ctx, conn, req); err != nil {
		return nil, err
	}

	resp := &Response{}
	switch x.Packet.Opcode {
	case wire.OpGet:
		reply, err := t.readReply(ctx, conn)
		if err != nil {
			return nil, err
		}
		if len(reply.Results) == 0 {
			return nil, fmt.Errorf("%w: GetFile reply without size", wire.ErrProtocol)
		}
		size, err := wire.ParseHex(reply.Results[0])
		if err != nil {
			return nil, err
		}
		resp.Size = size
		x.size(size)
		resp.Data, err = t.readBinary(ctx, conn, int(size), x)
		if err != nil {
			return nil, err
		}
	case wire.OpVGet:
		resp.Data, err = t.readBinary(ctx, conn, wire.TotalLength(x.Packet.Ranges), x)
		if err != nil {
			return nil, err
		}
	case wire.OpPut, wire.OpVPut:
		if err := t.writeBinary(ctx, conn, x); err != nil {
			return nil, err
		}
	case wire.OpList:
		reply, err := t.readReply(ctx, conn)
		if err != nil {
			return nil, err
		}
		resp.Entries, err = wire.HubEntries(reply.Results)
		if err != nil {
			return nil, err
		}
	case wire.OpInfo:
		reply, err := t.readReply(ctx, conn)
		if err != nil {
			return nil, err
		}
		d := wire.HubInfoDevice(t.device, reply.Results)
		resp.Device = &d
	}
	return resp, nil
}

func (t *HubTransport) writeRequest(ctx context.Context, conn *websocket.Conn, req wire.HubRequest) error {
	data, err := req.Marshal()
	if err != nil {
		return err
	}
	return t.writeMessage(ctx, conn, websocket.TextMessage, data)
}

func (t *HubTransport) writeMessage(ctx context.Context, conn *websocket.Conn, kind int, data []byte) error {
	if err := conn.SetWriteDeadline(t.deadline(ctx)); err != nil {
		return linkError("set write deadline", err)
	}
	if err := conn.WriteMessage(kind, data); err != nil {
		return linkError("write", err)
	}
	t.capture(data, log.DirectionOut)
	return nil
}

func (t *HubTransport) writeBinary(ctx context.Context, conn *websocket.Conn, x *Exchange) error {
	for off := 0; off < len(x.Payload); off += t.cfg.ChunkSize {
		end := min(off+t.cfg.ChunkSize, len(x.Payload))
		if err := t.writeMessage(ctx, conn, websocket.BinaryMessage, x.Payload[off:end]); err != nil {
			return err
		}
		x.chunk(end - off)
	}
	return nil
}

func (t *HubTransport) readMessage(ctx context.Context, conn *websocket.Conn) (int, []byte, error) {
	if err := conn.SetReadDeadline(t.deadline(ctx)); err != nil {
		return 0, nil, linkError("set read deadline", err)
	}
	kind, data, err := conn.ReadMessage()
	if err != nil {
		return 0, nil, linkError("read", err)
	}
	t.capture(data, log.DirectionIn)
	return kind, data, nil
}

func (t *HubTransport) readReply(ctx context.Context, conn *websocket.Conn) (wire.HubReply, error) {
	kind, data, err := t.readMessage(ctx, conn)
	if err != nil {
		return wire.HubReply{}, err
	}
	if kind != websocket.TextMessage {
		return wire.HubReply{}, fmt.Errorf("%w: expected JSON reply, got binary message", wire.ErrProtocol)
	}
	return wire.DecodeHubReply(data)
}

// readBinary accumulates binary messages until total bytes arrived.
func (t *HubTransport) readBinary(ctx context.Context, conn *websocket.Conn, total int, x *Exchange) ([]byte, error) {
	data := make([]byte, 0, total)
	for len(data) < total {
		kind, msg, err := t.readMessage(ctx, conn)
		if err != nil {
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			return nil, fmt.Errorf("%w: expected binary data, got text message", wire.ErrProtocol)
		}
		if len(data)+len(msg) > total {
			return nil, fmt.Errorf("%w: %d bytes of data, expected %d", wire.ErrProtocol, len(data)+len(msg), total)
		}
		data = append(data, msg...)
		x.chunk(len(msg))
	}
	return data, nil
}

// deadline is the earlier of the context deadline and now+ReadTimeout.
func (t *HubTransport) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(t.cfg.ReadTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (t *HubTransport) capture(data []byte, dir log.Direction) {
	if t.cfg.ProtocolLogger == nil {
		return
	}
	ev := makeFrameEvent(t.cfg.ConnectionID, data, dir)
	ev.Implementation = ImplHub
	ev.DeviceID = t.device
	t.cfg.ProtocolLogger.Log(ev)
}

func (t *HubTransport) current() *websocket.Conn {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn
}

// Close sends a close message and closes the socket.
func (t *HubTransport) Close() error {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.url, err)
	}
	t.cfg.Logger.Debug("hub connection closed", "url", t.url)
	return nil
}

// Compile-time interface satisfaction check.
var _ Transport = (*HubTransport)(nil)
