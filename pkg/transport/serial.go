package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/cartlink/cartlink-go/pkg/wire"
)

// USB identifiers of the flash cartridge's serial interface.
const (
	CartridgeVID = "1209"
	CartridgePID = "5A22"
)

// SerialMode is the line setting the cartridge expects: 9600 8N1, no flow control.
var SerialMode = serial.Mode{
	BaudRate: 9600,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// Port is the subset of serial.Port the transport uses.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	Close() error
}

// PortOpener opens a named serial port.
type PortOpener func(name string, mode *serial.Mode) (Port, error)

// PortLister enumerates serial ports.
type PortLister func() ([]*enumerator.PortDetails, error)

func openSerialPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// SerialOption configures a SerialTransport.
type SerialOption func(*SerialTransport)

// WithPortOpener replaces the function used to open ports.
func WithPortOpener(open PortOpener) SerialOption {
	return func(t *SerialTransport) { t.open = open }
}

// WithPortLister replaces the function used to enumerate ports.
func WithPortLister(list PortLister) SerialOption {
	return func(t *SerialTransport) { t.list = list }
}

// SerialTransport speaks the 512-byte frame protocol over a USB serial port.
type SerialTransport struct {
	cfg  Config
	open PortOpener
	list PortLister

	// mu serializes exchanges.
	mu sync.Mutex

	// portMu guards port so Close can interrupt a blocked exchange.
	portMu sync.Mutex
	port   Port
	framer *Framer

	devices []string
	device  string
	xlog    exchangeLogger
}

// NewSerial creates a serial transport.
func NewSerial(cfg Config, opts ...SerialOption) *SerialTransport {
	cfg = cfg.withDefaults()
	t := &SerialTransport{
		cfg:  cfg,
		open: openSerialPort,
		list: enumerator.GetDetailedPortsList,
		xlog: exchangeLogger{logger: cfg.ProtocolLogger, connID: cfg.ConnectionID, impl: ImplSerial},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open enumerates serial ports. A non-empty address names the one port to use.
// Without an address, ports with the cartridge's USB ids are returned; if none
// match, every port is returned.
func (t *SerialTransport) Open(ctx context.Context, address string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if address != "" {
		t.devices = []string{address}
		return t.devices, nil
	}

	ports, err := t.list()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate ports: %w", ErrLinkLost, err)
	}

	var matched, all []string
	for _, p := range ports {
		all = append(all, p.Name)
		if p.IsUSB && strings.EqualFold(p.VID, CartridgeVID) && strings.EqualFold(p.PID, CartridgePID) {
			matched = append(matched, p.Name)
		}
	}
	if len(matched) > 0 {
		t.devices = matched
	} else {
		t.devices = all
	}
	if len(t.devices) == 0 {
		return nil, fmt.Errorf("%w: no serial ports", ErrDeviceNotFound)
	}

	t.cfg.Logger.Debug("serial ports enumerated", "ports", t.devices, "cartridges", len(matched))
	return t.devices, nil
}

// Attach opens the port, asserts DTR and queries INFO.
func (t *SerialTransport) Attach(ctx context.Context, device string) (wire.Device, error) {
	if !contains(t.devices, device) {
		return wire.Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, device)
	}

	mode := SerialMode
	port, err := t.open(device, &mode)
	if err != nil {
		return wire.Device{}, fmt.Errorf("%w: open %s: %w", ErrLinkLost, device, err)
	}
	if err := port.SetDTR(true); err != nil {
		port.Close()
		return wire.Device{}, fmt.Errorf("%w: set DTR: %w", ErrLinkLost, err)
	}
	if err := port.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		port.Close()
		return wire.Device{}, fmt.Errorf("%w: set read timeout: %w", ErrLinkLost, err)
	}

	framer := NewFramer(port)
	if t.cfg.ProtocolLogger != nil {
		framer.SetLogger(t.cfg.ProtocolLogger, t.cfg.ConnectionID)
	}

	t.portMu.Lock()
	t.port = port
	t.framer = framer
	t.portMu.Unlock()
	t.device = device
	t.xlog.device = device

	resp, err := t.Send(ctx, &Exchange{Packet: wire.Packet{Opcode: wire.OpInfo}})
	if err != nil {
		t.Close()
		return wire.Device{}, err
	}

	t.cfg.Logger.Info("attached to cartridge", "port", device, "firmware", resp.Device.FirmwareVersion)
	return *resp.Device, nil
}

// Send writes the command frame, reads the reply frame unless NORESP is set,
// then runs the data phase in fixed-size blocks.
func (t *SerialTransport) Send(ctx context.Context, x *Exchange) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.portMu.Lock()
	framer := t.framer
	t.portMu.Unlock()
	if framer == nil {
		return nil, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, status, err := t.exchange(ctx, framer, x)
	t.xlog.log(x, resp, err, status, start)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *SerialTransport) exchange(ctx context.Context, f *Framer, x *Exchange) (*Response, *uint8, error) {
	if err := checkPayload(x); err != nil {
		return nil, nil, err
	}
	p := x.Packet
	if !p.Opcode.HasRanges() {
		return t.exchangeFrame(ctx, f, x)
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	// A tuple addresses at most 255 bytes, so longer ranges span several
	// command frames sent back to back.
	resp := &Response{}
	var status *uint8
	off := 0
	for _, ranges := range wire.SplitFrames(p.Ranges) {
		sub := *x
		sub.Packet.Ranges = ranges
		n := wire.TotalLength(ranges)
		if p.Opcode == wire.OpVPut {
			sub.Payload = x.Payload[off : off+n]
		}
		r, st, err := t.exchangeFrame(ctx, f, &sub)
		if st != nil {
			status = st
		}
		if err != nil {
			return nil, status, err
		}
		resp.Data = append(resp.Data, r.Data...)
		off += n
	}
	return resp, status, nil
}

func (t *SerialTransport) exchangeFrame(ctx context.Context, f *Framer, x *Exchange) (*Response, *uint8, error) {
	p := x.Packet
	frame, err := wire.Encode(p)
	if err != nil {
		return nil, nil, err
	}
	if err := f.WriteFrame(frame); err != nil {
		return nil, nil, linkError("write command", err)
	}

	resp := &Response{}
	var status *uint8
	if p.Flags&wire.FlagNoResponse == 0 {
		buf, err := f.ReadFrame()
		if err != nil {
			return nil, nil, linkError("read reply", err)
		}
		reply, err := wire.DecodeReply(buf)
		if err != nil {
			return nil, nil, err
		}
		status = &reply.Status
		if err := reply.Err(); err != nil {
			return nil, status, fmt.Errorf("%s %s: %w", p.Opcode, p.Path, err)
		}
		resp.Size = reply.Size
		if p.Opcode == wire.OpInfo {
			d := reply.Device(t.device)
			resp.Device = &d
		}
	}

	blockSize := BlockSize
	if p.Flags&wire.FlagData64B != 0 {
		blockSize = SmallBlockSize
	}

	switch p.Opcode {
	case wire.OpGet:
		x.size(resp.Size)
		resp.Data, err = readBlocks(ctx, f, int(resp.Size), BlockSize, x)
	case wire.OpVGet:
		resp.Data, err = readBlocks(ctx, f, wire.TotalLength(p.Ranges), blockSize, x)
	case wire.OpPut:
		err = writeBlocks(ctx, f, x.Payload, BlockSize, x)
	case wire.OpVPut:
		err = writeBlocks(ctx, f, x.Payload, blockSize, x)
	case wire.OpList:
		resp.Entries, err = readListing(ctx, f)
	}
	if err != nil {
		return nil, status, err
	}
	return resp, status, nil
}

func readBlocks(ctx context.Context, f *Framer, total, size int, x *Exchange) ([]byte, error) {
	data := make([]byte, 0, BlockCount(total, size)*size)
	for len(data) < total {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: aborted mid-transfer: %w", ErrLinkLost, err)
		}
		block, err := f.ReadBlock(size)
		if err != nil {
			return nil, linkError("read data", err)
		}
		n := min(size, total-len(data))
		data = append(data, block[:n]...)
		x.chunk(n)
	}
	return data, nil
}

func writeBlocks(ctx context.Context, f *Framer, payload []byte, size int, x *Exchange) error {
	for off := 0; off < len(payload); off += size {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: aborted mid-transfer: %w", ErrLinkLost, err)
		}
		end := min(off+size, len(payload))
		if err := f.WriteBlock(payload[off:end], size); err != nil {
			return linkError("write data", err)
		}
		x.chunk(end - off)
	}
	return nil
}

func readListing(ctx context.Context, f *Framer) ([]wire.Entry, error) {
	var dec wire.ListingDecoder
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: aborted mid-listing: %w", ErrLinkLost, err)
		}
		block, err := f.ReadFrame()
		if err != nil {
			return nil, linkError("read listing", err)
		}
		done, err := dec.Feed(block)
		if err != nil {
			return nil, err
		}
		if done {
			return dec.Entries(), nil
		}
	}
}

// Close drops DTR and closes the port. It interrupts a blocked exchange.
func (t *SerialTransport) Close() error {
	t.portMu.Lock()
	port := t.port
	t.port = nil
	t.framer = nil
	t.portMu.Unlock()

	if port == nil {
		return nil
	}
	// Ignore DTR errors, the port is going away anyway.
	_ = port.SetDTR(false)
	if err := port.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.device, err)
	}
	t.cfg.Logger.Debug("serial port closed", "port", t.device)
	return nil
}

// checkPayload verifies the outbound data matches the command's operands.
func checkPayload(x *Exchange) error {
	p := x.Packet
	switch p.Opcode {
	case wire.OpPut:
		if uint32(len(x.Payload)) != p.Size {
			return fmt.Errorf("%w: PUT size %d, payload %d bytes", wire.ErrInvalidPacket, p.Size, len(x.Payload))
		}
	case wire.OpVPut:
		if len(x.Payload) != wire.TotalLength(p.Ranges) {
			return fmt.Errorf("%w: VPUT ranges cover %d bytes, payload %d", wire.ErrInvalidPacket, wire.TotalLength(p.Ranges), len(x.Payload))
		}
	default:
		if len(x.Payload) != 0 {
			return fmt.Errorf("%w: %s takes no payload", wire.ErrInvalidPacket, p.Opcode)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Compile-time interface satisfaction check.
var _ Transport = (*SerialTransport)(nil)
