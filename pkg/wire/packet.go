package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout constants.
const (
	// PacketSize is the size of every serial frame.
	PacketSize = 512

	// Separator is the fixed value of byte 5.
	Separator = 0x20

	// OperandOffset is where the operand region starts.
	OperandOffset = 7

	// PathOffset is where the primary path operand starts.
	PathOffset = 8

	// RangeOffset is where address tuples start. Each tuple is a u8 length
	// followed by a big-endian u32 address.
	RangeOffset = 32

	// RangeTupleSize is the encoded size of one address tuple.
	RangeTupleSize = 5

	// MaxTupleLength is the most bytes one tuple can address.
	MaxTupleLength = 0xFF

	// SizeOffset is where the big-endian size operand lives.
	SizeOffset = 252

	// TargetOffset is where the MV destination path starts.
	TargetOffset = 256

	// MaxPathLen is the longest path that fits before the size operand,
	// leaving room for the terminating NUL.
	MaxPathLen = SizeOffset - PathOffset - 1

	// MaxRanges is the number of address tuples one frame may carry.
	MaxRanges = 8
)

// Magic is the header every frame starts with.
var Magic = [4]byte{'U', 'S', 'B', 'A'}

// Codec errors.
var (
	// ErrProtocol indicates a malformed or unexpected frame.
	ErrProtocol = errors.New("protocol error")

	// ErrInvalidPacket indicates a packet that cannot be encoded.
	ErrInvalidPacket = errors.New("invalid packet")

	// ErrInvalidRange indicates an address range outside the tuple encoding.
	ErrInvalidRange = errors.New("invalid address range")

	// ErrBatchTooLarge indicates more than MaxRanges tuples.
	ErrBatchTooLarge = errors.New("batch too large")
)

// Packet is a decoded command frame.
type Packet struct {
	Opcode Opcode
	Flags  Flags

	// Path is the primary path operand (path opcodes only).
	Path string

	// Target is the MV destination path.
	Target string

	// Size is the GET/PUT size operand.
	Size uint32

	// Ranges are the VGET/VPUT address tuples.
	Ranges []AddressRange
}

// Validate checks if the packet can be encoded.
func (p *Packet) Validate() error {
	if !p.Opcode.IsCommand() {
		return fmt.Errorf("%w: opcode %#02x is not a command", ErrInvalidPacket, uint8(p.Opcode))
	}

	if p.Opcode.HasPath() {
		if err := validatePath(p.Path); err != nil {
			return err
		}
	} else if p.Path != "" {
		return fmt.Errorf("%w: %s takes no path", ErrInvalidPacket, p.Opcode)
	}

	if p.Opcode == OpMove {
		if err := validatePath(p.Target); err != nil {
			return err
		}
	} else if p.Target != "" {
		return fmt.Errorf("%w: %s takes no target", ErrInvalidPacket, p.Opcode)
	}

	if !p.Opcode.HasSize() && p.Size != 0 {
		return fmt.Errorf("%w: %s takes no size", ErrInvalidPacket, p.Opcode)
	}

	if p.Opcode.HasRanges() {
		if len(p.Ranges) == 0 {
			return fmt.Errorf("%w: %s needs at least one range", ErrInvalidPacket, p.Opcode)
		}
		if len(p.Ranges) > MaxRanges {
			return fmt.Errorf("%w: %d ranges > %d", ErrBatchTooLarge, len(p.Ranges), MaxRanges)
		}
		for _, r := range p.Ranges {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	} else if len(p.Ranges) != 0 {
		return fmt.Errorf("%w: %s takes no ranges", ErrInvalidPacket, p.Opcode)
	}

	return nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPacket)
	}
	if len(path) > MaxPathLen {
		return fmt.Errorf("%w: path of %d bytes > %d", ErrInvalidPacket, len(path), MaxPathLen)
	}
	if bytes.IndexByte([]byte(path), 0) >= 0 {
		return fmt.Errorf("%w: path contains NUL", ErrInvalidPacket)
	}
	return nil
}

// Encode builds the 512-byte frame for a packet.
func Encode(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, PacketSize)
	writeHeader(buf, p.Opcode, p.Flags)

	if p.Opcode.HasPath() {
		copy(buf[PathOffset:], p.Path)
	}
	if p.Opcode == OpMove {
		copy(buf[TargetOffset:], p.Target)
	}
	if p.Opcode.HasSize() {
		binary.BigEndian.PutUint32(buf[SizeOffset:], p.Size)
	}
	if p.Opcode.HasRanges() {
		off := RangeOffset
		for _, r := range p.Ranges {
			if r.Length > MaxTupleLength {
				return nil, fmt.Errorf("%w: %s is longer than one tuple (%d bytes), split it first", ErrInvalidRange, r, MaxTupleLength)
			}
			buf[off] = byte(r.Length)
			binary.BigEndian.PutUint32(buf[off+1:], r.Address)
			off += RangeTupleSize
		}
	}

	return buf, nil
}

// Decode parses a command frame.
func Decode(buf []byte) (Packet, error) {
	op, flags, err := readHeader(buf)
	if err != nil {
		return Packet{}, err
	}
	if !op.IsCommand() {
		return Packet{}, fmt.Errorf("%w: unexpected opcode %#02x", ErrProtocol, uint8(op))
	}

	p := Packet{Opcode: op, Flags: flags}

	if op.HasPath() {
		p.Path = cString(buf[PathOffset:SizeOffset])
	}
	if op == OpMove {
		p.Target = cString(buf[TargetOffset:])
	}
	if op.HasSize() {
		p.Size = binary.BigEndian.Uint32(buf[SizeOffset:])
	}
	if op.HasRanges() {
		off := RangeOffset
		for i := 0; i < MaxRanges; i++ {
			length := buf[off]
			if length == 0 {
				break
			}
			addr := binary.BigEndian.Uint32(buf[off+1:])
			p.Ranges = append(p.Ranges, AddressRange{Address: addr, Length: uint16(length)})
			off += RangeTupleSize
		}
		if len(p.Ranges) == 0 {
			return Packet{}, fmt.Errorf("%w: %s frame without ranges", ErrProtocol, op)
		}
	}

	return p, nil
}

func writeHeader(buf []byte, op Opcode, flags Flags) {
	copy(buf[0:4], Magic[:])
	buf[4] = byte(op)
	buf[5] = Separator
	buf[6] = byte(flags)
}

func readHeader(buf []byte) (Opcode, Flags, error) {
	if len(buf) != PacketSize {
		return 0, 0, fmt.Errorf("%w: frame of %d bytes, want %d", ErrProtocol, len(buf), PacketSize)
	}
	if !bytes.Equal(buf[0:4], Magic[:]) {
		return 0, 0, fmt.Errorf("%w: bad magic % x", ErrProtocol, buf[0:4])
	}
	if buf[5] != Separator {
		return 0, 0, fmt.Errorf("%w: bad separator %#02x", ErrProtocol, buf[5])
	}
	return Opcode(buf[4]), Flags(buf[6]), nil
}

// cString returns the bytes up to the first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
