package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Reply layout constants.
const (
	// StatusOffset holds the reply status byte.
	StatusOffset = OperandOffset

	// ROMOffset is where the running ROM name starts in an INFO reply.
	ROMOffset = 16

	// VersionOffset holds the big-endian firmware version number.
	VersionOffset = 256

	// FirmwareOffset is where the firmware version string starts.
	FirmwareOffset = 260
)

// StatusOK is the reply status of a successful command.
const StatusOK uint8 = 0

// ErrDeviceStatus indicates the cartridge answered with a failure status.
// Like ErrProtocol it is local to one exchange.
var ErrDeviceStatus = errors.New("device reported failure")

// Reply is a decoded RESPONSE frame.
type Reply struct {
	// Flags carries the feature bits of an INFO reply.
	Flags Flags

	// Status is 0 on success.
	Status uint8

	// Size is the file size of a GET reply.
	Size uint32

	// Version is the firmware version number of an INFO reply.
	Version uint32

	// Firmware is the firmware version string of an INFO reply.
	Firmware string

	// ROM is the running ROM of an INFO reply.
	ROM string
}

// Err returns a wrapped ErrDeviceStatus for a failure status, nil otherwise.
func (r Reply) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &StatusError{Code: r.Status}
}

// StatusError carries the failure code reported by the cartridge.
type StatusError struct {
	Code uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device reported failure: status %#02x", e.Code)
}

// Is makes StatusError match ErrDeviceStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrDeviceStatus
}

// EncodeReply builds a RESPONSE frame.
func EncodeReply(r Reply) ([]byte, error) {
	if len(r.ROM) >= SizeOffset-ROMOffset {
		return nil, fmt.Errorf("%w: rom name of %d bytes", ErrInvalidPacket, len(r.ROM))
	}
	if len(r.Firmware) >= PacketSize-FirmwareOffset {
		return nil, fmt.Errorf("%w: firmware string of %d bytes", ErrInvalidPacket, len(r.Firmware))
	}

	buf := make([]byte, PacketSize)
	writeHeader(buf, OpResponse, r.Flags)
	buf[StatusOffset] = r.Status
	copy(buf[ROMOffset:], r.ROM)
	binary.BigEndian.PutUint32(buf[SizeOffset:], r.Size)
	binary.BigEndian.PutUint32(buf[VersionOffset:], r.Version)
	copy(buf[FirmwareOffset:], r.Firmware)
	return buf, nil
}

// DecodeReply parses a RESPONSE frame. A failure status is not an error
// here; callers check Reply.Err.
func DecodeReply(buf []byte) (Reply, error) {
	op, flags, err := readHeader(buf)
	if err != nil {
		return Reply{}, err
	}
	if op != OpResponse {
		return Reply{}, fmt.Errorf("%w: expected RESPONSE, got %s", ErrProtocol, op)
	}

	return Reply{
		Flags:    flags,
		Status:   buf[StatusOffset],
		Size:     binary.BigEndian.Uint32(buf[SizeOffset:]),
		Version:  binary.BigEndian.Uint32(buf[VersionOffset:]),
		Firmware: cString(buf[FirmwareOffset:]),
		ROM:      cString(buf[ROMOffset:SizeOffset]),
	}, nil
}

// Device is a snapshot of an attached cartridge.
type Device struct {
	// ID is the identifier used to attach (port name or hub device name).
	ID string `json:"id"`

	// Name is a human-readable name.
	Name string `json:"name,omitempty"`

	FirmwareVersion string   `json:"firmware_version,omitempty"`
	VersionString   string   `json:"version_string,omitempty"`
	ROMRunning      string   `json:"rom_running,omitempty"`
	Features        []string `json:"features,omitempty"`
}

// Device converts an INFO reply into a device snapshot.
func (r Reply) Device(id string) Device {
	return Device{
		ID:              id,
		Name:            id,
		FirmwareVersion: r.Firmware,
		VersionString:   VersionString(r.Version),
		ROMRunning:      r.ROM,
		Features:        FeatureNames(r.Flags),
	}
}

// VersionString renders a firmware version number as upper-case hex,
// or "" for zero.
func VersionString(v uint32) string {
	if v == 0 {
		return ""
	}
	return strings.ToUpper(fmt.Sprintf("%x", v))
}
