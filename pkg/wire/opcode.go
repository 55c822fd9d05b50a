package wire

import "strings"

// Opcode identifies a cartridge command.
type Opcode uint8

const (
	// OpGet reads a file from the cartridge's SD card.
	OpGet Opcode = 0x00

	// OpPut writes a file to the cartridge's SD card.
	OpPut Opcode = 0x01

	// OpVGet reads one or more memory ranges.
	OpVGet Opcode = 0x02

	// OpVPut writes one or more memory ranges.
	OpVPut Opcode = 0x03

	// OpList lists a directory.
	OpList Opcode = 0x04

	// OpMkdir creates a directory.
	OpMkdir Opcode = 0x05

	// OpRemove deletes a file or an empty directory.
	OpRemove Opcode = 0x06

	// OpMove renames a file or directory.
	OpMove Opcode = 0x07

	// OpReset resets the running game.
	OpReset Opcode = 0x08

	// OpBoot boots a ROM file.
	OpBoot Opcode = 0x09

	// OpPowerCycle power cycles the console.
	OpPowerCycle Opcode = 0x0A

	// OpInfo queries firmware and ROM information.
	OpInfo Opcode = 0x0B

	// OpMenuReset returns to the cartridge menu.
	OpMenuReset Opcode = 0x0C

	// OpStream starts a memory stream.
	OpStream Opcode = 0x0D

	// OpResponse marks a reply frame sent by the cartridge.
	OpResponse Opcode = 0x0F
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpPut:
		return "PUT"
	case OpVGet:
		return "VGET"
	case OpVPut:
		return "VPUT"
	case OpList:
		return "LS"
	case OpMkdir:
		return "MKDIR"
	case OpRemove:
		return "RM"
	case OpMove:
		return "MV"
	case OpReset:
		return "RESET"
	case OpBoot:
		return "BOOT"
	case OpPowerCycle:
		return "POWER_CYCLE"
	case OpInfo:
		return "INFO"
	case OpMenuReset:
		return "MENU_RESET"
	case OpStream:
		return "STREAM"
	case OpResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// IsCommand returns true for opcodes a client may send.
func (o Opcode) IsCommand() bool {
	return o <= OpStream
}

// HasPath returns true if the opcode carries a path operand.
func (o Opcode) HasPath() bool {
	switch o {
	case OpGet, OpPut, OpList, OpMkdir, OpRemove, OpMove, OpBoot:
		return true
	}
	return false
}

// HasSize returns true if the opcode carries a size operand.
func (o Opcode) HasSize() bool {
	return o == OpGet || o == OpPut
}

// HasRanges returns true if the opcode carries address tuples.
func (o Opcode) HasRanges() bool {
	return o == OpVGet || o == OpVPut
}

// Flags modify how the cartridge handles a command.
type Flags uint8

const (
	FlagNone        Flags = 0
	FlagSkipReset   Flags = 1
	FlagOnlyReset   Flags = 2
	FlagClrX        Flags = 4
	FlagSetX        Flags = 8
	FlagStreamBurst Flags = 16

	// FlagNoResponse tells the cartridge not to send a reply frame.
	FlagNoResponse Flags = 64

	// FlagData64B selects 64-byte data blocks instead of 512.
	FlagData64B Flags = 128
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagSkipReset, "SKIPRESET"},
	{FlagOnlyReset, "ONLYRESET"},
	{FlagClrX, "CLRX"},
	{FlagSetX, "SETX"},
	{FlagStreamBurst, "STREAM_BURST"},
	{FlagNoResponse, "NORESP"},
	{FlagData64B, "DATA64B"},
}

// Names returns the names of the set flags in bit order.
func (f Flags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

// String returns the set flags joined by "|", or "NONE".
func (f Flags) String() string {
	names := f.Names()
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// Feature bits reported in byte 6 of an INFO reply.
const (
	FeatureDSPX      Flags = 1
	FeatureST0010    Flags = 2
	FeatureSRTC      Flags = 4
	FeatureMSU1      Flags = 8
	Feature213F      Flags = 16
	FeatureCmdUnlock Flags = 32
	FeatureUSB1      Flags = 64
	FeatureDMA1      Flags = 128
)

var featureNames = []struct {
	flag Flags
	name string
}{
	{FeatureDSPX, "FEAT_DSPX"},
	{FeatureST0010, "FEAT_ST0010"},
	{FeatureSRTC, "FEAT_SRTC"},
	{FeatureMSU1, "FEAT_MSU1"},
	{Feature213F, "FEAT_213F"},
	{FeatureCmdUnlock, "FEAT_CMD_UNLOCK"},
	{FeatureUSB1, "FEAT_USB1"},
	{FeatureDMA1, "FEAT_DMA1"},
}

// FeatureNames decodes the feature byte of an INFO reply.
func FeatureNames(f Flags) []string {
	var out []string
	for _, fn := range featureNames {
		if f&fn.flag != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}
