package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Hub opcode names.
const (
	HubDeviceList = "DeviceList"
	HubAttach     = "Attach"
	HubName       = "Name"
	HubInfo       = "Info"
	HubBoot       = "Boot"
	HubMenu       = "Menu"
	HubReset      = "Reset"
	HubGetAddress = "GetAddress"
	HubPutAddress = "PutAddress"
	HubGetFile    = "GetFile"
	HubPutFile    = "PutFile"
	HubList       = "List"
	HubMakeDir    = "MakeDir"
	HubRemove     = "Remove"
	HubRename     = "Rename"
)

// HubSpaceSNES is the address space used for all relayed commands.
const HubSpaceSNES = "SNES"

// ErrUnsupported indicates a command the hub cannot relay.
var ErrUnsupported = errors.New("unsupported by hub")

// HubRequest is the JSON request sent to a hub.
type HubRequest struct {
	Opcode   string   `json:"Opcode"`
	Space    string   `json:"Space,omitempty"`
	Flags    []string `json:"Flags,omitempty"`
	Operands []string `json:"Operands,omitempty"`
}

// Marshal encodes the request as JSON.
func (r HubRequest) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// HubReply is the JSON reply sent by a hub.
type HubReply struct {
	Results []string `json:"Results"`
}

// DecodeHubReply parses a JSON reply.
func DecodeHubReply(data []byte) (HubReply, error) {
	var r HubReply
	if err := json.Unmarshal(data, &r); err != nil {
		return HubReply{}, fmt.Errorf("%w: bad hub reply: %v", ErrProtocol, err)
	}
	return r, nil
}

// HubRequestFor translates a command packet into its hub request.
func HubRequestFor(p Packet) (HubRequest, error) {
	if err := p.Validate(); err != nil {
		return HubRequest{}, err
	}

	// Frame flags steer the serial data phase; the hub picks its own framing.
	req := HubRequest{Space: HubSpaceSNES}

	switch p.Opcode {
	case OpGet:
		req.Opcode = HubGetFile
		req.Operands = []string{p.Path}
	case OpPut:
		req.Opcode = HubPutFile
		req.Operands = []string{p.Path, Hex(p.Size)}
	case OpVGet:
		req.Opcode = HubGetAddress
		req.Operands = rangeOperands(p.Ranges)
	case OpVPut:
		req.Opcode = HubPutAddress
		req.Operands = rangeOperands(p.Ranges)
	case OpList:
		req.Opcode = HubList
		req.Operands = []string{p.Path}
	case OpMkdir:
		req.Opcode = HubMakeDir
		req.Operands = []string{p.Path}
	case OpRemove:
		req.Opcode = HubRemove
		req.Operands = []string{p.Path}
	case OpMove:
		req.Opcode = HubRename
		req.Operands = []string{p.Path, p.Target}
	case OpBoot:
		req.Opcode = HubBoot
		req.Operands = []string{p.Path}
	case OpReset:
		req.Opcode = HubReset
	case OpMenuReset:
		req.Opcode = HubMenu
	case OpInfo:
		req.Opcode = HubInfo
	default:
		return HubRequest{}, fmt.Errorf("%w: %s", ErrUnsupported, p.Opcode)
	}

	return req, nil
}

func rangeOperands(ranges []AddressRange) []string {
	ops := make([]string, 0, 2*len(ranges))
	for _, r := range ranges {
		ops = append(ops, Hex(r.Address), Hex(uint32(r.Length)))
	}
	return ops
}

// Hex formats a number as lower-case hex without prefix.
func Hex(v uint32) string {
	return strconv.FormatUint(uint64(v), 16)
}

// ParseHex parses a hex operand, with or without "0x".
func ParseHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad hex operand %q", ErrProtocol, s)
	}
	return uint32(v), nil
}

// HubInfoDevice converts the Results of an Info reply into a device
// snapshot. Results are [firmware, version, rom, flags...].
func HubInfoDevice(id string, results []string) Device {
	d := Device{ID: id, Name: id}
	if len(results) > 0 {
		d.FirmwareVersion = results[0]
	}
	if len(results) > 1 {
		d.VersionString = results[1]
	}
	if len(results) > 2 {
		d.ROMRunning = results[2]
	}
	for _, f := range results[min(3, len(results)):] {
		for _, name := range strings.Split(f, "|") {
			if name != "" {
				d.Features = append(d.Features, name)
			}
		}
	}
	return d
}

// HubEntries converts List Results ([type, name, type, name, ...]) into
// entries, dropping "." and "..".
func HubEntries(results []string) ([]Entry, error) {
	if len(results)%2 != 0 {
		return nil, fmt.Errorf("%w: odd List result count %d", ErrProtocol, len(results))
	}
	var out []Entry
	for i := 0; i < len(results); i += 2 {
		typ, err := strconv.ParseUint(results[i], 10, 8)
		if err != nil || (EntryType(typ) != EntryDir && EntryType(typ) != EntryFile) {
			return nil, fmt.Errorf("%w: bad entry type %q", ErrProtocol, results[i])
		}
		name := results[i+1]
		if name == "." || name == ".." {
			continue
		}
		out = append(out, Entry{Name: name, Type: EntryType(typ)})
	}
	return out, nil
}
