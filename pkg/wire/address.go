package wire

import "fmt"

// Memory map of the cartridge's address space.
const (
	// ROMStart is the start of cartridge ROM.
	ROMStart = 0x000000

	// SRAMStart is the start of battery-backed save RAM.
	SRAMStart = 0xE00000

	// WRAMStart is the start of console work RAM.
	WRAMStart = 0xF50000

	// WRAMSize is the size of console work RAM.
	WRAMSize = 0x20000

	// MaxAddress is the highest addressable byte (24-bit).
	MaxAddress = 0xFFFFFF
)

// AddressRange is one (address, length) tuple of a batched memory operation.
type AddressRange struct {
	// Address is a 24-bit cartridge address.
	Address uint32

	// Length is the number of bytes, 1..65535.
	Length uint16
}

// Validate checks that the range fits the tuple encoding.
func (r AddressRange) Validate() error {
	if r.Address > MaxAddress {
		return fmt.Errorf("%w: address %#x exceeds 24 bits", ErrInvalidRange, r.Address)
	}
	if r.Length == 0 {
		return fmt.Errorf("%w: zero length at %#x", ErrInvalidRange, r.Address)
	}
	if uint64(r.Address)+uint64(r.Length)-1 > MaxAddress {
		return fmt.Errorf("%w: %#x+%d wraps the address space", ErrInvalidRange, r.Address, r.Length)
	}
	return nil
}

// String formats the range as "ADDR+LEN" in hex.
func (r AddressRange) String() string {
	return fmt.Sprintf("%06X+%X", r.Address, r.Length)
}

// Write is one element of a batched memory write.
type Write struct {
	Address uint32
	Data    []byte
}

// Range returns the address range covered by the write.
func (w Write) Range() (AddressRange, error) {
	if len(w.Data) > 0xFFFF {
		return AddressRange{}, fmt.Errorf("%w: %d bytes at %#x exceeds 65535", ErrInvalidRange, len(w.Data), w.Address)
	}
	r := AddressRange{Address: w.Address, Length: uint16(len(w.Data))}
	return r, r.Validate()
}

// SplitFrames cuts ranges into tuples of at most MaxTupleLength bytes and
// groups them into frames of at most MaxRanges tuples. Concatenating the
// data of the frames in order gives the data of the original ranges.
func SplitFrames(ranges []AddressRange) [][]AddressRange {
	var (
		frames [][]AddressRange
		cur    []AddressRange
	)
	for _, r := range ranges {
		for r.Length > 0 {
			n := min(r.Length, MaxTupleLength)
			if len(cur) == MaxRanges {
				frames = append(frames, cur)
				cur = nil
			}
			cur = append(cur, AddressRange{Address: r.Address, Length: n})
			r.Address += uint32(n)
			r.Length -= n
		}
	}
	if len(cur) > 0 {
		frames = append(frames, cur)
	}
	return frames
}

// TotalLength returns the sum of the range lengths.
func TotalLength(ranges []AddressRange) int {
	total := 0
	for _, r := range ranges {
		total += int(r.Length)
	}
	return total
}
