package wire

import (
	"bytes"
	"fmt"
)

// EntryType is the kind of a directory entry.
type EntryType uint8

const (
	// EntryDir is a directory.
	EntryDir EntryType = 0

	// EntryFile is a regular file.
	EntryFile EntryType = 1
)

// Listing block markers.
const (
	// listNextBlock means the listing continues in the next block.
	listNextBlock = 0x02

	// listEnd terminates the listing.
	listEnd = 0xFF
)

// String returns "dir" or "file".
func (t EntryType) String() string {
	switch t {
	case EntryDir:
		return "dir"
	case EntryFile:
		return "file"
	default:
		return "unknown"
	}
}

// Entry is one element of a directory listing.
type Entry struct {
	Name string    `json:"filename"`
	Type EntryType `json:"type"`
}

// IsDir returns true for directories.
func (e Entry) IsDir() bool {
	return e.Type == EntryDir
}

// EncodeListing packs entries into 512-byte data blocks the way the
// cartridge streams an LS reply.
func EncodeListing(entries []Entry) ([][]byte, error) {
	var blocks [][]byte
	block := make([]byte, PacketSize)
	off := 0

	for _, e := range entries {
		if e.Type != EntryDir && e.Type != EntryFile {
			return nil, fmt.Errorf("%w: entry %q has type %d", ErrInvalidPacket, e.Name, e.Type)
		}
		if e.Name == "" || bytes.IndexByte([]byte(e.Name), 0) >= 0 {
			return nil, fmt.Errorf("%w: bad entry name %q", ErrInvalidPacket, e.Name)
		}
		need := 1 + len(e.Name) + 1
		if need+1 > PacketSize {
			return nil, fmt.Errorf("%w: entry name of %d bytes", ErrInvalidPacket, len(e.Name))
		}
		// keep one byte for the marker
		if off+need+1 > PacketSize {
			block[off] = listNextBlock
			blocks = append(blocks, block)
			block = make([]byte, PacketSize)
			off = 0
		}
		block[off] = byte(e.Type)
		copy(block[off+1:], e.Name)
		off += need
	}

	block[off] = listEnd
	return append(blocks, block), nil
}

// ListingDecoder reassembles a listing from its data blocks.
type ListingDecoder struct {
	entries []Entry
	done    bool
}

// Feed consumes one data block and reports whether the listing is complete.
func (d *ListingDecoder) Feed(block []byte) (bool, error) {
	if d.done {
		return true, fmt.Errorf("%w: listing data after end marker", ErrProtocol)
	}

	off := 0
	for off < len(block) {
		switch typ := block[off]; typ {
		case listEnd:
			d.done = true
			return true, nil
		case listNextBlock:
			return false, nil
		case byte(EntryDir), byte(EntryFile):
			end := bytes.IndexByte(block[off+1:], 0)
			if end < 0 {
				return false, fmt.Errorf("%w: unterminated entry name", ErrProtocol)
			}
			name := string(block[off+1 : off+1+end])
			if name != "." && name != ".." {
				d.entries = append(d.entries, Entry{Name: name, Type: EntryType(typ)})
			}
			off += 1 + end + 1
		default:
			return false, fmt.Errorf("%w: unknown entry type %#02x", ErrProtocol, typ)
		}
	}
	return false, nil
}

// Entries returns the entries decoded so far.
func (d *ListingDecoder) Entries() []Entry {
	return d.entries
}

// DecodeListing decodes a complete set of listing blocks.
func DecodeListing(blocks [][]byte) ([]Entry, error) {
	var d ListingDecoder
	for _, b := range blocks {
		done, err := d.Feed(b)
		if err != nil {
			return nil, err
		}
		if done {
			return d.Entries(), nil
		}
	}
	return nil, fmt.Errorf("%w: listing without end marker", ErrProtocol)
}
