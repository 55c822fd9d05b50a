package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// Framing constants.
const (
	// BlockSize is the default data block size, equal to a command frame.
	BlockSize = wire.PacketSize

	// SmallBlockSize is the block size used when DATA64B is set.
	SmallBlockSize = 64

	// MaxLogFrameDataSize is the maximum frame data size to include in logs (4 KB).
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrBlockTooLarge indicates data that does not fit one block.
	ErrBlockTooLarge = errors.New("block too large")

	// ErrReadTimeout indicates the port returned no data within its timeout.
	ErrReadTimeout = errors.New("read timeout")

	// ErrFrameTruncated indicates the stream ended inside a block.
	ErrFrameTruncated = errors.New("frame truncated")
)

// FrameWriter writes fixed-size blocks, zero-padding short ones.
type FrameWriter struct {
	w  io.Writer
	mu sync.Mutex

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// SetLogger configures logging for this writer.
// Pass nil to disable logging.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes one 512-byte frame.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	return fw.WriteBlock(data, BlockSize)
}

// WriteBlock writes data padded to size bytes.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteBlock(data []byte, size int) error {
	if len(data) > size {
		return fmt.Errorf("%w: %d > %d", ErrBlockTooLarge, len(data), size)
	}

	block := data
	if len(data) < size {
		block = make([]byte, size)
		copy(block, data)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(block); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}

	if fw.logger != nil {
		fw.logger.Log(makeFrameEvent(fw.connID, block, log.DirectionOut))
	}
	return nil
}

// FrameReader reads fixed-size blocks.
type FrameReader struct {
	r io.Reader

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// SetLogger configures logging for this reader.
// Pass nil to disable logging.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// ReadFrame reads one 512-byte frame.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	return fr.ReadBlock(BlockSize)
}

// ReadBlock reads exactly size bytes.
//
// A serial port with a read timeout reports expiry as a zero-byte read
// without error, which io.ReadFull would retry forever; that case is
// returned as ErrReadTimeout.
func (fr *FrameReader) ReadBlock(size int) ([]byte, error) {
	block := make([]byte, size)
	n := 0
	for n < size {
		m, err := fr.r.Read(block[n:])
		n += m
		if err != nil {
			if err == io.EOF && n == 0 {
				return nil, io.EOF
			}
			if err == io.EOF {
				return nil, fmt.Errorf("%w: %d of %d bytes", ErrFrameTruncated, n, size)
			}
			return nil, fmt.Errorf("failed to read block: %w", err)
		}
		if m == 0 {
			return nil, fmt.Errorf("%w: %d of %d bytes", ErrReadTimeout, n, size)
		}
	}

	if fr.logger != nil {
		fr.logger.Log(makeFrameEvent(fr.connID, block, log.DirectionIn))
	}
	return block, nil
}

// makeFrameEvent creates a log event for a block.
func makeFrameEvent(connID string, data []byte, direction log.Direction) log.Event {
	frameData := data
	truncated := false

	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// Framer combines block reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw),
		FrameWriter: NewFrameWriter(rw),
	}
}

// SetLogger configures logging for both reader and writer.
// Pass nil to disable logging.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}

// BlockCount returns the number of size-byte blocks needed for n bytes.
func BlockCount(n, size int) int {
	return (n + size - 1) / size
}
