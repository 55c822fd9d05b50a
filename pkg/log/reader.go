package log

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero-valued fields match everything; TimeEnd is
// exclusive.
type Filter struct {
	ConnectionID   string
	DeviceID       string
	Implementation string

	Direction *Direction
	Layer     *Layer
	Category  *Category

	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Match reports whether e passes every criterion set in f.
func (f Filter) Match(e Event) bool {
	switch {
	case !matchString(f.ConnectionID, e.ConnectionID),
		!matchString(f.DeviceID, e.DeviceID),
		!matchString(f.Implementation, e.Implementation),
		!matchEnum(f.Direction, e.Direction),
		!matchEnum(f.Layer, e.Layer),
		!matchEnum(f.Category, e.Category):
		return false
	case f.TimeStart != nil && e.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !e.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

func matchString(want, got string) bool { return want == "" || want == got }

func matchEnum[T comparable](want *T, got T) bool { return want == nil || *want == got }

// Reader streams events from a capture. A record cut short by a writer that
// died mid-event ends the stream like a clean EOF.
type Reader struct {
	src     io.Closer
	decoder *cbor.Decoder
	filter  Filter
	decoded int
}

// NewReader opens the capture at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the capture at path and yields only events
// matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	r := NewStreamReader(f, filter)
	r.src = f
	return r, nil
}

// NewStreamReader reads events from an already open stream. Close does not
// close r.
func NewStreamReader(r io.Reader, filter Filter) *Reader {
	return &Reader{decoder: NewDecoder(r), filter: filter}
}

// Next returns the next matching event, or io.EOF at the end of the capture.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		err := r.decoder.Decode(&e)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return Event{}, io.EOF
		case err != nil:
			return Event{}, fmt.Errorf("decode event %d: %w", r.decoded+1, err)
		}
		r.decoded++
		if r.filter.Match(e) {
			return e, nil
		}
	}
}

// All iterates the remaining matching events. A decode failure is yielded
// once as the final pair.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			e, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Decoded returns how many records were decoded so far, matching or not.
func (r *Reader) Decoded() int {
	return r.decoded
}

// Close closes the capture file.
func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	return r.src.Close()
}
