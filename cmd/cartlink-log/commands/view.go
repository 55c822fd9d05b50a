// Package commands implements the cartlink-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cartlink/cartlink-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Opcode    string
}

func (f ViewFilter) matches(e log.Event) bool {
	if f.Layer != nil && e.Layer != *f.Layer {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.Opcode != "" && (e.Exchange == nil || !strings.EqualFold(e.Exchange.Opcode, f.Opcode)) {
		return false
	}
	return true
}

// eventType returns the short label used for an event's payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Exchange != nil:
		return event.Exchange.Opcode
	case event.StateChange != nil:
		return "State"
	case event.Liveness != nil:
		return "Beat"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		ts, shortenConnID(event.ConnectionID), event.Direction.String(), event.Layer.String(), eventType(event))

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Exchange != nil:
		formatExchangeDetails(w, event.Exchange)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Liveness != nil:
		fmt.Fprintf(w, "  Kind: %s\n", event.Liveness.Kind)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}
	if event.DeviceID != "" {
		fmt.Fprintf(w, "  Device: %s (%s)\n", event.DeviceID, event.Implementation)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatFrameDetails writes the frame size and a hex dump of its head.
func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) == 0 {
		return
	}
	data := frame.Data
	if len(data) > 32 {
		data = data[:32]
	}
	fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(data))
	if len(data) < len(frame.Data) || frame.Truncated {
		fmt.Fprint(w, "...")
	}
	fmt.Fprintln(w)
}

func formatExchangeDetails(w io.Writer, x *log.ExchangeEvent) {
	if x.Flags != "" {
		fmt.Fprintf(w, "  Flags: %s\n", x.Flags)
	}
	if x.Path != "" {
		fmt.Fprintf(w, "  Path: %s\n", x.Path)
	}
	if len(x.Ranges) > 0 {
		fmt.Fprintf(w, "  Ranges: %s\n", strings.Join(x.Ranges, " "))
	}
	if x.BytesOut > 0 || x.BytesIn > 0 {
		fmt.Fprintf(w, "  Bytes: out %d, in %d\n", x.BytesOut, x.BytesIn)
	}
	if x.Status != nil {
		fmt.Fprintf(w, "  Status: %d\n", *x.Status)
	}
	fmt.Fprintf(w, "  Duration: %s\n", formatDuration(x.Duration))
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer name (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "gateway":
		return log.LayerGateway, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or gateway)", s)
	}
}

// ParseDirectionFlag parses a direction name (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category name (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	case "liveness":
		return log.CategoryLiveness, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, error, or liveness)", s)
	}
}

// RunView prints every matching event of the capture at path.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.All() {
		if err != nil {
			return err
		}
		if filter.matches(event) {
			formatEvent(output, event)
		}
	}
	return nil
}
