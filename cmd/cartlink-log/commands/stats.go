package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cartlink/cartlink-go/pkg/log"
)

// Stats holds aggregate statistics about a capture.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Opcodes          map[string]*OpcodeStats
	Connections      map[string]*ConnectionStats
	Reconnects       int
	AbortedBatches   int
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// OpcodeStats aggregates the exchanges of one opcode.
type OpcodeStats struct {
	Count    int
	BytesOut int
	BytesIn  int
	Total    time.Duration
	Max      time.Duration
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen      time.Time
	LastSeen       time.Time
	Events         int
	Implementation string
	DeviceID       string
	LastState      string
}

// RunStats analyzes the capture at path and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Opcodes:          make(map[string]*OpcodeStats),
		Connections:      make(map[string]*ConnectionStats),
	}

	for event, err := range reader.All() {
		if err != nil {
			return err
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.ConnectionID != "" {
		conn, ok := s.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if conn.Implementation == "" {
			conn.Implementation = event.Implementation
		}
		if conn.DeviceID == "" {
			conn.DeviceID = event.DeviceID
		}
		if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityConnection {
			conn.LastState = sc.NewState
		}
	}

	if x := event.Exchange; x != nil {
		op, ok := s.Opcodes[x.Opcode]
		if !ok {
			op = &OpcodeStats{}
			s.Opcodes[x.Opcode] = op
		}
		op.Count++
		op.BytesOut += x.BytesOut
		op.BytesIn += x.BytesIn
		op.Total += x.Duration
		if x.Duration > op.Max {
			op.Max = x.Duration
		}
	}

	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityBatch {
		switch sc.NewState {
		case "RECONNECTING":
			s.Reconnects++
		case "ABORTED":
			s.AbortedBatches++
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Cartridge Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerGateway} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError, log.CategoryLiveness} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}

	if len(stats.Opcodes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Exchanges:")
		names := make([]string, 0, len(stats.Opcodes))
		for name := range stats.Opcodes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			op := stats.Opcodes[name]
			avg := op.Total / time.Duration(op.Count)
			fmt.Fprintf(w, "  %-12s %5d  out %-9d in %-9d avg %s max %s\n",
				name+":", op.Count, op.BytesOut, op.BytesIn, formatDuration(avg), formatDuration(op.Max))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
			if c.stats.DeviceID != "" {
				fmt.Fprintf(w, "           Device: %s (%s)\n", c.stats.DeviceID, c.stats.Implementation)
			}
			if c.stats.LastState != "" {
				fmt.Fprintf(w, "           Last state: %s\n", c.stats.LastState)
			}
		}
	}

	if stats.Reconnects > 0 || stats.AbortedBatches > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Batch reconnects: %d\n", stats.Reconnects)
		fmt.Fprintf(w, "Aborted batches:  %d\n", stats.AbortedBatches)
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
