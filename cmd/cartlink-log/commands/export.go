package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cartlink/cartlink-go/pkg/log"
)

// exporter writes one event in an export format.
type exporter interface {
	write(log.Event) error
	flush() error
}

type jsonlExporter struct{ enc *json.Encoder }

func (e jsonlExporter) write(event log.Event) error { return e.enc.Encode(event) }
func (e jsonlExporter) flush() error                { return nil }

type csvExporter struct{ w *csv.Writer }

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"implementation", "device_id", "type", "path", "bytes_out", "bytes_in", "duration_us",
}

func (e csvExporter) write(event log.Event) error {
	var path, out, in, dur string
	if x := event.Exchange; x != nil {
		path = x.Path
		out = strconv.Itoa(x.BytesOut)
		in = strconv.Itoa(x.BytesIn)
		dur = strconv.FormatInt(x.Duration.Microseconds(), 10)
	}
	return e.w.Write([]string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.ConnectionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		event.Implementation,
		event.DeviceID,
		eventType(event),
		path, out, in, dur,
	})
}

func (e csvExporter) flush() error {
	e.w.Flush()
	return e.w.Error()
}

func newExporter(format string, w io.Writer) (exporter, error) {
	switch format {
	case "jsonl":
		return jsonlExporter{enc: json.NewEncoder(w)}, nil
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return nil, err
		}
		return csvExporter{w: cw}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

// RunExport exports the capture at path as jsonl or csv. An empty output
// writes to stdout.
func RunExport(path, format, output string) error {
	// Reject the format before touching the output file.
	if _, err := newExporter(format, io.Discard); err != nil {
		return err
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	exp, err := newExporter(format, w)
	if err != nil {
		return err
	}
	for event, err := range reader.All() {
		if err != nil {
			return err
		}
		if err := exp.write(event); err != nil {
			return fmt.Errorf("export event %d: %w", reader.Decoded(), err)
		}
	}
	return exp.flush()
}
