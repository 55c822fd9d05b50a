// Package log provides protocol capture for cartridge communication.
//
// This package defines the Logger interface and Event types for recording
// every frame and command exchange with a device. It is separate from
// operational logging (slog): a capture is a complete machine-readable trace
// that can be replayed with the cartlink-log tool.
//
// # Basic Usage
//
//	// During development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// In the field: write to a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("session.clog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: Raw 512-byte frames (FrameEvent)
//   - Wire: Decoded command round trips (ExchangeEvent)
//   - Gateway: Connection state changes, batch reconnects and health beats
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with the .clog extension.
package log
