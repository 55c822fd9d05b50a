// Package transport provides the links to a flash cartridge.
//
// Two implementations satisfy the Transport interface:
//   - SerialTransport talks to the cartridge's USB serial port directly
//   - HubTransport relays through a local WebSocket hub using JSON requests
//
// # Serial Exchange
//
//	host                               cartridge
//	 │── command frame (512 B) ───────────▶│
//	 │◀──────────── reply frame (512 B) ───│   unless NORESP
//	 │◀──────────── data blocks ───────────│   GET, VGET, LS
//	 │── data blocks ─────────────────────▶│   PUT, VPUT
//
// Data blocks are 512 bytes (64 with DATA64B), the last one zero-padded.
// The port runs at 9600 8N1 with DTR asserted, and every read is bounded
// by a 5 second timeout.
//
// # Errors
//
// Exchange-local failures (wire.ErrProtocol, wire.ErrDeviceStatus) leave the
// link usable. Everything else wraps ErrLinkLost and means the connection
// is gone; see IsLinkError.
//
// Implementations are chosen by identifier through a Registry.
package transport
