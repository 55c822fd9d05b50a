// Package connection manages the lifecycle of the single device link a
// gateway owns.
//
// # States
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> ATTACHED
//
// Connect builds a transport from the registry, opens it, attaches to the
// named or first enumerated device and fetches INFO. Any failure, a call to
// Disconnect, or a reported ConnectionLost returns the manager to
// DISCONNECTED and closes the transport.
//
// # Reconnection
//
// The manager never reconnects by itself. It remembers the target of the
// last successful attach (LastTarget) so a caller such as the batch upload
// engine can decide to reconnect once.
//
// # Connection IDs
//
// Each connect attempt gets a fresh UUID. It tags every protocol capture
// event of that attempt, including the state changes recorded here.
package connection
