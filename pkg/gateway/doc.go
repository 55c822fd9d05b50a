// Package gateway is the high-level API to a flash cartridge.
//
// A Gateway owns one connection manager, a directory cache and a health
// signal. Every operation runs one or more request-then-reply exchanges on
// the attached transport; exchanges from concurrent callers are serialized.
//
// # Memory
//
// ReadBatch and WriteBatch move up to wire.MaxRanges address ranges in a
// single VGET or VPUT round trip. Results come back in request order and
// ranges are never merged.
//
// # Files
//
// Upload, PutFile and GetFile move whole files and report progress through
// a ProgressFunc. Uploads create missing parent directories first, using
// the directory cache to skip directories already known to exist.
//
// GetFileBlocking bounds a download. Because the wire protocol carries no
// request identifiers, the only way to stop a running exchange is to close
// the link, so a timeout leaves the gateway disconnected.
//
// # Batches
//
// UploadBatch stages several files into one directory, normally the one
// returned by RunDirectory. If the link drops, the batch reconnects once
// with the last connection target and resumes at the file that failed.
//
// # Errors
//
// Link errors (transport.ErrLinkLost) disconnect the gateway. Protocol
// errors (wire.ErrProtocol) and device status errors (wire.ErrDeviceStatus)
// fail the single operation and keep the link. Operations on a gateway
// that is not attached fail with connection.ErrNotAttached.
package gateway
