package gateway

import (
	"errors"
	"fmt"
)

// Gateway errors.
var (
	// ErrTimeout indicates a blocking operation exceeded its bound. The
	// connection was torn down because the link cannot cancel an exchange.
	ErrTimeout = errors.New("operation timed out")

	// ErrEmptyBatch indicates a batch with no ranges or writes.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrTransfer marks a failed multi-file transfer. Use errors.As with
	// *TransferError to get the completed count.
	ErrTransfer = errors.New("transfer failed")

	// ErrInvalidPath indicates a path the operation cannot act on.
	ErrInvalidPath = errors.New("invalid path")

	// ErrVerify indicates an upload the device acknowledged but does not
	// list afterwards.
	ErrVerify = errors.New("upload not verified")
)

// TransferError reports how far a multi-file transfer got before failing.
type TransferError struct {
	// Path is the file that failed, if any.
	Path string

	// Completed is the number of files transferred before the failure.
	Completed int

	// Err is the cause.
	Err error
}

func (e *TransferError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("transfer failed after %d file(s): %v", e.Completed, e.Err)
	}
	return fmt.Sprintf("transfer failed after %d file(s) at %s: %v", e.Completed, e.Path, e.Err)
}

// Unwrap exposes both ErrTransfer and the cause to errors.Is.
func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}
