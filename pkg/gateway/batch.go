package gateway

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/dircache"
	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/transport"
)

// WorkDir is where staged batches are written.
const WorkDir = "/work"

// RunDirectory returns the staging directory for a batch started at t,
// /work/run<YYMMDD>_<HHMM>.
func RunDirectory(t time.Time) string {
	return path.Join(WorkDir, "run"+t.Format("060102_1504"))
}

// BatchFile is one file of a staged batch.
type BatchFile struct {
	// Name is the file name inside the batch directory.
	Name string

	// Data is the file content.
	Data []byte
}

// BatchResult summarizes a staged batch upload.
type BatchResult struct {
	Directory     string
	FilesUploaded int
	Success       bool
	Reconnected   bool
}

// FileFunc observes a batch. It is called before each file with the file's
// index, and its progress function, when non-nil, receives that file's
// transfer progress.
type FileFunc func(index int, f BatchFile) ProgressFunc

// UploadBatch uploads files into dir in order.
//
// Before each file the gateway must be attached. If it is not, the batch
// reconnects once using the last successful connection target and then
// resumes with the current file; the directory cache is re-seeded with dir
// if it had already been created. A file that fails because the link
// dropped is retried after that reconnect. Only one reconnect is attempted
// per batch. Any other failure aborts the batch with a *TransferError
// carrying the number of files completed.
func (g *Gateway) UploadBatch(ctx context.Context, dir string, files []BatchFile, onFile FileFunc) (BatchResult, error) {
	dir = dircache.Clean(dir)
	res := BatchResult{Directory: dir}

	fail := func(name string, err error) (BatchResult, error) {
		g.batchEvent("ABORTED", err.Error())
		g.logger.Error("batch upload aborted", "dir", dir, "completed", res.FilesUploaded, "error", err)
		p := ""
		if name != "" {
			p = path.Join(dir, name)
		}
		return res, &TransferError{Path: p, Completed: res.FilesUploaded, Err: err}
	}

	dirReady := false
	for i := 0; i < len(files); {
		f := files[i]
		if err := ctx.Err(); err != nil {
			return fail(f.Name, err)
		}

		if !g.conn.IsAttached() {
			if res.Reconnected {
				return fail(f.Name, connection.ErrNotAttached)
			}
			res.Reconnected = true
			if err := g.reconnect(ctx, i); err != nil {
				return fail(f.Name, err)
			}
			if dirReady {
				g.cache.Remember(dir)
			}
		}

		if !dirReady {
			if err := g.EnsureDir(ctx, dir); err != nil {
				if g.retryable(err, res.Reconnected) {
					continue
				}
				return fail(f.Name, err)
			}
			dirReady = true
		}

		var progress ProgressFunc
		if onFile != nil {
			progress = onFile(i, f)
		}
		if err := g.Upload(ctx, path.Join(dir, f.Name), f.Data, progress); err != nil {
			if g.retryable(err, res.Reconnected) {
				continue
			}
			return fail(f.Name, err)
		}

		res.FilesUploaded++
		i++
	}

	res.Success = true
	g.logger.Info("batch uploaded", "dir", dir, "files", res.FilesUploaded, "reconnected", res.Reconnected)
	return res, nil
}

// retryable reports whether a failed step should run again after the
// batch's single reconnect.
func (g *Gateway) retryable(err error, reconnected bool) bool {
	if reconnected {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return transport.IsLinkError(err) && !g.conn.IsAttached()
}

func (g *Gateway) reconnect(ctx context.Context, index int) error {
	target, ok := g.conn.LastTarget()
	if !ok {
		return fmt.Errorf("%w: no previous connection to restore", connection.ErrNotAttached)
	}

	g.batchEvent("RECONNECTING", fmt.Sprintf("before file %d", index+1))
	g.logger.Warn("link lost during batch, reconnecting once",
		"impl", target.Implementation,
		"address", target.Options.Address,
		"file", index+1)

	if _, err := g.Connect(ctx, target.Implementation, target.Options); err != nil {
		return err
	}
	g.batchEvent("RESUMED", fmt.Sprintf("at file %d", index+1))
	return nil
}

func (g *Gateway) batchEvent(state, reason string) {
	if g.opts.ProtocolLogger == nil {
		return
	}
	g.opts.ProtocolLogger.Log(log.Event{
		Timestamp:    g.opts.Now(),
		ConnectionID: g.conn.ConnectionID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerGateway,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityBatch,
			NewState: state,
			Reason:   reason,
		},
	})
}
