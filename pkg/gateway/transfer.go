package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cartlink/cartlink-go/pkg/dircache"
	"github.com/cartlink/cartlink-go/pkg/health"
	"github.com/cartlink/cartlink-go/pkg/transport"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// ProgressFunc observes a transfer. It is called with (0, total) when the
// transfer starts and after every chunk.
type ProgressFunc func(transferred, total int)

// Direction is the direction of a file transfer.
type Direction uint8

const (
	// DirectionUpload moves data to the cartridge.
	DirectionUpload Direction = iota
	// DirectionDownload moves data from the cartridge.
	DirectionDownload
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "UPLOAD"
	case DirectionDownload:
		return "DOWNLOAD"
	default:
		return "UNKNOWN"
	}
}

// TransferJob tracks one file operation.
type TransferJob struct {
	Path        string
	Direction   Direction
	Total       int
	Transferred int
	Progress    ProgressFunc

	beat func(health.Kind)
}

func (g *Gateway) newJob(p string, dir Direction, total int, progress ProgressFunc) *TransferJob {
	return &TransferJob{
		Path:      p,
		Direction: dir,
		Total:     total,
		Progress:  progress,
		beat:      g.health.Beat,
	}
}

func (j *TransferJob) start(total int) {
	j.Total = total
	j.Transferred = 0
	j.report()
}

func (j *TransferJob) advance(n int) {
	j.Transferred += n
	j.beat(health.KindProgress)
	j.report()
}

func (j *TransferJob) report() {
	if j.Progress != nil {
		j.Progress(j.Transferred, j.Total)
	}
}

// Upload writes data to dst, creating missing parent directories first.
// Unless verification is off, dst must then show up in its parent's
// listing. When the device rejects a PUT into a directory taken from the
// cache and the directory is in fact gone from the card, the chain is
// created again and the PUT is sent once more.
func (g *Gateway) Upload(ctx context.Context, dst string, data []byte, onProgress ProgressFunc) error {
	dst = dircache.Clean(dst)
	if dst == dircache.Root {
		return fmt.Errorf("%w: upload needs a file name", ErrInvalidPath)
	}
	if _, err := g.conn.Transport(); err != nil {
		return err
	}
	dir := path.Dir(dst)
	cached := len(g.cache.Missing(dir)) == 0
	if err := g.EnsureDir(ctx, dir); err != nil {
		return err
	}

	job := g.newJob(dst, DirectionUpload, len(data), onProgress)

	start := time.Now()
	err := g.put(ctx, dst, data, job)
	if err != nil && cached && g.staleDir(ctx, dir, err) {
		g.logger.Warn("cached directory missing on device, re-creating it", "path", dst, "error", err)
		g.cache.Forget(topDir(dir))
		if derr := g.EnsureDir(ctx, dir); derr != nil {
			return fmt.Errorf("upload %s: %w", dst, errors.Join(err, derr))
		}
		err = g.put(ctx, dst, data, job)
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", dst, err)
	}

	if !g.opts.SkipVerify {
		if err := g.verifyUpload(ctx, dst); err != nil {
			return err
		}
	}

	g.logger.Info("file uploaded", "path", dst, "bytes", len(data), "duration", time.Since(start))
	return nil
}

func (g *Gateway) put(ctx context.Context, dst string, data []byte, job *TransferJob) error {
	job.start(len(data))
	_, err := g.send(ctx, &transport.Exchange{
		Packet:  wire.Packet{Opcode: wire.OpPut, Path: dst, Size: uint32(len(data))},
		Payload: data,
		OnChunk: job.advance,
	})
	return err
}

// verifyUpload checks that dst is listed in its parent directory.
func (g *Gateway) verifyUpload(ctx context.Context, dst string) error {
	dir, name := path.Split(dst)
	entries, err := g.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("%w: list %s: %w", ErrVerify, dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name, name) {
			g.logger.Debug("upload verified", "path", dst)
			return nil
		}
	}
	return fmt.Errorf("%w: %s missing from %s", ErrVerify, name, dir)
}

// staleDir reports whether a PUT into dir failed because dir no longer
// exists on the card.
func (g *Gateway) staleDir(ctx context.Context, dir string, putErr error) bool {
	if dir == dircache.Root || !errors.Is(putErr, wire.ErrDeviceStatus) {
		return false
	}
	exists, err := g.dirExists(ctx, dir)
	if err != nil {
		// A missing grandparent fails the listing itself.
		return errors.Is(err, wire.ErrDeviceStatus)
	}
	return !exists
}

// topDir returns the first component of dir, e.g. /work for /work/run1.
func topDir(dir string) string {
	first, _, _ := strings.Cut(strings.TrimPrefix(dir, "/"), "/")
	return "/" + first
}

// PutFile uploads the local file src to dst.
func (g *Gateway) PutFile(ctx context.Context, src, dst string, onProgress ProgressFunc) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return g.Upload(ctx, dst, data, onProgress)
}

// GetFile downloads p.
func (g *Gateway) GetFile(ctx context.Context, p string, onProgress ProgressFunc) ([]byte, error) {
	p = dircache.Clean(p)
	job := g.newJob(p, DirectionDownload, 0, onProgress)

	start := time.Now()
	resp, err := g.send(ctx, &transport.Exchange{
		Packet:  wire.Packet{Opcode: wire.OpGet, Path: p},
		OnSize:  func(total uint32) { job.start(int(total)) },
		OnChunk: job.advance,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", p, err)
	}

	g.logger.Info("file downloaded", "path", p, "bytes", len(resp.Data), "duration", time.Since(start))
	return resp.Data, nil
}

// GetFileBlocking downloads p within timeout (DownloadTimeout when zero).
// The link has no request ids, so an exchange cannot be abandoned and
// resumed: when the bound expires the connection is torn down and the call
// fails with ErrTimeout. Cancelling ctx tears it down as well. onProgress
// is not called after GetFileBlocking returns.
func (g *Gateway) GetFileBlocking(ctx context.Context, p string, timeout time.Duration, onProgress ProgressFunc) ([]byte, error) {
	if timeout <= 0 {
		timeout = g.opts.DownloadTimeout
	}
	return g.blocking(ctx, "download", dircache.Clean(p), timeout, onProgress,
		func(ctx context.Context, progress ProgressFunc) ([]byte, error) {
			return g.GetFile(ctx, p, progress)
		})
}

// PutFileBlocking uploads the local file src to dst within timeout. A zero
// timeout scales with the file size, see UploadTimeout. Expiry and
// cancellation behave as in GetFileBlocking.
func (g *Gateway) PutFileBlocking(ctx context.Context, src, dst string, timeout time.Duration, onProgress ProgressFunc) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = g.UploadTimeout(len(data))
	}
	g.logger.Debug("blocking upload", "src", src, "dst", dst, "bytes", len(data), "timeout", timeout)
	_, err = g.blocking(ctx, "upload", dircache.Clean(dst), timeout, onProgress,
		func(ctx context.Context, progress ProgressFunc) ([]byte, error) {
			return nil, g.Upload(ctx, dst, data, progress)
		})
	return err
}

// UploadTimeout returns the PutFileBlocking default for size bytes.
func (g *Gateway) UploadTimeout(size int) time.Duration {
	d := time.Duration(float64(g.opts.UploadTimeoutPerMB) * float64(size) / (1 << 20))
	return max(d, MinUploadTimeout)
}

// blocking runs fn bounded by timeout and tears the connection down when
// the bound or ctx ends first.
func (g *Gateway) blocking(ctx context.Context, what, p string, timeout time.Duration, onProgress ProgressFunc,
	fn func(context.Context, ProgressFunc) ([]byte, error)) ([]byte, error) {
	tr, err := g.conn.Transport()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	progress := &gatedProgress{fn: onProgress}
	defer progress.close()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := fn(ctx, progress.report)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s after %s: %w", ErrTimeout, what, p, timeout, r.err)
		}
		return r.data, r.err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s %s after %s", ErrTimeout, what, p, timeout)
		}
		g.logger.Warn(what+" abandoned, closing connection", "path", p, "error", err)
		g.conn.ConnectionLost(tr, err)
		return nil, err
	}
}

// gatedProgress forwards progress until closed. close waits for a report in
// flight, so fn is never called after the blocking call has returned.
type gatedProgress struct {
	mu     sync.Mutex
	fn     ProgressFunc
	closed bool
}

func (p *gatedProgress) report(transferred, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.fn == nil {
		return
	}
	p.fn(transferred, total)
}

func (p *gatedProgress) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
