package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/dircache"
	"github.com/cartlink/cartlink-go/pkg/health"
	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/transport"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// DefaultDownloadTimeout bounds GetFileBlocking when no timeout is given.
const DefaultDownloadTimeout = 5 * time.Minute

// PutFileBlocking bounds without an explicit timeout: UploadTimeoutPerMB per
// MiB of file, never less than MinUploadTimeout.
const (
	DefaultUploadTimeoutPerMB = 10 * time.Second
	MinUploadTimeout          = 30 * time.Second
)

// Options configures a Gateway. Zero values take defaults.
type Options struct {
	// Registry builds transports. Defaults to transport.DefaultRegistry().
	Registry *transport.Registry

	// Transport is the template configuration for every transport.
	Transport transport.Config

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives capture events from every layer.
	ProtocolLogger log.Logger

	// Cache is the directory cache. Defaults to an empty cache.
	Cache *dircache.Cache

	// DownloadTimeout is the GetFileBlocking default (5 minutes).
	DownloadTimeout time.Duration

	// UploadTimeoutPerMB scales the PutFileBlocking default (10s per MiB).
	UploadTimeoutPerMB time.Duration

	// SkipVerify turns off the listing check after each upload.
	SkipVerify bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Option modifies Options.
type Option func(*Options)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithProtocolLogger sets the capture logger.
func WithProtocolLogger(l log.Logger) Option {
	return func(o *Options) { o.ProtocolLogger = l }
}

// WithRegistry sets the transport registry.
func WithRegistry(r *transport.Registry) Option {
	return func(o *Options) { o.Registry = r }
}

// WithTransportConfig sets the transport configuration template.
func WithTransportConfig(cfg transport.Config) Option {
	return func(o *Options) { o.Transport = cfg }
}

// WithCache shares an existing directory cache.
func WithCache(c *dircache.Cache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithDownloadTimeout sets the GetFileBlocking default.
func WithDownloadTimeout(d time.Duration) Option {
	return func(o *Options) { o.DownloadTimeout = d }
}

// WithUploadTimeoutPerMB sets how the PutFileBlocking default grows with
// file size.
func WithUploadTimeoutPerMB(d time.Duration) Option {
	return func(o *Options) { o.UploadTimeoutPerMB = d }
}

// WithVerifyUploads turns the listing check after each upload on (the
// default) or off.
func WithVerifyUploads(on bool) Option {
	return func(o *Options) { o.SkipVerify = !on }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// Status is a point-in-time view of the gateway.
type Status struct {
	State          connection.State
	Implementation string
	ConnectionID   string
	Device         wire.Device
	Devices        []string
	KnownDirs      int
	LastBeat       time.Time
}

// Gateway is the single entry point to the device. It owns one connection
// manager, the directory cache and the health signal. Create one per
// device link and pass it by reference.
type Gateway struct {
	opts   Options
	logger *slog.Logger

	conn   *connection.Manager
	cache  *dircache.Cache
	health *health.Signal

	// opMu serializes wire exchanges across callers.
	opMu sync.Mutex
}

// New creates a disconnected gateway.
func New(opts ...Option) *Gateway {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Cache == nil {
		o.Cache = dircache.New()
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = DefaultDownloadTimeout
	}
	if o.UploadTimeoutPerMB <= 0 {
		o.UploadTimeoutPerMB = DefaultUploadTimeoutPerMB
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	g := &Gateway{
		opts:   o,
		logger: o.Logger,
		cache:  o.Cache,
	}
	g.conn = connection.NewManager(connection.Config{
		Registry:       o.Registry,
		Transport:      o.Transport,
		Logger:         o.Logger,
		ProtocolLogger: o.ProtocolLogger,
	})
	g.health = health.NewSignal(
		health.WithClock(o.Now),
		health.WithProtocolLogger(o.ProtocolLogger, g.conn.ConnectionID),
	)
	return g
}

// Connect connects and attaches through impl. The directory cache is kept.
func (g *Gateway) Connect(ctx context.Context, impl string, opts connection.Options) (connection.Result, error) {
	res, err := g.conn.Connect(ctx, impl, opts)
	if err != nil {
		return res, err
	}
	g.health.Beat(health.KindExchange)
	return res, nil
}

// Disconnect closes the link. Any exchange in flight fails.
func (g *Gateway) Disconnect() {
	g.conn.Disconnect()
}

// Status returns the current connection and cache status.
func (g *Gateway) Status() Status {
	dev, _ := g.conn.Device()
	return Status{
		State:          g.conn.State(),
		Implementation: g.conn.Implementation(),
		ConnectionID:   g.conn.ConnectionID(),
		Device:         dev,
		Devices:        g.conn.Devices(),
		KnownDirs:      g.cache.Len(),
		LastBeat:       g.health.Last(),
	}
}

// Connection returns the connection manager.
func (g *Gateway) Connection() *connection.Manager {
	return g.conn
}

// Cache returns the directory cache.
func (g *Gateway) Cache() *dircache.Cache {
	return g.cache
}

// Health returns the liveness signal.
func (g *Gateway) Health() *health.Signal {
	return g.health
}

// send performs one exchange on the attached transport. A link error
// tears the connection down.
func (g *Gateway) send(ctx context.Context, x *transport.Exchange) (*transport.Response, error) {
	tr, err := g.conn.Transport()
	if err != nil {
		return nil, err
	}

	g.opMu.Lock()
	defer g.opMu.Unlock()

	resp, err := tr.Send(ctx, x)
	if err != nil {
		if transport.IsLinkError(err) {
			g.conn.ConnectionLost(tr, err)
		}
		return nil, err
	}
	g.health.Beat(health.KindExchange)
	return resp, nil
}

// command sends a packet with no data phase.
func (g *Gateway) command(ctx context.Context, p wire.Packet) (*transport.Response, error) {
	return g.send(ctx, &transport.Exchange{Packet: p})
}
