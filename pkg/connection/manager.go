package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/transport"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// Connection errors.
var (
	// ErrConnection indicates a failed connect or attach. The cause is wrapped.
	ErrConnection = errors.New("connection failed")

	// ErrNotAttached indicates an operation that needs an attached device.
	ErrNotAttached = errors.New("not attached")

	// errAborted marks a connect interrupted by Disconnect.
	errAborted = errors.New("connect aborted")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no live transport.
	StateDisconnected State = iota

	// StateConnecting indicates a connect is in progress.
	StateConnecting

	// StateConnected indicates an open transport with no attached device.
	StateConnected

	// StateAttached indicates a device is attached and ready for commands.
	StateAttached
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateAttached:
		return "ATTACHED"
	default:
		return "UNKNOWN"
	}
}

// Options selects where to connect.
type Options struct {
	// Address is the serial port name or hub URL. Empty selects the
	// implementation's default.
	Address string `json:"address,omitempty"`

	// Device is the enumerated device to attach. Empty selects the first.
	Device string `json:"device,omitempty"`
}

// Target is an implementation together with its options.
type Target struct {
	Implementation string  `json:"implementation"`
	Options        Options `json:"options"`
}

// Result describes a successful connect.
type Result struct {
	Device          wire.Device
	Devices         []string
	FirmwareVersion string
	VersionString   string
	ROMRunning      string
}

// Config configures a Manager.
type Config struct {
	// Registry builds transports. Defaults to transport.DefaultRegistry().
	Registry *transport.Registry

	// Transport is the template passed to every transport factory. The
	// connection ID is filled in per connect.
	Transport transport.Config

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger records state changes. Also passed to transports
	// unless Transport.ProtocolLogger is set.
	ProtocolLogger log.Logger
}

// Manager owns at most one transport and tracks its attachment state.
// It never reconnects on its own; callers decide when to connect again.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	state   State
	gen     uint64
	impl    string
	connID  string
	tr      transport.Transport
	devices []string
	device  wire.Device
	last    *Target

	onStateChange func(oldState, newState State)
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config) *Manager {
	if cfg.Registry == nil {
		cfg.Registry = transport.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transport.Logger == nil {
		cfg.Transport.Logger = cfg.Logger
	}
	if cfg.Transport.ProtocolLogger == nil {
		cfg.Transport.ProtocolLogger = cfg.ProtocolLogger
	}
	return &Manager{cfg: cfg}
}

// Connect builds a transport for impl, opens it, attaches to the named
// device (or the first enumerated one) and returns its INFO. An existing
// connection is closed first. Every failure is wrapped in ErrConnection
// and leaves the manager disconnected.
func (m *Manager) Connect(ctx context.Context, impl string, opts Options) (Result, error) {
	m.Disconnect()

	connID := uuid.NewString()
	tcfg := m.cfg.Transport
	tcfg.ConnectionID = connID

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.impl = impl
	m.connID = connID
	m.mu.Unlock()
	m.transition(gen, StateConnecting, "connect "+impl)

	tr, err := m.cfg.Registry.New(impl, tcfg)
	if err != nil {
		return Result{}, m.fail(gen, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		tr.Close()
		return Result{}, fmt.Errorf("%w: %w", ErrConnection, errAborted)
	}
	m.tr = tr
	m.mu.Unlock()

	devices, err := tr.Open(ctx, opts.Address)
	if err != nil {
		return Result{}, m.fail(gen, err)
	}
	if len(devices) == 0 {
		return Result{}, m.fail(gen, transport.ErrDeviceNotFound)
	}

	m.mu.Lock()
	if m.gen == gen {
		m.devices = devices
	}
	m.mu.Unlock()
	m.transition(gen, StateConnected, fmt.Sprintf("%d device(s)", len(devices)))

	name := opts.Device
	if name == "" {
		name = devices[0]
	}
	dev, err := tr.Attach(ctx, name)
	if err != nil {
		return Result{}, m.fail(gen, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %w", ErrConnection, errAborted)
	}
	m.device = dev
	m.last = &Target{Implementation: impl, Options: opts}
	m.mu.Unlock()
	m.transition(gen, StateAttached, dev.ID)

	m.cfg.Logger.Info("device attached",
		"impl", impl,
		"device", dev.ID,
		"firmware", dev.FirmwareVersion,
		"rom", dev.ROMRunning,
		"connID", connID)

	return Result{
		Device:          dev,
		Devices:         devices,
		FirmwareVersion: dev.FirmwareVersion,
		VersionString:   dev.VersionString,
		ROMRunning:      dev.ROMRunning,
	}, nil
}

// fail tears down the connect attempt identified by gen.
func (m *Manager) fail(gen uint64, err error) error {
	m.teardown(gen, err.Error())
	if errors.Is(err, errAborted) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	m.cfg.Logger.Warn("connect failed", "impl", m.Implementation(), "error", err)
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

// Disconnect closes the transport unconditionally. Safe to call in any state.
func (m *Manager) Disconnect() {
	m.mu.RLock()
	gen := m.gen
	m.mu.RUnlock()
	m.teardown(gen, "disconnect")
}

// ConnectionLost tears down the connection after a link error on tr. A
// report about a transport that is no longer current is ignored, so a late
// failure from a replaced link cannot close its successor.
func (m *Manager) ConnectionLost(tr transport.Transport, reason error) {
	msg := "link lost"
	if reason != nil {
		msg = reason.Error()
	}

	m.mu.RLock()
	gen := m.gen
	current := m.tr != nil && m.tr == tr
	m.mu.RUnlock()
	if !current {
		m.cfg.Logger.Debug("stale connection loss ignored", "reason", msg)
		return
	}

	m.cfg.Logger.Warn("connection lost", "impl", m.Implementation(), "reason", msg)
	m.teardown(gen, msg)
}

// teardown closes the transport of generation gen and bumps the generation
// so an in-flight Connect notices it was interrupted.
func (m *Manager) teardown(gen uint64, reason string) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	tr := m.tr
	old := m.state
	m.tr = nil
	m.devices = nil
	m.device = wire.Device{}
	m.state = StateDisconnected
	connID := m.connID
	fn := m.onStateChange
	m.mu.Unlock()

	if tr != nil {
		if err := tr.Close(); err != nil {
			m.cfg.Logger.Debug("transport close failed", "error", err)
		}
	}
	if old != StateDisconnected {
		m.notify(connID, fn, old, StateDisconnected, reason)
	}
}

// transition moves the attempt identified by gen to state s.
func (m *Manager) transition(gen uint64, s State, reason string) {
	m.mu.Lock()
	if m.gen != gen || m.state == s {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = s
	connID := m.connID
	fn := m.onStateChange
	m.mu.Unlock()

	m.notify(connID, fn, old, s, reason)
}

func (m *Manager) notify(connID string, fn func(oldState, newState State), old, s State, reason string) {
	if m.cfg.ProtocolLogger != nil {
		m.cfg.ProtocolLogger.Log(log.Event{
			Timestamp:      time.Now(),
			ConnectionID:   connID,
			Direction:      log.DirectionIn,
			Layer:          log.LayerTransport,
			Category:       log.CategoryState,
			Implementation: m.Implementation(),
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				OldState: old.String(),
				NewState: s.String(),
				Reason:   reason,
			},
		})
	}
	if fn != nil {
		fn(old, s)
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true in the Connected and Attached states.
func (m *Manager) IsConnected() bool {
	s := m.State()
	return s == StateConnected || s == StateAttached
}

// IsAttached returns true when a device is attached.
func (m *Manager) IsAttached() bool {
	return m.State() == StateAttached
}

// Transport returns the live transport, or ErrNotAttached unless a device
// is attached.
func (m *Manager) Transport() (transport.Transport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAttached || m.tr == nil {
		return nil, fmt.Errorf("%w: state %s", ErrNotAttached, m.state)
	}
	return m.tr, nil
}

// Device returns the attached device snapshot.
func (m *Manager) Device() (wire.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.device, m.state == StateAttached
}

// Devices returns the device identifiers enumerated by the last Open.
func (m *Manager) Devices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.devices...)
}

// Implementation returns the implementation of the current or last attempt.
func (m *Manager) Implementation() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.impl
}

// ConnectionID returns the id of the current or last attempt.
func (m *Manager) ConnectionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connID
}

// LastTarget returns the target of the last successful attach.
func (m *Manager) LastTarget() (Target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Target{}, false
	}
	return *m.last, true
}

// SetLastTarget seeds the last-known target, e.g. from persisted state.
func (m *Manager) SetLastTarget(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &t
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}
