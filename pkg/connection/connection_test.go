package connection

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/transport"
	"github.com/cartlink/cartlink-go/pkg/transport/mocks"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

var testDevice = wire.Device{
	ID:              "COM3",
	Name:            "COM3",
	FirmwareVersion: "1.11.0",
	VersionString:   "7A",
	ROMRunning:      "/sd2snes/menu.bin",
}

type recorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recorder) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// newTestManager returns a manager whose "mock" implementation hands out
// the given transports in order.
func newTestManager(t *testing.T, trs ...transport.Transport) (*Manager, *recorder) {
	t.Helper()
	reg := transport.NewRegistry()
	var n int
	reg.Register("mock", func(cfg transport.Config) (transport.Transport, error) {
		require.Less(t, n, len(trs), "unexpected transport construction")
		_, err := uuid.Parse(cfg.ConnectionID)
		require.NoError(t, err, "connection id must be a uuid")
		tr := trs[n]
		n++
		return tr, nil
	})
	rec := &recorder{}
	return NewManager(Config{Registry: reg, ProtocolLogger: rec}), rec
}

func attachable(t *testing.T, devices ...string) *mocks.Transport {
	tr := mocks.NewTransport(t)
	tr.EXPECT().Open(mock.Anything, "").Return(devices, nil)
	tr.EXPECT().Attach(mock.Anything, devices[0]).Return(testDevice, nil)
	return tr
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateAttached, "ATTACHED"},
		{State(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestConnectAttaches(t *testing.T) {
	tr := attachable(t, "COM3", "COM4")
	m, rec := newTestManager(t, tr)

	var seen []State
	m.OnStateChange(func(_, s State) { seen = append(seen, s) })

	res, err := m.Connect(context.Background(), "mock", Options{})
	require.NoError(t, err)

	assert.Equal(t, testDevice, res.Device)
	assert.Equal(t, []string{"COM3", "COM4"}, res.Devices)
	assert.Equal(t, "1.11.0", res.FirmwareVersion)
	assert.Equal(t, "7A", res.VersionString)
	assert.Equal(t, "/sd2snes/menu.bin", res.ROMRunning)

	assert.Equal(t, []State{StateConnecting, StateConnected, StateAttached}, seen)
	assert.True(t, m.IsConnected())
	assert.True(t, m.IsAttached())

	got, err := m.Transport()
	require.NoError(t, err)
	assert.Same(t, tr, got)

	target, ok := m.LastTarget()
	require.True(t, ok)
	assert.Equal(t, Target{Implementation: "mock"}, target)

	require.Len(t, rec.events, 3)
	for _, e := range rec.events {
		assert.Equal(t, log.CategoryState, e.Category)
		assert.Equal(t, m.ConnectionID(), e.ConnectionID)
		assert.Equal(t, "mock", e.Implementation)
	}
	assert.Equal(t, "ATTACHED", rec.events[2].StateChange.NewState)
}

func TestConnectNamedDevice(t *testing.T) {
	tr := mocks.NewTransport(t)
	tr.EXPECT().Open(mock.Anything, "/dev/ttyACM0").Return([]string{"/dev/ttyACM0", "/dev/ttyACM1"}, nil)
	tr.EXPECT().Attach(mock.Anything, "/dev/ttyACM1").Return(testDevice, nil)
	m, _ := newTestManager(t, tr)

	opts := Options{Address: "/dev/ttyACM0", Device: "/dev/ttyACM1"}
	_, err := m.Connect(context.Background(), "mock", opts)
	require.NoError(t, err)

	target, _ := m.LastTarget()
	assert.Equal(t, opts, target.Options)
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyACM1"}, m.Devices())
}

func TestConnectFailures(t *testing.T) {
	cause := errors.New("port busy")

	t.Run("unknown implementation", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.Connect(context.Background(), "usb", Options{})
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, transport.ErrUnknownImplementation)
		assert.Equal(t, StateDisconnected, m.State())
	})

	t.Run("open fails", func(t *testing.T) {
		tr := mocks.NewTransport(t)
		tr.EXPECT().Open(mock.Anything, "").Return(nil, cause)
		tr.EXPECT().Close().Return(nil).Once()
		m, _ := newTestManager(t, tr)

		_, err := m.Connect(context.Background(), "mock", Options{})
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, StateDisconnected, m.State())
	})

	t.Run("no devices", func(t *testing.T) {
		tr := mocks.NewTransport(t)
		tr.EXPECT().Open(mock.Anything, "").Return([]string{}, nil)
		tr.EXPECT().Close().Return(nil).Once()
		m, _ := newTestManager(t, tr)

		_, err := m.Connect(context.Background(), "mock", Options{})
		assert.ErrorIs(t, err, transport.ErrDeviceNotFound)
	})

	t.Run("attach fails", func(t *testing.T) {
		tr := mocks.NewTransport(t)
		tr.EXPECT().Open(mock.Anything, "").Return([]string{"COM3"}, nil)
		tr.EXPECT().Attach(mock.Anything, "COM9").Return(wire.Device{}, transport.ErrDeviceNotFound)
		tr.EXPECT().Close().Return(nil).Once()
		m, _ := newTestManager(t, tr)

		_, err := m.Connect(context.Background(), "mock", Options{Device: "COM9"})
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, transport.ErrDeviceNotFound)
		assert.Equal(t, StateDisconnected, m.State())
		_, ok := m.LastTarget()
		assert.False(t, ok, "failed connect must not become the last target")
	})
}

func TestNotAttachedGuard(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.Transport()
		assert.ErrorIs(t, err, ErrNotAttached)
		assert.False(t, m.IsConnected())
	})

	t.Run("connected", func(t *testing.T) {
		tr := mocks.NewTransport(t)
		m, _ := newTestManager(t, tr)

		tr.EXPECT().Open(mock.Anything, "").Return([]string{"COM3"}, nil)
		tr.EXPECT().Attach(mock.Anything, "COM3").RunAndReturn(func(context.Context, string) (wire.Device, error) {
			assert.Equal(t, StateConnected, m.State())
			assert.True(t, m.IsConnected())
			assert.False(t, m.IsAttached())
			_, err := m.Transport()
			assert.ErrorIs(t, err, ErrNotAttached)
			return testDevice, nil
		})

		_, err := m.Connect(context.Background(), "mock", Options{})
		require.NoError(t, err)
	})
}

func TestDisconnectIdempotent(t *testing.T) {
	tr := attachable(t, "COM3")
	tr.EXPECT().Close().Return(nil).Once()
	m, _ := newTestManager(t, tr)

	_, err := m.Connect(context.Background(), "mock", Options{})
	require.NoError(t, err)

	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, StateDisconnected, m.State())
	_, err = m.Transport()
	assert.ErrorIs(t, err, ErrNotAttached)

	_, ok := m.LastTarget()
	assert.True(t, ok, "last target survives disconnect")
}

func TestConnectionLost(t *testing.T) {
	tr := attachable(t, "COM3")
	tr.EXPECT().Close().Return(nil).Once()
	m, rec := newTestManager(t, tr)

	_, err := m.Connect(context.Background(), "mock", Options{})
	require.NoError(t, err)

	m.ConnectionLost(tr, transport.ErrLinkLost)
	assert.Equal(t, StateDisconnected, m.State())

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, "DISCONNECTED", last.StateChange.NewState)
	assert.Equal(t, "link lost", last.StateChange.Reason)
}

func TestConnectionLostFromReplacedTransport(t *testing.T) {
	first := attachable(t, "COM3")
	first.EXPECT().Close().Return(nil).Once()
	second := attachable(t, "COM3")
	m, rec := newTestManager(t, first, second)

	_, err := m.Connect(context.Background(), "mock", Options{})
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), "mock", Options{})
	require.NoError(t, err)
	events := len(rec.events)

	// second.Close is not expected: the late report must not touch it.
	m.ConnectionLost(first, transport.ErrLinkLost)
	assert.Equal(t, StateAttached, m.State())
	assert.Len(t, rec.events, events, "no state change for a stale report")

	got, err := m.Transport()
	require.NoError(t, err)
	assert.Same(t, second, got)

	m.ConnectionLost(nil, transport.ErrLinkLost)
	assert.True(t, m.IsAttached(), "nil transport is never current")
}

func TestConnectReplacesConnection(t *testing.T) {
	first := attachable(t, "COM3")
	first.EXPECT().Close().Return(nil).Once()
	second := attachable(t, "COM3")
	m, _ := newTestManager(t, first, second)

	_, err := m.Connect(context.Background(), "mock", Options{})
	require.NoError(t, err)
	firstID := m.ConnectionID()

	_, err = m.Connect(context.Background(), "mock", Options{})
	require.NoError(t, err)

	got, err := m.Transport()
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.NotEqual(t, firstID, m.ConnectionID())
}

func TestDisconnectDuringConnect(t *testing.T) {
	tr := mocks.NewTransport(t)
	m, _ := newTestManager(t, tr)

	tr.EXPECT().Open(mock.Anything, "").Return([]string{"COM3"}, nil)
	tr.EXPECT().Attach(mock.Anything, "COM3").RunAndReturn(func(context.Context, string) (wire.Device, error) {
		m.Disconnect()
		return testDevice, nil
	})
	tr.EXPECT().Close().Return(nil).Once()

	_, err := m.Connect(context.Background(), "mock", Options{})
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsAttached())
}

func TestSetLastTarget(t *testing.T) {
	m, _ := newTestManager(t)
	want := Target{Implementation: transport.ImplHub, Options: Options{Address: transport.DefaultHubURL}}
	m.SetLastTarget(want)

	got, ok := m.LastTarget()
	require.True(t, ok)
	assert.Equal(t, want, got)
}
