package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/gateway"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// GatewayState contains the persisted state of a gateway.
type GatewayState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// LastTarget is the implementation and options of the last attach.
	LastTarget *connection.Target `json:"last_target,omitempty"`

	// LastDevice describes the device seen at the last attach.
	LastDevice *DeviceRecord `json:"last_device,omitempty"`

	// KnownDirs is the directory cache snapshot.
	KnownDirs []string `json:"known_dirs,omitempty"`
}

// DeviceRecord is the subset of device info worth showing before connect.
type DeviceRecord struct {
	ID              string    `json:"id"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	VersionString   string    `json:"version_string,omitempty"`
	SeenAt          time.Time `json:"seen_at"`
}

// Capture builds a state from g.
func Capture(g *gateway.Gateway) *GatewayState {
	s := &GatewayState{KnownDirs: g.Cache().Snapshot()}
	if t, ok := g.Connection().LastTarget(); ok {
		s.LastTarget = &t
	}
	if dev, ok := g.Connection().Device(); ok {
		s.LastDevice = &DeviceRecord{
			ID:              dev.ID,
			FirmwareVersion: dev.FirmwareVersion,
			VersionString:   dev.VersionString,
			SeenAt:          time.Now(),
		}
	}
	return s
}

// Apply seeds g's directory cache and last target from the state. The card
// may have changed since the state was saved; Upload re-creates a seeded
// directory that turns out to be gone.
func (s *GatewayState) Apply(g *gateway.Gateway) {
	g.Cache().Seed(s.KnownDirs)
	if s.LastTarget != nil {
		g.Connection().SetLastTarget(*s.LastTarget)
	}
}

// GatewayStateStore manages persistence of gateway state to a JSON file.
type GatewayStateStore struct {
	mu   sync.Mutex
	path string
}

// NewGatewayStateStore creates a new gateway state store.
func NewGatewayStateStore(path string) *GatewayStateStore {
	return &GatewayStateStore{path: path}
}

// Path returns the state file path.
func (s *GatewayStateStore) Path() string {
	return s.path
}

// Save persists the state to disk.
func (s *GatewayStateStore) Save(state *GatewayState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Replace atomically.
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *GatewayStateStore) Load() (*GatewayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &GatewayState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("state file %s has version %d, newest supported is %d", s.path, state.Version, StateVersion)
	}

	return state, nil
}

// Clear removes the state file.
func (s *GatewayStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
