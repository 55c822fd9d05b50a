package cartlink_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/gateway"
	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/persistence"
	"github.com/cartlink/cartlink-go/pkg/transport"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// hub is a minimal WebSocket hub relaying to an in-memory cartridge.
type hub struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	mem   map[uint32]byte
}

func startHub(t *testing.T) (*hub, string) {
	t.Helper()
	h := &hub{files: map[string][]byte{}, dirs: map[string]bool{}, mem: map[uint32]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	reply := func(res ...string) {
		data, _ := json.Marshal(wire.HubReply{Results: res})
		conn.WriteMessage(websocket.TextMessage, data)
	}
	receive := func(n int) []byte {
		var buf []byte
		for len(buf) < n {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			buf = append(buf, msg...)
		}
		return buf
	}
	pairs := func(ops []string, fn func(addr, n uint32)) {
		for i := 0; i+1 < len(ops); i += 2 {
			addr, _ := wire.ParseHex(ops[i])
			n, _ := wire.ParseHex(ops[i+1])
			fn(addr, n)
		}
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var req wire.HubRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		switch req.Opcode {
		case wire.HubDeviceList:
			reply("SD2SNES COM3")
		case wire.HubInfo:
			reply("1.11.0", "7a", "/sd2snes/menu.bin", "FEAT_MSU1")
		case wire.HubList:
			var res []string
			h.mu.Lock()
			for d := range h.dirs {
				if path.Dir(d) == req.Operands[0] {
					res = append(res, "0", path.Base(d))
				}
			}
			for f := range h.files {
				if path.Dir(f) == req.Operands[0] {
					res = append(res, "1", path.Base(f))
				}
			}
			h.mu.Unlock()
			reply(res...)
		case wire.HubMakeDir:
			h.mu.Lock()
			h.dirs[req.Operands[0]] = true
			h.mu.Unlock()
		case wire.HubPutFile:
			size, _ := wire.ParseHex(req.Operands[1])
			data := receive(int(size))
			h.mu.Lock()
			h.files[req.Operands[0]] = data
			h.mu.Unlock()
		case wire.HubGetFile:
			h.mu.Lock()
			f := h.files[req.Operands[0]]
			h.mu.Unlock()
			reply(wire.Hex(uint32(len(f))))
			conn.WriteMessage(websocket.BinaryMessage, f)
		case wire.HubGetAddress:
			var out []byte
			h.mu.Lock()
			pairs(req.Operands, func(addr, n uint32) {
				for j := uint32(0); j < n; j++ {
					out = append(out, h.mem[addr+j])
				}
			})
			h.mu.Unlock()
			conn.WriteMessage(websocket.BinaryMessage, out)
		case wire.HubPutAddress:
			total := 0
			pairs(req.Operands, func(_, n uint32) { total += int(n) })
			data := receive(total)
			h.mu.Lock()
			pairs(req.Operands, func(addr, n uint32) {
				for j := uint32(0); j < n; j++ {
					h.mem[addr+j] = data[0]
					data = data[1:]
				}
			})
			h.mu.Unlock()
		}
	}
}

func (h *hub) file(p string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[p]
	return f, ok
}

func (h *hub) hasDir(p string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirs[p]
}

// TestE2E_HubSession drives a full session through the hub transport: attach,
// staged batch, memory round trip, download, state save and restore, and
// the protocol capture written along the way.
func TestE2E_HubSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, url := startHub(t)
	dir := t.TempDir()

	capture, err := log.NewFileLogger(filepath.Join(dir, "session"+log.FileExtension))
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	g := gateway.New(
		gateway.WithRegistry(transport.DefaultRegistry()),
		gateway.WithProtocolLogger(capture),
	)

	res, err := g.Connect(ctx, transport.ImplHub, connection.Options{Address: url})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if res.Device.ID != "SD2SNES COM3" || res.FirmwareVersion != "1.11.0" {
		t.Fatalf("Connect result = %+v", res)
	}

	// Staged batch
	run := gateway.RunDirectory(time.Date(2025, 10, 19, 14, 5, 0, 0, time.Local))
	files := []gateway.BatchFile{
		{Name: "hack1.sfc", Data: []byte("first rom")},
		{Name: "hack2.sfc", Data: []byte("second rom")},
	}
	batch, err := g.UploadBatch(ctx, run, files, nil)
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if !batch.Success || batch.FilesUploaded != 2 || batch.Reconnected {
		t.Errorf("UploadBatch result = %+v", batch)
	}
	if !h.hasDir("/work") || !h.hasDir(run) {
		t.Errorf("run directory %s not created on the device", run)
	}
	for _, f := range files {
		got, ok := h.file(run + "/" + f.Name)
		if !ok || string(got) != string(f.Data) {
			t.Errorf("%s on device = %q, %v", f.Name, got, ok)
		}
	}

	// Memory round trip
	writes := []wire.Write{
		{Address: wire.WRAMStart + 0x10, Data: []byte{0x02, 0x63}},
		{Address: wire.SRAMStart, Data: []byte("SAVE")},
	}
	if err := g.WriteBatch(ctx, writes); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	out, err := g.ReadBatch(ctx, []wire.AddressRange{
		{Address: wire.SRAMStart, Length: 4},
		{Address: wire.WRAMStart + 0x10, Length: 2},
	})
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if string(out[0]) != "SAVE" || out[1][0] != 0x02 || out[1][1] != 0x63 {
		t.Errorf("ReadBatch = %x", out)
	}

	// Download
	got, err := g.GetFileBlocking(ctx, run+"/hack2.sfc", time.Second, nil)
	if err != nil {
		t.Fatalf("GetFileBlocking: %v", err)
	}
	if string(got) != "second rom" {
		t.Errorf("GetFileBlocking = %q", got)
	}

	// State survives into a fresh gateway
	store := persistence.NewGatewayStateStore(filepath.Join(dir, "state.json"))
	if err := store.Save(persistence.Capture(g)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	g.Disconnect()
	if err := capture.Close(); err != nil {
		t.Fatalf("capture Close: %v", err)
	}

	state, err := store.Load()
	if err != nil || state == nil {
		t.Fatalf("Load = %v, %v", state, err)
	}
	restored := gateway.New(gateway.WithRegistry(transport.DefaultRegistry()))
	state.Apply(restored)
	if !restored.Cache().Has(run) {
		t.Errorf("restored cache misses %s: %v", run, restored.Cache().Snapshot())
	}
	target, ok := restored.Connection().LastTarget()
	if !ok || target.Implementation != transport.ImplHub || target.Options.Address != url {
		t.Errorf("restored LastTarget = %+v, %v", target, ok)
	}

	// Capture
	events := readCapture(t, capture.Path())
	opcodes := map[string]int{}
	for _, e := range events {
		if e.Exchange != nil {
			opcodes[e.Exchange.Opcode]++
			if e.Implementation != transport.ImplHub {
				t.Errorf("exchange %s logged with implementation %q", e.Exchange.Opcode, e.Implementation)
			}
		}
	}
	for _, op := range []string{"PUT", "LS", "VPUT", "VGET", "GET"} {
		if opcodes[op] == 0 {
			t.Errorf("no %s exchange captured (have %v)", op, opcodes)
		}
	}
}

func readCapture(t *testing.T, path string) []log.Event {
	t.Helper()
	r, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var events []log.Event
	for {
		e, err := r.Next()
		if err != nil {
			break
		}
		events = append(events, e)
	}
	return events
}
