package interactive

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/gateway"
	"github.com/cartlink/cartlink-go/pkg/version"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

func (s *Shell) cmdConnect(ctx context.Context, args []string) error {
	target, ok := s.target()
	if len(args) > 0 {
		target = connection.Target{Implementation: strings.ToLower(args[0])}
		ok = true
		if len(args) > 1 {
			target.Options.Address = args[1]
		}
		if len(args) > 2 {
			target.Options.Device = strings.Join(args[2:], " ")
		}
	}
	if !ok {
		return fmt.Errorf("%w: connect <impl> [address [device]] (no default target)", ErrUsage)
	}
	return s.connect(ctx, target)
}

func (s *Shell) cmdDisconnect(context.Context, []string) error {
	s.gw.Disconnect()
	fmt.Fprintln(s.out, "Disconnected")
	return nil
}

func (s *Shell) cmdStatus(context.Context, []string) error {
	st := s.gw.Status()
	fmt.Fprintf(s.out, "State:        %s\n", st.State)
	if st.Implementation != "" {
		fmt.Fprintf(s.out, "Transport:    %s\n", st.Implementation)
	}
	if st.ConnectionID != "" {
		fmt.Fprintf(s.out, "Connection:   %s\n", st.ConnectionID)
	}
	if st.Device.ID != "" {
		fmt.Fprintf(s.out, "Device:       %s (firmware %s)\n", st.Device.ID, st.Device.FirmwareVersion)
	}
	fmt.Fprintf(s.out, "Known dirs:   %d\n", st.KnownDirs)
	if !st.LastBeat.IsZero() {
		fmt.Fprintf(s.out, "Last beat:    %s ago\n", s.now().Sub(st.LastBeat).Round(time.Millisecond))
	}
	if t, ok := s.gw.Connection().LastTarget(); ok {
		fmt.Fprintf(s.out, "Last target:  %s %s\n", t.Implementation, t.Options.Address)
	}
	return nil
}

func (s *Shell) cmdDevices(context.Context, []string) error {
	st := s.gw.Status()
	for _, d := range st.Devices {
		marker := " "
		if d == st.Device.ID {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s %s\n", marker, d)
	}
	return nil
}

func (s *Shell) cmdInfo(ctx context.Context, _ []string) error {
	dev, err := s.gw.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Device:    %s\n", dev.ID)
	fmt.Fprintf(s.out, "Firmware:  %s\n", dev.FirmwareVersion)
	if dev.VersionString != "" {
		fmt.Fprintf(s.out, "Version:   %s\n", dev.VersionString)
	}
	if fw, err := version.ParseFirmware(dev.FirmwareVersion); err == nil {
		fmt.Fprintf(s.out, "Savestate: $%06X (release %d)\n", fw.SavestateInterface(), fw.Release())
	}
	fmt.Fprintf(s.out, "ROM:       %s\n", dev.ROMRunning)
	if len(dev.Features) > 0 {
		fmt.Fprintf(s.out, "Features:  %s\n", strings.Join(dev.Features, " "))
	}
	return nil
}

func (s *Shell) cmdList(ctx context.Context, args []string) error {
	dir := "/"
	if len(args) > 0 {
		dir = args[0]
	}
	entries, err := s.gw.List(ctx, dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(s.out, "  %s/\n", e.Name)
		} else {
			fmt.Fprintf(s.out, "  %s\n", e.Name)
		}
	}
	return nil
}

func (s *Shell) cmdMkdir(ctx context.Context, args []string) error {
	return s.gw.EnsureDir(ctx, args[0])
}

func (s *Shell) cmdRemove(ctx context.Context, args []string) error {
	return s.gw.Remove(ctx, args[0])
}

func (s *Shell) cmdRename(ctx context.Context, args []string) error {
	return s.gw.Rename(ctx, args[0], args[1])
}

// remotePath resolves the destination of put: a missing or directory
// destination takes the local file name.
func remotePath(local string, args []string) string {
	name := filepath.Base(local)
	if len(args) == 0 {
		return "/" + name
	}
	dst := args[0]
	if strings.HasSuffix(dst, "/") {
		return dst + name
	}
	return dst
}

func (s *Shell) cmdPut(ctx context.Context, args []string) error {
	dst := remotePath(args[0], args[1:])
	if err := s.gw.PutFileBlocking(ctx, args[0], dst, 0, s.progress(dst)); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Uploaded %s\n", dst)
	return nil
}

func (s *Shell) cmdGet(ctx context.Context, args []string) error {
	local := path.Base(args[0])
	if len(args) > 1 {
		local = args[1]
	}
	var timeout time.Duration
	if s.config != nil {
		timeout = s.config.Timeout()
	}
	data, err := s.gw.GetFileBlocking(ctx, args[0], timeout, s.progress(args[0]))
	if err != nil {
		return err
	}
	if err := os.WriteFile(local, data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Saved %d bytes to %s\n", len(data), local)
	return nil
}

func (s *Shell) cmdStage(ctx context.Context, args []string) error {
	files := make([]gateway.BatchFile, 0, len(args))
	for _, p := range args {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, gateway.BatchFile{Name: filepath.Base(p), Data: data})
	}

	dir := gateway.RunDirectory(s.now())
	res, err := s.gw.UploadBatch(ctx, dir, files, func(i int, f gateway.BatchFile) gateway.ProgressFunc {
		return s.progress(fmt.Sprintf("[%d/%d] %s", i+1, len(files), f.Name))
	})
	if res.Reconnected {
		fmt.Fprintln(s.out, "Link dropped once; reconnected and resumed")
	}
	if err != nil {
		return fmt.Errorf("staged %d of %d files in %s: %w", res.FilesUploaded, len(files), dir, err)
	}
	fmt.Fprintf(s.out, "Staged %d files in %s\n", res.FilesUploaded, res.Directory)
	return nil
}

func parseAddress(s string) (uint32, error) {
	a, err := wire.ParseHex(s)
	if err != nil {
		return 0, fmt.Errorf("%w: address %q is not hex", ErrUsage, s)
	}
	return a, nil
}

func (s *Shell) cmdRead(ctx context.Context, args []string) error {
	if len(args)%2 != 0 {
		return fmt.Errorf("%w: read <addr> <len> pairs", ErrUsage)
	}
	ranges := make([]wire.AddressRange, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		addr, err := parseAddress(args[i])
		if err != nil {
			return err
		}
		n, err := strconv.ParseUint(args[i+1], 0, 16)
		if err != nil {
			return fmt.Errorf("%w: length %q", ErrUsage, args[i+1])
		}
		ranges = append(ranges, wire.AddressRange{Address: addr, Length: uint16(n)})
	}

	out, err := s.gw.ReadBatch(ctx, ranges)
	if err != nil {
		return err
	}
	for i, r := range ranges {
		dump(s.out, r.Address, out[i])
	}
	return nil
}

// dump writes data as 16-byte hex rows labelled with their address.
func dump(w io.Writer, addr uint32, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		fmt.Fprintf(w, "%06X  % X\n", addr+uint32(off), data[off:end])
	}
}

func (s *Shell) cmdWrite(ctx context.Context, args []string) error {
	if len(args)%2 != 0 {
		return fmt.Errorf("%w: write <addr> <hex> pairs", ErrUsage)
	}
	writes := make([]wire.Write, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		addr, err := parseAddress(args[i])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(args[i+1]), "0x"))
		if err != nil {
			return fmt.Errorf("%w: data %q is not hex", ErrUsage, args[i+1])
		}
		writes = append(writes, wire.Write{Address: addr, Data: data})
	}
	if err := s.gw.WriteBatch(ctx, writes); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Wrote %d range(s)\n", len(writes))
	return nil
}

func (s *Shell) cmdBoot(ctx context.Context, args []string) error {
	return s.gw.Boot(ctx, args[0])
}

func (s *Shell) cmdMenu(ctx context.Context, _ []string) error {
	return s.gw.Menu(ctx)
}

func (s *Shell) cmdReset(ctx context.Context, _ []string) error {
	return s.gw.Reset(ctx)
}

// progress returns a ProgressFunc that prints one line at completion and
// percentage steps of 25 in between.
func (s *Shell) progress(label string) gateway.ProgressFunc {
	last := -1
	return func(transferred, total int) {
		pct := 100
		if total > 0 {
			pct = transferred * 100 / total
		}
		step := pct / 25
		if step == last {
			return
		}
		last = step
		fmt.Fprintf(s.out, "  %s %3d%% (%d/%d)\n", label, pct, transferred, total)
	}
}
