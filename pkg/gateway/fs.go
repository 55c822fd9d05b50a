package gateway

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/cartlink/cartlink-go/pkg/dircache"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// Info queries firmware and ROM information.
func (g *Gateway) Info(ctx context.Context) (wire.Device, error) {
	resp, err := g.command(ctx, wire.Packet{Opcode: wire.OpInfo})
	if err != nil {
		return wire.Device{}, err
	}
	if resp.Device == nil {
		return wire.Device{}, fmt.Errorf("%w: INFO reply without device data", wire.ErrProtocol)
	}
	return *resp.Device, nil
}

// Reset resets the running game. The cartridge does not reply.
func (g *Gateway) Reset(ctx context.Context) error {
	_, err := g.command(ctx, wire.Packet{Opcode: wire.OpReset, Flags: wire.FlagNoResponse})
	return err
}

// Menu returns to the cartridge menu. The cartridge does not reply.
func (g *Gateway) Menu(ctx context.Context) error {
	_, err := g.command(ctx, wire.Packet{Opcode: wire.OpMenuReset, Flags: wire.FlagNoResponse})
	return err
}

// Boot boots the ROM at p. The cartridge does not reply.
func (g *Gateway) Boot(ctx context.Context, p string) error {
	p = dircache.Clean(p)
	if p == dircache.Root {
		return fmt.Errorf("%w: boot needs a file", ErrInvalidPath)
	}
	_, err := g.command(ctx, wire.Packet{Opcode: wire.OpBoot, Flags: wire.FlagNoResponse, Path: p})
	if err != nil {
		return err
	}
	g.logger.Info("booted", "path", p)
	return nil
}

// List lists dir. A successful listing proves dir and its subdirectories
// exist, so they are remembered.
func (g *Gateway) List(ctx context.Context, dir string) ([]wire.Entry, error) {
	dir = dircache.Clean(dir)
	resp, err := g.command(ctx, wire.Packet{Opcode: wire.OpList, Path: dir})
	if err != nil {
		return nil, err
	}

	g.cache.Remember(dir)
	for _, e := range resp.Entries {
		if e.IsDir() {
			g.cache.Remember(path.Join(dir, e.Name))
		}
	}
	return resp.Entries, nil
}

// MakeDir creates dir unless the directory cache already knows it. The
// parent must exist; use EnsureDir to create a whole chain.
func (g *Gateway) MakeDir(ctx context.Context, dir string) error {
	dir = dircache.Clean(dir)
	if g.cache.Has(dir) {
		return nil
	}
	return g.mkdir(ctx, dir)
}

// EnsureDir creates every directory of the chain leading to dir that the
// cache does not know yet.
func (g *Gateway) EnsureDir(ctx context.Context, dir string) error {
	for _, d := range g.cache.Missing(dir) {
		if err := g.mkdir(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// mkdir sends MKDIR for dir. The firmware reports an error for a directory
// that already exists, so a failed MKDIR is checked against the parent's
// listing before it is returned.
func (g *Gateway) mkdir(ctx context.Context, dir string) error {
	_, err := g.command(ctx, wire.Packet{Opcode: wire.OpMkdir, Path: dir})
	if errors.Is(err, wire.ErrDeviceStatus) {
		if exists, lerr := g.dirExists(ctx, dir); lerr == nil && exists {
			g.logger.Debug("directory already exists", "path", dir)
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	g.cache.Remember(dir)
	g.logger.Debug("directory created", "path", dir)
	return nil
}

func (g *Gateway) dirExists(ctx context.Context, dir string) (bool, error) {
	parent, name := path.Split(dir)
	entries, err := g.List(ctx, parent)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(e.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// Remove deletes a file or an empty directory and forgets it in the cache.
func (g *Gateway) Remove(ctx context.Context, p string) error {
	p = dircache.Clean(p)
	if p == dircache.Root {
		return fmt.Errorf("%w: cannot remove the root", ErrInvalidPath)
	}
	if _, err := g.command(ctx, wire.Packet{Opcode: wire.OpRemove, Path: p}); err != nil {
		return err
	}
	g.cache.Forget(p)
	return nil
}

// Rename moves from to to. A renamed directory is forgotten under its old
// name; the new name is learned on the next listing or MakeDir.
func (g *Gateway) Rename(ctx context.Context, from, to string) error {
	from, to = dircache.Clean(from), dircache.Clean(to)
	if from == dircache.Root || to == dircache.Root {
		return fmt.Errorf("%w: cannot rename the root", ErrInvalidPath)
	}
	if _, err := g.command(ctx, wire.Packet{Opcode: wire.OpMove, Path: from, Target: to}); err != nil {
		return err
	}
	g.cache.Forget(from)
	return nil
}
