package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartlink/cartlink-go/pkg/wire"
)

func TestMakeDirIdempotent(t *testing.T) {
	d := newFakeDevice()
	d.dirs["/work"] = true
	g := newConnectedGateway(t, d)
	g.Cache().Remember("/work")
	ctx := context.Background()

	require.NoError(t, g.MakeDir(ctx, "/work/run1"))
	require.NoError(t, g.MakeDir(ctx, "/work/run1"))
	require.NoError(t, g.MakeDir(ctx, "/WORK/Run1/"))

	assert.Equal(t, 1, d.count(wire.OpMkdir))
	assert.True(t, d.hasDir("/work/run1"))
	assert.True(t, g.Cache().Has("/work/run1"))
}

func TestMakeDirRootIsNoop(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)

	require.NoError(t, g.MakeDir(context.Background(), "/"))
	assert.Empty(t, d.ops)
}

func TestMakeDirExistingOnDevice(t *testing.T) {
	d := newFakeDevice()
	d.dirs["/games"] = true
	g := newConnectedGateway(t, d)

	require.NoError(t, g.MakeDir(context.Background(), "/Games"))
	assert.Equal(t, 1, d.count(wire.OpMkdir))
	assert.Equal(t, 1, d.count(wire.OpList), "existence checked through the parent listing")
	assert.True(t, g.Cache().Has("/games"))
}

func TestMakeDirMissingParent(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)

	err := g.MakeDir(context.Background(), "/work/run1")
	assert.ErrorIs(t, err, wire.ErrDeviceStatus)
	assert.False(t, g.Cache().Has("/work/run1"))
}

func TestEnsureDirCreatesChain(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)
	ctx := context.Background()

	require.NoError(t, g.EnsureDir(ctx, "/work/run1/sub"))
	require.NoError(t, g.EnsureDir(ctx, "/work/run1/sub"))

	assert.Equal(t, 3, d.count(wire.OpMkdir))
	assert.True(t, d.hasDir("/work/run1/sub"))
}

func TestCacheSurvivesReconnect(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)
	ctx := context.Background()

	require.NoError(t, g.MakeDir(ctx, "/work"))
	g.Disconnect()
	assert.True(t, g.Cache().Has("/work"), "disconnect keeps the cache")

	connect(t, g)
	require.NoError(t, g.MakeDir(ctx, "/work"))
	assert.Equal(t, 1, d.count(wire.OpMkdir))
}

func TestListRemembersDirectories(t *testing.T) {
	d := newFakeDevice()
	d.dirs["/work"] = true
	d.dirs["/work/run1"] = true
	d.files["/work/a.sfc"] = []byte{1}
	g := newConnectedGateway(t, d)

	entries, err := g.List(context.Background(), "/work")
	require.NoError(t, err)
	assert.Equal(t, []wire.Entry{
		{Name: "a.sfc", Type: wire.EntryFile},
		{Name: "run1", Type: wire.EntryDir},
	}, sortedEntries(entries))

	assert.True(t, g.Cache().Has("/work"))
	assert.True(t, g.Cache().Has("/work/run1"))
	assert.False(t, g.Cache().Has("/work/a.sfc"))
}

func sortedEntries(in []wire.Entry) []wire.Entry {
	out := append([]wire.Entry(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Name < out[j-1].Name; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func TestRemoveAndRenameForget(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)
	ctx := context.Background()

	require.NoError(t, g.EnsureDir(ctx, "/work/old/sub"))
	require.NoError(t, g.Rename(ctx, "/work/old", "/work/new"))
	assert.False(t, g.Cache().Has("/work/old"))
	assert.False(t, g.Cache().Has("/work/old/sub"))
	assert.True(t, g.Cache().Has("/work"))

	require.NoError(t, g.MakeDir(ctx, "/work/gone"))
	require.NoError(t, g.Remove(ctx, "/work/gone"))
	assert.False(t, g.Cache().Has("/work/gone"))

	assert.ErrorIs(t, g.Remove(ctx, "/"), ErrInvalidPath)
	assert.ErrorIs(t, g.Rename(ctx, "/work", "/"), ErrInvalidPath)
}

func TestControlCommandsSkipReply(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)
	ctx := context.Background()

	require.NoError(t, g.Boot(ctx, "/work/a.sfc"))
	require.NoError(t, g.Reset(ctx))
	require.NoError(t, g.Menu(ctx))
	assert.ErrorIs(t, g.Boot(ctx, "/"), ErrInvalidPath)

	require.Len(t, d.ops, 3)
	assert.Equal(t, wire.OpBoot, d.ops[0].Opcode)
	assert.Equal(t, "/work/a.sfc", d.ops[0].Path)
	assert.Equal(t, wire.OpReset, d.ops[1].Opcode)
	assert.Equal(t, wire.OpMenuReset, d.ops[2].Opcode)
	for _, p := range d.ops {
		assert.Equal(t, wire.FlagNoResponse, p.Flags&wire.FlagNoResponse, p.Opcode.String())
	}
}

func TestInfo(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)

	dev, err := g.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/sd2snes/menu.bin", dev.ROMRunning)
}
