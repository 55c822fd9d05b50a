package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// fillPattern gives every byte of WRAM a value derived from its address.
func fillPattern(d *fakeDevice) {
	for a := uint32(0); a < 0x400; a++ {
		d.mem[wire.WRAMStart+a] = byte(a*7 + a>>8)
	}
}

func expected(d *fakeDevice, r wire.AddressRange) []byte {
	out := make([]byte, r.Length)
	for i := range out {
		out[i] = d.mem[r.Address+uint32(i)]
	}
	return out
}

func TestReadBatchPreservesOrder(t *testing.T) {
	all := []wire.AddressRange{
		{Address: wire.WRAMStart + 0x300, Length: 4},
		{Address: wire.WRAMStart + 0x010, Length: 1},
		{Address: wire.WRAMStart + 0x200, Length: 16},
		{Address: wire.WRAMStart + 0x010, Length: 2}, // repeated address
		{Address: wire.WRAMStart + 0x0FF, Length: 3},
		{Address: wire.WRAMStart + 0x000, Length: 8},
	}

	for _, n := range []int{1, 2, 6} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			d := newFakeDevice()
			fillPattern(d)
			g := newConnectedGateway(t, d)

			ranges := all[:n]
			out, err := g.ReadBatch(context.Background(), ranges)
			require.NoError(t, err)
			require.Len(t, out, n)
			for i, r := range ranges {
				assert.Equal(t, expected(d, r), out[i], "range %d (%s)", i, r)
			}
			assert.Equal(t, 1, d.count(wire.OpVGet), "one round trip per batch")
		})
	}
}

func TestReadBatchLimits(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)
	ctx := context.Background()

	_, err := g.ReadBatch(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	tooMany := make([]wire.AddressRange, wire.MaxRanges+1)
	for i := range tooMany {
		tooMany[i] = wire.AddressRange{Address: wire.WRAMStart + uint32(i), Length: 1}
	}
	_, err = g.ReadBatch(ctx, tooMany)
	assert.ErrorIs(t, err, wire.ErrBatchTooLarge)

	_, err = g.ReadBatch(ctx, tooMany[:wire.MaxRanges])
	assert.NoError(t, err)

	_, err = g.ReadOne(ctx, wire.WRAMStart, 0)
	assert.ErrorIs(t, err, wire.ErrInvalidRange)

	assert.Equal(t, 1, d.count(wire.OpVGet))
}

func TestReadBatchShortReply(t *testing.T) {
	d := newFakeDevice()
	d.shortRead = true
	g := newConnectedGateway(t, d)

	_, err := g.ReadBatch(context.Background(), []wire.AddressRange{{Address: wire.WRAMStart, Length: 4}})
	assert.ErrorIs(t, err, wire.ErrProtocol)
	assert.Equal(t, connection.StateAttached, g.Status().State, "protocol errors keep the link")
}

func TestWriteBatch(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)
	ctx := context.Background()

	writes := []wire.Write{
		{Address: wire.WRAMStart + 0x19, Data: []byte{0x02}},
		{Address: wire.WRAMStart + 0xDBF, Data: []byte{0x63, 0x00}},
		{Address: wire.SRAMStart, Data: []byte("SAVE")},
	}
	require.NoError(t, g.WriteBatch(ctx, writes))
	assert.Equal(t, 1, d.count(wire.OpVPut))

	out, err := g.ReadBatch(ctx, []wire.AddressRange{
		{Address: wire.SRAMStart, Length: 4},
		{Address: wire.WRAMStart + 0x19, Length: 1},
		{Address: wire.WRAMStart + 0xDBF, Length: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("SAVE"), {0x02}, {0x63, 0x00}}, out)

	require.NoError(t, g.WriteOne(ctx, wire.WRAMStart, []byte{0xAA}))
	got, err := g.ReadOne(ctx, wire.WRAMStart, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, got)
}

func TestWriteBatchRejectsBeforeSending(t *testing.T) {
	d := newFakeDevice()
	g := newConnectedGateway(t, d)
	ctx := context.Background()

	assert.ErrorIs(t, g.WriteBatch(ctx, nil), ErrEmptyBatch)

	err := g.WriteBatch(ctx, []wire.Write{
		{Address: wire.WRAMStart, Data: []byte{1}},
		{Address: wire.MaxAddress + 1, Data: []byte{2}},
	})
	assert.ErrorIs(t, err, wire.ErrInvalidRange)

	err = g.WriteBatch(ctx, []wire.Write{{Address: wire.WRAMStart}})
	assert.ErrorIs(t, err, wire.ErrInvalidRange, "zero-length write")

	assert.Zero(t, d.count(wire.OpVPut))
	assert.Zero(t, d.mem[wire.WRAMStart], "atomic: nothing written")
}
