package gateway

import (
	"context"
	"fmt"

	"github.com/cartlink/cartlink-go/pkg/transport"
	"github.com/cartlink/cartlink-go/pkg/wire"
)

// ReadBatch reads every range in one VGET round trip. The result has one
// slice per range, in request order. Ranges are neither merged nor
// deduplicated.
func (g *Gateway) ReadBatch(ctx context.Context, ranges []wire.AddressRange) ([][]byte, error) {
	if err := checkBatch(len(ranges)); err != nil {
		return nil, err
	}

	resp, err := g.command(ctx, wire.Packet{Opcode: wire.OpVGet, Ranges: ranges})
	if err != nil {
		return nil, err
	}

	total := wire.TotalLength(ranges)
	if len(resp.Data) < total {
		return nil, fmt.Errorf("%w: VGET returned %d of %d bytes", wire.ErrProtocol, len(resp.Data), total)
	}

	out := make([][]byte, len(ranges))
	off := 0
	for i, r := range ranges {
		out[i] = resp.Data[off : off+int(r.Length) : off+int(r.Length)]
		off += int(r.Length)
	}
	return out, nil
}

// ReadOne reads n bytes at addr.
func (g *Gateway) ReadOne(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if n <= 0 || n > 0xFFFF {
		return nil, fmt.Errorf("%w: length %d", wire.ErrInvalidRange, n)
	}
	out, err := g.ReadBatch(ctx, []wire.AddressRange{{Address: addr, Length: uint16(n)}})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// WriteBatch writes every element in one VPUT round trip. Either the whole
// batch is sent or none of it is.
func (g *Gateway) WriteBatch(ctx context.Context, writes []wire.Write) error {
	if err := checkBatch(len(writes)); err != nil {
		return err
	}

	ranges := make([]wire.AddressRange, len(writes))
	var payload []byte
	for i, w := range writes {
		r, err := w.Range()
		if err != nil {
			return err
		}
		ranges[i] = r
		payload = append(payload, w.Data...)
	}

	_, err := g.send(ctx, &transport.Exchange{
		Packet:  wire.Packet{Opcode: wire.OpVPut, Ranges: ranges},
		Payload: payload,
	})
	return err
}

// WriteOne writes data at addr.
func (g *Gateway) WriteOne(ctx context.Context, addr uint32, data []byte) error {
	return g.WriteBatch(ctx, []wire.Write{{Address: addr, Data: data}})
}

func checkBatch(n int) error {
	if n == 0 {
		return ErrEmptyBatch
	}
	if n > wire.MaxRanges {
		return fmt.Errorf("%w: %d elements > %d", wire.ErrBatchTooLarge, n, wire.MaxRanges)
	}
	return nil
}
