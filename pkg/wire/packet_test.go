package wire

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{"get file", Packet{Opcode: OpGet, Path: "/sd2snes/save.srm"}},
		{"put file", Packet{Opcode: OpPut, Path: "/work/run250101_1200/01.sfc", Size: 0x80000}},
		{"vget single", Packet{Opcode: OpVGet, Flags: FlagData64B, Ranges: []AddressRange{
			{Address: WRAMStart + 0x0100, Length: 1},
		}}},
		{"vget full batch", Packet{Opcode: OpVGet, Ranges: []AddressRange{
			{Address: 0xF50010, Length: 1},
			{Address: 0xF50013, Length: 2},
			{Address: 0xF50071, Length: 1},
			{Address: 0xF50100, Length: 1},
			{Address: 0xF513BF, Length: 1},
			{Address: 0xF51493, Length: 1},
			{Address: 0xE00000, Length: 0xFF},
			{Address: 0x000000, Length: 0x80},
		}}},
		{"vput", Packet{Opcode: OpVPut, Ranges: []AddressRange{
			{Address: 0xF50DBF, Length: 1},
			{Address: 0xF50019, Length: 1},
		}}},
		{"list", Packet{Opcode: OpList, Path: "/"}},
		{"mkdir", Packet{Opcode: OpMkdir, Path: "/work"}},
		{"remove", Packet{Opcode: OpRemove, Path: "/work/old.sfc"}},
		{"move", Packet{Opcode: OpMove, Path: "/a.sfc", Target: "/b.sfc"}},
		{"boot", Packet{Opcode: OpBoot, Path: "/work/hack.sfc"}},
		{"reset", Packet{Opcode: OpReset, Flags: FlagNoResponse}},
		{"power cycle", Packet{Opcode: OpPowerCycle}},
		{"info", Packet{Opcode: OpInfo}},
		{"menu", Packet{Opcode: OpMenuReset, Flags: FlagNoResponse}},
		{"stream", Packet{Opcode: OpStream, Flags: FlagStreamBurst}},
		{"max path", Packet{Opcode: OpList, Path: "/" + strings.Repeat("a", MaxPathLen-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.pkt)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(buf) != PacketSize {
				t.Fatalf("frame length = %d, want %d", len(buf), PacketSize)
			}
			if !bytes.Equal(buf[0:4], []byte("USBA")) {
				t.Errorf("magic = % x", buf[0:4])
			}
			if buf[4] != byte(tt.pkt.Opcode) || buf[5] != Separator || buf[6] != byte(tt.pkt.Flags) {
				t.Errorf("header = % x", buf[4:7])
			}

			got, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.pkt) {
				t.Errorf("round trip = %+v, want %+v", got, tt.pkt)
			}
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	t.Run("PathAndSize", func(t *testing.T) {
		buf, err := Encode(Packet{Opcode: OpPut, Path: "/a", Size: 0x01020304})
		if err != nil {
			t.Fatal(err)
		}
		if string(buf[8:10]) != "/a" || buf[10] != 0 {
			t.Errorf("path bytes = % x", buf[8:11])
		}
		if !bytes.Equal(buf[252:256], []byte{1, 2, 3, 4}) {
			t.Errorf("size bytes = % x", buf[252:256])
		}
	})

	t.Run("RangeTuple", func(t *testing.T) {
		buf, err := Encode(Packet{Opcode: OpVGet, Ranges: []AddressRange{{Address: 0xF5ABCD, Length: 0x02}}})
		if err != nil {
			t.Fatal(err)
		}
		want := []byte{0x02, 0x00, 0xF5, 0xAB, 0xCD}
		if !bytes.Equal(buf[32:37], want) {
			t.Errorf("tuple = % x, want % x", buf[32:37], want)
		}
		if !bytes.Equal(buf[37:42], make([]byte, 5)) {
			t.Errorf("padding after last tuple = % x", buf[37:42])
		}
	})

	t.Run("ZeroPadded", func(t *testing.T) {
		buf, err := Encode(Packet{Opcode: OpInfo})
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf[7:], make([]byte, PacketSize-7)) {
			t.Error("operand region of INFO is not zero")
		}
	})
}

func TestDecodeRejects(t *testing.T) {
	valid, err := Encode(Packet{Opcode: OpInfo})
	if err != nil {
		t.Fatal(err)
	}

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return f(b)
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"bad magic", mutate(func(b []byte) []byte { copy(b, "USBB"); return b })},
		{"lower case magic", mutate(func(b []byte) []byte { copy(b, "usba"); return b })},
		{"zero magic", mutate(func(b []byte) []byte { copy(b, []byte{0, 0, 0, 0}); return b })},
		{"bad separator", mutate(func(b []byte) []byte { b[5] = 0x00; return b })},
		{"unknown opcode", mutate(func(b []byte) []byte { b[4] = 0x0E; return b })},
		{"response opcode", mutate(func(b []byte) []byte { b[4] = byte(OpResponse); return b })},
		{"short", valid[:100]},
		{"long", append(append([]byte(nil), valid...), 0)},
		{"vget without ranges", mutate(func(b []byte) []byte { b[4] = byte(OpVGet); return b })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf)
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("Decode error = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	tooMany := make([]AddressRange, MaxRanges+1)
	for i := range tooMany {
		tooMany[i] = AddressRange{Address: uint32(WRAMStart + i), Length: 1}
	}

	tests := []struct {
		name string
		pkt  Packet
		want error
	}{
		{"too many ranges", Packet{Opcode: OpVGet, Ranges: tooMany}, ErrBatchTooLarge},
		{"no ranges", Packet{Opcode: OpVGet}, ErrInvalidPacket},
		{"zero length", Packet{Opcode: OpVGet, Ranges: []AddressRange{{Address: 1}}}, ErrInvalidRange},
		{"address over 24 bits", Packet{Opcode: OpVGet, Ranges: []AddressRange{{Address: 0x1000000, Length: 1}}}, ErrInvalidRange},
		{"range wraps", Packet{Opcode: OpVGet, Ranges: []AddressRange{{Address: 0xFFFFFF, Length: 2}}}, ErrInvalidRange},
		{"tuple over 255 bytes", Packet{Opcode: OpVGet, Ranges: []AddressRange{{Address: WRAMStart, Length: MaxTupleLength + 1}}}, ErrInvalidRange},
		{"missing path", Packet{Opcode: OpList}, ErrInvalidPacket},
		{"path too long", Packet{Opcode: OpList, Path: strings.Repeat("a", MaxPathLen+1)}, ErrInvalidPacket},
		{"path with NUL", Packet{Opcode: OpList, Path: "/a\x00b"}, ErrInvalidPacket},
		{"path on info", Packet{Opcode: OpInfo, Path: "/"}, ErrInvalidPacket},
		{"size on list", Packet{Opcode: OpList, Path: "/", Size: 1}, ErrInvalidPacket},
		{"ranges on list", Packet{Opcode: OpList, Path: "/", Ranges: []AddressRange{{Address: 1, Length: 1}}}, ErrInvalidPacket},
		{"move without target", Packet{Opcode: OpMove, Path: "/a"}, ErrInvalidPacket},
		{"response opcode", Packet{Opcode: OpResponse}, ErrInvalidPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.pkt)
			if !errors.Is(err, tt.want) {
				t.Errorf("Encode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSplitFrames(t *testing.T) {
	tests := []struct {
		name   string
		ranges []AddressRange
		want   [][]AddressRange
	}{
		{"fits one frame", []AddressRange{{Address: 0xF50010, Length: 1}, {Address: 0xF50013, Length: 255}},
			[][]AddressRange{{{Address: 0xF50010, Length: 1}, {Address: 0xF50013, Length: 255}}}},
		{"long range cut into tuples", []AddressRange{{Address: 0xE00000, Length: 600}},
			[][]AddressRange{{
				{Address: 0xE00000, Length: 255},
				{Address: 0xE000FF, Length: 255},
				{Address: 0xE001FE, Length: 90},
			}}},
		{"spills into second frame", []AddressRange{{Address: 0xE00000, Length: 2048}},
			[][]AddressRange{
				{
					{Address: 0xE00000, Length: 255}, {Address: 0xE000FF, Length: 255},
					{Address: 0xE001FE, Length: 255}, {Address: 0xE002FD, Length: 255},
					{Address: 0xE003FC, Length: 255}, {Address: 0xE004FB, Length: 255},
					{Address: 0xE005FA, Length: 255}, {Address: 0xE006F9, Length: 255},
				},
				{{Address: 0xE007F8, Length: 8}},
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitFrames(tt.ranges)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("SplitFrames = %v, want %v", got, tt.want)
			}
			total := 0
			for _, frame := range got {
				if _, err := Encode(Packet{Opcode: OpVGet, Ranges: frame}); err != nil {
					t.Errorf("frame %v does not encode: %v", frame, err)
				}
				total += TotalLength(frame)
			}
			if total != TotalLength(tt.ranges) {
				t.Errorf("frames cover %d bytes, want %d", total, TotalLength(tt.ranges))
			}
		})
	}
}

func TestWriteRange(t *testing.T) {
	r, err := Write{Address: 0xF50019, Data: []byte{1, 2, 3}}.Range()
	if err != nil {
		t.Fatal(err)
	}
	if r != (AddressRange{Address: 0xF50019, Length: 3}) {
		t.Errorf("Range() = %v", r)
	}

	if _, err := (Write{Address: 0xF50000}).Range(); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty write error = %v, want ErrInvalidRange", err)
	}
	if _, err := (Write{Address: 0, Data: make([]byte, 0x10000)}).Range(); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("oversized write error = %v, want ErrInvalidRange", err)
	}
}

func TestFlagsString(t *testing.T) {
	if got := FlagNone.String(); got != "NONE" {
		t.Errorf("FlagNone.String() = %q", got)
	}
	if got := (FlagNoResponse | FlagSkipReset).String(); got != "SKIPRESET|NORESP" {
		t.Errorf("String() = %q", got)
	}
}
