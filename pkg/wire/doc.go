// Package wire defines the frame format spoken by the flash cartridge.
//
// The serial link carries fixed 512-byte frames. Every frame starts with
// the "USBA" magic and a small header, followed by an operand region whose
// layout depends on the opcode:
//
//	┌──────────┬────────┬──────┬───────┬──────────────────────────┐
//	│ 0..3     │ 4      │ 5    │ 6     │ 7..511                   │
//	│ "USBA"   │ opcode │ 0x20 │ flags │ operands (zero-padded)   │
//	└──────────┴────────┴──────┴───────┴──────────────────────────┘
//
// # Operands
//
// Path opcodes (GET, PUT, LS, MKDIR, RM, BOOT) carry a NUL-terminated path
// at offset 8. GET and PUT additionally carry a big-endian size at offset
// 252. MV carries its destination path at offset 256.
//
// Address opcodes (VGET, VPUT) carry up to MaxRanges tuples starting at
// offset 32. Each tuple is a 16-bit length followed by a 24-bit address,
// both big-endian.
//
// # Replies
//
// The cartridge answers with a RESPONSE frame using the same header. The
// reply status lives at offset 7; GET replies carry the file size at 252
// and INFO replies carry the ROM name, version and firmware strings.
//
// # Hub
//
// The same commands can be relayed through a WebSocket hub which speaks
// JSON requests ({Opcode, Space, Flags, Operands}) followed by an optional
// binary payload. HubRequestFor translates a Packet into that form.
package wire
