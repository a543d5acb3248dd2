package wasm

// Opcodes, per the Wasm 1.0 MVP core spec plus the sign-extension proposal
// opcodes spec.md §6 folds into the binary format. Synthetic opcodes
// (opDrop64, opSelect64, opGetGlobal64, opSetGlobal64) are written back into
// the bytecode by the validator (§4.5, §9 "Opcode rewrites") so the
// interpreter's dispatch stays O(1) without re-inspecting static types.
const (
	opUnreachable byte = 0x00
	opNop         byte = 0x01
	opBlock       byte = 0x02
	opLoop        byte = 0x03
	opIf          byte = 0x04
	opElse        byte = 0x05
	opEnd         byte = 0x0b
	opBr          byte = 0x0c
	opBrIf        byte = 0x0d
	opBrTable     byte = 0x0e
	opReturn      byte = 0x0f
	opCall        byte = 0x10
	opCallIndirect byte = 0x11

	opDrop   byte = 0x1a
	opSelect byte = 0x1b

	opGetLocal  byte = 0x20
	opSetLocal  byte = 0x21
	opTeeLocal  byte = 0x22
	opGetGlobal byte = 0x23
	opSetGlobal byte = 0x24

	opI32Load    byte = 0x28
	opI64Load    byte = 0x29
	opF32Load    byte = 0x2a
	opF64Load    byte = 0x2b
	opI32Load8S  byte = 0x2c
	opI32Load8U  byte = 0x2d
	opI32Load16S byte = 0x2e
	opI32Load16U byte = 0x2f
	opI64Load8S  byte = 0x30
	opI64Load8U  byte = 0x31
	opI64Load16S byte = 0x32
	opI64Load16U byte = 0x33
	opI64Load32S byte = 0x34
	opI64Load32U byte = 0x35
	opI32Store   byte = 0x36
	opI64Store   byte = 0x37
	opF32Store   byte = 0x38
	opF64Store   byte = 0x39
	opI32Store8  byte = 0x3a
	opI32Store16 byte = 0x3b
	opI64Store8  byte = 0x3c
	opI64Store16 byte = 0x3d
	opI64Store32 byte = 0x3e
	opMemorySize byte = 0x3f
	opMemoryGrow byte = 0x40

	opI32Const byte = 0x41
	opI64Const byte = 0x42
	opF32Const byte = 0x43
	opF64Const byte = 0x44

	opI32Eqz byte = 0x45
	opI32Eq  byte = 0x46
	opI32Ne  byte = 0x47
	opI32LtS byte = 0x48
	opI32LtU byte = 0x49
	opI32GtS byte = 0x4a
	opI32GtU byte = 0x4b
	opI32LeS byte = 0x4c
	opI32LeU byte = 0x4d
	opI32GeS byte = 0x4e
	opI32GeU byte = 0x4f

	opI64Eqz byte = 0x50
	opI64Eq  byte = 0x51
	opI64Ne  byte = 0x52
	opI64LtS byte = 0x53
	opI64LtU byte = 0x54
	opI64GtS byte = 0x55
	opI64GtU byte = 0x56
	opI64LeS byte = 0x57
	opI64LeU byte = 0x58
	opI64GeS byte = 0x59
	opI64GeU byte = 0x5a

	opF32Eq byte = 0x5b
	opF32Ne byte = 0x5c
	opF32Lt byte = 0x5d
	opF32Gt byte = 0x5e
	opF32Le byte = 0x5f
	opF32Ge byte = 0x60

	opF64Eq byte = 0x61
	opF64Ne byte = 0x62
	opF64Lt byte = 0x63
	opF64Gt byte = 0x64
	opF64Le byte = 0x65
	opF64Ge byte = 0x66

	opI32Clz    byte = 0x67
	opI32Ctz    byte = 0x68
	opI32Popcnt byte = 0x69
	opI32Add    byte = 0x6a
	opI32Sub    byte = 0x6b
	opI32Mul    byte = 0x6c
	opI32DivS   byte = 0x6d
	opI32DivU   byte = 0x6e
	opI32RemS   byte = 0x6f
	opI32RemU   byte = 0x70
	opI32And    byte = 0x71
	opI32Or     byte = 0x72
	opI32Xor    byte = 0x73
	opI32Shl    byte = 0x74
	opI32ShrS   byte = 0x75
	opI32ShrU   byte = 0x76
	opI32Rotl   byte = 0x77
	opI32Rotr   byte = 0x78

	opI64Clz    byte = 0x79
	opI64Ctz    byte = 0x7a
	opI64Popcnt byte = 0x7b
	opI64Add    byte = 0x7c
	opI64Sub    byte = 0x7d
	opI64Mul    byte = 0x7e
	opI64DivS   byte = 0x7f
	opI64DivU   byte = 0x80
	opI64RemS   byte = 0x81
	opI64RemU   byte = 0x82
	opI64And    byte = 0x83
	opI64Or     byte = 0x84
	opI64Xor    byte = 0x85
	opI64Shl    byte = 0x86
	opI64ShrS   byte = 0x87
	opI64ShrU   byte = 0x88
	opI64Rotl   byte = 0x89
	opI64Rotr   byte = 0x8a

	opF32Abs      byte = 0x8b
	opF32Neg      byte = 0x8c
	opF32Ceil     byte = 0x8d
	opF32Floor    byte = 0x8e
	opF32Trunc    byte = 0x8f
	opF32Nearest  byte = 0x90
	opF32Sqrt     byte = 0x91
	opF32Add      byte = 0x92
	opF32Sub      byte = 0x93
	opF32Mul      byte = 0x94
	opF32Div      byte = 0x95
	opF32Min      byte = 0x96
	opF32Max      byte = 0x97
	opF32Copysign byte = 0x98

	opF64Abs      byte = 0x99
	opF64Neg      byte = 0x9a
	opF64Ceil     byte = 0x9b
	opF64Floor    byte = 0x9c
	opF64Trunc    byte = 0x9d
	opF64Nearest  byte = 0x9e
	opF64Sqrt     byte = 0x9f
	opF64Add      byte = 0xa0
	opF64Sub      byte = 0xa1
	opF64Mul      byte = 0xa2
	opF64Div      byte = 0xa3
	opF64Min      byte = 0xa4
	opF64Max      byte = 0xa5
	opF64Copysign byte = 0xa6

	opI32WrapI64        byte = 0xa7
	opI32TruncSF32      byte = 0xa8
	opI32TruncUF32      byte = 0xa9
	opI32TruncSF64      byte = 0xaa
	opI32TruncUF64      byte = 0xab
	opI64ExtendSI32     byte = 0xac
	opI64ExtendUI32     byte = 0xad
	opI64TruncSF32      byte = 0xae
	opI64TruncUF32      byte = 0xaf
	opI64TruncSF64      byte = 0xb0
	opI64TruncUF64      byte = 0xb1
	opF32ConvertSI32    byte = 0xb2
	opF32ConvertUI32    byte = 0xb3
	opF32ConvertSI64    byte = 0xb4
	opF32ConvertUI64    byte = 0xb5
	opF32DemoteF64      byte = 0xb6
	opF64ConvertSI32    byte = 0xb7
	opF64ConvertUI32    byte = 0xb8
	opF64ConvertSI64    byte = 0xb9
	opF64ConvertUI64    byte = 0xba
	opF64PromoteF32     byte = 0xbb
	opI32ReinterpretF32 byte = 0xbc
	opI64ReinterpretF64 byte = 0xbd
	opF32ReinterpretI32 byte = 0xbe
	opF64ReinterpretI64 byte = 0xbf

	// Sign-extension proposal (spec.md §6 "with sign-extension").
	opI32Extend8S  byte = 0xc0
	opI32Extend16S byte = 0xc1
	opI64Extend8S  byte = 0xc2
	opI64Extend16S byte = 0xc3
	opI64Extend32S byte = 0xc4

	// Synthetic opcodes produced only by the validator's rewrite pass; never
	// present in a freshly decoded module.
	opDrop64       byte = 0xf0
	opSelect64     byte = 0xf1
	opGetGlobal64  byte = 0xf2
	opSetGlobal64  byte = 0xf3

	blockTypeEmpty byte = 0x40
)
