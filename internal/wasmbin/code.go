package wasmbin

import (
	"encoding/binary"
	"math"
)

// Instruction opcodes used by generated function bodies.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0b
	OpBr           byte = 0x0c
	OpBrIf         byte = 0x0d
	OpReturn       byte = 0x0f
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop         byte = 0x1a
	OpLocalGet     byte = 0x20
	OpLocalSet     byte = 0x21
	OpLocalTee     byte = 0x22
	OpGlobalGet    byte = 0x23
	OpGlobalSet    byte = 0x24
	OpI32Load      byte = 0x28
	OpI64Load      byte = 0x29
	OpI32Load8U    byte = 0x2d
	OpI32Store     byte = 0x36
	OpI64Store     byte = 0x37
	OpI32Store8    byte = 0x3a
	OpMemorySize   byte = 0x3f
	OpMemoryGrow   byte = 0x40
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
	OpF32Const     byte = 0x43
	OpF64Const     byte = 0x44
	OpI32Eqz       byte = 0x45
	OpI32Eq        byte = 0x46
	OpI32LtS       byte = 0x48
	OpI32Add       byte = 0x6a
	OpI32Sub       byte = 0x6b
	OpI32Mul       byte = 0x6c
	OpI32DivS      byte = 0x6d
	OpI32DivU      byte = 0x6e
	OpI32RemS      byte = 0x6f
	OpI64Add       byte = 0x7c
	OpI64Mul       byte = 0x7e
	OpI64DivS      byte = 0x7f
	OpF32Add       byte = 0x92
	OpF64Add       byte = 0xa0
	OpF64Mul       byte = 0xa2
	OpF64Div       byte = 0xa3
	OpI32TruncF64S byte = 0xaa
)

// BlockEmpty is the block type of a block/loop/if that yields nothing.
const BlockEmpty byte = 0x40

// Code is a function body under construction. Methods append and return the
// extended body so calls chain:
//
//	body := wasmbin.Code{}.LocalGet(0).LocalGet(1).Op(wasmbin.OpI32DivS)
//
// The terminating end opcode is added by Builder.
type Code []byte

// Op appends raw opcodes.
func (c Code) Op(ops ...byte) Code {
	return append(c, ops...)
}

func (c Code) LocalGet(i uint32) Code {
	return append(append(c, OpLocalGet), EncodeULEB128(i)...)
}

func (c Code) LocalSet(i uint32) Code {
	return append(append(c, OpLocalSet), EncodeULEB128(i)...)
}

func (c Code) GlobalGet(i uint32) Code {
	return append(append(c, OpGlobalGet), EncodeULEB128(i)...)
}

func (c Code) GlobalSet(i uint32) Code {
	return append(append(c, OpGlobalSet), EncodeULEB128(i)...)
}

func (c Code) Call(fn uint32) Code {
	return append(append(c, OpCall), EncodeULEB128(fn)...)
}

// CallIndirect calls through table 0 using the given type index.
func (c Code) CallIndirect(typeIdx uint32) Code {
	c = append(append(c, OpCallIndirect), EncodeULEB128(typeIdx)...)
	return append(c, 0x00)
}

func (c Code) I32Const(v int32) Code {
	return append(append(c, OpI32Const), EncodeSLEB128(v)...)
}

func (c Code) I64Const(v int64) Code {
	return append(append(c, OpI64Const), EncodeSLEB128(v)...)
}

func (c Code) F32Const(v float32) Code {
	return binary.LittleEndian.AppendUint32(append(c, OpF32Const), math.Float32bits(v))
}

func (c Code) F64Const(v float64) Code {
	return binary.LittleEndian.AppendUint64(append(c, OpF64Const), math.Float64bits(v))
}

// Mem appends a load or store with alignment exponent and offset immediates.
func (c Code) Mem(op byte, align, offset uint32) Code {
	c = append(c, op)
	c = append(c, EncodeULEB128(align)...)
	return append(c, EncodeULEB128(offset)...)
}

func (c Code) MemorySize() Code { return append(c, OpMemorySize, 0x00) }
func (c Code) MemoryGrow() Code { return append(c, OpMemoryGrow, 0x00) }
