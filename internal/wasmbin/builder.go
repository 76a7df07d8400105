// Package wasmbin assembles core WebAssembly binaries.
//
// It is used to synthesize provider modules for host memories, globals and
// tables, and to build test modules without an external toolchain.
package wasmbin

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
)

// Extern kinds as encoded in import and export entries.
const (
	ExternFunc   byte = 0x00
	ExternTable  byte = 0x01
	ExternMemory byte = 0x02
	ExternGlobal byte = 0x03
)

const refTypeFuncref byte = 0x70

// Limits bound a memory (in pages) or table (in elements).
type Limits struct {
	Max *uint32
	Min uint32
}

// Max returns a pointer to n for Limits.Max.
func Max(n uint32) *uint32 { return &n }

type funcType struct {
	params  []api.ValueType
	results []api.ValueType
}

type importEntry struct {
	module  string
	name    string
	kind    byte
	typeIdx uint32
	limits  Limits
	valType api.ValueType
	mutable bool
}

type funcDef struct {
	locals  []api.ValueType
	body    Code
	typeIdx uint32
}

type globalDef struct {
	valType api.ValueType
	mutable bool
	init    uint64
}

type exportEntry struct {
	name  string
	kind  byte
	index uint32
}

type elemSegment struct {
	funcs  []uint32
	offset int32
}

type dataSegment struct {
	data   []byte
	offset int32
}

// Builder builds a core module. Index spaces follow the binary format:
// imports of a kind precede definitions of that kind, so imports must be added
// before any definition of the same kind.
type Builder struct {
	start    *uint32
	types    []funcType
	imports  []importEntry
	funcs    []funcDef
	tables   []Limits
	memories []Limits
	globals  []globalDef
	exports  []exportEntry
	elems    []elemSegment
	data     []dataSegment

	importedFuncs    uint32
	importedTables   uint32
	importedMemories uint32
	importedGlobals  uint32
}

// New creates an empty module builder.
func New() *Builder {
	return &Builder{}
}

// Type returns the index of the function type, adding it if needed.
func (b *Builder) Type(params, results []api.ValueType) uint32 {
	for i, t := range b.types {
		if equalTypes(t.params, params) && equalTypes(t.results, results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ImportFunc declares a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, params, results []api.ValueType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmbin: function import after function definition")
	}
	b.imports = append(b.imports, importEntry{
		module:  module,
		name:    name,
		kind:    ExternFunc,
		typeIdx: b.Type(params, results),
	})
	b.importedFuncs++
	return b.importedFuncs - 1
}

// ImportMemory declares a memory import and returns its memory index.
func (b *Builder) ImportMemory(module, name string, limits Limits) uint32 {
	if len(b.memories) > 0 {
		panic("wasmbin: memory import after memory definition")
	}
	b.imports = append(b.imports, importEntry{module: module, name: name, kind: ExternMemory, limits: limits})
	b.importedMemories++
	return b.importedMemories - 1
}

// ImportTable declares a funcref table import and returns its table index.
func (b *Builder) ImportTable(module, name string, limits Limits) uint32 {
	if len(b.tables) > 0 {
		panic("wasmbin: table import after table definition")
	}
	b.imports = append(b.imports, importEntry{module: module, name: name, kind: ExternTable, limits: limits})
	b.importedTables++
	return b.importedTables - 1
}

// ImportGlobal declares a global import and returns its global index.
func (b *Builder) ImportGlobal(module, name string, valType api.ValueType, mutable bool) uint32 {
	if len(b.globals) > 0 {
		panic("wasmbin: global import after global definition")
	}
	b.imports = append(b.imports, importEntry{
		module:  module,
		name:    name,
		kind:    ExternGlobal,
		valType: valType,
		mutable: mutable,
	})
	b.importedGlobals++
	return b.importedGlobals - 1
}

// Func defines a function and returns its function index.
func (b *Builder) Func(params, results, locals []api.ValueType, body Code) uint32 {
	b.funcs = append(b.funcs, funcDef{
		typeIdx: b.Type(params, results),
		locals:  locals,
		body:    body,
	})
	return b.importedFuncs + uint32(len(b.funcs)) - 1
}

// Memory defines a memory and returns its memory index.
func (b *Builder) Memory(limits Limits) uint32 {
	b.memories = append(b.memories, limits)
	return b.importedMemories + uint32(len(b.memories)) - 1
}

// Table defines a funcref table and returns its table index.
func (b *Builder) Table(limits Limits) uint32 {
	b.tables = append(b.tables, limits)
	return b.importedTables + uint32(len(b.tables)) - 1
}

// Global defines a global initialized from raw bits (the engine's uint64
// stack encoding) and returns its global index.
func (b *Builder) Global(valType api.ValueType, mutable bool, init uint64) uint32 {
	b.globals = append(b.globals, globalDef{valType: valType, mutable: mutable, init: init})
	return b.importedGlobals + uint32(len(b.globals)) - 1
}

// Export exports the item of the given kind and index.
func (b *Builder) Export(name string, kind byte, index uint32) *Builder {
	b.exports = append(b.exports, exportEntry{name: name, kind: kind, index: index})
	return b
}

// ExportFunc exports a function.
func (b *Builder) ExportFunc(name string, index uint32) *Builder {
	return b.Export(name, ExternFunc, index)
}

// Start sets the start function.
func (b *Builder) Start(index uint32) *Builder {
	b.start = &index
	return b
}

// Elem adds an active element segment for table 0.
func (b *Builder) Elem(offset int32, funcs ...uint32) *Builder {
	b.elems = append(b.elems, elemSegment{offset: offset, funcs: funcs})
	return b
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset int32, data []byte) *Builder {
	b.data = append(b.data, dataSegment{offset: offset, data: data})
	return b
}

// Build generates the module bytes.
func (b *Builder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		wasm = appendSection(wasm, 0x01, b.buildTypeSection())
	}
	if len(b.imports) > 0 {
		wasm = appendSection(wasm, 0x02, b.buildImportSection())
	}
	if len(b.funcs) > 0 {
		section := EncodeULEB128(uint32(len(b.funcs)))
		for _, f := range b.funcs {
			section = append(section, EncodeULEB128(f.typeIdx)...)
		}
		wasm = appendSection(wasm, 0x03, section)
	}
	if len(b.tables) > 0 {
		section := EncodeULEB128(uint32(len(b.tables)))
		for _, l := range b.tables {
			section = append(section, refTypeFuncref)
			section = appendLimits(section, l)
		}
		wasm = appendSection(wasm, 0x04, section)
	}
	if len(b.memories) > 0 {
		section := EncodeULEB128(uint32(len(b.memories)))
		for _, l := range b.memories {
			section = appendLimits(section, l)
		}
		wasm = appendSection(wasm, 0x05, section)
	}
	if len(b.globals) > 0 {
		wasm = appendSection(wasm, 0x06, b.buildGlobalSection())
	}
	if len(b.exports) > 0 {
		section := EncodeULEB128(uint32(len(b.exports)))
		for _, e := range b.exports {
			section = appendName(section, e.name)
			section = append(section, e.kind)
			section = append(section, EncodeULEB128(e.index)...)
		}
		wasm = appendSection(wasm, 0x07, section)
	}
	if b.start != nil {
		wasm = appendSection(wasm, 0x08, EncodeULEB128(*b.start))
	}
	if len(b.elems) > 0 {
		section := EncodeULEB128(uint32(len(b.elems)))
		for _, e := range b.elems {
			section = append(section, 0x00)
			section = append(section, OpI32Const)
			section = append(section, EncodeSLEB128(e.offset)...)
			section = append(section, OpEnd)
			section = append(section, EncodeULEB128(uint32(len(e.funcs)))...)
			for _, fn := range e.funcs {
				section = append(section, EncodeULEB128(fn)...)
			}
		}
		wasm = appendSection(wasm, 0x09, section)
	}
	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, 0x0a, b.buildCodeSection())
	}
	if len(b.data) > 0 {
		section := EncodeULEB128(uint32(len(b.data)))
		for _, d := range b.data {
			section = append(section, 0x00)
			section = append(section, OpI32Const)
			section = append(section, EncodeSLEB128(d.offset)...)
			section = append(section, OpEnd)
			section = append(section, EncodeULEB128(uint32(len(d.data)))...)
			section = append(section, d.data...)
		}
		wasm = appendSection(wasm, 0x0b, section)
	}

	return wasm
}

func (b *Builder) buildTypeSection() []byte {
	section := EncodeULEB128(uint32(len(b.types)))
	for _, t := range b.types {
		section = append(section, 0x60)
		section = appendValTypes(section, t.params)
		section = appendValTypes(section, t.results)
	}
	return section
}

func (b *Builder) buildImportSection() []byte {
	section := EncodeULEB128(uint32(len(b.imports)))
	for _, imp := range b.imports {
		section = appendName(section, imp.module)
		section = appendName(section, imp.name)
		section = append(section, imp.kind)
		switch imp.kind {
		case ExternFunc:
			section = append(section, EncodeULEB128(imp.typeIdx)...)
		case ExternTable:
			section = append(section, refTypeFuncref)
			section = appendLimits(section, imp.limits)
		case ExternMemory:
			section = appendLimits(section, imp.limits)
		case ExternGlobal:
			section = append(section, imp.valType, mutability(imp.mutable))
		}
	}
	return section
}

func (b *Builder) buildGlobalSection() []byte {
	section := EncodeULEB128(uint32(len(b.globals)))
	for _, g := range b.globals {
		section = append(section, g.valType, mutability(g.mutable))
		section = append(section, constExpr(g.valType, g.init)...)
	}
	return section
}

func (b *Builder) buildCodeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		var body []byte
		// locals are run-length grouped by type
		var groups [][2]uint32
		for _, l := range f.locals {
			if n := len(groups); n > 0 && groups[n-1][1] == uint32(l) {
				groups[n-1][0]++
				continue
			}
			groups = append(groups, [2]uint32{1, uint32(l)})
		}
		body = append(body, EncodeULEB128(uint32(len(groups)))...)
		for _, g := range groups {
			body = append(body, EncodeULEB128(g[0])...)
			body = append(body, byte(g[1]))
		}
		body = append(body, f.body...)
		body = append(body, OpEnd)

		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

func mutability(mutable bool) byte {
	if mutable {
		return 0x01
	}
	return 0x00
}

func constExpr(t api.ValueType, bits uint64) []byte {
	var expr []byte
	switch t {
	case api.ValueTypeI32:
		expr = append(expr, OpI32Const)
		expr = append(expr, EncodeSLEB128(int32(uint32(bits)))...)
	case api.ValueTypeI64:
		expr = append(expr, OpI64Const)
		expr = append(expr, EncodeSLEB128(int64(bits))...)
	case api.ValueTypeF32:
		expr = append(expr, OpF32Const)
		expr = binary.LittleEndian.AppendUint32(expr, uint32(bits))
	case api.ValueTypeF64:
		expr = append(expr, OpF64Const)
		expr = binary.LittleEndian.AppendUint64(expr, bits)
	default:
		panic(fmt.Sprintf("wasmbin: unsupported global type 0x%x", t))
	}
	return append(expr, OpEnd)
}

// F64Bits and F32Bits convert floats to the raw global encoding.
func F64Bits(v float64) uint64 { return math.Float64bits(v) }
func F32Bits(v float32) uint64 { return uint64(math.Float32bits(v)) }
