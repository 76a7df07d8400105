package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wabin/binary"
	"github.com/tetratelabs/wabin/wasm"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// ExternKind is the kind of an import or export.
type ExternKind byte

const (
	KindFunc   ExternKind = 0x00
	KindTable  ExternKind = 0x01
	KindMemory ExternKind = 0x02
	KindGlobal ExternKind = 0x03
)

func (k ExternKind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	}
	return fmt.Sprintf("extern(0x%02x)", byte(k))
}

// ExportInfo describes one export in declaration order.
type ExportInfo struct {
	Name string
	Kind ExternKind
	// Params and Results are set for functions.
	Params  []api.ValueType
	Results []api.ValueType
}

// ImportInfo describes one import in declaration order.
type ImportInfo struct {
	Module string
	Name   string
	Kind   ExternKind
	// Params and Results are set for functions.
	Params  []api.ValueType
	Results []api.ValueType
	// MinPages and MaxPages are set for memories.
	MinPages uint32
	MaxPages *uint32
}

// WazeroModule is a compiled module. It is immutable and safe to share.
// Ownership is reference counted: the creator holds one reference and every
// live instance holds one; the compiled code is released with the last.
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	name     string
	hash     string
	exports  []ExportInfo
	imports  []ImportInfo
	byName   map[string]int
	refs     atomic.Int64
	closeMu  sync.Mutex
	released bool
}

func newModule(e *WazeroEngine, name, hash string, compiled wazero.CompiledModule, exports []ExportInfo, imports []ImportInfo) *WazeroModule {
	m := &WazeroModule{
		engine:   e,
		compiled: compiled,
		name:     name,
		hash:     hash,
		exports:  exports,
		imports:  imports,
		byName:   make(map[string]int, len(exports)),
	}
	for i, ex := range exports {
		m.byName[ex.Name] = i
	}
	m.refs.Store(1)
	return m
}

func (m *WazeroModule) Name() string { return m.name }

// Hash is the hex SHA-256 of the module bytes.
func (m *WazeroModule) Hash() string { return m.hash }

// Exports returns the export table in declaration order.
func (m *WazeroModule) Exports() []ExportInfo {
	out := make([]ExportInfo, len(m.exports))
	copy(out, m.exports)
	return out
}

// Imports returns the import table in declaration order.
func (m *WazeroModule) Imports() []ImportInfo {
	out := make([]ImportInfo, len(m.imports))
	copy(out, m.imports)
	return out
}

// Export looks up an export by name.
func (m *WazeroModule) Export(name string) (ExportInfo, bool) {
	i, ok := m.byName[name]
	if !ok {
		return ExportInfo{}, false
	}
	return m.exports[i], true
}

// ExportNames returns the export names in declaration order.
func (m *WazeroModule) ExportNames() []string {
	names := make([]string, len(m.exports))
	for i, ex := range m.exports {
		names[i] = ex.Name
	}
	return names
}

// Acquire adds a reference. It returns false once the module is released.
func (m *WazeroModule) Acquire() bool {
	for {
		n := m.refs.Load()
		if n <= 0 {
			return false
		}
		if m.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference and frees the compiled code with the last one.
func (m *WazeroModule) Release(ctx context.Context) error {
	if m.refs.Add(-1) != 0 {
		return nil
	}
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.released {
		return nil
	}
	m.released = true
	debugf("released module %s", m.name)
	return m.compiled.Close(ctx)
}

// Refs returns the current reference count.
func (m *WazeroModule) Refs() int64 {
	return m.refs.Load()
}

func decodes(wasmBytes []byte) bool {
	_, err := binary.DecodeModule(wasmBytes, wasm.CoreFeaturesV2)
	return err == nil
}

// inspect builds the export and import tables. Declaration order and the
// table/global entries come from decoding the binary; signatures come from
// the compiled module.
func inspect(wasmBytes []byte, compiled wazero.CompiledModule) ([]ExportInfo, []ImportInfo, error) {
	funcExports := compiled.ExportedFunctions()
	memImports := make(map[[2]string]api.MemoryDefinition)
	for _, def := range compiled.ImportedMemories() {
		mod, name, _ := def.Import()
		memImports[[2]string{mod, name}] = def
	}
	funcImports := make(map[[2]string]api.FunctionDefinition)
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		funcImports[[2]string{mod, name}] = def
	}

	decoded, err := binary.DecodeModule(wasmBytes, wasm.CoreFeaturesV2)
	if err != nil {
		// The engine accepted a binary the decoder could not read (a newer
		// feature). Fall back to what the engine exposes, sorted by name.
		debugf("decode for inspection failed: %v", err)
		return fallbackExports(compiled), fallbackImports(compiled), nil
	}

	exports := make([]ExportInfo, 0, len(decoded.ExportSection))
	for _, ex := range decoded.ExportSection {
		info := ExportInfo{Name: ex.Name, Kind: ExternKind(ex.Type)}
		if info.Kind == KindFunc {
			def, ok := funcExports[ex.Name]
			if !ok {
				return nil, nil, fmt.Errorf("export %q missing from compiled module", ex.Name)
			}
			info.Params = def.ParamTypes()
			info.Results = def.ResultTypes()
		}
		exports = append(exports, info)
	}

	imports := make([]ImportInfo, 0, len(decoded.ImportSection))
	for _, imp := range decoded.ImportSection {
		info := ImportInfo{Module: imp.Module, Name: imp.Name, Kind: ExternKind(imp.Type)}
		key := [2]string{imp.Module, imp.Name}
		switch info.Kind {
		case KindFunc:
			if def, ok := funcImports[key]; ok {
				info.Params = def.ParamTypes()
				info.Results = def.ResultTypes()
			}
		case KindMemory:
			if def, ok := memImports[key]; ok {
				info.MinPages = def.Min()
				if max, ok := def.Max(); ok {
					info.MaxPages = &max
				}
			}
		}
		imports = append(imports, info)
	}

	return exports, imports, nil
}

func fallbackExports(compiled wazero.CompiledModule) []ExportInfo {
	var exports []ExportInfo
	for name, def := range compiled.ExportedFunctions() {
		exports = append(exports, ExportInfo{
			Name:    name,
			Kind:    KindFunc,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}
	for name := range compiled.ExportedMemories() {
		exports = append(exports, ExportInfo{Name: name, Kind: KindMemory})
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })
	return exports
}

func fallbackImports(compiled wazero.CompiledModule) []ImportInfo {
	var imports []ImportInfo
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		imports = append(imports, ImportInfo{
			Module:  mod,
			Name:    name,
			Kind:    KindFunc,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}
	for _, def := range compiled.ImportedMemories() {
		mod, name, _ := def.Import()
		info := ImportInfo{Module: mod, Name: name, Kind: KindMemory, MinPages: def.Min()}
		if max, ok := def.Max(); ok {
			info.MaxPages = &max
		}
		imports = append(imports, info)
	}
	return imports
}
