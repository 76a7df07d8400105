package engine

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	wasmexec "github.com/wippyai/wasm-executor"
	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/internal/wasmbin"
)

// HostMemory defines a memory served to an import. Every instance receives
// its own memory with these limits.
type HostMemory struct {
	Max *uint32
	Min uint32
}

// HostGlobal defines a global served to an import. Init is the raw value in
// the engine's uint64 encoding.
type HostGlobal struct {
	Init    uint64
	Type    api.ValueType
	Mutable bool
}

// HostTable defines a funcref table served to an import.
type HostTable struct {
	Max *uint32
	Min uint32
}

type hostFunc struct {
	fn      api.GoModuleFunc
	params  []api.ValueType
	results []api.ValueType
}

type importEntry struct {
	fn     *hostFunc
	memory *HostMemory
	global *HostGlobal
	table  *HostTable
	kind   ExternKind
}

// Imports maps (module, name) pairs to host-provided functions, memories,
// globals and tables. An Imports value may be shared by many instantiations;
// the items it describes are bound privately to each instance.
type Imports struct {
	modules map[string]map[string]importEntry
}

// NewImports creates an empty import mapping.
func NewImports() *Imports {
	return &Imports{modules: make(map[string]map[string]importEntry)}
}

func (im *Imports) add(module, name string, e importEntry) error {
	if module == "" || name == "" {
		return errors.Registration(module, name, fmt.Errorf("empty module or field name"))
	}
	names := im.modules[module]
	if names == nil {
		names = make(map[string]importEntry)
		im.modules[module] = names
	}
	if prev, ok := names[name]; ok {
		return errors.Registration(module, name, fmt.Errorf("already registered as %s", prev.kind))
	}
	names[name] = e
	return nil
}

// Func registers a typed Go function. Parameters and results must be int32,
// uint32, int64, uint64, float32 or float64; the function may take a leading
// context.Context and then an api.Module (the calling instance).
func (im *Imports) Func(module, name string, fn any) error {
	hf, err := hostFuncFromGo(fn)
	if err != nil {
		return errors.Registration(module, name, err)
	}
	return im.add(module, name, importEntry{kind: KindFunc, fn: hf})
}

// RawFunc registers a function operating directly on the value stack.
func (im *Imports) RawFunc(module, name string, params, results []api.ValueType, fn api.GoModuleFunc) error {
	if fn == nil {
		return errors.Registration(module, name, fmt.Errorf("nil function"))
	}
	for _, t := range append(append([]api.ValueType{}, params...), results...) {
		if !wasmexec.ValueType(t).Valid() {
			return errors.Registration(module, name, fmt.Errorf("unsupported value type 0x%02x", t))
		}
	}
	return im.add(module, name, importEntry{
		kind: KindFunc,
		fn:   &hostFunc{fn: fn, params: params, results: results},
	})
}

// Memory registers a memory definition.
func (im *Imports) Memory(module, name string, mem HostMemory) error {
	if mem.Max != nil && *mem.Max < mem.Min {
		return errors.Registration(module, name, fmt.Errorf("max %d pages below min %d", *mem.Max, mem.Min))
	}
	return im.add(module, name, importEntry{kind: KindMemory, memory: &mem})
}

// Global registers a global definition.
func (im *Imports) Global(module, name string, g HostGlobal) error {
	if !wasmexec.ValueType(g.Type).Valid() {
		return errors.Registration(module, name, fmt.Errorf("unsupported global type 0x%02x", g.Type))
	}
	return im.add(module, name, importEntry{kind: KindGlobal, global: &g})
}

// Table registers a funcref table definition.
func (im *Imports) Table(module, name string, t HostTable) error {
	if t.Max != nil && *t.Max < t.Min {
		return errors.Registration(module, name, fmt.Errorf("max %d elements below min %d", *t.Max, t.Min))
	}
	return im.add(module, name, importEntry{kind: KindTable, table: &t})
}

// Lookup reports the kind registered under (module, name).
func (im *Imports) Lookup(module, name string) (ExternKind, bool) {
	if im == nil {
		return 0, false
	}
	e, ok := im.modules[module][name]
	return e.kind, ok
}

// Modules returns the registered module names, sorted.
func (im *Imports) Modules() []string {
	if im == nil {
		return nil
	}
	names := make([]string, 0, len(im.modules))
	for name := range im.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Overlay returns a new mapping holding the entries of im replaced or
// extended by those of top. Either may be nil.
func (im *Imports) Overlay(top *Imports) *Imports {
	out := NewImports()
	for _, src := range []*Imports{im, top} {
		if src == nil {
			continue
		}
		for mod, names := range src.modules {
			dst := out.modules[mod]
			if dst == nil {
				dst = make(map[string]importEntry, len(names))
				out.modules[mod] = dst
			}
			for name, e := range names {
				dst[name] = e
			}
		}
	}
	return out
}

// check verifies that every import of m is satisfied with the right kind and
// type before anything is instantiated. Every missing import is reported.
func (im *Imports) check(m *WazeroModule, wasi bool, limitPages uint32) error {
	var missing []errors.MissingImport
	var mismatch error

	for _, imp := range m.imports {
		e, ok := im.modules[imp.Module][imp.Name]
		if !ok {
			if wasi && imp.Module == wasiModuleName {
				continue
			}
			missing = append(missing, errors.MissingImport{Module: imp.Module, Name: imp.Name, Kind: imp.Kind.String()})
			continue
		}
		if mismatch != nil {
			continue
		}
		mismatch = checkEntry(imp, e, limitPages)
	}

	if len(missing) > 0 {
		return &errors.MissingImportsError{Imports: missing}
	}
	return mismatch
}

func checkEntry(imp ImportInfo, e importEntry, limitPages uint32) error {
	if e.kind != imp.Kind {
		return errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
			Path(imp.Module, imp.Name).
			Detail("import is a %s, mapping provides a %s", imp.Kind, e.kind).
			Build()
	}
	switch imp.Kind {
	case KindFunc:
		if !sameTypes(imp.Params, e.fn.params) || !sameTypes(imp.Results, e.fn.results) {
			return errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
				Path(imp.Module, imp.Name).
				Detail("import wants %s, mapping provides %s",
					signatureOf(imp.Params, imp.Results), signatureOf(e.fn.params, e.fn.results)).
				Build()
		}
	case KindMemory:
		mem := e.memory
		if limitPages > 0 && mem.Min > limitPages {
			return errors.New(errors.PhaseInstantiate, errors.KindLimit).
				Path(imp.Module, imp.Name).
				Detail("memory of %d pages exceeds limit of %d pages", mem.Min, limitPages).
				Build()
		}
		if mem.Min < imp.MinPages {
			return errors.New(errors.PhaseInstantiate, errors.KindLimit).
				Path(imp.Module, imp.Name).
				Detail("import needs at least %d pages, mapping provides %d", imp.MinPages, mem.Min).
				Build()
		}
		if imp.MaxPages != nil && (mem.Max == nil || *mem.Max > *imp.MaxPages) {
			return errors.New(errors.PhaseInstantiate, errors.KindLimit).
				Path(imp.Module, imp.Name).
				Detail("import allows at most %d pages, mapping may grow beyond", *imp.MaxPages).
				Build()
		}
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
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

func signatureOf(params, results []api.ValueType) string {
	return wasmexec.Signature{Params: toValueTypes(params), Results: toValueTypes(results)}.String()
}

func toValueTypes(ts []api.ValueType) []wasmexec.ValueType {
	out := make([]wasmexec.ValueType, len(ts))
	for i, t := range ts {
		out[i] = wasmexec.ValueType(t)
	}
	return out
}

// trapSlot records the last trap raised by a host function of one instance.
type trapSlot struct {
	atomic.Pointer[errors.TrapError]
}

// binding is the set of per-instance modules serving one instance's imports.
type binding struct {
	modules  map[string]api.Module
	closers  []api.Closer
	trap     *trapSlot
	resolver experimental.ImportResolver
}

func (b *binding) context(ctx context.Context) context.Context {
	if len(b.modules) == 0 {
		return ctx
	}
	return experimental.WithImportResolver(ctx, b.resolver)
}

// close releases instances before the compiled modules they came from.
func (b *binding) close(ctx context.Context) error {
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.closers = nil
	b.modules = nil
	return firstErr
}

func hostModuleName(module string) string {
	return "host:" + module
}

// bind instantiates anonymous host modules for the imports m uses. Modules
// that import only functions are served by a host module directly; modules
// that also import memories, globals or tables are served by a synthesized
// provider that defines them and re-exports the host functions.
func (im *Imports) bind(ctx context.Context, r wazero.Runtime, m *WazeroModule) (*binding, error) {
	b := &binding{
		modules: make(map[string]api.Module),
		trap:    &trapSlot{},
	}
	b.resolver = func(name string) api.Module {
		return b.modules[name]
	}

	needed := make(map[string][]ImportInfo)
	var order []string
	for _, imp := range m.imports {
		if _, ok := im.modules[imp.Module][imp.Name]; !ok {
			continue
		}
		if _, seen := needed[imp.Module]; !seen {
			order = append(order, imp.Module)
		}
		needed[imp.Module] = append(needed[imp.Module], imp)
	}

	for _, module := range order {
		if err := im.bindModule(ctx, r, b, module, needed[module]); err != nil {
			_ = b.close(ctx)
			return nil, err
		}
	}
	return b, nil
}

func (im *Imports) bindModule(ctx context.Context, r wazero.Runtime, b *binding, module string, imps []ImportInfo) error {
	entries := im.modules[module]

	var funcs, others []ImportInfo
	seen := make(map[string]bool)
	for _, imp := range imps {
		if seen[imp.Name] {
			continue
		}
		seen[imp.Name] = true
		if imp.Kind == KindFunc {
			funcs = append(funcs, imp)
		} else {
			others = append(others, imp)
		}
	}

	var hostMod api.Module
	if len(funcs) > 0 {
		hb := r.NewHostModuleBuilder(hostModuleName(module))
		for _, imp := range funcs {
			hf := entries[imp.Name].fn
			hb.NewFunctionBuilder().
				WithGoModuleFunction(guard(module+"."+imp.Name, b.trap, hf.fn), hf.params, hf.results).
				WithName(imp.Name).
				Export(imp.Name)
		}
		compiled, err := hb.Compile(ctx)
		if err != nil {
			return errors.Instantiation(errors.KindInstantiation, "compile host module "+module, err)
		}
		b.closers = append(b.closers, compiled)
		hostMod, err = r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
		if err != nil {
			return errors.Instantiation(errors.KindInstantiation, "instantiate host module "+module, err)
		}
		b.closers = append(b.closers, hostMod)
	}

	if len(others) == 0 {
		b.modules[module] = hostMod
		return nil
	}

	provider, err := buildProvider(module, entries, funcs, others)
	if err != nil {
		return err
	}
	compiled, err := r.CompileModule(ctx, provider)
	if err != nil {
		kind := errors.KindInstantiation
		if strings.Contains(err.Error(), "over limit") {
			kind = errors.KindLimit
		}
		return errors.Instantiation(kind, "compile import provider "+module, err)
	}
	b.closers = append(b.closers, compiled)

	provCtx := ctx
	if hostMod != nil {
		hostName := hostModuleName(module)
		provCtx = experimental.WithImportResolver(ctx, func(name string) api.Module {
			if name == hostName {
				return hostMod
			}
			return nil
		})
	}
	provMod, err := r.InstantiateModule(provCtx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return errors.Instantiation(errors.KindInstantiation, "instantiate import provider "+module, err)
	}
	b.closers = append(b.closers, provMod)
	b.modules[module] = provMod
	return nil
}

func buildProvider(module string, entries map[string]importEntry, funcs, others []ImportInfo) ([]byte, error) {
	wb := wasmbin.New()
	host := hostModuleName(module)
	for _, imp := range funcs {
		hf := entries[imp.Name].fn
		idx := wb.ImportFunc(host, imp.Name, hf.params, hf.results)
		wb.ExportFunc(imp.Name, idx)
	}
	for _, imp := range others {
		e := entries[imp.Name]
		switch e.kind {
		case KindMemory:
			idx := wb.Memory(wasmbin.Limits{Min: e.memory.Min, Max: e.memory.Max})
			wb.Export(imp.Name, wasmbin.ExternMemory, idx)
		case KindGlobal:
			idx := wb.Global(e.global.Type, e.global.Mutable, e.global.Init)
			wb.Export(imp.Name, wasmbin.ExternGlobal, idx)
		case KindTable:
			idx := wb.Table(wasmbin.Limits{Min: e.table.Min, Max: e.table.Max})
			wb.Export(imp.Name, wasmbin.ExternTable, idx)
		default:
			return nil, errors.Instantiation(errors.KindTypeMismatch,
				fmt.Sprintf("import %s.%s: unsupported kind %s", module, imp.Name, e.kind), nil)
		}
	}
	return wb.Build(), nil
}

// guard records panics raised by host code as traps before handing them to
// the engine, which aborts the guest.
func guard(name string, slot *trapSlot, fn api.GoModuleFunc) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		defer func() {
			if r := recover(); r != nil {
				trap := hostTrap(name, r)
				slot.Store(trap)
				panic(trap)
			}
		}()
		fn(ctx, mod, stack)
	}
}

func hostTrap(name string, r any) *errors.TrapError {
	var trap *errors.TrapError
	switch v := r.(type) {
	case *errors.TrapError:
		t := *v
		trap = &t
	case error:
		trap = &errors.TrapError{Reason: errors.TrapHost, Cause: v, Message: v.Error()}
	default:
		trap = &errors.TrapError{Reason: errors.TrapHost, Message: fmt.Sprint(v)}
	}
	trap.Phase = errors.PhaseHost
	if trap.Func == "" {
		trap.Func = name
	}
	return trap
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	moduleType  = reflect.TypeOf((*api.Module)(nil)).Elem()
)

func valueTypeOf(t reflect.Type) (api.ValueType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return api.ValueTypeI32, true
	case reflect.Int64, reflect.Uint64:
		return api.ValueTypeI64, true
	case reflect.Float32:
		return api.ValueTypeF32, true
	case reflect.Float64:
		return api.ValueTypeF64, true
	}
	return 0, false
}

// hostFuncFromGo adapts a typed Go function to the stack calling convention.
func hostFuncFromGo(fn any) (*hostFunc, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("expected a function, got %T", fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("variadic host functions are not supported")
	}

	skip := 0
	withCtx, withMod := false, false
	if t.NumIn() > skip && t.In(skip) == contextType {
		withCtx = true
		skip++
	}
	if t.NumIn() > skip && t.In(skip) == moduleType {
		withMod = true
		skip++
	}

	hf := &hostFunc{}
	for i := skip; i < t.NumIn(); i++ {
		vt, ok := valueTypeOf(t.In(i))
		if !ok {
			return nil, fmt.Errorf("parameter %d: unsupported type %s", i, t.In(i))
		}
		hf.params = append(hf.params, vt)
	}
	for i := 0; i < t.NumOut(); i++ {
		vt, ok := valueTypeOf(t.Out(i))
		if !ok {
			return nil, fmt.Errorf("result %d: unsupported type %s", i, t.Out(i))
		}
		hf.results = append(hf.results, vt)
	}

	nParams := len(hf.params)
	hf.fn = func(ctx context.Context, mod api.Module, stack []uint64) {
		in := make([]reflect.Value, 0, skip+nParams)
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		if withMod {
			if mod == nil {
				in = append(in, reflect.Zero(moduleType))
			} else {
				in = append(in, reflect.ValueOf(mod))
			}
		}
		for i := 0; i < nParams; i++ {
			in = append(in, decodeArg(t.In(skip+i), stack[i]))
		}
		out := v.Call(in)
		for i, o := range out {
			stack[i] = encodeResult(o)
		}
	}
	return hf, nil
}

func decodeArg(t reflect.Type, raw uint64) reflect.Value {
	rv := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		rv.SetInt(int64(int32(uint32(raw))))
	case reflect.Uint32:
		rv.SetUint(uint64(uint32(raw)))
	case reflect.Int64:
		rv.SetInt(int64(raw))
	case reflect.Uint64:
		rv.SetUint(raw)
	case reflect.Float32:
		rv.SetFloat(float64(math.Float32frombits(uint32(raw))))
	case reflect.Float64:
		rv.SetFloat(math.Float64frombits(raw))
	}
	return rv
}

func encodeResult(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Int32:
		return uint64(uint32(int32(v.Int())))
	case reflect.Uint32:
		return uint64(uint32(v.Uint()))
	case reflect.Int64:
		return uint64(v.Int())
	case reflect.Uint64:
		return v.Uint()
	case reflect.Float32:
		return uint64(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		return math.Float64bits(v.Float())
	}
	return 0
}
