// Package hostenv implements the "env" host module that shares state with
// guest code: a scalar through get/set and a byte vector through
// get_vec/set_vec. Vectors cross the boundary through the caller's exported
// "memory".
package hostenv

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-executor/engine"
	"github.com/wippyai/wasm-executor/errors"
)

// Namespace is the import module name guests use.
const Namespace = "env"

// MemoryExport is the export through which vectors are copied.
const MemoryExport = "memory"

// State is the data shared between the host and guest code.
type State struct {
	Vec []byte `yaml:"vec" json:"vec"`
	Val uint32 `yaml:"val" json:"val"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	return State{Val: s.Val, Vec: bytes.Clone(s.Vec)}
}

func (s State) String() string {
	return fmt.Sprintf("val=%d vec=%v", s.Val, s.Vec)
}

// Env is one execution's view of the shared state. Guests mutate it through
// the host functions; the caller decides whether to keep the result.
type Env struct {
	state State
	mu    sync.Mutex
}

// New creates an environment holding a copy of initial.
func New(initial State) *Env {
	return &Env{state: initial.Clone()}
}

// Namespace implements runtime.Host.
func (e *Env) Namespace() string { return Namespace }

// Register implements runtime.ExplicitRegistrar.
func (e *Env) Register() map[string]any {
	return map[string]any{
		"get":     e.get,
		"set":     e.set,
		"get_vec": e.getVec,
		"set_vec": e.setVec,
	}
}

// State returns a copy of the current state.
func (e *Env) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

func (e *Env) get() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Val
}

func (e *Env) set(v uint32) {
	e.mu.Lock()
	e.state.Val = v
	e.mu.Unlock()
}

// getVec writes the shared vector at ptr and returns its length. The guest
// offers max bytes; a smaller buffer traps.
func (e *Env) getVec(ctx context.Context, mod api.Module, ptr, max uint32) uint32 {
	mem := memoryOf(mod, "get_vec")

	e.mu.Lock()
	vec := bytes.Clone(e.state.Vec)
	e.mu.Unlock()

	if uint64(len(vec)) > uint64(max) {
		panic(errors.Trap(errors.TrapHost, "get_vec: vector of %d bytes does not fit in %d", len(vec), max))
	}
	if err := mem.Write(ptr, vec); err != nil {
		panic(errors.Trap(errors.TrapOutOfBoundsMemoryAccess, "get_vec: %v", err))
	}
	return uint32(len(vec))
}

// setVec replaces the shared vector with guest memory [ptr, ptr+size).
func (e *Env) setVec(ctx context.Context, mod api.Module, ptr, size uint32) {
	mem := memoryOf(mod, "set_vec")

	vec, err := mem.Read(ptr, size)
	if err != nil {
		panic(errors.Trap(errors.TrapOutOfBoundsMemoryAccess, "set_vec: %v", err))
	}

	e.mu.Lock()
	e.state.Vec = vec
	e.mu.Unlock()
}

func memoryOf(mod api.Module, fn string) *engine.WazeroMemory {
	var mem api.Memory
	if mod != nil {
		mem = mod.ExportedMemory(MemoryExport)
	}
	if mem == nil {
		panic(errors.Trap(errors.TrapHost, "%s: caller does not export %q", fn, MemoryExport))
	}
	return engine.NewMemory(mem)
}
