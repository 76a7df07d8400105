// Package engine is the low-level layer over wazero.
//
// It compiles core WebAssembly modules, binds host imports to each instance
// privately and turns engine faults into structured traps.
//
// # Architecture
//
// The engine package provides three main types:
//
//	WazeroEngine   - owns a wazero runtime (compiler or interpreter)
//	WazeroModule   - a compiled, immutable, reference-counted module
//	WazeroInstance - a live instance with private memory, globals and tables
//
// # Instantiation Flow
//
//  1. WazeroEngine.Compile() validates the binary and records its export and
//     import tables in declaration order
//  2. WazeroModule.Instantiate() checks the Imports mapping against the
//     import table, reporting every missing import at once
//  3. Host functions are instantiated as an anonymous host module per
//     instance; memories, globals and tables are defined by a synthesized
//     provider module that re-exports those functions
//  4. The guest is instantiated anonymously with an import resolver pointing
//     at those modules, so instances never share host-side state
//
// # Traps
//
// Faults raised while guest code runs are returned as *errors.TrapError with
// a reason such as integer_divide_by_zero or out_of_bounds_memory_access.
// Host functions abort the guest by panicking; the panic value becomes the
// trap. Deadline, cancellation and exit traps close the instance.
package engine
