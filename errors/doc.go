// Package errors provides structured error types for the wasm-executor library.
//
// Errors are categorized by Phase (the pipeline stage that failed) and Kind
// (error category). Every stage has a sentinel usable with errors.Is:
//
//	if errors.Is(err, errors.ErrLoad) { ... }          // any load failure
//	if errors.Is(err, errors.ErrExportNotFound) { ... }
//	if errors.Is(err, errors.ErrTrap) { ... }          // call or start trap
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
//		Path("env", "get_vec").
//		Detail("want func(i32, i32) -> i32, have func(i32)").
//		Build()
//
// Runtime faults are reported as *TrapError with a TrapReason, and an
// unsatisfied import mapping as *MissingImportsError listing every gap.
package errors
