// Package runtime provides the high-level API for loading and invoking core
// WebAssembly modules.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Load a module
//	mod, err := rt.Load(ctx, "div.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Close(ctx)
//
//	// Create an instance
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	// Resolve and call an export
//	div, err := inst.Func("div")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := div.Call(ctx, wasmexec.I32(10), wasmexec.I32(2))
//	fmt.Println(res[0]) // i32:5
//
// # Stages
//
// Every failure identifies its stage and can be matched with errors.Is:
//
//	Load         errors.ErrLoad               not_found, io, malformed, validation, limit
//	Instantiate  errors.ErrInstantiation      missing_import, type_mismatch, limit, trap
//	Resolve      errors.ErrExportNotFound     no such export
//	             errors.ErrExportKindMismatch export of another kind
//	Invoke       errors.ErrArgumentMismatch   arity or types, checked before execution
//	             errors.ErrTrap               *errors.TrapError with a Reason
//
// A failed lookup or argument check leaves the instance usable. A trap
// leaves it usable too, except deadline, cancellation and exit traps, which
// close it.
//
// # Host Functions
//
// Register Go functions for the module's imports:
//
//	rt.RegisterFunc("env", "add", func(a, b int32) int32 { return a + b })
//
//	// Or implement the Host interface for a full import module
//	rt.RegisterHost(myEnv) // GetVec -> env.get_vec
//
// Hosts registered on the runtime apply to every instance. Per-instance
// hosts are passed with WithHosts and take precedence. Host functions abort
// the guest by panicking with errors.Trap.
//
// # WIT Hints
//
// Core modules only know i32, i64, f32 and f64. Hints parsed from WIT text
// let callers parse and print values as s32, u32, bool, char and so on:
//
//	hints, _ := runtime.ParseHints("div: func(a: s32, b: s32) -> s32")
//	args, err := div.ParseArgs(hints, "10", "-2")
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. You can call
// Module.Instantiate() from multiple goroutines concurrently.
//
// Instance is NOT thread-safe. Each goroutine should have its own
// Instance, or access must be synchronized externally.
//
// # Resource Management
//
// Compiled modules are reference counted and cached by content hash. Close
// instances, then modules, then the runtime.
package runtime
