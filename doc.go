// Package wasmexec loads precompiled WebAssembly modules and invokes their
// exported functions with scalar arguments.
//
// The engine (parsing, validation, compilation, sandboxing) is wazero. This
// library is the thin layer around it that turns the four steps of running a
// module into explicit, typed stages:
//
//	Load → Instantiate → Resolve → Invoke
//
// # Architecture Overview
//
//	wasmexec/            Root package with scalar Value and Memory interfaces
//	├── runtime/         High-level API: Runtime, Module, Instance, Func
//	├── engine/          wazero integration: compile, imports, traps
//	├── errors/          Structured, stage-tagged error types
//	├── hostenv/         Shared-state host functions (env.get/set, get_vec/set_vec)
//	├── executor/        Code directory runner built on runtime + hostenv
//	├── telemetry/       Prometheus metrics and OpenTelemetry spans per stage
//	├── config/          YAML configuration with environment overrides
//	└── cmd/wasmexec/    Command line and interactive shell
//
// # Quick Start
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Load(ctx, "wasm_code.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Close(ctx)
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	div, err := inst.Func("div")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	results, err := div.Call(ctx, wasmexec.I32(10), wasmexec.I32(2))
//	fmt.Println(results[0]) // i32:5
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. Instance is NOT thread-safe
// and should be used by a single goroutine, or access must be synchronized.
package wasmexec
