// Package wasmvm provides an embedding runtime core for WebAssembly modules.
//
// The library loads a binary module, validates it, instantiates it into a
// store with host-provided imports, and executes exported functions with
// full type enforcement at the host/guest boundary.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasm-vm/
//	├── value/       Runtime values and function-type signatures
//	├── wasm/        Binary format parsing, encoding, and validation
//	├── instance/    Function/table/memory/global instances and module instances
//	├── store/       Named module-instance registry with an active slot
//	├── executor/    Import resolution, instantiation, and dispatch
//	├── engine/      wazero-backed execution engine
//	├── vm/          High-level session API
//	├── wasi/        Minimal WASI-style host module
//	└── errors/      Structured error types
//
// # Quick Start
//
// Load and run a module:
//
//	session, err := vm.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close(ctx)
//
//	if _, err := session.LoadFromBytes(ctx, wasmBytes); err != nil {
//	    log.Fatal(err)
//	}
//
//	results, err := session.RunFunction(ctx, "add", value.I32(2), value.I32(3))
//
// # Host Functions
//
// Assemble host functions, tables, memories, and globals into an import
// collection and register it like any other module:
//
//	b := instance.NewBuilder()
//	b.AddFunction("add", addType, nativeAdd, nil)
//	env, _ := b.Finish("env")
//	session.RegisterImports(env)
//
// # Thread Safety
//
// A Store serializes its own mutations. Executors are stateless and may be
// shared. A guest call is synchronous and runs on the calling goroutine;
// host functions may re-enter the executor without deadlocking because no
// store lock is held across engine delegation.
package wasmvm
